package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusQueued   = "queued"
	StatusAccepted = "accepted"
	StatusPending  = "pending"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
)

// DefaultMaxRetries caps manual retries unless they are forced.
const DefaultMaxRetries = 3

const (
	OriginAPI  = "api"
	OriginUSSD = "ussd"
	OriginUI   = "ui"
)

// Disbursement is one B2C payout request and its lifecycle.
type Disbursement struct {
	ID                       uuid.UUID       `json:"id"`
	Origin                   string          `json:"origin"`
	PartnerID                uuid.UUID       `json:"partner_id"`
	PartnerShortcodeID       *uuid.UUID      `json:"partner_shortcode_id,omitempty"`
	MpesaShortcode           string          `json:"mpesa_shortcode,omitempty"`
	TenantID                 string          `json:"tenant_id"`
	CustomerID               string          `json:"customer_id"`
	ClientRequestID          string          `json:"client_request_id"`
	MSISDN                   string          `json:"msisdn"`
	Amount                   decimal.Decimal `json:"amount"`
	Status                   string          `json:"status"`
	ConversationID           string          `json:"conversation_id,omitempty"`
	OriginatorConversationID string          `json:"originator_conversation_id,omitempty"`
	TransactionReceipt       string          `json:"transaction_receipt,omitempty"`
	CustomerName             string          `json:"customer_name,omitempty"`
	ResultCode               string          `json:"result_code,omitempty"`
	ResultDesc               string          `json:"result_desc,omitempty"`
	Balances                 Balances        `json:"balances_at_transaction"`
	BalanceUpdatedAt         *time.Time      `json:"balance_updated_at,omitempty"`
	RetryCount               int             `json:"retry_count"`
	MaxRetries               int             `json:"max_retries"`
	LastRetryAt              *time.Time      `json:"last_retry_at,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// DisbursementFilter narrows ListDisbursements.
type DisbursementFilter struct {
	PartnerID *uuid.UUID
	Status    string
	MSISDN    string
	Limit     int
	Offset    int
}

// DisbursementResult is what an M-Pesa result callback writes back.
type DisbursementResult struct {
	Status             string
	ResultCode         string
	ResultDesc         string
	TransactionReceipt string
	CustomerName       string
	Balances           Balances
}

// MpesaCallback is the audit row for every callback received.
type MpesaCallback struct {
	ID             uuid.UUID
	PartnerID      *uuid.UUID
	DisbursementID *uuid.UUID
	CallbackType   string
	ConversationID string
	ResultCode     string
	ResultDesc     string
	RawPayload     json.RawMessage
	CreatedAt      time.Time
}

// DashboardStats aggregates disbursement activity.
type DashboardStats struct {
	TotalTransactions      int64           `json:"total_transactions"`
	SuccessfulTransactions int64           `json:"successful_transactions"`
	FailedTransactions     int64           `json:"failed_transactions"`
	PendingTransactions    int64           `json:"pending_transactions"`
	TotalAmount            decimal.Decimal `json:"total_amount"`
	TodayTransactions      int64           `json:"today_transactions"`
	TodayAmount            decimal.Decimal `json:"today_amount"`
	SuccessRate            float64         `json:"success_rate"`
	ActivePartners         int64           `json:"active_partners"`
}

// SuccessRate returns successful/total as a percentage rounded to two places.
func SuccessRate(successful, total int64) float64 {
	if total == 0 {
		return 0
	}
	rate, _ := decimal.NewFromInt(successful * 100).Div(decimal.NewFromInt(total)).Round(2).Float64()
	return rate
}
