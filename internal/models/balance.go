package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	AccountWorking = "working"
	AccountUtility = "utility"
	AccountCharges = "charges"

	AlertLowBalance = "low_balance"
)

const (
	BalanceRequestPending   = "pending"
	BalanceRequestCompleted = "completed"
	BalanceRequestFailed    = "failed"
)

// Balances holds the three M-Pesa B2C account balances; any may be unknown.
type Balances struct {
	Working decimal.NullDecimal `json:"working_account_balance"`
	Utility decimal.NullDecimal `json:"utility_account_balance"`
	Charges decimal.NullDecimal `json:"charges_account_balance"`
}

// Known reports whether at least one balance is present.
func (b Balances) Known() bool {
	return b.Working.Valid || b.Utility.Valid || b.Charges.Valid
}

// Account returns the balance for one of the Account* names.
func (b Balances) Account(name string) decimal.NullDecimal {
	switch name {
	case AccountWorking:
		return b.Working
	case AccountUtility:
		return b.Utility
	case AccountCharges:
		return b.Charges
	}
	return decimal.NullDecimal{}
}

// MonitoringConfig drives the balance monitor for one partner.
type MonitoringConfig struct {
	ID                      uuid.UUID       `json:"id"`
	PartnerID               uuid.UUID       `json:"partner_id"`
	WorkingAccountThreshold decimal.Decimal `json:"working_account_threshold"`
	UtilityAccountThreshold decimal.Decimal `json:"utility_account_threshold"`
	ChargesAccountThreshold decimal.Decimal `json:"charges_account_threshold"`
	CheckIntervalMinutes    int             `json:"check_interval_minutes"`
	SlackWebhookURL         string          `json:"slack_webhook_url"`
	SlackChannel            string          `json:"slack_channel"`
	IsEnabled               bool            `json:"is_enabled"`
	LastCheckedAt           *time.Time      `json:"last_checked_at"`
	LastAlertSentAt         *time.Time      `json:"last_alert_sent_at"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// DefaultMonitoringConfig is served when a partner has no stored config.
func DefaultMonitoringConfig(partnerID uuid.UUID) MonitoringConfig {
	return MonitoringConfig{
		PartnerID:               partnerID,
		WorkingAccountThreshold: decimal.NewFromInt(1000),
		UtilityAccountThreshold: decimal.NewFromInt(500),
		ChargesAccountThreshold: decimal.NewFromInt(200),
		CheckIntervalMinutes:    15,
		SlackChannel:            "#mpesa-alerts",
		IsEnabled:               true,
	}
}

// Threshold returns the configured threshold for an account name.
func (c MonitoringConfig) Threshold(account string) decimal.Decimal {
	switch account {
	case AccountWorking:
		return c.WorkingAccountThreshold
	case AccountUtility:
		return c.UtilityAccountThreshold
	case AccountCharges:
		return c.ChargesAccountThreshold
	}
	return decimal.Zero
}

// Due reports whether the partner should be checked at now.
func (c MonitoringConfig) Due(now time.Time) bool {
	if c.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*c.LastCheckedAt) >= time.Duration(c.CheckIntervalMinutes)*time.Minute
}

// BalanceHistory is a point-in-time balance snapshot.
type BalanceHistory struct {
	ID         uuid.UUID `json:"id"`
	PartnerID  uuid.UUID `json:"partner_id"`
	Balances   Balances  `json:"balances"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// BalanceAlert is written whenever a threshold is breached.
type BalanceAlert struct {
	ID               uuid.UUID       `json:"id"`
	PartnerID        uuid.UUID       `json:"partner_id"`
	AlertType        string          `json:"alert_type"`
	AccountType      string          `json:"account_type"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	ThresholdBalance decimal.Decimal `json:"threshold_balance"`
	AlertMessage     string          `json:"alert_message"`
	SlackSent        bool            `json:"slack_sent"`
	CreatedAt        time.Time       `json:"created_at"`
}

// BalanceRequest tracks an asynchronous AccountBalance query.
type BalanceRequest struct {
	ID                       uuid.UUID  `json:"id"`
	PartnerID                uuid.UUID  `json:"partner_id"`
	ConversationID           string     `json:"conversation_id"`
	OriginatorConversationID string     `json:"originator_conversation_id"`
	Status                   string     `json:"status"`
	Balances                 Balances   `json:"balances"`
	ResultCode               string     `json:"result_code,omitempty"`
	ResultDesc               string     `json:"result_desc,omitempty"`
	CallbackReceivedAt       *time.Time `json:"callback_received_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}
