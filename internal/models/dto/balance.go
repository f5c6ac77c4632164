package dto

import "github.com/shopspring/decimal"

type MonitoringConfigRequest struct {
	PartnerID               string           `json:"partner_id" validate:"required,uuid"`
	WorkingAccountThreshold *decimal.Decimal `json:"working_account_threshold" validate:"omitempty,gte=0"`
	UtilityAccountThreshold *decimal.Decimal `json:"utility_account_threshold" validate:"omitempty,gte=0"`
	ChargesAccountThreshold *decimal.Decimal `json:"charges_account_threshold" validate:"omitempty,gte=0"`
	CheckIntervalMinutes    *int             `json:"check_interval_minutes" validate:"omitempty,min=1,max=1440"`
	SlackWebhookURL         *string          `json:"slack_webhook_url" validate:"omitempty,url"`
	SlackChannel            *string          `json:"slack_channel"`
	IsEnabled               *bool            `json:"is_enabled"`
}

type BalanceCheckRequest struct {
	PartnerID  string `json:"partner_id" validate:"omitempty,uuid"`
	ForceCheck bool   `json:"force_check"`
}
