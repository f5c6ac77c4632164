package dto

// MifosTestRequest tests either a stored partner connection or the
// connection fields given inline.
type MifosTestRequest struct {
	PartnerID string `json:"partner_id" validate:"omitempty,uuid"`
	HostURL   string `json:"host_url" validate:"omitempty,url"`
	Username  string `json:"username" validate:"required_with=HostURL"`
	Password  string `json:"password" validate:"required_with=HostURL"`
	TenantID  string `json:"tenant_id" validate:"required_with=HostURL"`
}

type NCBASettingsRequest struct {
	BaseURL           string `json:"base_url" validate:"required,url"`
	BusinessShortCode string `json:"business_short_code" validate:"required"`
	AccountNumber     string `json:"account_number"`
	AccountReference  string `json:"account_reference"`
	CallbackURL       string `json:"callback_url" validate:"omitempty,url"`
	Environment       string `json:"environment" validate:"omitempty,oneof=sandbox production"`
	IsEnabled         bool   `json:"is_enabled"`
	ConsumerKey       string `json:"consumer_key"`
	ConsumerSecret    string `json:"consumer_secret"`
	Passkey           string `json:"passkey"`
}
