package models

import "time"

// SettingNCBA is the system_settings key for the NCBA integration.
const SettingNCBA = "ncba"

// NCBASettings is the stored shape of the NCBA Open Banking integration.
// Secrets are kept encrypted in EncryptedSecrets and never serialised to clients.
type NCBASettings struct {
	BaseURL           string     `json:"base_url"`
	BusinessShortCode string     `json:"business_short_code"`
	AccountNumber     string     `json:"account_number"`
	AccountReference  string     `json:"account_reference"`
	CallbackURL       string     `json:"callback_url"`
	Environment       string     `json:"environment"`
	IsEnabled         bool       `json:"is_enabled"`
	EncryptedSecrets  string     `json:"encrypted_secrets,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// NCBASecrets is the plaintext of NCBASettings.EncryptedSecrets.
type NCBASecrets struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	Passkey        string `json:"passkey"`
}
