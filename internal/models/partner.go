package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

// Partner is an organisation that disburses through the vault.
type Partner struct {
	ID                     uuid.UUID `json:"id"`
	Name                   string    `json:"name"`
	ShortCode              string    `json:"short_code"`
	ContactEmail           string    `json:"contact_email,omitempty"`
	ContactPhone           string    `json:"contact_phone,omitempty"`
	MpesaShortcode         string    `json:"mpesa_shortcode,omitempty"`
	MpesaEnvironment       string    `json:"mpesa_environment"`
	MpesaInitiatorName     string    `json:"mpesa_initiator_name,omitempty"`
	EncryptedCredentials   string    `json:"-"`
	IsMpesaConfigured      bool      `json:"is_mpesa_configured"`
	APIKeyHash             string    `json:"-"`
	APIKeyPrefix           string    `json:"api_key_prefix,omitempty"`
	IsActive               bool      `json:"is_active"`
	MifosHostURL           string    `json:"mifos_host_url,omitempty"`
	MifosUsername          string    `json:"mifos_username,omitempty"`
	MifosTenantID          string    `json:"mifos_tenant_id,omitempty"`
	EncryptedMifosPassword string    `json:"-"`
	IsMifosConfigured      bool      `json:"is_mifos_configured"`
	NCBABusinessShortCode  string    `json:"ncba_business_short_code,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// MpesaCredentials is the plaintext form of a vault entry.
type MpesaCredentials struct {
	ConsumerKey        string `json:"consumer_key"`
	ConsumerSecret     string `json:"consumer_secret"`
	Passkey            string `json:"passkey,omitempty"`
	InitiatorName      string `json:"initiator_name,omitempty"`
	InitiatorPassword  string `json:"initiator_password,omitempty"`
	SecurityCredential string `json:"security_credential"`
	Shortcode          string `json:"shortcode"`
	Environment        string `json:"environment,omitempty"`
}

// Complete reports whether the credentials can authenticate a B2C call.
func (c MpesaCredentials) Complete() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.SecurityCredential != "" && c.Shortcode != ""
}

// PartnerShortcode is an additional paybill/till under a partner with its own credentials.
type PartnerShortcode struct {
	ID                   uuid.UUID `json:"id"`
	PartnerID            uuid.UUID `json:"partner_id"`
	Shortcode            string    `json:"shortcode"`
	ShortcodeName        string    `json:"shortcode_name,omitempty"`
	ShortcodeType        string    `json:"shortcode_type,omitempty"`
	Environment          string    `json:"environment"`
	InitiatorName        string    `json:"initiator_name,omitempty"`
	EncryptedCredentials string    `json:"-"`
	IsMpesaConfigured    bool      `json:"is_mpesa_configured"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

const (
	AccessRead  = "read"
	AccessWrite = "write"
	AccessAdmin = "admin"
)

// ShortcodeAccess grants one user use of one partner shortcode. Revoked
// grants stay on file with IsActive false.
type ShortcodeAccess struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	ShortcodeID uuid.UUID  `json:"shortcode_id"`
	Shortcode   string     `json:"shortcode"`
	PartnerID   uuid.UUID  `json:"partner_id"`
	AccessType  string     `json:"access_type"`
	GrantedBy   *uuid.UUID `json:"granted_by,omitempty"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}
