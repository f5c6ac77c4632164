package dto

// MpesaCredentialFields are accepted wherever M-Pesa credentials are configured.
type MpesaCredentialFields struct {
	ConsumerKey        string `json:"consumer_key"`
	ConsumerSecret     string `json:"consumer_secret"`
	Passkey            string `json:"passkey"`
	InitiatorPassword  string `json:"initiator_password"`
	SecurityCredential string `json:"security_credential"`
}

// Empty reports whether no credential field was supplied.
func (f MpesaCredentialFields) Empty() bool {
	return f.ConsumerKey == "" && f.ConsumerSecret == "" && f.Passkey == "" &&
		f.InitiatorPassword == "" && f.SecurityCredential == ""
}

type CreatePartnerRequest struct {
	Name                  string `json:"name" validate:"required"`
	ShortCode             string `json:"short_code" validate:"required"`
	ContactEmail          string `json:"contact_email" validate:"omitempty,email"`
	ContactPhone          string `json:"contact_phone"`
	MpesaShortcode        string `json:"mpesa_shortcode"`
	MpesaEnvironment      string `json:"mpesa_environment" validate:"omitempty,oneof=sandbox production"`
	MpesaInitiatorName    string `json:"mpesa_initiator_name"`
	IsActive              *bool  `json:"is_active"`
	MifosHostURL          string `json:"mifos_host_url" validate:"omitempty,url"`
	MifosUsername         string `json:"mifos_username"`
	MifosPassword         string `json:"mifos_password"`
	MifosTenantID         string `json:"mifos_tenant_id"`
	NCBABusinessShortCode string `json:"ncba_business_short_code"`
	MpesaCredentialFields
}

type UpdatePartnerRequest struct {
	Name                  *string `json:"name" validate:"omitempty,min=1"`
	ShortCode             *string `json:"short_code" validate:"omitempty,min=1"`
	ContactEmail          *string `json:"contact_email" validate:"omitempty,email"`
	ContactPhone          *string `json:"contact_phone"`
	MpesaShortcode        *string `json:"mpesa_shortcode"`
	MpesaEnvironment      *string `json:"mpesa_environment" validate:"omitempty,oneof=sandbox production"`
	MpesaInitiatorName    *string `json:"mpesa_initiator_name"`
	IsActive              *bool   `json:"is_active"`
	MifosHostURL          *string `json:"mifos_host_url" validate:"omitempty,url"`
	MifosUsername         *string `json:"mifos_username"`
	MifosPassword         *string `json:"mifos_password"`
	MifosTenantID         *string `json:"mifos_tenant_id"`
	NCBABusinessShortCode *string `json:"ncba_business_short_code"`
	MpesaCredentialFields
}

type ShortcodeRequest struct {
	Shortcode     string `json:"shortcode" validate:"required,numeric"`
	ShortcodeName string `json:"shortcode_name"`
	ShortcodeType string `json:"shortcode_type" validate:"omitempty,oneof=paybill till b2c"`
	Environment   string `json:"environment" validate:"omitempty,oneof=sandbox production"`
	InitiatorName string `json:"initiator_name"`
	IsActive      *bool  `json:"is_active"`
	MpesaCredentialFields
}
