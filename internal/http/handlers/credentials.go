package handlers

import (
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/models/dto"
	"github.com/hongminglow/payvault-be/internal/vault"
)

// credentialTarget describes where sealed M-Pesa credentials are going.
type credentialTarget struct {
	Shortcode     string
	Environment   string
	InitiatorName string
}

// sealCredentials merges the supplied fields over the currently sealed
// credentials and returns the new ciphertext and whether the result is
// usable for B2C. Empty fields keep their stored value.
func sealCredentials(v *vault.Vault, current string, in dto.MpesaCredentialFields, target credentialTarget) (string, bool, error) {
	var creds models.MpesaCredentials
	if current != "" {
		if err := v.Decrypt(current, &creds); err != nil {
			return "", false, err
		}
	}
	merge(&creds.ConsumerKey, in.ConsumerKey)
	merge(&creds.ConsumerSecret, in.ConsumerSecret)
	merge(&creds.Passkey, in.Passkey)
	merge(&creds.InitiatorPassword, in.InitiatorPassword)
	merge(&creds.SecurityCredential, in.SecurityCredential)
	merge(&creds.Shortcode, target.Shortcode)
	merge(&creds.Environment, target.Environment)
	merge(&creds.InitiatorName, target.InitiatorName)

	sealed, err := v.Encrypt(creds)
	if err != nil {
		return "", false, err
	}
	return sealed, creds.Complete(), nil
}

func merge(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setIf(dst *string, value *string) {
	if value != nil {
		*dst = *value
	}
}

// mask keeps the last four characters of a secret.
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
