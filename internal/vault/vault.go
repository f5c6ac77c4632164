// Package vault encrypts partner credentials at rest.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	salt       = "mpesa-vault-salt"
	iterations = 100000
	keyLen     = 32
	ivLen      = 12
)

// ErrCorrupt is returned when a ciphertext cannot be decoded or authenticated.
var ErrCorrupt = errors.New("vault: ciphertext is corrupt or was sealed with another key")

// Vault seals JSON values with AES-256-GCM under a PBKDF2-derived key.
type Vault struct {
	aead cipher.AEAD
}

// New derives the vault key from passphrase.
func New(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("vault: passphrase is required")
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt marshals v to JSON and returns base64(iv || ciphertext).
func (v *Vault) Encrypt(value any) (string, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("vault: encode: %w", err)
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: iv: %w", err)
	}
	sealed := v.aead.Seal(iv, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt into out.
func (v *Vault) Decrypt(encoded string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) <= ivLen {
		return ErrCorrupt
	}
	plaintext, err := v.aead.Open(nil, raw[:ivLen], raw[ivLen:], nil)
	if err != nil {
		return ErrCorrupt
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("vault: decode: %w", err)
	}
	return nil
}
