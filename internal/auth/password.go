package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

const bcryptCost = 12

// ErrWeakPassword is returned by ValidatePasswordStrength.
var ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// HashPassword bcrypt-hashes a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordStrength enforces the minimum password policy.
func ValidatePasswordStrength(password string) error {
	if !utf8.ValidString(password) {
		return errors.New("password must be valid UTF-8")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if len(password) > 72 {
		return errors.New("password must be at most 72 bytes")
	}
	return nil
}

// APIKeyPrefixLen is how much of a key is kept in clear for display.
const APIKeyPrefixLen = 8

// GenerateAPIKey returns a new partner API key, its hash and display prefix.
func GenerateAPIKey() (key, hash, prefix string, err error) {
	raw, err := randomHex(32)
	if err != nil {
		return "", "", "", err
	}
	key = "pv_" + raw
	return key, HashAPIKey(key), key[:APIKeyPrefixLen], nil
}

// HashAPIKey returns the hex SHA-256 of key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateResetToken returns an emailable reset token and the hash to store.
func GenerateResetToken() (token, hash string, err error) {
	token, err = randomHex(32)
	if err != nil {
		return "", "", err
	}
	return token, HashAPIKey(token), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
