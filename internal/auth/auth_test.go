package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/payvault-be/internal/models"
)

func testUser() models.User {
	pid := uuid.New()
	return models.User{ID: uuid.New(), Email: "ops@example.com", Role: models.RolePartner, PartnerID: &pid}
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", "payvault", time.Hour)
	user := testUser()
	sid := uuid.New()

	raw, expires, err := tm.Generate(user, sid)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := tm.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, sid, claims.SessionID)
	assert.Equal(t, user.Role, claims.Role)
	assert.Equal(t, *user.PartnerID, *claims.PartnerID)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestParseRejects(t *testing.T) {
	tm := NewTokenManager("secret", "payvault", time.Hour)
	user := testUser()

	t.Run("wrong secret", func(t *testing.T) {
		raw, _, err := NewTokenManager("other", "payvault", time.Hour).Generate(user, uuid.New())
		require.NoError(t, err)
		_, err = tm.Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		raw, _, err := NewTokenManager("secret", "someone-else", time.Hour).Generate(user, uuid.New())
		require.NoError(t, err)
		_, err = tm.Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewTokenManager("secret", "payvault", time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		raw, _, err := old.Generate(user, uuid.New())
		require.NoError(t, err)
		_, err = tm.Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			SessionID:        uuid.New(),
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "payvault", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		})
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = tm.Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tm.Parse("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
}

func TestValidatePasswordStrength(t *testing.T) {
	assert.ErrorIs(t, ValidatePasswordStrength("short"), ErrWeakPassword)
	assert.NoError(t, ValidatePasswordStrength("long enough"))
	assert.Error(t, ValidatePasswordStrength("bad\xffutf8 value"))
	assert.Error(t, ValidatePasswordStrength(strings.Repeat("a", 73)))
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, prefix, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "pv_"))
	assert.Len(t, key, 3+64)
	assert.Equal(t, HashAPIKey(key), hash)
	assert.Equal(t, key[:APIKeyPrefixLen], prefix)

	other, _, _, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestGenerateResetToken(t *testing.T) {
	token, hash, err := GenerateResetToken()
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Equal(t, HashAPIKey(token), hash)
}
