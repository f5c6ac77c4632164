package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage/storagetest"
)

// strictIDs behaves like a database whose id columns have no default and
// reject duplicates.
type strictIDs struct {
	*storagetest.Memory
}

func (s strictIDs) CreateSession(ctx context.Context, session models.Session) (models.Session, error) {
	if session.ID == uuid.Nil {
		return models.Session{}, errors.New(`null value in column "id" of relation "user_sessions"`)
	}
	if _, err := s.Memory.GetSession(ctx, session.ID); err == nil {
		return models.Session{}, errors.New("duplicate key value violates unique constraint \"user_sessions_pkey\"")
	}
	return s.Memory.CreateSession(ctx, session)
}

func (s strictIDs) CreateResetToken(ctx context.Context, token models.PasswordResetToken) error {
	if token.ID == uuid.Nil {
		return errors.New(`null value in column "id" of relation "password_reset_tokens"`)
	}
	return s.Memory.CreateResetToken(ctx, token)
}

// failingRevoke cannot delete sessions.
type failingRevoke struct {
	*storagetest.Memory
}

func (failingRevoke) DeleteUserSessions(context.Context, uuid.UUID, *uuid.UUID) (int64, error) {
	return 0, errors.New("connection reset by peer")
}

// authRouter mounts only the auth endpoints on store.
func authRouter(f *fixture, store interface {
	AuthStore
	middleware.AuthStore
}) chi.Router {
	r := chi.NewRouter()
	gates := middleware.NewAuthenticator(f.tokens, store, nil)
	NewAuthHandler(store, f.tokens, nil, f.mailer, AuthOptions{AppURL: "https://vault.example.com"}).Register(r, gates)
	return r
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.user(t, models.User{Email: "ops@example.com", Role: models.RoleAdmin, IsActive: true}, "correct horse")
	f.user(t, models.User{Email: "gone@example.com", Role: models.RoleAdmin}, "correct horse")

	t.Run("success", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ops@example.com", "password": "correct horse"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["token"])

		var cookie *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == middleware.CookieName {
				cookie = c
			}
		}
		require.NotNil(t, cookie)
		assert.True(t, cookie.HttpOnly)
		assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
		assert.Equal(t, body["token"], cookie.Value)

		claims, err := f.tokens.Parse(cookie.Value)
		require.NoError(t, err)
		_, ok := f.store.Sessions[claims.SessionID]
		assert.True(t, ok)

		u, err := f.store.FindByEmail(context.Background(), "ops@example.com")
		require.NoError(t, err)
		assert.NotNil(t, u.LastLoginAt)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ops@example.com", "password": "wrong horse"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid credentials", decodeBody(t, rec)["error"])
	})

	t.Run("unknown email", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "correct horse"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("inactive", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "gone@example.com", "password": "correct horse"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Account is deactivated", decodeBody(t, rec)["error"])
	})

	t.Run("inactive with wrong password", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "gone@example.com", "password": "wrong horse"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ops@example.com"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRepeatedLoginsAndResetsGetOwnIDs(t *testing.T) {
	f := newFixture(t)
	f.user(t, models.User{Email: "ops@example.com", Role: models.RoleAdmin, IsActive: true}, "correct horse")
	f.router = authRouter(f, strictIDs{f.store})

	var tokens []string
	for n := 0; n < 2; n++ {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ops@example.com", "password": "correct horse"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		tokens = append(tokens, decodeBody(t, rec)["token"].(string))
	}
	assert.Len(t, f.store.Sessions, 2)
	for _, token := range tokens {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/auth/me", token, nil).Code)
	}

	for n := 0; n < 2; n++ {
		rec := f.do(t, http.MethodPost, "/api/auth/request-password-reset", "", map[string]string{"email": "ops@example.com"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Len(t, f.store.ResetTokens, 2)
	assert.Len(t, f.mailer.sent, 2)
}

func TestLogoutAndMe(t *testing.T) {
	f := newFixture(t)
	admin, token := f.admin(t)

	rec := f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody(t, rec)["user"].(map[string]any)
	assert.Equal(t, admin.Email, me["email"])
	assert.NotContains(t, rec.Body.String(), "password")

	rec = f.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.store.Sessions)

	rec = f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, models.User{Email: "ops@example.com", Role: models.RoleAdmin, IsActive: true}, "old password")
	token, current := f.session(t, u)
	_, other := f.session(t, u)

	cases := []struct {
		name    string
		body    map[string]string
		status  int
		message string
	}{
		{"weak", map[string]string{"current_password": "old password", "new_password": "short"}, http.StatusBadRequest, "Password too weak"},
		{"wrong current", map[string]string{"current_password": "nope nope", "new_password": "new password"}, http.StatusBadRequest, "Invalid current password"},
		{"unchanged", map[string]string{"current_password": "old password", "new_password": "old password"}, http.StatusBadRequest, "Password unchanged"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/auth/change-password", token, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.message, decodeBody(t, rec)["error"])
		})
	}

	rec := f.do(t, http.MethodPost, "/api/auth/change-password", token,
		map[string]string{"current_password": "old password", "new_password": "new password"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.store.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(stored.PasswordHash, "new password"))
	assert.NotNil(t, stored.PasswordChangedAt)
	assert.Contains(t, f.store.Sessions, current)
	assert.NotContains(t, f.store.Sessions, other)
}

func TestPasswordChangeFailsWhenSessionsSurvive(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, models.User{Email: "ops@example.com", Role: models.RoleAdmin, IsActive: true}, "old password")
	token, _ := f.session(t, u)
	f.router = authRouter(f, failingRevoke{f.store})

	rec := f.do(t, http.MethodPost, "/api/auth/change-password", token,
		map[string]string{"current_password": "old password", "new_password": "new password"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, errInternal, decodeBody(t, rec)["error"])

	resetToken, hash, err := auth.GenerateResetToken()
	require.NoError(t, err)
	require.NoError(t, f.store.CreateResetToken(context.Background(), models.PasswordResetToken{
		ID: uuid.New(), UserID: u.ID, TokenHash: hash, ExpiresAt: time.Now().Add(time.Hour),
	}))
	rec = f.do(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": resetToken, "new_password": "brand new pass"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, models.User{Email: "ops@example.com", Role: models.RoleAdmin, IsActive: true}, "old password")
	f.session(t, u)

	rec := f.do(t, http.MethodPost, "/api/auth/request-password-reset", "", map[string]string{"email": "nobody@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resetRequestedMessage, decodeBody(t, rec)["message"])
	assert.Empty(t, f.mailer.sent)

	rec = f.do(t, http.MethodPost, "/api/auth/request-password-reset", "", map[string]string{"email": "ops@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resetRequestedMessage, decodeBody(t, rec)["message"])
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "ops@example.com", f.mailer.sent[0].To)

	html := f.mailer.sent[0].HTML
	const marker = "/reset-password?token="
	require.Contains(t, html, "https://vault.example.com"+marker)
	start := strings.Index(html, marker) + len(marker)
	token := html[start : start+64]

	rec = f.do(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": token, "new_password": "brand new pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.store.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(stored.PasswordHash, "brand new pass"))
	assert.Empty(t, f.store.Sessions)

	rec = f.do(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": token, "new_password": "another pass"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or expired token", decodeBody(t, rec)["error"])
}

func TestResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, models.User{Email: "ops@example.com", Role: models.RoleAdmin, IsActive: true}, "old password")
	token, hash, err := auth.GenerateResetToken()
	require.NoError(t, err)
	require.NoError(t, f.store.CreateResetToken(context.Background(), models.PasswordResetToken{
		UserID: u.ID, TokenHash: hash, ExpiresAt: time.Now().Add(-time.Minute),
	}))

	rec := f.do(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": token, "new_password": "brand new pass"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetupAdmin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/setup/admin", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["admin_exists"])

	body := map[string]string{"email": "first@example.com", "password": "first password"}
	rec = f.do(t, http.MethodPost, "/api/setup/admin", "", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)["user"].(map[string]any)
	assert.Equal(t, models.RoleAdmin, created["role"])

	rec = f.do(t, http.MethodPost, "/api/setup/admin", "", map[string]string{"email": "second@example.com", "password": "second password"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetupAdminConcurrent(t *testing.T) {
	f := newFixture(t)

	const callers = 8
	bodies := make([][]byte, callers)
	for i := range bodies {
		b, err := json.Marshal(map[string]string{"email": fmt.Sprintf("admin%d@example.com", i), "password": "first password"})
		require.NoError(t, err)
		bodies[i] = b
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for _, b := range bodies {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/setup/admin", bytes.NewReader(b)))
			mu.Lock()
			defer mu.Unlock()
			statuses[rec.Code]++
		}()
	}
	wg.Wait()

	assert.Equal(t, map[int]int{http.StatusCreated: 1, http.StatusConflict: callers - 1}, statuses)
	n, err := f.store.CountByRole(context.Background(), models.RoleAdmin, models.RoleSuperAdmin)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
