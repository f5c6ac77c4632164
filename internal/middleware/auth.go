package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/cache"
	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
)

// CookieName is the session cookie set at login.
const CookieName = "auth_token"

// APIKeyHeader authenticates partner integrations.
const APIKeyHeader = "X-API-Key"

const accessDenied = "Access denied"

// AuthStore is the persistence the gates read.
type AuthStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (models.Session, error)
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	FindPartnerByAPIKeyHash(ctx context.Context, hash string) (models.Partner, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	User      models.User
	SessionID uuid.UUID
}

type principalKey struct{}
type partnerKey struct{}

// Authenticator validates session tokens and API keys.
type Authenticator struct {
	tokens *auth.TokenManager
	store  AuthStore
	users  *cache.UserCache
	now    func() time.Time
}

func NewAuthenticator(tokens *auth.TokenManager, store AuthStore, users *cache.UserCache) *Authenticator {
	if users == nil {
		users = cache.NewUserCache(nil)
	}
	return &Authenticator{tokens: tokens, store: store, users: users, now: time.Now}
}

// TokenFromRequest returns the auth_token cookie, else the bearer token.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return BearerToken(r)
}

// BearerToken returns the token of an "Authorization: Bearer" header, or ""
// when the header is missing or uses another scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

type authFailure struct {
	status  int
	message string
}

func (a *Authenticator) authenticate(r *http.Request) (Principal, *authFailure) {
	raw := TokenFromRequest(r)
	if raw == "" {
		return Principal{}, &authFailure{http.StatusUnauthorized, "Authentication required"}
	}
	claims, err := a.tokens.Parse(raw)
	if err != nil {
		return Principal{}, &authFailure{http.StatusUnauthorized, "Invalid token"}
	}
	userID, err := claims.UserID()
	if err != nil {
		return Principal{}, &authFailure{http.StatusUnauthorized, "Invalid token"}
	}

	ctx := r.Context()
	session, err := a.store.GetSession(ctx, claims.SessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return Principal{}, &authFailure{http.StatusUnauthorized, "Session expired"}
	case err != nil:
		logging.FromContext(ctx).Error("load session", zap.Error(err))
		return Principal{}, &authFailure{http.StatusInternalServerError, "Authentication failed"}
	case session.UserID != userID || session.Expired(a.now()):
		return Principal{}, &authFailure{http.StatusUnauthorized, "Session expired"}
	}

	user, err := a.users.Load(ctx, userID, a.store.GetUser)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return Principal{}, &authFailure{http.StatusUnauthorized, "Invalid token"}
	case err != nil:
		logging.FromContext(ctx).Error("load user", zap.Error(err))
		return Principal{}, &authFailure{http.StatusInternalServerError, "Authentication failed"}
	case !user.IsActive:
		return Principal{}, &authFailure{http.StatusForbidden, "Account is inactive"}
	}
	return Principal{User: user, SessionID: session.ID}, nil
}

func (a *Authenticator) gate(check func(models.User) *authFailure) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, fail := a.authenticate(r)
			if fail == nil && check != nil {
				fail = check(p.User)
			}
			if fail != nil {
				respond.Error(w, fail.status, accessDenied, fail.message)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, p)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(zap.String("user_id", p.User.ID.String())))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth admits any active user with a live session.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return a.gate(nil)(next)
}

// RequireAdmin admits admin and super_admin users.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.gate(func(u models.User) *authFailure {
		if !u.IsAdmin() {
			return &authFailure{http.StatusForbidden, "Admin privileges required"}
		}
		return nil
	})(next)
}

// RequirePartner admits partner users bound to a partner.
func (a *Authenticator) RequirePartner(next http.Handler) http.Handler {
	return a.gate(func(u models.User) *authFailure {
		if !u.IsPartner() {
			return &authFailure{http.StatusForbidden, "Partner privileges required"}
		}
		if u.PartnerID == nil {
			return &authFailure{http.StatusForbidden, "Partner ID required"}
		}
		return nil
	})(next)
}

// RequireAPIKey admits requests carrying the API key of an active partner.
func (a *Authenticator) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if key == "" {
			respond.Error(w, http.StatusUnauthorized, accessDenied, "API key required")
			return
		}
		partner, err := a.store.FindPartnerByAPIKeyHash(r.Context(), auth.HashAPIKey(key))
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !partner.IsActive) {
			respond.Error(w, http.StatusUnauthorized, accessDenied, "Invalid API key")
			return
		}
		if err != nil {
			logging.FromContext(r.Context()).Error("lookup api key", zap.Error(err))
			respond.Error(w, http.StatusInternalServerError, accessDenied, "Authentication failed")
			return
		}
		ctx := context.WithValue(r.Context(), partnerKey{}, partner)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(zap.String("partner_id", partner.ID.String())))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromContext returns the caller set by a session gate.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// UserFromContext returns the authenticated user.
func UserFromContext(ctx context.Context) (models.User, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.User, ok
}

// PartnerFromContext returns the partner authenticated by RequireAPIKey.
func PartnerFromContext(ctx context.Context) (models.Partner, bool) {
	p, ok := ctx.Value(partnerKey{}).(models.Partner)
	return p, ok
}
