package handlers

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/cache"
	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/models/dto"
	"github.com/hongminglow/payvault-be/internal/notify"
	"github.com/hongminglow/payvault-be/internal/storage"
)

const resetTokenTTL = time.Hour

const resetRequestedMessage = "If the email exists, a password reset link has been sent"

// AuthStore is what the auth endpoints persist to.
type AuthStore interface {
	storage.UserStore
	storage.SessionStore
	storage.PasswordResetStore
}

// AuthOptions carries the deployment settings auth endpoints depend on.
type AuthOptions struct {
	AppURL       string
	CookieSecure bool
}

// AuthHandler owns login, session and password endpoints.
type AuthHandler struct {
	store  AuthStore
	tokens *auth.TokenManager
	users  *cache.UserCache
	mailer notify.Mailer
	opts   AuthOptions
	now    func() time.Time
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(store AuthStore, tokens *auth.TokenManager, users *cache.UserCache, mailer notify.Mailer, opts AuthOptions) *AuthHandler {
	if users == nil {
		users = cache.NewUserCache(nil)
	}
	if mailer == nil {
		mailer = notify.LogMailer{}
	}
	return &AuthHandler{store: store, tokens: tokens, users: users, mailer: mailer, opts: opts, now: time.Now}
}

// Register attaches auth routes to the router.
func (h *AuthHandler) Register(r chi.Router, gates *middleware.Authenticator) {
	r.Post("/api/auth/login", h.handleLogin)
	r.Post("/api/auth/request-password-reset", h.handleRequestReset)
	r.Post("/api/auth/reset-password", h.handleResetPassword)
	r.Get("/api/setup/admin", h.handleSetupStatus)
	r.Post("/api/setup/admin", h.handleSetupAdmin)

	r.Group(func(r chi.Router) {
		r.Use(gates.RequireAuth)
		r.Post("/api/auth/logout", h.handleLogout)
		r.Get("/api/auth/me", h.handleMe)
		r.Post("/api/auth/change-password", h.handleChangePassword)
	})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	user, err := h.store.FindByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, storage.ErrNotFound) {
		respond.Error(w, http.StatusUnauthorized, "Invalid credentials", "")
		return
	}
	if err != nil {
		internalError(w, r, "login: find user", err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		respond.Error(w, http.StatusUnauthorized, "Invalid credentials", "")
		return
	}
	if !user.IsActive {
		respond.Error(w, http.StatusForbidden, "Account is deactivated", "")
		return
	}

	now := h.now()
	session, err := h.store.CreateSession(ctx, models.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		ExpiresAt: now.Add(h.tokens.TTL()),
		UserAgent: truncate(r.UserAgent(), 255),
		IPAddress: clientIP(r),
	})
	if err != nil {
		internalError(w, r, "login: create session", err)
		return
	}
	token, expires, err := h.tokens.Generate(user, session.ID)
	if err != nil {
		internalError(w, r, "login: sign token", err)
		return
	}
	if err := h.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		logging.FromContext(ctx).Warn("login: touch last login", zap.Error(err))
	}
	user.LastLoginAt = &now

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	logging.FromContext(ctx).Info("user logged in", zap.String("user_id", user.ID.String()))
	respond.JSON(w, http.StatusOK, dto.LoginResponse{
		Success:   true,
		Message:   "Login successful",
		Token:     token,
		ExpiresAt: expires,
		User:      user,
	})
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.store.DeleteSession(r.Context(), p.SessionID); err != nil {
		internalError(w, r, "logout: delete session", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	respond.Success(w, http.StatusOK, map[string]any{"message": "Logged out successfully"})
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	respond.Success(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AuthHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := auth.ValidatePasswordStrength(req.NewPassword); err != nil {
		respond.Error(w, http.StatusBadRequest, "Password too weak", err.Error())
		return
	}
	ctx := r.Context()
	p, _ := middleware.PrincipalFromContext(ctx)
	user, err := h.store.GetUser(ctx, p.User.ID)
	if err != nil {
		storeError(w, r, err, "User")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		respond.Error(w, http.StatusBadRequest, "Invalid current password", "The current password you entered is incorrect")
		return
	}
	if req.CurrentPassword == req.NewPassword {
		respond.Error(w, http.StatusBadRequest, "Password unchanged", "New password must be different from current password")
		return
	}
	if err := h.setPassword(r, user.ID, req.NewPassword); err != nil {
		internalError(w, r, "change password", err)
		return
	}
	if _, err := h.store.DeleteUserSessions(ctx, user.ID, &p.SessionID); err != nil {
		internalError(w, r, "change password: revoke other sessions", err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"message": "Password has been changed successfully"})
}

func (h *AuthHandler) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req dto.PasswordResetRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	log := logging.FromContext(ctx)

	user, err := h.store.FindByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil || !user.IsActive {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Error("password reset: find user", zap.Error(err))
		}
		respond.Success(w, http.StatusOK, map[string]any{"message": resetRequestedMessage})
		return
	}

	token, hash, err := auth.GenerateResetToken()
	if err != nil {
		internalError(w, r, "password reset: generate token", err)
		return
	}
	if err := h.store.CreateResetToken(ctx, models.PasswordResetToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: h.now().Add(resetTokenTTL),
	}); err != nil {
		internalError(w, r, "password reset: store token", err)
		return
	}
	link := strings.TrimRight(h.opts.AppURL, "/") + "/reset-password?token=" + token
	if err := h.mailer.Send(ctx, notify.PasswordResetEmail(user.Email, link)); err != nil {
		log.Error("password reset: send email", zap.Error(err))
	}
	respond.Success(w, http.StatusOK, map[string]any{"message": resetRequestedMessage})
}

func (h *AuthHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := auth.ValidatePasswordStrength(req.NewPassword); err != nil {
		respond.Error(w, http.StatusBadRequest, "Password too weak", err.Error())
		return
	}
	ctx := r.Context()
	userID, err := h.store.ConsumeResetToken(ctx, auth.HashAPIKey(req.Token), h.now())
	if errors.Is(err, storage.ErrNotFound) {
		respond.Error(w, http.StatusBadRequest, "Invalid or expired token", "Request a new password reset link")
		return
	}
	if err != nil {
		internalError(w, r, "reset password: consume token", err)
		return
	}
	if err := h.setPassword(r, userID, req.NewPassword); err != nil {
		internalError(w, r, "reset password", err)
		return
	}
	if _, err := h.store.DeleteUserSessions(ctx, userID, nil); err != nil {
		internalError(w, r, "reset password: revoke sessions", err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"message": "Password has been reset successfully"})
}

func (h *AuthHandler) setPassword(r *http.Request, userID uuid.UUID, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := h.store.UpdatePassword(r.Context(), userID, hash, h.now()); err != nil {
		return err
	}
	h.users.Invalidate(r.Context(), userID)
	return nil
}

func (h *AuthHandler) handleSetupStatus(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.CountByRole(r.Context(), models.RoleAdmin, models.RoleSuperAdmin)
	if err != nil {
		internalError(w, r, "setup: count admins", err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"admin_exists": n > 0})
}

func (h *AuthHandler) handleSetupAdmin(w http.ResponseWriter, r *http.Request) {
	var req dto.SetupAdminRequest
	if !decode(w, r, &req) {
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		respond.Error(w, http.StatusBadRequest, "Password too weak", err.Error())
		return
	}
	ctx := r.Context()
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		internalError(w, r, "setup: hash password", err)
		return
	}
	user, err := h.store.CreateFirstAdmin(ctx, models.User{
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsActive:     true,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		respond.Error(w, http.StatusConflict, "Admin user already exists", "Setup has already been completed")
		return
	}
	if err != nil {
		internalError(w, r, "setup: create admin", err)
		return
	}
	logging.FromContext(ctx).Info("initial admin created", zap.String("user_id", user.ID.String()))
	respond.Success(w, http.StatusCreated, map[string]any{"message": "Admin user created successfully", "user": user})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
