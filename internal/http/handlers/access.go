package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/models/dto"
	"github.com/hongminglow/payvault-be/internal/storage"
)

// AccessStore is what shortcode access management persists to.
type AccessStore interface {
	storage.ShortcodeAccessStore
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	GetShortcode(ctx context.Context, id uuid.UUID) (models.PartnerShortcode, error)
}

// ShortcodeAccessHandler manages which shortcodes individual users may use.
// Admins manage every user; partner admins only users of their own partner.
type ShortcodeAccessHandler struct {
	store AccessStore
	now   func() time.Time
}

func NewShortcodeAccessHandler(store AccessStore) *ShortcodeAccessHandler {
	return &ShortcodeAccessHandler{store: store, now: time.Now}
}

func (h *ShortcodeAccessHandler) Register(r chi.Router, gates *middleware.Authenticator) {
	r.Route("/api/user-shortcode-access", func(r chi.Router) {
		r.Use(gates.RequireAuth)
		r.Get("/", h.handleList)
		r.Post("/", h.handleGrant)
		r.Put("/", h.handleUpsert)
		r.Delete("/", h.handleRevoke)
	})
}

// authorize loads the target user and checks the caller may manage its grants.
func (h *ShortcodeAccessHandler) authorize(w http.ResponseWriter, r *http.Request, userID uuid.UUID) (models.User, bool) {
	caller, _ := middleware.UserFromContext(r.Context())
	if !caller.IsAdmin() && caller.Role != models.RolePartnerAdmin {
		respond.Error(w, http.StatusForbidden, "Insufficient permissions", "")
		return models.User{}, false
	}
	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		storeError(w, r, err, "User")
		return models.User{}, false
	}
	if !caller.IsAdmin() && (caller.PartnerID == nil || user.PartnerID == nil || *caller.PartnerID != *user.PartnerID) {
		respond.Error(w, http.StatusForbidden, "Access denied", "You can only manage users of your own partner")
		return models.User{}, false
	}
	return user, true
}

func (h *ShortcodeAccessHandler) handleList(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "user_id is required")
		return
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid user_id")
		return
	}
	if _, ok := h.authorize(w, r, userID); !ok {
		return
	}
	grants, err := h.store.ListShortcodeAccess(r.Context(), []uuid.UUID{userID})
	if err != nil {
		internalError(w, r, "list shortcode access", err)
		return
	}
	if grants == nil {
		grants = []models.ShortcodeAccess{}
	}
	respond.Success(w, http.StatusOK, map[string]any{"shortcode_access": grants})
}

// grantTarget validates a grant body and loads the user and shortcode it names.
func (h *ShortcodeAccessHandler) grantTarget(w http.ResponseWriter, r *http.Request) (dto.GrantShortcodeAccessRequest, models.User, models.PartnerShortcode, bool) {
	var req dto.GrantShortcodeAccessRequest
	if !decode(w, r, &req) {
		return req, models.User{}, models.PartnerShortcode{}, false
	}
	user, ok := h.authorize(w, r, uuid.MustParse(req.UserID))
	if !ok {
		return req, models.User{}, models.PartnerShortcode{}, false
	}
	sc, err := h.store.GetShortcode(r.Context(), uuid.MustParse(req.ShortcodeID))
	if err != nil {
		storeError(w, r, err, "Shortcode")
		return req, models.User{}, models.PartnerShortcode{}, false
	}
	if user.PartnerID != nil && sc.PartnerID != *user.PartnerID {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "Shortcode does not belong to the user's partner")
		return req, models.User{}, models.PartnerShortcode{}, false
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(h.now()) {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "expires_at must be in the future")
		return req, models.User{}, models.PartnerShortcode{}, false
	}
	if req.AccessType == "" {
		req.AccessType = models.AccessRead
	}
	return req, user, sc, true
}

func (h *ShortcodeAccessHandler) handleGrant(w http.ResponseWriter, r *http.Request) {
	req, user, sc, ok := h.grantTarget(w, r)
	if !ok {
		return
	}
	h.grant(w, r, req, user, sc)
}

// handleUpsert sets the grant for a user and shortcode, updating the live
// grant when there is one.
func (h *ShortcodeAccessHandler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	req, user, sc, ok := h.grantTarget(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	grants, err := h.store.ListShortcodeAccess(ctx, []uuid.UUID{user.ID})
	if err != nil {
		internalError(w, r, "list shortcode access", err)
		return
	}
	for _, g := range grants {
		if g.ShortcodeID != sc.ID {
			continue
		}
		updated, err := h.store.UpdateShortcodeAccess(ctx, g.ID, req.AccessType, req.ExpiresAt)
		if err != nil {
			storeError(w, r, err, "Shortcode access")
			return
		}
		logging.FromContext(ctx).Info("shortcode access updated",
			zap.String("access_id", g.ID.String()),
			zap.String("access_type", updated.AccessType))
		respond.Success(w, http.StatusOK, map[string]any{
			"message": "Shortcode access updated successfully",
			"access":  updated,
		})
		return
	}
	h.grant(w, r, req, user, sc)
}

func (h *ShortcodeAccessHandler) grant(w http.ResponseWriter, r *http.Request, req dto.GrantShortcodeAccessRequest, user models.User, sc models.PartnerShortcode) {
	ctx := r.Context()
	caller, _ := middleware.UserFromContext(ctx)
	grant, err := h.store.GrantShortcodeAccess(ctx, models.ShortcodeAccess{
		UserID:      user.ID,
		ShortcodeID: sc.ID,
		AccessType:  req.AccessType,
		GrantedBy:   &caller.ID,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		storeError(w, r, err, "Shortcode access")
		return
	}
	logging.FromContext(ctx).Info("shortcode access granted",
		zap.String("target_user_id", user.ID.String()),
		zap.String("shortcode_id", sc.ID.String()),
		zap.String("access_type", grant.AccessType))
	respond.Success(w, http.StatusCreated, map[string]any{
		"message": "Shortcode access granted successfully",
		"access":  grant,
	})
}

func (h *ShortcodeAccessHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("access_id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "access_id is required")
		return
	}
	ctx := r.Context()
	grant, err := h.store.GetShortcodeAccess(ctx, id)
	if err != nil {
		storeError(w, r, err, "Shortcode access")
		return
	}
	if _, ok := h.authorize(w, r, grant.UserID); !ok {
		return
	}
	if err := h.store.RevokeShortcodeAccess(ctx, id); err != nil {
		storeError(w, r, err, "Shortcode access")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"message": "Shortcode access revoked successfully"})
}
