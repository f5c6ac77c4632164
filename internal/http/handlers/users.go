package handlers

import (
	"context"
	"net/http"
	"strings"

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
	"github.com/hongminglow/payvault-be/internal/storage"
)

// UserAdminStore is what user management persists to.
type UserAdminStore interface {
	storage.UserStore
	storage.SessionStore
	storage.PermissionStore
	ListShortcodeAccess(ctx context.Context, userIDs []uuid.UUID) ([]models.ShortcodeAccess, error)
	GetPartner(ctx context.Context, id uuid.UUID) (models.Partner, error)
}

// UserHandler serves admin user management.
type UserHandler struct {
	store UserAdminStore
	users *cache.UserCache
}

func NewUserHandler(store UserAdminStore, users *cache.UserCache) *UserHandler {
	if users == nil {
		users = cache.NewUserCache(nil)
	}
	return &UserHandler{store: store, users: users}
}

// Register mounts the admin-only user routes.
func (h *UserHandler) Register(r chi.Router, gates *middleware.Authenticator) {
	r.Route("/api/users", func(r chi.Router) {
		r.Use(gates.RequireAdmin)
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
		r.Get("/{id}/permissions", h.handleListPermissions)
		r.Post("/{id}/permissions", h.handleGrant)
		r.Delete("/{id}/permissions", h.handleRevoke)
	})
}

func (h *UserHandler) handleList(w http.ResponseWriter, r *http.Request) {
	partnerID, err := optionalUUID(r.URL.Query().Get("partner_id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid partner_id")
		return
	}
	users, err := h.store.ListUsers(r.Context(), models.UserFilter{
		Role:      r.URL.Query().Get("role"),
		PartnerID: partnerID,
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	})
	if err != nil {
		internalError(w, r, "list users", err)
		return
	}
	if users == nil {
		users = []models.User{}
	}

	ids := make([]uuid.UUID, 0, len(users))
	access := make(map[string][]models.ShortcodeAccess, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
		access[u.ID.String()] = []models.ShortcodeAccess{}
	}
	grants, err := h.store.ListShortcodeAccess(r.Context(), ids)
	if err != nil {
		internalError(w, r, "list shortcode access", err)
		return
	}
	for _, g := range grants {
		key := g.UserID.String()
		access[key] = append(access[key], g)
	}
	respond.Success(w, http.StatusOK, map[string]any{"users": users, "shortcode_access": access})
}

func (h *UserHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateUserRequest
	if !decode(w, r, &req) {
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		respond.Error(w, http.StatusBadRequest, "Password too weak", err.Error())
		return
	}
	partnerID, ok := h.resolvePartner(w, r, req.Role, req.PartnerID)
	if !ok {
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		internalError(w, r, "create user: hash password", err)
		return
	}
	user, err := h.store.CreateUser(r.Context(), models.User{
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
		Role:         req.Role,
		PartnerID:    partnerID,
		IsActive:     true,
	})
	if err != nil {
		storeError(w, r, err, "User")
		return
	}
	logging.FromContext(r.Context()).Info("user created",
		zap.String("user_id", user.ID.String()), zap.String("role", user.Role))
	respond.Success(w, http.StatusCreated, map[string]any{"user": user})
}

func (h *UserHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		storeError(w, r, err, "User")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"user": user})
}

func (h *UserHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dto.UpdateUserRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	user, err := h.store.GetUser(ctx, id)
	if err != nil {
		storeError(w, r, err, "User")
		return
	}
	before := user

	if req.Email != nil {
		user.Email = strings.TrimSpace(*req.Email)
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.PartnerID != nil || req.Role != nil {
		raw := req.PartnerID
		if raw == nil && user.PartnerID != nil {
			s := user.PartnerID.String()
			raw = &s
		}
		partnerID, ok := h.resolvePartner(w, r, user.Role, raw)
		if !ok {
			return
		}
		user.PartnerID = partnerID
	}
	if p, _ := middleware.PrincipalFromContext(ctx); p.User.ID == id && (!user.IsActive || !user.IsAdmin()) {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "You cannot deactivate or demote your own account")
		return
	}
	if req.Password != nil {
		if err := auth.ValidatePasswordStrength(*req.Password); err != nil {
			respond.Error(w, http.StatusBadRequest, "Password too weak", err.Error())
			return
		}
	}

	updated, err := h.store.UpdateUser(ctx, user)
	if err != nil {
		storeError(w, r, err, "User")
		return
	}
	revoke := (before.IsActive && !updated.IsActive) || before.Role != updated.Role
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			internalError(w, r, "update user: hash password", err)
			return
		}
		if err := h.store.UpdatePassword(ctx, id, hash, updated.UpdatedAt); err != nil {
			internalError(w, r, "update user: set password", err)
			return
		}
		revoke = true
	}
	h.users.Invalidate(ctx, id)
	if revoke {
		if _, err := h.store.DeleteUserSessions(ctx, id, nil); err != nil {
			internalError(w, r, "update user: revoke sessions", err)
			return
		}
	}
	respond.Success(w, http.StatusOK, map[string]any{"user": updated})
}

func (h *UserHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	if p, _ := middleware.PrincipalFromContext(ctx); p.User.ID == id {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "You cannot delete your own account")
		return
	}
	if err := h.store.DeleteUser(ctx, id); err != nil {
		storeError(w, r, err, "User")
		return
	}
	h.users.Invalidate(ctx, id)
	respond.Success(w, http.StatusOK, map[string]any{"message": "User deleted successfully"})
}

// resolvePartner checks that partner roles carry an existing partner and
// drops the partner from admin roles.
func (h *UserHandler) resolvePartner(w http.ResponseWriter, r *http.Request, role string, raw *string) (*uuid.UUID, bool) {
	if !models.IsPartnerRole(role) {
		return nil, true
	}
	if raw == nil || *raw == "" {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "partner_id is required for partner users")
		return nil, false
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid partner_id")
		return nil, false
	}
	if _, err := h.store.GetPartner(r.Context(), id); err != nil {
		storeError(w, r, err, "Partner")
		return nil, false
	}
	return &id, true
}

func (h *UserHandler) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	perms, err := h.store.ListPermissions(r.Context(), id)
	if err != nil {
		internalError(w, r, "list permissions", err)
		return
	}
	if perms == nil {
		perms = []models.UserPermission{}
	}
	respond.Success(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *UserHandler) handleGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dto.GrantPermissionRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if _, err := h.store.GetUser(ctx, id); err != nil {
		storeError(w, r, err, "User")
		return
	}
	p, _ := middleware.PrincipalFromContext(ctx)
	grantedBy := p.User.ID
	perm, err := h.store.GrantPermission(ctx, models.UserPermission{
		UserID:       id,
		Permission:   req.Permission,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		GrantedBy:    &grantedBy,
	})
	if err != nil {
		storeError(w, r, err, "Permission")
		return
	}
	respond.Success(w, http.StatusCreated, map[string]any{"permission": perm})
}

func (h *UserHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	q := r.URL.Query()
	req := dto.GrantPermissionRequest{Permission: q.Get("permission"), ResourceType: q.Get("resource_type")}
	if v := q.Get("resource_id"); v != "" {
		req.ResourceID = &v
	}
	if req.Permission == "" && r.ContentLength > 0 {
		if !decode(w, r, &req) {
			return
		}
	}
	if req.Permission == "" || req.ResourceType == "" {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "permission and resource_type are required")
		return
	}
	if err := h.store.RevokePermission(r.Context(), id, req.Permission, req.ResourceType, req.ResourceID); err != nil {
		storeError(w, r, err, "Permission")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"message": "Permission revoked"})
}
