package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/models/dto"
	"github.com/hongminglow/payvault-be/internal/storage"
	"github.com/hongminglow/payvault-be/internal/vault"
)

// ShortcodeHandler serves partner shortcode management and the admin listing.
type ShortcodeHandler struct {
	store storage.ShortcodeStore
	vault *vault.Vault
}

func NewShortcodeHandler(store storage.ShortcodeStore, v *vault.Vault) *ShortcodeHandler {
	return &ShortcodeHandler{store: store, vault: v}
}

func (h *ShortcodeHandler) Register(r chi.Router, gates *middleware.Authenticator) {
	r.With(gates.RequireAdmin).Get("/api/admin/shortcodes", h.handleAdminList)

	r.Route("/api/partner/shortcodes", func(r chi.Router) {
		r.Use(gates.RequirePartner)
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
	})
}

func (h *ShortcodeHandler) handleAdminList(w http.ResponseWriter, r *http.Request) {
	partnerID, err := optionalUUID(r.URL.Query().Get("partner_id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid partner_id")
		return
	}
	h.list(w, r, partnerID)
}

func (h *ShortcodeHandler) handleList(w http.ResponseWriter, r *http.Request) {
	partnerID := callerPartnerID(r)
	h.list(w, r, &partnerID)
}

func (h *ShortcodeHandler) list(w http.ResponseWriter, r *http.Request, partnerID *uuid.UUID) {
	shortcodes, err := h.store.ListShortcodes(r.Context(), partnerID)
	if err != nil {
		internalError(w, r, "list shortcodes", err)
		return
	}
	if shortcodes == nil {
		shortcodes = []models.PartnerShortcode{}
	}
	respond.Success(w, http.StatusOK, map[string]any{"shortcodes": shortcodes})
}

func (h *ShortcodeHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	sc, err := h.store.FindPartnerShortcode(r.Context(), id, callerPartnerID(r))
	if err != nil {
		storeError(w, r, err, "Shortcode")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"shortcode": sc})
}

func (h *ShortcodeHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.ShortcodeRequest
	if !decode(w, r, &req) {
		return
	}
	sc := models.PartnerShortcode{
		PartnerID:     callerPartnerID(r),
		Shortcode:     strings.TrimSpace(req.Shortcode),
		ShortcodeName: req.ShortcodeName,
		ShortcodeType: req.ShortcodeType,
		Environment:   req.Environment,
		InitiatorName: req.InitiatorName,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if !req.MpesaCredentialFields.Empty() && !h.seal(w, r, &sc, req.MpesaCredentialFields) {
		return
	}
	created, err := h.store.CreateShortcode(r.Context(), sc)
	if err != nil {
		storeError(w, r, err, "Shortcode")
		return
	}
	respond.Success(w, http.StatusCreated, map[string]any{"shortcode": created})
}

func (h *ShortcodeHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dto.ShortcodeRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	sc, err := h.store.FindPartnerShortcode(ctx, id, callerPartnerID(r))
	if err != nil {
		storeError(w, r, err, "Shortcode")
		return
	}
	sc.Shortcode = strings.TrimSpace(req.Shortcode)
	merge(&sc.ShortcodeName, req.ShortcodeName)
	merge(&sc.ShortcodeType, req.ShortcodeType)
	merge(&sc.Environment, req.Environment)
	merge(&sc.InitiatorName, req.InitiatorName)
	if req.IsActive != nil {
		sc.IsActive = *req.IsActive
	}
	if !req.MpesaCredentialFields.Empty() || sc.EncryptedCredentials != "" {
		if !h.seal(w, r, &sc, req.MpesaCredentialFields) {
			return
		}
	}
	updated, err := h.store.UpdateShortcode(ctx, sc)
	if err != nil {
		storeError(w, r, err, "Shortcode")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"shortcode": updated})
}

func (h *ShortcodeHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteShortcode(r.Context(), id, callerPartnerID(r)); err != nil {
		storeError(w, r, err, "Shortcode")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"message": "Shortcode deleted successfully"})
}

func (h *ShortcodeHandler) seal(w http.ResponseWriter, r *http.Request, sc *models.PartnerShortcode, in dto.MpesaCredentialFields) bool {
	sealed, complete, err := sealCredentials(h.vault, sc.EncryptedCredentials, in, credentialTarget{
		Shortcode:     sc.Shortcode,
		Environment:   sc.Environment,
		InitiatorName: sc.InitiatorName,
	})
	if err != nil {
		internalError(w, r, "seal shortcode credentials", err)
		return false
	}
	sc.EncryptedCredentials, sc.IsMpesaConfigured = sealed, complete
	return true
}
