package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/models/dto"
	"github.com/hongminglow/payvault-be/internal/storage"
	"github.com/hongminglow/payvault-be/internal/vault"
)

// PartnerHandler serves admin partner management.
type PartnerHandler struct {
	store storage.PartnerStore
	vault *vault.Vault
}

func NewPartnerHandler(store storage.PartnerStore, v *vault.Vault) *PartnerHandler {
	return &PartnerHandler{store: store, vault: v}
}

func (h *PartnerHandler) Register(r chi.Router, gates *middleware.Authenticator) {
	r.Route("/api/partners", func(r chi.Router) {
		r.Use(gates.RequireAdmin)
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
		r.Post("/{id}/api-key", h.handleRotateKey)
	})
}

func (h *PartnerHandler) handleList(w http.ResponseWriter, r *http.Request) {
	partners, err := h.store.ListPartners(r.Context())
	if err != nil {
		internalError(w, r, "list partners", err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"partners": partners})
}

func (h *PartnerHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	partner, err := h.store.GetPartner(r.Context(), id)
	if err != nil {
		storeError(w, r, err, "Partner")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"partner": partner})
}

func (h *PartnerHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.CreatePartnerRequest
	if !decode(w, r, &req) {
		return
	}
	p := models.Partner{
		Name:                  strings.TrimSpace(req.Name),
		ShortCode:             strings.TrimSpace(req.ShortCode),
		ContactEmail:          req.ContactEmail,
		ContactPhone:          req.ContactPhone,
		MpesaShortcode:        req.MpesaShortcode,
		MpesaEnvironment:      req.MpesaEnvironment,
		MpesaInitiatorName:    req.MpesaInitiatorName,
		IsActive:              req.IsActive == nil || *req.IsActive,
		MifosHostURL:          req.MifosHostURL,
		MifosUsername:         req.MifosUsername,
		MifosTenantID:         req.MifosTenantID,
		NCBABusinessShortCode: req.NCBABusinessShortCode,
	}
	if !req.MpesaCredentialFields.Empty() {
		if !h.sealMpesa(w, r, &p, req.MpesaCredentialFields) {
			return
		}
	}
	if !h.sealMifos(w, r, &p, req.MifosPassword) {
		return
	}

	key, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		internalError(w, r, "create partner: api key", err)
		return
	}
	p.APIKeyHash, p.APIKeyPrefix = hash, prefix

	created, err := h.store.CreatePartner(r.Context(), p)
	if err != nil {
		storeError(w, r, err, "Partner")
		return
	}
	logging.FromContext(r.Context()).Info("partner created",
		zap.String("partner_id", created.ID.String()), zap.Bool("mpesa_configured", created.IsMpesaConfigured))
	respond.Success(w, http.StatusCreated, map[string]any{
		"partner": created,
		"api_key": key,
		"message": "Store this API key securely; it will not be shown again",
	})
}

func (h *PartnerHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dto.UpdatePartnerRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	p, err := h.store.GetPartner(ctx, id)
	if err != nil {
		storeError(w, r, err, "Partner")
		return
	}
	setIf(&p.Name, req.Name)
	setIf(&p.ShortCode, req.ShortCode)
	setIf(&p.ContactEmail, req.ContactEmail)
	setIf(&p.ContactPhone, req.ContactPhone)
	setIf(&p.MpesaShortcode, req.MpesaShortcode)
	setIf(&p.MpesaEnvironment, req.MpesaEnvironment)
	setIf(&p.MpesaInitiatorName, req.MpesaInitiatorName)
	setIf(&p.MifosHostURL, req.MifosHostURL)
	setIf(&p.MifosUsername, req.MifosUsername)
	setIf(&p.MifosTenantID, req.MifosTenantID)
	setIf(&p.NCBABusinessShortCode, req.NCBABusinessShortCode)
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	targetChanged := req.MpesaShortcode != nil || req.MpesaEnvironment != nil || req.MpesaInitiatorName != nil
	if !req.MpesaCredentialFields.Empty() || (targetChanged && p.EncryptedCredentials != "") {
		if !h.sealMpesa(w, r, &p, req.MpesaCredentialFields) {
			return
		}
	}
	password := ""
	if req.MifosPassword != nil {
		password = *req.MifosPassword
	}
	if !h.sealMifos(w, r, &p, password) {
		return
	}

	updated, err := h.store.UpdatePartner(ctx, p)
	if err != nil {
		storeError(w, r, err, "Partner")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"partner": updated})
}

func (h *PartnerHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeletePartner(r.Context(), id); err != nil {
		storeError(w, r, err, "Partner")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"message": "Partner deleted successfully"})
}

func (h *PartnerHandler) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	p, err := h.store.GetPartner(ctx, id)
	if err != nil {
		storeError(w, r, err, "Partner")
		return
	}
	key, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		internalError(w, r, "rotate api key", err)
		return
	}
	p.APIKeyHash, p.APIKeyPrefix = hash, prefix
	if _, err := h.store.UpdatePartner(ctx, p); err != nil {
		storeError(w, r, err, "Partner")
		return
	}
	logging.FromContext(ctx).Info("partner api key rotated", zap.String("partner_id", id.String()))
	respond.Success(w, http.StatusOK, map[string]any{"api_key": key, "api_key_prefix": prefix})
}

func (h *PartnerHandler) sealMpesa(w http.ResponseWriter, r *http.Request, p *models.Partner, in dto.MpesaCredentialFields) bool {
	sealed, complete, err := sealCredentials(h.vault, p.EncryptedCredentials, in, credentialTarget{
		Shortcode:     p.MpesaShortcode,
		Environment:   p.MpesaEnvironment,
		InitiatorName: p.MpesaInitiatorName,
	})
	if err != nil {
		internalError(w, r, "seal partner credentials", err)
		return false
	}
	p.EncryptedCredentials, p.IsMpesaConfigured = sealed, complete
	return true
}

func (h *PartnerHandler) sealMifos(w http.ResponseWriter, r *http.Request, p *models.Partner, password string) bool {
	if password != "" {
		sealed, err := h.vault.Encrypt(password)
		if err != nil {
			internalError(w, r, "seal mifos password", err)
			return false
		}
		p.EncryptedMifosPassword = sealed
	}
	p.IsMifosConfigured = p.MifosHostURL != "" && p.MifosUsername != "" && p.EncryptedMifosPassword != ""
	return true
}
