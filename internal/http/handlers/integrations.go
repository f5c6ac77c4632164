package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/mifos"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/models/dto"
	"github.com/hongminglow/payvault-be/internal/storage"
	"github.com/hongminglow/payvault-be/internal/vault"
)

// ConnectionTester checks a Mifos X tenant.
type ConnectionTester interface {
	TestConnection(ctx context.Context, cfg mifos.Config) mifos.Result
}

// IntegrationStore loads partners and system settings.
type IntegrationStore interface {
	GetPartner(ctx context.Context, id uuid.UUID) (models.Partner, error)
	storage.SettingsStore
}

// IntegrationHandler serves third-party integration settings and checks.
type IntegrationHandler struct {
	store IntegrationStore
	vault *vault.Vault
	mifos ConnectionTester
	now   func() time.Time
}

func NewIntegrationHandler(store IntegrationStore, v *vault.Vault, tester ConnectionTester) *IntegrationHandler {
	return &IntegrationHandler{store: store, vault: v, mifos: tester, now: time.Now}
}

func (h *IntegrationHandler) Register(r chi.Router, gates *middleware.Authenticator) {
	r.Group(func(r chi.Router) {
		r.Use(gates.RequireAdmin)
		r.Post("/api/mifos/test-connection", h.handleMifosTest)
		r.Get("/api/admin/ncba-settings", h.handleGetNCBA)
		r.Put("/api/admin/ncba-settings", h.handlePutNCBA)
	})
}

func (h *IntegrationHandler) handleMifosTest(w http.ResponseWriter, r *http.Request) {
	var req dto.MifosTestRequest
	if !decode(w, r, &req) {
		return
	}
	cfg := mifos.Config{HostURL: req.HostURL, Username: req.Username, Password: req.Password, TenantID: req.TenantID}
	if cfg.HostURL == "" {
		if req.PartnerID == "" {
			respond.Error(w, http.StatusBadRequest, errInvalidRequest, "partner_id or host_url is required")
			return
		}
		partner, err := h.store.GetPartner(r.Context(), uuid.MustParse(req.PartnerID))
		if err != nil {
			storeError(w, r, err, "Partner")
			return
		}
		if !partner.IsMifosConfigured {
			respond.Error(w, http.StatusBadRequest, "Mifos X not configured for this partner", "")
			return
		}
		cfg = mifos.Config{HostURL: partner.MifosHostURL, Username: partner.MifosUsername, TenantID: partner.MifosTenantID}
		if err := h.vault.Decrypt(partner.EncryptedMifosPassword, &cfg.Password); err != nil {
			internalError(w, r, "decrypt mifos password", err)
			return
		}
	}

	result := h.mifos.TestConnection(r.Context(), cfg)
	if !result.Success {
		logging.FromContext(r.Context()).Info("mifos connection test failed",
			zap.String("host", cfg.HostURL), zap.String("error", result.Error))
		respond.JSON(w, http.StatusBadRequest, result)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

// ncbaView is NCBASettings as shown to admins, with secrets masked.
type ncbaView struct {
	models.NCBASettings
	EncryptedSecrets string `json:"encrypted_secrets,omitempty"`
	ConsumerKey      string `json:"consumer_key"`
	ConsumerSecret   string `json:"consumer_secret"`
	Passkey          string `json:"passkey"`
	HasSecrets       bool   `json:"has_secrets"`
}

func (h *IntegrationHandler) loadNCBA(ctx context.Context) (models.NCBASettings, models.NCBASecrets, error) {
	var settings models.NCBASettings
	var secrets models.NCBASecrets
	err := h.store.GetSetting(ctx, models.SettingNCBA, &settings)
	if errors.Is(err, storage.ErrNotFound) {
		return models.NCBASettings{Environment: models.EnvSandbox}, secrets, nil
	}
	if err != nil {
		return settings, secrets, err
	}
	if settings.EncryptedSecrets != "" {
		if err := h.vault.Decrypt(settings.EncryptedSecrets, &secrets); err != nil {
			return settings, secrets, err
		}
	}
	return settings, secrets, nil
}

func (h *IntegrationHandler) handleGetNCBA(w http.ResponseWriter, r *http.Request) {
	settings, secrets, err := h.loadNCBA(r.Context())
	if err != nil {
		internalError(w, r, "load ncba settings", err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"settings": maskNCBA(settings, secrets)})
}

func (h *IntegrationHandler) handlePutNCBA(w http.ResponseWriter, r *http.Request) {
	var req dto.NCBASettingsRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	current, secrets, err := h.loadNCBA(ctx)
	if err != nil {
		internalError(w, r, "load ncba settings", err)
		return
	}
	// Masked values echoed back by the UI leave the stored secret alone.
	keepOrSet(&secrets.ConsumerKey, req.ConsumerKey)
	keepOrSet(&secrets.ConsumerSecret, req.ConsumerSecret)
	keepOrSet(&secrets.Passkey, req.Passkey)

	now := h.now().UTC()
	settings := models.NCBASettings{
		BaseURL:           req.BaseURL,
		BusinessShortCode: req.BusinessShortCode,
		AccountNumber:     req.AccountNumber,
		AccountReference:  req.AccountReference,
		CallbackURL:       req.CallbackURL,
		Environment:       req.Environment,
		IsEnabled:         req.IsEnabled,
		EncryptedSecrets:  current.EncryptedSecrets,
		UpdatedAt:         &now,
	}
	if settings.Environment == "" {
		settings.Environment = models.EnvSandbox
	}
	if secrets != (models.NCBASecrets{}) {
		if settings.EncryptedSecrets, err = h.vault.Encrypt(secrets); err != nil {
			internalError(w, r, "seal ncba secrets", err)
			return
		}
	}
	user, _ := middleware.UserFromContext(ctx)
	if err := h.store.PutSetting(ctx, models.SettingNCBA, settings, user.ID); err != nil {
		internalError(w, r, "store ncba settings", err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{
		"settings": maskNCBA(settings, secrets),
		"message":  "NCBA settings saved",
	})
}

func maskNCBA(settings models.NCBASettings, secrets models.NCBASecrets) ncbaView {
	return ncbaView{
		NCBASettings:   settings,
		ConsumerKey:    mask(secrets.ConsumerKey),
		ConsumerSecret: mask(secrets.ConsumerSecret),
		Passkey:        mask(secrets.Passkey),
		HasSecrets:     secrets != (models.NCBASecrets{}),
	}
}

func keepOrSet(dst *string, value string) {
	if value == "" || isMasked(value) {
		return
	}
	*dst = value
}

func isMasked(value string) bool {
	return strings.HasPrefix(value, "****")
}
