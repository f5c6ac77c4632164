package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hongminglow/payvault-be/internal/balance"
	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/models/dto"
)

// BalanceMonitor is the slice of balance.Monitor the endpoints drive.
type BalanceMonitor interface {
	Config(ctx context.Context, partnerID uuid.UUID) (models.MonitoringConfig, error)
	SaveConfig(ctx context.Context, partnerID uuid.UUID, req dto.MonitoringConfigRequest) (models.MonitoringConfig, error)
	Run(ctx context.Context, opts balance.RunOptions) (balance.Report, error)
}

// BalanceListStore lists monitoring output.
type BalanceListStore interface {
	ListAlerts(ctx context.Context, partnerID *uuid.UUID, limit int) ([]models.BalanceAlert, error)
	ListBalanceHistory(ctx context.Context, partnerID *uuid.UUID, limit int) ([]models.BalanceHistory, error)
}

// BalanceHandler serves monitoring configuration, alerts and manual or
// scheduled checks.
type BalanceHandler struct {
	monitor    BalanceMonitor
	store      BalanceListStore
	cronSecret string
}

func NewBalanceHandler(monitor BalanceMonitor, store BalanceListStore, cronSecret string) *BalanceHandler {
	return &BalanceHandler{monitor: monitor, store: store, cronSecret: cronSecret}
}

func (h *BalanceHandler) Register(r chi.Router, gates *middleware.Authenticator) {
	r.Route("/api/balance", func(r chi.Router) {
		r.Use(gates.RequireAdmin)
		r.Get("/monitoring-config", h.handleGetConfig)
		r.Put("/monitoring-config", h.handleSaveConfig)
		r.Get("/alerts", h.handleAlerts)
		r.Get("/history", h.handleHistory)
		r.Post("/check", h.handleCheck)
	})
	r.Post("/api/cron/balance-monitoring", h.handleCron)
}

func (h *BalanceHandler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	partnerID, err := uuid.Parse(r.URL.Query().Get("partner_id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "partner_id is required")
		return
	}
	cfg, err := h.monitor.Config(r.Context(), partnerID)
	if err != nil {
		internalError(w, r, "load monitoring config", err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"config": cfg})
}

func (h *BalanceHandler) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var req dto.MonitoringConfigRequest
	if !decode(w, r, &req) {
		return
	}
	cfg, err := h.monitor.SaveConfig(r.Context(), uuid.MustParse(req.PartnerID), req)
	if err != nil {
		storeError(w, r, err, "Partner")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"config": cfg, "message": "Monitoring configuration saved"})
}

func (h *BalanceHandler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := queryPartner(w, r)
	if !ok {
		return
	}
	alerts, err := h.store.ListAlerts(r.Context(), partnerID, queryInt(r, "limit", 50))
	if err != nil {
		internalError(w, r, "list balance alerts", err)
		return
	}
	if alerts == nil {
		alerts = []models.BalanceAlert{}
	}
	respond.Success(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *BalanceHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := queryPartner(w, r)
	if !ok {
		return
	}
	history, err := h.store.ListBalanceHistory(r.Context(), partnerID, queryInt(r, "limit", 50))
	if err != nil {
		internalError(w, r, "list balance history", err)
		return
	}
	if history == nil {
		history = []models.BalanceHistory{}
	}
	respond.Success(w, http.StatusOK, map[string]any{"history": history})
}

func (h *BalanceHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req dto.BalanceCheckRequest
	if !decode(w, r, &req) {
		return
	}
	opts := balance.RunOptions{Force: req.ForceCheck}
	if req.PartnerID != "" {
		id := uuid.MustParse(req.PartnerID)
		opts.PartnerID = &id
	}
	h.run(w, r, opts)
}

func (h *BalanceHandler) handleCron(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if h.cronSecret == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
		respond.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	h.run(w, r, balance.RunOptions{})
}

func (h *BalanceHandler) run(w http.ResponseWriter, r *http.Request, opts balance.RunOptions) {
	report, err := h.monitor.Run(r.Context(), opts)
	if errors.Is(err, balance.ErrRunInProgress) {
		respond.Error(w, http.StatusConflict, errConflict, "Balance monitoring is already running")
		return
	}
	if err != nil {
		internalError(w, r, "balance monitoring", err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{
		"message":   report.Message,
		"timestamp": report.Timestamp,
		"results":   report.Results,
	})
}

func queryPartner(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	id, err := optionalUUID(r.URL.Query().Get("partner_id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid partner_id")
		return nil, false
	}
	return id, true
}
