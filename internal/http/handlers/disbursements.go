package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hongminglow/payvault-be/internal/disbursement"
	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
)

// DisbursementHandler accepts payout submissions and lists their history.
type DisbursementHandler struct {
	service *disbursement.Service
}

func NewDisbursementHandler(service *disbursement.Service) *DisbursementHandler {
	return &DisbursementHandler{service: service}
}

func (h *DisbursementHandler) Register(r chi.Router, gates *middleware.Authenticator) {
	r.With(gates.RequireAPIKey).Post("/api/disburse", h.handleAPIDisburse)
	r.With(gates.RequireAdmin).Get("/api/disbursements", h.handleAdminList)
	r.With(gates.RequireAdmin).Post("/api/disburse/retry", h.handleRetry)

	r.Group(func(r chi.Router) {
		r.Use(gates.RequirePartner)
		r.Post("/api/partner/disburse", h.handlePartnerDisburse)
		r.Get("/api/partner/disbursements", h.handlePartnerList)
		r.Get("/api/partner/disbursements/{id}", h.handlePartnerGet)
	})
}

func (h *DisbursementHandler) handleAPIDisburse(w http.ResponseWriter, r *http.Request) {
	partner, _ := middleware.PartnerFromContext(r.Context())
	h.submit(w, r, partner.ID, models.OriginAPI)
}

func (h *DisbursementHandler) handlePartnerDisburse(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, callerPartnerID(r), models.OriginUI)
}

func (h *DisbursementHandler) submit(w http.ResponseWriter, r *http.Request, partnerID uuid.UUID, origin string) {
	var req disbursement.Request
	if err := readJSON(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid JSON payload")
		return
	}

	res, err := h.service.Submit(r.Context(), partnerID, origin, req)
	var verr *disbursement.ValidationError
	switch {
	case errors.As(err, &verr):
		respond.Error(w, http.StatusBadRequest, verr.Message, "")
		return
	case errors.Is(err, disbursement.ErrShortcodeNotFound):
		respond.Error(w, http.StatusNotFound, err.Error(), "")
		return
	case errors.Is(err, disbursement.ErrShortcodeNotConfigured):
		respond.Error(w, http.StatusBadRequest, err.Error(), "")
		return
	case err != nil:
		internalError(w, r, "submit disbursement", err)
		return
	}

	switch res.Outcome {
	case disbursement.OutcomeAccepted:
		respond.Success(w, http.StatusOK, map[string]any{
			"disbursement_id": res.DisbursementID,
			"conversation_id": res.ConversationID,
			"status":          res.Status,
			"message":         disbursement.MsgAccepted,
		})
	case disbursement.OutcomeDuplicate:
		respond.Success(w, http.StatusOK, map[string]any{
			"disbursement_id": res.DisbursementID,
			"conversation_id": res.ConversationID,
			"status":          res.Status,
			"message":         disbursement.MsgDuplicate,
		})
	case disbursement.OutcomeUnavailable:
		respond.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"success":         false,
			"disbursement_id": res.DisbursementID,
			"status":          res.Status,
			"error":           disbursement.MsgServiceUnavailable,
		})
	default:
		respond.JSON(w, http.StatusBadRequest, map[string]any{
			"success":         false,
			"disbursement_id": res.DisbursementID,
			"status":          res.Status,
			"error":           res.ErrorMessage,
			"error_code":      res.ErrorCode,
		})
	}
}

func (h *DisbursementHandler) handlePartnerList(w http.ResponseWriter, r *http.Request) {
	partnerID := callerPartnerID(r)
	h.list(w, r, &partnerID)
}

func (h *DisbursementHandler) handleAdminList(w http.ResponseWriter, r *http.Request) {
	partnerID, err := optionalUUID(r.URL.Query().Get("partner_id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid partner_id")
		return
	}
	h.list(w, r, partnerID)
}

func (h *DisbursementHandler) list(w http.ResponseWriter, r *http.Request, partnerID *uuid.UUID) {
	q := r.URL.Query()
	filter := models.DisbursementFilter{
		PartnerID: partnerID,
		Status:    q.Get("status"),
		MSISDN:    q.Get("msisdn"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	rows, err := h.service.List(r.Context(), filter)
	if err != nil {
		internalError(w, r, "list disbursements", err)
		return
	}
	if rows == nil {
		rows = []models.Disbursement{}
	}
	respond.Success(w, http.StatusOK, map[string]any{
		"disbursements": rows,
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	})
}

func (h *DisbursementHandler) handlePartnerGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	partnerID := callerPartnerID(r)
	d, err := h.service.Get(r.Context(), id, &partnerID)
	if err != nil {
		storeError(w, r, err, "Disbursement")
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"disbursement": d})
}

type retryRequest struct {
	DisbursementID string `json:"disbursement_id"`
	ForceRetry     bool   `json:"force_retry"`
	Limit          int    `json:"limit"`
}

// handleRetry re-dispatches one disbursement, or every eligible failed one
// when no id is given.
func (h *DisbursementHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := readJSON(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid JSON payload")
		return
	}

	if req.DisbursementID == "" {
		limit := req.Limit
		if limit <= 0 || limit > 100 {
			limit = 50
		}
		sum, err := h.service.RetryFailed(r.Context(), limit)
		if err != nil {
			internalError(w, r, "retry disbursements", err)
			return
		}
		respond.Success(w, http.StatusOK, map[string]any{
			"message":       "Retry process completed",
			"processed":     sum.Processed,
			"success_count": sum.Accepted,
			"failure_count": sum.Failed,
			"skipped_count": sum.Skipped,
		})
		return
	}

	id, err := uuid.Parse(req.DisbursementID)
	if err != nil {
		respond.Error(w, http.StatusNotFound, "Disbursement not found", "")
		return
	}
	res, err := h.service.Retry(r.Context(), id, req.ForceRetry)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "Disbursement not found", "")
		return
	case errors.Is(err, disbursement.ErrShortcodeNotFound):
		respond.Error(w, http.StatusNotFound, err.Error(), "")
		return
	case errors.Is(err, disbursement.ErrAlreadySucceeded),
		errors.Is(err, disbursement.ErrRetriesExhausted),
		errors.Is(err, disbursement.ErrShortcodeNotConfigured):
		respond.Error(w, http.StatusBadRequest, err.Error(), "")
		return
	case errors.Is(err, disbursement.ErrNotRetryable):
		respond.Error(w, http.StatusConflict, err.Error(), "")
		return
	case err != nil:
		internalError(w, r, "retry disbursement", err)
		return
	}

	body := map[string]any{
		"success":         res.Outcome == disbursement.OutcomeAccepted,
		"message":         "Retry process completed",
		"disbursement_id": res.DisbursementID,
		"conversation_id": res.ConversationID,
		"status":          res.Status,
	}
	if res.Outcome != disbursement.OutcomeAccepted {
		body["error"] = res.ErrorMessage
		body["error_code"] = res.ErrorCode
	}
	respond.JSON(w, http.StatusOK, body)
}
