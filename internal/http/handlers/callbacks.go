package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/mpesa"
	"github.com/hongminglow/payvault-be/internal/storage"
)

// ResultHandler consumes disbursement callbacks.
type ResultHandler interface {
	HandleResult(ctx context.Context, r mpesa.Result) error
	HandleTimeout(ctx context.Context, r mpesa.Result) error
}

// BalanceResultHandler consumes AccountBalance callbacks.
type BalanceResultHandler interface {
	HandleBalanceResult(ctx context.Context, r mpesa.Result) error
}

// CallbackHandler receives Daraja ResultURL and QueueTimeOutURL posts.
// Daraja retries anything but a 200, so every request is acknowledged and
// failures are only logged.
type CallbackHandler struct {
	disbursements ResultHandler
	balances      BalanceResultHandler
}

func NewCallbackHandler(disbursements ResultHandler, balances BalanceResultHandler) *CallbackHandler {
	return &CallbackHandler{disbursements: disbursements, balances: balances}
}

func (h *CallbackHandler) Register(r chi.Router) {
	r.Route("/api/mpesa-callback", func(r chi.Router) {
		r.Post("/result", h.handle("result", h.disbursements.HandleResult))
		r.Post("/timeout", h.handle("timeout", h.disbursements.HandleTimeout))
		r.Post("/balance-result", h.handle("balance-result", h.balanceResult))
	})
}

func (h *CallbackHandler) handle(kind string, process func(context.Context, mpesa.Result) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context()).With(zap.String("callback", kind))
		defer ack(w)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			log.Warn("read callback body", zap.Error(err))
			return
		}
		result, err := mpesa.ParseResult(body)
		if err != nil {
			log.Warn("malformed callback", zap.Error(err))
			return
		}
		log = log.With(zap.String("conversation_id", result.ConversationID), zap.String("result_code", result.Code()))
		if err := process(r.Context(), result); err != nil {
			log.Error("process callback", zap.Error(err))
			return
		}
		log.Info("callback processed")
	}
}

// balanceResult completes a balance query, and hands anything that is not
// one to the disbursement flow since both share the result URL in practice.
func (h *CallbackHandler) balanceResult(ctx context.Context, r mpesa.Result) error {
	err := h.balances.HandleBalanceResult(ctx, r)
	if errors.Is(err, storage.ErrNotFound) {
		return h.disbursements.HandleResult(ctx, r)
	}
	return err
}

func ack(w http.ResponseWriter) {
	respond.JSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
}
