package disbursement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/mpesa"
	"github.com/hongminglow/payvault-be/internal/storage"
)

const (
	CallbackResult  = "result"
	CallbackTimeout = "timeout"

	timeoutCode = "TIMEOUT"
	timeoutDesc = "Transaction timeout"
)

// HandleResult applies a B2C result callback. Results for unknown
// disbursements are recorded and otherwise ignored.
func (s *Service) HandleResult(ctx context.Context, r mpesa.Result) error {
	log := logging.FromContext(ctx).With(zap.String("conversation_id", r.ConversationID))

	d, err := s.locate(ctx, r)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("result callback for unknown disbursement", zap.String("occasion", r.Occasion()))
		return s.store.RecordCallback(ctx, callbackRow(nil, CallbackResult, r))
	}
	if err != nil {
		return err
	}

	balances := r.B2CBalances()
	result := models.DisbursementResult{
		Status:             mpesa.DisbursementStatus(r.Code()),
		ResultCode:         r.Code(),
		ResultDesc:         r.ResultDesc,
		TransactionReceipt: r.Receipt(),
		CustomerName:       r.CustomerName(),
		Balances:           balances,
	}
	if err := s.store.ApplyResult(ctx, d.ID, result); err != nil {
		return fmt.Errorf("apply result: %w", err)
	}
	if err := s.store.RecordCallback(ctx, callbackRow(&d, CallbackResult, r)); err != nil {
		return fmt.Errorf("record callback: %w", err)
	}
	if balances.Known() {
		err := s.store.RecordBalanceHistory(ctx, models.BalanceHistory{
			PartnerID:  d.PartnerID,
			Balances:   balances,
			Source:     historySourceDisbursals,
			RecordedAt: s.now(),
		})
		if err != nil {
			log.Warn("record balance snapshot", zap.Error(err))
		}
	}
	log.Info("disbursement result applied",
		zap.String("disbursement_id", d.ID.String()),
		zap.String("status", result.Status),
		zap.String("result_code", result.ResultCode))
	return nil
}

// HandleTimeout marks the disbursement behind a queue timeout as failed.
func (s *Service) HandleTimeout(ctx context.Context, r mpesa.Result) error {
	d, err := s.locate(ctx, r)
	if errors.Is(err, storage.ErrNotFound) {
		logging.FromContext(ctx).Warn("timeout callback for unknown disbursement",
			zap.String("conversation_id", r.ConversationID))
		return s.store.RecordCallback(ctx, callbackRow(nil, CallbackTimeout, r))
	}
	if err != nil {
		return err
	}
	if err := s.store.MarkFailed(ctx, d.ID, timeoutCode, timeoutDesc); err != nil {
		return fmt.Errorf("mark timeout: %w", err)
	}
	return s.store.RecordCallback(ctx, callbackRow(&d, CallbackTimeout, r))
}

func (s *Service) locate(ctx context.Context, r mpesa.Result) (models.Disbursement, error) {
	for _, id := range []string{r.ConversationID, r.OriginatorConversationID} {
		if id == "" {
			continue
		}
		d, err := s.store.FindByConversationID(ctx, id)
		if err == nil || !errors.Is(err, storage.ErrNotFound) {
			return d, err
		}
	}
	if id, err := uuid.Parse(r.Occasion()); err == nil {
		return s.store.GetDisbursement(ctx, id)
	}
	return models.Disbursement{}, storage.ErrNotFound
}

func callbackRow(d *models.Disbursement, kind string, r mpesa.Result) models.MpesaCallback {
	cb := models.MpesaCallback{
		CallbackType:   kind,
		ConversationID: r.ConversationID,
		ResultCode:     r.Code(),
		ResultDesc:     r.ResultDesc,
		RawPayload:     r.Raw,
	}
	if d != nil {
		cb.PartnerID = &d.PartnerID
		cb.DisbursementID = &d.ID
	}
	return cb
}
