package balance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/mpesa"
)

const callbackBalance = "balance"

// HandleBalanceResult completes the balance request r answers. It returns
// storage.ErrNotFound when no balance request matches, so callers can try
// other consumers of the same callback URL.
func (m *Monitor) HandleBalanceResult(ctx context.Context, r mpesa.Result) error {
	req, err := m.store.FindBalanceRequest(ctx, r.ConversationID, r.OriginatorConversationID)
	if err != nil {
		return err
	}

	balances := r.AccountBalances()
	if !balances.Known() {
		balances = r.B2CBalances()
	}
	status := models.BalanceRequestFailed
	switch r.Code() {
	case "0":
		status = models.BalanceRequestCompleted
	case "1":
		status = models.BalanceRequestPending
	}
	now := m.now().UTC()

	if err := m.store.CompleteBalanceRequest(ctx, req.ID, status, balances, r.Code(), r.ResultDesc, now); err != nil {
		return fmt.Errorf("complete balance request: %w", err)
	}
	partnerID := req.PartnerID
	if err := m.store.RecordCallback(ctx, models.MpesaCallback{
		PartnerID:      &partnerID,
		CallbackType:   callbackBalance,
		ConversationID: r.ConversationID,
		ResultCode:     r.Code(),
		ResultDesc:     r.ResultDesc,
		RawPayload:     r.Raw,
	}); err != nil {
		return fmt.Errorf("record callback: %w", err)
	}
	if status == models.BalanceRequestCompleted && balances.Known() {
		if err := m.store.RecordBalanceHistory(ctx, models.BalanceHistory{
			PartnerID:  req.PartnerID,
			Balances:   balances,
			Source:     SourceCallback,
			RecordedAt: now,
		}); err != nil {
			logging.FromContext(ctx).Warn("record balance history", zap.Error(err))
		}
	}
	logging.FromContext(ctx).Info("balance result applied",
		zap.String("partner_id", req.PartnerID.String()),
		zap.String("status", status))
	return nil
}
