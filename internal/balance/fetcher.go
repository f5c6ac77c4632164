package balance

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
	"github.com/hongminglow/payvault-be/internal/vault"
)

// FetcherStore is what MpesaFetcher reads and writes.
type FetcherStore interface {
	CreateBalanceRequest(ctx context.Context, req models.BalanceRequest) error
	LatestCompletedBalance(ctx context.Context, partnerID uuid.UUID) (models.BalanceRequest, error)
	LatestBalanceSnapshot(ctx context.Context, partnerID uuid.UUID) (models.Balances, error)
}

// MpesaFetcher starts an AccountBalance query and answers with the most
// recent balances already known. Daraja delivers the new figures
// asynchronously to the balance result callback.
type MpesaFetcher struct {
	store      FetcherStore
	client     *mpesa.Client
	vault      *vault.Vault
	resultURL  string
	timeoutURL string
}

func NewMpesaFetcher(store FetcherStore, client *mpesa.Client, v *vault.Vault, resultURL, timeoutURL string) *MpesaFetcher {
	return &MpesaFetcher{store: store, client: client, vault: v, resultURL: resultURL, timeoutURL: timeoutURL}
}

func (f *MpesaFetcher) Fetch(ctx context.Context, partner models.Partner) (models.Balances, error) {
	creds, err := f.credentials(partner)
	if err != nil {
		return models.Balances{}, err
	}

	log := logging.FromContext(ctx).With(zap.String("partner_id", partner.ID.String()))
	if f.resultURL == "" {
		log.Debug("no balance callback url configured, using stored balances")
	} else if resp, err := f.client.AccountBalance(ctx, creds, f.resultURL, f.timeoutURL); err != nil {
		log.Warn("account balance query failed", zap.Error(err))
	} else if !resp.Accepted() {
		log.Warn("account balance query rejected", zap.String("response_code", resp.ResponseCode), zap.String("description", resp.ResponseDescription))
	} else if err := f.store.CreateBalanceRequest(ctx, models.BalanceRequest{
		PartnerID:                partner.ID,
		ConversationID:           resp.ConversationID,
		OriginatorConversationID: resp.OriginatorConversationID,
		Status:                   models.BalanceRequestPending,
	}); err != nil {
		log.Warn("record balance request", zap.Error(err))
	}

	return LatestKnown(ctx, f.store, partner.ID)
}

func (f *MpesaFetcher) credentials(p models.Partner) (models.MpesaCredentials, error) {
	var creds models.MpesaCredentials
	if p.EncryptedCredentials == "" {
		return creds, fmt.Errorf("no M-Pesa credentials stored for %s", p.Name)
	}
	if err := f.vault.Decrypt(p.EncryptedCredentials, &creds); err != nil {
		return creds, fmt.Errorf("failed to retrieve M-Pesa credentials for %s: %w", p.Name, err)
	}
	if creds.Shortcode == "" {
		creds.Shortcode = p.MpesaShortcode
	}
	if creds.Environment == "" {
		creds.Environment = p.MpesaEnvironment
	}
	if creds.InitiatorName == "" {
		creds.InitiatorName = p.MpesaInitiatorName
	}
	return creds, nil
}

// LatestKnown returns the newest completed balance query, falling back to the
// balances reported on the latest disbursement. Both missing yields empty
// balances.
func LatestKnown(ctx context.Context, store FetcherStore, partnerID uuid.UUID) (models.Balances, error) {
	req, err := store.LatestCompletedBalance(ctx, partnerID)
	if err == nil && req.Balances.Known() {
		return req.Balances, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return models.Balances{}, err
	}
	snap, err := store.LatestBalanceSnapshot(ctx, partnerID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Balances{}, nil
	}
	return snap, err
}
