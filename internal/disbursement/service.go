// Package disbursement implements the B2C submission workflow and the
// M-Pesa callbacks that complete it.
package disbursement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
	"github.com/hongminglow/payvault-be/internal/validation"
)

const (
	msgMissingFields        = "Missing required fields"
	msgInvalidMSISDN        = "Invalid MSISDN format. Use format: 254XXXXXXXXX"
	msgInvalidAmount        = "Amount must be between 1 and 150,000 KES"
	msgFractionalAmount     = "Amount must be a whole number of KES"
	MsgServiceUnavailable   = "M-Pesa service unavailable"
	MsgAccepted             = "Disbursement request accepted"
	MsgDuplicate            = "Request already exists"
	defaultDispatchTimeout  = 30 * time.Second
	historySourceDisbursals = "disbursement_callback"
)

var (
	// ErrShortcodeNotFound covers unknown, foreign and inactive shortcodes.
	ErrShortcodeNotFound = errors.New("Shortcode not found or not accessible")
	// ErrShortcodeNotConfigured is returned when the shortcode has no M-Pesa credentials.
	ErrShortcodeNotConfigured = errors.New("M-Pesa not configured for this shortcode")

	ErrAlreadySucceeded = errors.New("Disbursement already successful")
	ErrRetriesExhausted = errors.New("Maximum retry attempts exceeded")
	// ErrNotRetryable covers rows still in flight with M-Pesa.
	ErrNotRetryable = errors.New("Disbursement is still being processed")
)

// ValidationError is a rejected submission; nothing was written.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Request is the body of a disbursement submission.
type Request struct {
	Amount          decimal.Decimal `json:"amount" validate:"required,gte=1,lte=150000,whole"`
	MSISDN          string          `json:"msisdn" validate:"required,msisdn"`
	TenantID        string          `json:"tenant_id" validate:"required"`
	CustomerID      string          `json:"customer_id" validate:"required"`
	ClientRequestID string          `json:"client_request_id" validate:"required"`
	ShortcodeID     string          `json:"shortcode_id" validate:"required"`
}

// Outcome classifies how a submission ended.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeDuplicate
	OutcomeRejected
	OutcomeUnavailable
)

// Result is what Submit reports back to the caller.
type Result struct {
	Outcome        Outcome
	DisbursementID uuid.UUID
	ConversationID string
	Status         string
	ErrorCode      string
	ErrorMessage   string
}

// Store is the persistence the service needs.
type Store interface {
	storage.DisbursementStore
	FindPartnerShortcode(ctx context.Context, id, partnerID uuid.UUID) (models.PartnerShortcode, error)
	RecordBalanceHistory(ctx context.Context, h models.BalanceHistory) error
}

// Service runs submissions against a Dispatcher.
type Service struct {
	store      Store
	dispatcher Dispatcher
	timeout    time.Duration
	now        func() time.Time
}

// NewService wires the workflow. A zero timeout uses 30s.
func NewService(store Store, dispatcher Dispatcher, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Service{store: store, dispatcher: dispatcher, timeout: timeout, now: time.Now}
}

// Submit validates, deduplicates, persists and dispatches one payout.
func (s *Service) Submit(ctx context.Context, partnerID uuid.UUID, origin string, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}

	shortcodeID, err := uuid.Parse(req.ShortcodeID)
	if err != nil {
		return Result{}, ErrShortcodeNotFound
	}
	shortcode, err := s.usableShortcode(ctx, shortcodeID, partnerID)
	if err != nil {
		return Result{}, err
	}

	if origin == "" {
		origin = models.OriginAPI
	}
	row, created, err := s.store.CreateDisbursement(ctx, models.Disbursement{
		Origin:             origin,
		PartnerID:          partnerID,
		PartnerShortcodeID: &shortcode.ID,
		MpesaShortcode:     shortcode.Shortcode,
		TenantID:           req.TenantID,
		CustomerID:         req.CustomerID,
		ClientRequestID:    req.ClientRequestID,
		MSISDN:             req.MSISDN,
		Amount:             req.Amount,
		Status:             models.StatusQueued,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create disbursement: %w", err)
	}
	if !created {
		return Result{
			Outcome:        OutcomeDuplicate,
			DisbursementID: row.ID,
			ConversationID: row.ConversationID,
			Status:         row.Status,
		}, nil
	}

	return s.dispatch(ctx, row, shortcode), nil
}

func (s *Service) usableShortcode(ctx context.Context, id, partnerID uuid.UUID) (models.PartnerShortcode, error) {
	shortcode, err := s.store.FindPartnerShortcode(ctx, id, partnerID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !shortcode.IsActive) {
		return models.PartnerShortcode{}, ErrShortcodeNotFound
	}
	if err != nil {
		return models.PartnerShortcode{}, fmt.Errorf("load shortcode: %w", err)
	}
	if !shortcode.IsMpesaConfigured {
		return models.PartnerShortcode{}, ErrShortcodeNotConfigured
	}
	return shortcode, nil
}

func (s *Service) dispatch(ctx context.Context, row models.Disbursement, shortcode models.PartnerShortcode) Result {
	log := logging.FromContext(ctx).With(zap.String("disbursement_id", row.ID.String()))

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.dispatcher.Dispatch(dctx, DispatchRequest{Disbursement: row, Shortcode: shortcode})

	// Status updates use a context detached from the caller so a client
	// disconnect cannot strand the row in queued.
	uctx, ucancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer ucancel()

	switch {
	case err != nil:
		log.Warn("b2c dispatch failed", zap.Error(err))
		if uerr := s.store.MarkFailed(uctx, row.ID, "", MsgServiceUnavailable); uerr != nil {
			log.Error("mark disbursement failed", zap.Error(uerr))
		}
		return Result{Outcome: OutcomeUnavailable, DisbursementID: row.ID, Status: models.StatusFailed, ErrorMessage: MsgServiceUnavailable}

	case out.Accepted:
		if uerr := s.store.MarkAccepted(uctx, row.ID, out.ConversationID, out.OriginatorConversationID); uerr != nil {
			log.Error("mark disbursement accepted", zap.Error(uerr))
		}
		log.Info("b2c request accepted", zap.String("conversation_id", out.ConversationID))
		return Result{Outcome: OutcomeAccepted, DisbursementID: row.ID, ConversationID: out.ConversationID, Status: models.StatusAccepted}

	default:
		if uerr := s.store.MarkFailed(uctx, row.ID, out.ErrorCode, out.ErrorMessage); uerr != nil {
			log.Error("mark disbursement failed", zap.Error(uerr))
		}
		log.Info("b2c request rejected", zap.String("error_code", out.ErrorCode), zap.String("error_message", out.ErrorMessage))
		return Result{
			Outcome:        OutcomeRejected,
			DisbursementID: row.ID,
			Status:         models.StatusFailed,
			ErrorCode:      out.ErrorCode,
			ErrorMessage:   out.ErrorMessage,
		}
	}
}

func validateRequest(req Request) error {
	fields := validation.FieldErrors(validation.Struct(req))
	if len(fields) == 0 {
		return nil
	}
	for _, fe := range fields {
		if fe.Tag() == "required" {
			return &ValidationError{Message: msgMissingFields}
		}
	}
	for _, fe := range fields {
		if fe.Tag() == "msisdn" {
			return &ValidationError{Message: msgInvalidMSISDN}
		}
	}
	for _, fe := range fields {
		if fe.Tag() == "whole" {
			return &ValidationError{Message: msgFractionalAmount}
		}
	}
	return &ValidationError{Message: msgInvalidAmount}
}

// RetrySummary reports a batch retry.
type RetrySummary struct {
	Processed int      `json:"processed"`
	Accepted  int      `json:"success_count"`
	Failed    int      `json:"failure_count"`
	Skipped   int      `json:"skipped_count"`
	Results   []Result `json:"-"`
}

// staleBefore is the cutoff after which a queued row is treated as abandoned
// rather than mid-dispatch.
func (s *Service) staleBefore() time.Time {
	return s.now().Add(-2 * s.timeout)
}

// Retry re-dispatches one failed disbursement. force lifts the retry cap but
// never re-sends a successful or in-flight payout.
func (s *Service) Retry(ctx context.Context, id uuid.UUID, force bool) (Result, error) {
	row, err := s.store.GetDisbursement(ctx, id)
	if err != nil {
		return Result{}, err
	}
	switch {
	case row.Status == models.StatusSuccess:
		return Result{}, ErrAlreadySucceeded
	case row.Status != models.StatusFailed && !(row.Status == models.StatusQueued && row.UpdatedAt.Before(s.staleBefore())):
		return Result{}, ErrNotRetryable
	case !force && row.RetryCount >= row.MaxRetries:
		return Result{}, ErrRetriesExhausted
	}
	return s.retry(ctx, row, force)
}

// RetryFailed retries up to limit eligible disbursements, oldest first.
func (s *Service) RetryFailed(ctx context.Context, limit int) (RetrySummary, error) {
	rows, err := s.store.ListRetryable(ctx, s.staleBefore(), limit)
	if err != nil {
		return RetrySummary{}, fmt.Errorf("list retryable: %w", err)
	}
	var sum RetrySummary
	for _, row := range rows {
		res, err := s.retry(ctx, row, false)
		if err != nil {
			logging.FromContext(ctx).Warn("skip disbursement retry",
				zap.String("disbursement_id", row.ID.String()), zap.Error(err))
			sum.Skipped++
			continue
		}
		sum.Processed++
		if res.Outcome == OutcomeAccepted {
			sum.Accepted++
		} else {
			sum.Failed++
		}
		sum.Results = append(sum.Results, res)
	}
	return sum, nil
}

func (s *Service) retry(ctx context.Context, row models.Disbursement, force bool) (Result, error) {
	if row.PartnerShortcodeID == nil {
		return Result{}, ErrShortcodeNotFound
	}
	shortcode, err := s.usableShortcode(ctx, *row.PartnerShortcodeID, row.PartnerID)
	if err != nil {
		return Result{}, err
	}
	claimed, err := s.store.BeginRetry(ctx, row.ID, force, s.staleBefore())
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, ErrNotRetryable
	}
	if err != nil {
		return Result{}, fmt.Errorf("begin retry: %w", err)
	}
	logging.FromContext(ctx).Info("retrying disbursement",
		zap.String("disbursement_id", claimed.ID.String()),
		zap.Int("retry_count", claimed.RetryCount),
		zap.Bool("forced", force))
	return s.dispatch(ctx, claimed, shortcode), nil
}

// Get returns a disbursement, scoped to partnerID when non-nil.
func (s *Service) Get(ctx context.Context, id uuid.UUID, partnerID *uuid.UUID) (models.Disbursement, error) {
	d, err := s.store.GetDisbursement(ctx, id)
	if err != nil {
		return models.Disbursement{}, err
	}
	if partnerID != nil && d.PartnerID != *partnerID {
		return models.Disbursement{}, storage.ErrNotFound
	}
	return d, nil
}

// List returns disbursements matching filter.
func (s *Service) List(ctx context.Context, filter models.DisbursementFilter) ([]models.Disbursement, error) {
	return s.store.ListDisbursements(ctx, filter)
}
