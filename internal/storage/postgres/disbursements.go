package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
)

const disbursementColumns = `id, origin, partner_id, partner_shortcode_id, COALESCE(mpesa_shortcode, ''),
	tenant_id, customer_id, client_request_id, msisdn, amount, status,
	COALESCE(conversation_id, ''), COALESCE(originator_conversation_id, ''),
	COALESCE(transaction_receipt, ''), COALESCE(customer_name, ''),
	COALESCE(result_code, ''), COALESCE(result_desc, ''),
	working_balance_at_transaction, utility_balance_at_transaction, charges_balance_at_transaction,
	balance_updated_at, retry_count, max_retries, last_retry_at, created_at, updated_at`

// CreateDisbursement inserts d, or returns the existing row for the same
// (partner_id, client_request_id) with created=false.
func (s *Store) CreateDisbursement(ctx context.Context, d models.Disbursement) (models.Disbursement, bool, error) {
	query := `
		INSERT INTO disbursement_requests (origin, partner_id, partner_shortcode_id, mpesa_shortcode,
			tenant_id, customer_id, client_request_id, msisdn, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ON CONSTRAINT disbursement_requests_client_request_unique DO NOTHING
		RETURNING ` + disbursementColumns
	status := d.Status
	if status == "" {
		status = models.StatusQueued
	}
	row := s.pool.QueryRow(ctx, query, d.Origin, d.PartnerID, d.PartnerShortcodeID, nullable(d.MpesaShortcode),
		d.TenantID, d.CustomerID, d.ClientRequestID, d.MSISDN, d.Amount, status)
	created, err := scanDisbursement(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Disbursement{}, false, fmt.Errorf("insert disbursement: %w", err)
	}

	existing, err := scanDisbursement(s.pool.QueryRow(ctx,
		`SELECT `+disbursementColumns+` FROM disbursement_requests WHERE partner_id = $1 AND client_request_id = $2`,
		d.PartnerID, d.ClientRequestID))
	if err != nil {
		return models.Disbursement{}, false, fmt.Errorf("load existing disbursement: %w", err)
	}
	return existing, false, nil
}

// GetDisbursement fetches a disbursement by id.
func (s *Store) GetDisbursement(ctx context.Context, id uuid.UUID) (models.Disbursement, error) {
	return scanDisbursement(s.pool.QueryRow(ctx, `SELECT `+disbursementColumns+` FROM disbursement_requests WHERE id = $1`, id))
}

// FindByConversationID fetches the disbursement M-Pesa assigned conversationID to.
func (s *Store) FindByConversationID(ctx context.Context, conversationID string) (models.Disbursement, error) {
	return scanDisbursement(s.pool.QueryRow(ctx,
		`SELECT `+disbursementColumns+` FROM disbursement_requests
		 WHERE conversation_id = $1 OR originator_conversation_id = $1
		 ORDER BY created_at DESC LIMIT 1`, conversationID))
}

// ListDisbursements returns disbursements newest first.
func (s *Store) ListDisbursements(ctx context.Context, filter models.DisbursementFilter) ([]models.Disbursement, error) {
	query := `
		SELECT ` + disbursementColumns + `
		FROM disbursement_requests
		WHERE ($1::uuid IS NULL OR partner_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR msisdn = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`
	rows, err := s.pool.Query(ctx, query, filter.PartnerID, filter.Status, filter.MSISDN, limitOrDefault(filter.Limit), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list disbursements: %w", err)
	}
	defer rows.Close()

	var out []models.Disbursement
	for rows.Next() {
		d, err := scanDisbursement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkAccepted records that M-Pesa accepted the request.
func (s *Store) MarkAccepted(ctx context.Context, id uuid.UUID, conversationID, originatorConversationID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE disbursement_requests
		SET status = $2, conversation_id = $3, originator_conversation_id = $4, updated_at = NOW()
		WHERE id = $1`,
		id, models.StatusAccepted, nullable(conversationID), nullable(originatorConversationID))
	if err != nil {
		return fmt.Errorf("mark accepted: %w", err)
	}
	return requireAffected(tag)
}

// MarkFailed records a terminal failure.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, resultCode, resultDesc string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE disbursement_requests
		SET status = $2, result_code = $3, result_desc = $4, updated_at = NOW()
		WHERE id = $1`,
		id, models.StatusFailed, nullable(resultCode), nullable(resultDesc))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireAffected(tag)
}

// BeginRetry moves a failed, or stale queued, disbursement back to queued and
// counts the attempt. Rows that are in flight, settled or out of retries
// (unless force) are left alone and ErrNotFound is returned.
func (s *Store) BeginRetry(ctx context.Context, id uuid.UUID, force bool, staleBefore time.Time) (models.Disbursement, error) {
	return scanDisbursement(s.pool.QueryRow(ctx, `
		UPDATE disbursement_requests SET
			status = 'queued',
			retry_count = retry_count + 1,
			last_retry_at = NOW(),
			result_code = NULL,
			result_desc = NULL,
			updated_at = NOW()
		WHERE id = $1
		  AND (status = 'failed' OR (status = 'queued' AND updated_at < $3))
		  AND ($2 OR retry_count < max_retries)
		RETURNING `+disbursementColumns, id, force, staleBefore))
}

// ListRetryable returns failed, or stale queued, disbursements that still have
// retries left, oldest first.
func (s *Store) ListRetryable(ctx context.Context, staleBefore time.Time, limit int) ([]models.Disbursement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+disbursementColumns+`
		FROM disbursement_requests
		WHERE (status = 'failed' OR (status = 'queued' AND updated_at < $1))
		  AND retry_count < max_retries
		ORDER BY created_at
		LIMIT $2`, staleBefore, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list retryable disbursements: %w", err)
	}
	defer rows.Close()

	var out []models.Disbursement
	for rows.Next() {
		d, err := scanDisbursement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ApplyResult writes a result callback outcome. Balances and receipt are only
// overwritten when the callback carried them.
func (s *Store) ApplyResult(ctx context.Context, id uuid.UUID, r models.DisbursementResult) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE disbursement_requests SET
			status = $2,
			result_code = $3,
			result_desc = $4,
			transaction_receipt = COALESCE($5, transaction_receipt),
			customer_name = COALESCE($6, customer_name),
			working_balance_at_transaction = COALESCE($7, working_balance_at_transaction),
			utility_balance_at_transaction = COALESCE($8, utility_balance_at_transaction),
			charges_balance_at_transaction = COALESCE($9, charges_balance_at_transaction),
			balance_updated_at = CASE WHEN $10 THEN NOW() ELSE balance_updated_at END,
			updated_at = NOW()
		WHERE id = $1`,
		id, r.Status, nullable(r.ResultCode), nullable(r.ResultDesc),
		nullable(r.TransactionReceipt), nullable(r.CustomerName),
		r.Balances.Working, r.Balances.Utility, r.Balances.Charges, r.Balances.Known())
	if err != nil {
		return fmt.Errorf("apply result: %w", err)
	}
	return requireAffected(tag)
}

// LatestBalanceSnapshot returns the balances recorded by the partner's most
// recent completed disbursement.
func (s *Store) LatestBalanceSnapshot(ctx context.Context, partnerID uuid.UUID) (models.Balances, error) {
	var b models.Balances
	err := s.pool.QueryRow(ctx, `
		SELECT working_balance_at_transaction, utility_balance_at_transaction, charges_balance_at_transaction
		FROM disbursement_requests
		WHERE partner_id = $1 AND balance_updated_at IS NOT NULL
		ORDER BY balance_updated_at DESC
		LIMIT 1`, partnerID).Scan(&b.Working, &b.Utility, &b.Charges)
	if err != nil {
		return models.Balances{}, notFound(err)
	}
	return b, nil
}

// RecordCallback stores the raw callback for audit.
func (s *Store) RecordCallback(ctx context.Context, cb models.MpesaCallback) error {
	if cb.ID == uuid.Nil {
		cb.ID = uuid.New()
	}
	var payload any
	if len(cb.RawPayload) > 0 {
		payload = string(cb.RawPayload)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mpesa_callbacks (id, partner_id, disbursement_id, callback_type, conversation_id,
			result_code, result_desc, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)`,
		cb.ID, cb.PartnerID, cb.DisbursementID, cb.CallbackType, nullable(cb.ConversationID),
		nullable(cb.ResultCode), nullable(cb.ResultDesc), payload)
	if err != nil {
		return fmt.Errorf("record callback: %w", err)
	}
	return nil
}

// Stats aggregates disbursement counts, optionally for one partner.
func (s *Store) Stats(ctx context.Context, partnerID *uuid.UUID, dayStart time.Time) (models.DashboardStats, error) {
	var st models.DashboardStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status IN ('queued', 'accepted', 'pending')),
			COALESCE(SUM(amount) FILTER (WHERE status = 'success'), 0),
			COUNT(*) FILTER (WHERE created_at >= $2),
			COALESCE(SUM(amount) FILTER (WHERE created_at >= $2 AND status = 'success'), 0)
		FROM disbursement_requests
		WHERE ($1::uuid IS NULL OR partner_id = $1)`, partnerID, dayStart).
		Scan(&st.TotalTransactions, &st.SuccessfulTransactions, &st.FailedTransactions, &st.PendingTransactions,
			&st.TotalAmount, &st.TodayTransactions, &st.TodayAmount)
	if err != nil {
		return models.DashboardStats{}, fmt.Errorf("disbursement stats: %w", err)
	}
	if partnerID == nil {
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM partners WHERE is_active`).Scan(&st.ActivePartners); err != nil {
			return models.DashboardStats{}, fmt.Errorf("count partners: %w", err)
		}
	}
	st.SuccessRate = models.SuccessRate(st.SuccessfulTransactions, st.TotalTransactions)
	return st, nil
}

func scanDisbursement(row pgx.Row) (models.Disbursement, error) {
	var d models.Disbursement
	err := row.Scan(&d.ID, &d.Origin, &d.PartnerID, &d.PartnerShortcodeID, &d.MpesaShortcode,
		&d.TenantID, &d.CustomerID, &d.ClientRequestID, &d.MSISDN, &d.Amount, &d.Status,
		&d.ConversationID, &d.OriginatorConversationID,
		&d.TransactionReceipt, &d.CustomerName,
		&d.ResultCode, &d.ResultDesc,
		&d.Balances.Working, &d.Balances.Utility, &d.Balances.Charges,
		&d.BalanceUpdatedAt, &d.RetryCount, &d.MaxRetries, &d.LastRetryAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Disbursement{}, notFound(err)
	}
	return d, nil
}
