package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/payvault-be/internal/models"
)

const monitoringColumns = `id, partner_id, working_account_threshold, utility_account_threshold,
	charges_account_threshold, check_interval_minutes, COALESCE(slack_webhook_url, ''),
	COALESCE(slack_channel, ''), is_enabled, last_checked_at, last_alert_sent_at, created_at, updated_at`

// GetMonitoringConfig fetches the config for a partner.
func (s *Store) GetMonitoringConfig(ctx context.Context, partnerID uuid.UUID) (models.MonitoringConfig, error) {
	return scanMonitoringConfig(s.pool.QueryRow(ctx,
		`SELECT `+monitoringColumns+` FROM balance_monitoring_configs WHERE partner_id = $1`, partnerID))
}

// UpsertMonitoringConfig creates or replaces the partner's config.
func (s *Store) UpsertMonitoringConfig(ctx context.Context, cfg models.MonitoringConfig) (models.MonitoringConfig, error) {
	query := `
		INSERT INTO balance_monitoring_configs (partner_id, working_account_threshold, utility_account_threshold,
			charges_account_threshold, check_interval_minutes, slack_webhook_url, slack_channel, is_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (partner_id) DO UPDATE SET
			working_account_threshold = EXCLUDED.working_account_threshold,
			utility_account_threshold = EXCLUDED.utility_account_threshold,
			charges_account_threshold = EXCLUDED.charges_account_threshold,
			check_interval_minutes = EXCLUDED.check_interval_minutes,
			slack_webhook_url = EXCLUDED.slack_webhook_url,
			slack_channel = EXCLUDED.slack_channel,
			is_enabled = EXCLUDED.is_enabled,
			updated_at = NOW()
		RETURNING ` + monitoringColumns
	return scanMonitoringConfig(s.pool.QueryRow(ctx, query, cfg.PartnerID,
		cfg.WorkingAccountThreshold, cfg.UtilityAccountThreshold, cfg.ChargesAccountThreshold,
		cfg.CheckIntervalMinutes, nullable(cfg.SlackWebhookURL), nullable(cfg.SlackChannel), cfg.IsEnabled))
}

// ListEnabledConfigs returns enabled configs, optionally for one partner.
func (s *Store) ListEnabledConfigs(ctx context.Context, partnerID *uuid.UUID) ([]models.MonitoringConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+monitoringColumns+`
		FROM balance_monitoring_configs
		WHERE is_enabled AND ($1::uuid IS NULL OR partner_id = $1)
		ORDER BY created_at`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("list monitoring configs: %w", err)
	}
	defer rows.Close()

	var out []models.MonitoringConfig
	for rows.Next() {
		cfg, err := scanMonitoringConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// MarkConfigChecked advances last_checked_at, and last_alert_sent_at when alerted.
func (s *Store) MarkConfigChecked(ctx context.Context, id uuid.UUID, checkedAt time.Time, alerted bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE balance_monitoring_configs
		SET last_checked_at = $2,
			last_alert_sent_at = CASE WHEN $3 THEN $2 ELSE last_alert_sent_at END,
			updated_at = NOW()
		WHERE id = $1`, id, checkedAt, alerted)
	if err != nil {
		return fmt.Errorf("mark config checked: %w", err)
	}
	return requireAffected(tag)
}

// RecordBalanceHistory appends a snapshot.
func (s *Store) RecordBalanceHistory(ctx context.Context, h models.BalanceHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.RecordedAt.IsZero() {
		h.RecordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO balance_history (id, partner_id, working_balance, utility_balance, charges_balance, source, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.PartnerID, h.Balances.Working, h.Balances.Utility, h.Balances.Charges, h.Source, h.RecordedAt)
	if err != nil {
		return fmt.Errorf("record balance history: %w", err)
	}
	return nil
}

// ListBalanceHistory returns snapshots newest first.
func (s *Store) ListBalanceHistory(ctx context.Context, partnerID *uuid.UUID, limit int) ([]models.BalanceHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, partner_id, working_balance, utility_balance, charges_balance, source, recorded_at
		FROM balance_history
		WHERE ($1::uuid IS NULL OR partner_id = $1)
		ORDER BY recorded_at DESC
		LIMIT $2`, partnerID, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list balance history: %w", err)
	}
	defer rows.Close()

	var out []models.BalanceHistory
	for rows.Next() {
		var h models.BalanceHistory
		if err := rows.Scan(&h.ID, &h.PartnerID, &h.Balances.Working, &h.Balances.Utility, &h.Balances.Charges,
			&h.Source, &h.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// RecentAlertExists reports whether an alert of the same kind was raised since since.
func (s *Store) RecentAlertExists(ctx context.Context, partnerID uuid.UUID, accountType, alertType string, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM balance_alerts
			WHERE partner_id = $1 AND account_type = $2 AND alert_type = $3 AND created_at >= $4
		)`, partnerID, accountType, alertType, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent alert: %w", err)
	}
	return exists, nil
}

// CreateAlert inserts an alert.
func (s *Store) CreateAlert(ctx context.Context, a models.BalanceAlert) (models.BalanceAlert, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO balance_alerts (id, partner_id, alert_type, account_type, current_balance,
			threshold_balance, alert_message, slack_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		a.ID, a.PartnerID, a.AlertType, a.AccountType, a.CurrentBalance, a.ThresholdBalance, a.AlertMessage, a.SlackSent).
		Scan(&a.CreatedAt)
	if err != nil {
		return models.BalanceAlert{}, fmt.Errorf("create alert: %w", err)
	}
	return a, nil
}

// MarkAlertSlackSent flags an alert as delivered.
func (s *Store) MarkAlertSlackSent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE balance_alerts SET slack_sent = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark alert sent: %w", err)
	}
	return requireAffected(tag)
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, partnerID *uuid.UUID, limit int) ([]models.BalanceAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, partner_id, alert_type, account_type, current_balance, threshold_balance,
			alert_message, slack_sent, created_at
		FROM balance_alerts
		WHERE ($1::uuid IS NULL OR partner_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`, partnerID, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.BalanceAlert
	for rows.Next() {
		var a models.BalanceAlert
		if err := rows.Scan(&a.ID, &a.PartnerID, &a.AlertType, &a.AccountType, &a.CurrentBalance,
			&a.ThresholdBalance, &a.AlertMessage, &a.SlackSent, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const balanceRequestColumns = `id, partner_id, COALESCE(conversation_id, ''), COALESCE(originator_conversation_id, ''),
	status, working_account_balance, utility_account_balance, charges_account_balance,
	COALESCE(result_code, ''), COALESCE(result_desc, ''), callback_received_at, created_at, updated_at`

// CreateBalanceRequest records a pending AccountBalance query.
func (s *Store) CreateBalanceRequest(ctx context.Context, req models.BalanceRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = models.BalanceRequestPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO balance_requests (id, partner_id, conversation_id, originator_conversation_id, status)
		VALUES ($1, $2, $3, $4, $5)`,
		req.ID, req.PartnerID, nullable(req.ConversationID), nullable(req.OriginatorConversationID), req.Status)
	if err != nil {
		return fmt.Errorf("create balance request: %w", err)
	}
	return nil
}

// FindBalanceRequest matches a callback to its request by either conversation id.
func (s *Store) FindBalanceRequest(ctx context.Context, conversationID, originatorConversationID string) (models.BalanceRequest, error) {
	return scanBalanceRequest(s.pool.QueryRow(ctx, `
		SELECT `+balanceRequestColumns+`
		FROM balance_requests
		WHERE ($1 <> '' AND conversation_id = $1) OR ($2 <> '' AND originator_conversation_id = $2)
		ORDER BY created_at DESC
		LIMIT 1`, conversationID, originatorConversationID))
}

// CompleteBalanceRequest stores the callback outcome.
func (s *Store) CompleteBalanceRequest(ctx context.Context, id uuid.UUID, status string, b models.Balances, resultCode, resultDesc string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE balance_requests SET
			status = $2,
			working_account_balance = $3,
			utility_account_balance = $4,
			charges_account_balance = $5,
			result_code = $6,
			result_desc = $7,
			callback_received_at = $8,
			updated_at = $8
		WHERE id = $1`,
		id, status, b.Working, b.Utility, b.Charges, nullable(resultCode), nullable(resultDesc), at)
	if err != nil {
		return fmt.Errorf("complete balance request: %w", err)
	}
	return requireAffected(tag)
}

// LatestCompletedBalance returns the newest completed balance request of a partner.
func (s *Store) LatestCompletedBalance(ctx context.Context, partnerID uuid.UUID) (models.BalanceRequest, error) {
	return scanBalanceRequest(s.pool.QueryRow(ctx, `
		SELECT `+balanceRequestColumns+`
		FROM balance_requests
		WHERE partner_id = $1 AND status = $2
		ORDER BY callback_received_at DESC NULLS LAST
		LIMIT 1`, partnerID, models.BalanceRequestCompleted))
}

func scanMonitoringConfig(row pgx.Row) (models.MonitoringConfig, error) {
	var c models.MonitoringConfig
	err := row.Scan(&c.ID, &c.PartnerID, &c.WorkingAccountThreshold, &c.UtilityAccountThreshold,
		&c.ChargesAccountThreshold, &c.CheckIntervalMinutes, &c.SlackWebhookURL,
		&c.SlackChannel, &c.IsEnabled, &c.LastCheckedAt, &c.LastAlertSentAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.MonitoringConfig{}, notFound(err)
	}
	return c, nil
}

func scanBalanceRequest(row pgx.Row) (models.BalanceRequest, error) {
	var r models.BalanceRequest
	err := row.Scan(&r.ID, &r.PartnerID, &r.ConversationID, &r.OriginatorConversationID,
		&r.Status, &r.Balances.Working, &r.Balances.Utility, &r.Balances.Charges,
		&r.ResultCode, &r.ResultDesc, &r.CallbackReceivedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return models.BalanceRequest{}, notFound(err)
	}
	return r, nil
}
