package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hongminglow/payvault-be/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store provides Postgres-backed persistence for the vault.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and runs migrations.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the schema idempotently.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
		`CREATE TABLE IF NOT EXISTS partners (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			short_code TEXT UNIQUE NOT NULL,
			contact_email TEXT,
			contact_phone TEXT,
			mpesa_shortcode TEXT,
			mpesa_environment TEXT NOT NULL DEFAULT 'sandbox',
			mpesa_initiator_name TEXT,
			encrypted_credentials TEXT,
			is_mpesa_configured BOOLEAN NOT NULL DEFAULT FALSE,
			api_key_hash TEXT UNIQUE,
			api_key_prefix TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			mifos_host_url TEXT,
			mifos_username TEXT,
			mifos_tenant_id TEXT,
			encrypted_mifos_password TEXT,
			is_mifos_configured BOOLEAN NOT NULL DEFAULT FALSE,
			ncba_business_short_code TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'partner',
			partner_id UUID REFERENCES partners(id) ON DELETE SET NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_login_at TIMESTAMPTZ,
			password_changed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS user_sessions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at TIMESTAMPTZ NOT NULL,
			user_agent TEXT,
			ip_address TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`ALTER TABLE user_sessions ALTER COLUMN id SET DEFAULT gen_random_uuid();`,
		`CREATE INDEX IF NOT EXISTS user_sessions_user_idx ON user_sessions (user_id);`,
		`CREATE TABLE IF NOT EXISTS password_reset_tokens (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash TEXT UNIQUE NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`ALTER TABLE password_reset_tokens ALTER COLUMN id SET DEFAULT gen_random_uuid();`,
		`CREATE TABLE IF NOT EXISTS user_permissions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			permission TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT,
			granted_by UUID REFERENCES users(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS user_permissions_unique_idx
			ON user_permissions (user_id, permission, resource_type, COALESCE(resource_id, ''));`,
		`CREATE TABLE IF NOT EXISTS partner_shortcodes (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			partner_id UUID NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
			shortcode TEXT NOT NULL,
			shortcode_name TEXT,
			shortcode_type TEXT,
			environment TEXT NOT NULL DEFAULT 'sandbox',
			initiator_name TEXT,
			encrypted_credentials TEXT,
			is_mpesa_configured BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (partner_id, shortcode)
		);`,
		`CREATE TABLE IF NOT EXISTS user_shortcode_access (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			shortcode_id UUID NOT NULL REFERENCES partner_shortcodes(id) ON DELETE CASCADE,
			access_type TEXT NOT NULL DEFAULT 'read',
			granted_by UUID REFERENCES users(id) ON DELETE SET NULL,
			granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS user_shortcode_access_active_idx
			ON user_shortcode_access (user_id, shortcode_id) WHERE is_active;`,
		`CREATE TABLE IF NOT EXISTS disbursement_requests (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			origin TEXT NOT NULL DEFAULT 'api',
			partner_id UUID NOT NULL REFERENCES partners(id),
			partner_shortcode_id UUID REFERENCES partner_shortcodes(id) ON DELETE SET NULL,
			mpesa_shortcode TEXT,
			tenant_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			client_request_id TEXT NOT NULL,
			msisdn TEXT NOT NULL,
			amount NUMERIC(14,2) NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			conversation_id TEXT,
			originator_conversation_id TEXT,
			transaction_receipt TEXT,
			customer_name TEXT,
			result_code TEXT,
			result_desc TEXT,
			working_balance_at_transaction NUMERIC(16,2),
			utility_balance_at_transaction NUMERIC(16,2),
			charges_balance_at_transaction NUMERIC(16,2),
			balance_updated_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT disbursement_requests_client_request_unique UNIQUE (partner_id, client_request_id)
		);`,
		`ALTER TABLE disbursement_requests
			ADD COLUMN IF NOT EXISTS retry_count INTEGER NOT NULL DEFAULT 0,
			ADD COLUMN IF NOT EXISTS max_retries INTEGER NOT NULL DEFAULT 3,
			ADD COLUMN IF NOT EXISTS last_retry_at TIMESTAMPTZ;`,
		`CREATE INDEX IF NOT EXISTS disbursement_requests_conversation_idx ON disbursement_requests (conversation_id);`,
		`CREATE INDEX IF NOT EXISTS disbursement_requests_partner_created_idx ON disbursement_requests (partner_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS mpesa_callbacks (
			id UUID PRIMARY KEY,
			partner_id UUID,
			disbursement_id UUID,
			callback_type TEXT NOT NULL,
			conversation_id TEXT,
			result_code TEXT,
			result_desc TEXT,
			raw_payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS balance_monitoring_configs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			partner_id UUID UNIQUE NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
			working_account_threshold NUMERIC(16,2) NOT NULL DEFAULT 1000,
			utility_account_threshold NUMERIC(16,2) NOT NULL DEFAULT 500,
			charges_account_threshold NUMERIC(16,2) NOT NULL DEFAULT 200,
			check_interval_minutes INTEGER NOT NULL DEFAULT 15,
			slack_webhook_url TEXT,
			slack_channel TEXT,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_checked_at TIMESTAMPTZ,
			last_alert_sent_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS balance_requests (
			id UUID PRIMARY KEY,
			partner_id UUID NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
			conversation_id TEXT,
			originator_conversation_id TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			working_account_balance NUMERIC(16,2),
			utility_account_balance NUMERIC(16,2),
			charges_account_balance NUMERIC(16,2),
			result_code TEXT,
			result_desc TEXT,
			callback_received_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS balance_history (
			id UUID PRIMARY KEY,
			partner_id UUID NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
			working_balance NUMERIC(16,2),
			utility_balance NUMERIC(16,2),
			charges_balance NUMERIC(16,2),
			source TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS balance_history_partner_idx ON balance_history (partner_id, recorded_at DESC);`,
		`CREATE TABLE IF NOT EXISTS balance_alerts (
			id UUID PRIMARY KEY,
			partner_id UUID NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
			alert_type TEXT NOT NULL,
			account_type TEXT NOT NULL,
			current_balance NUMERIC(16,2) NOT NULL,
			threshold_balance NUMERIC(16,2) NOT NULL,
			alert_message TEXT NOT NULL,
			slack_sent BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS balance_alerts_lookup_idx ON balance_alerts (partner_id, account_type, alert_type, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS system_settings (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_by UUID,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// ImportLegacyBalanceConfigs copies rows from the legacy partner_balance_configs
// table, when it exists, into balance_monitoring_configs. It returns the number
// of rows inserted.
func (s *Store) ImportLegacyBalanceConfigs(ctx context.Context) (int64, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass('public.partner_balance_configs') IS NOT NULL`).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check legacy table: %w", err)
	}
	if !exists {
		return 0, nil
	}
	const query = `
		INSERT INTO balance_monitoring_configs
			(partner_id, working_account_threshold, check_interval_minutes, slack_webhook_url, slack_channel, is_enabled)
		SELECT partner_id, low_balance_threshold, check_interval_minutes, slack_webhook_url, slack_channel, is_monitoring_enabled
		FROM partner_balance_configs
		ON CONFLICT (partner_id) DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("import legacy balance configs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func requireAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
