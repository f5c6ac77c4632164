package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// GetSetting decodes the JSON value stored under key into out.
func (s *Store) GetSetting(ctx context.Context, key string, out any) error {
	var raw []byte
	if err := s.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, key).Scan(&raw); err != nil {
		return notFound(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode setting %s: %w", key, err)
	}
	return nil
}

// PutSetting stores value as JSON under key.
func (s *Store) PutSetting(ctx context.Context, key string, value any, updatedBy uuid.UUID) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	var by *uuid.UUID
	if updatedBy != uuid.Nil {
		by = &updatedBy
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO system_settings (key, value, updated_by, updated_at)
		VALUES ($1, $2::jsonb, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()`,
		key, string(raw), by)
	if err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}
	return nil
}
