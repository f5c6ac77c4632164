package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
)

const accessColumns = `a.id, a.user_id, a.shortcode_id, sc.shortcode, sc.partner_id, a.access_type,
	a.granted_by, a.granted_at, a.expires_at, a.is_active`

// GrantShortcodeAccess inserts a grant. Lapsed grants for the same pair are
// deactivated first so they do not block the new one.
func (s *Store) GrantShortcodeAccess(ctx context.Context, a models.ShortcodeAccess) (models.ShortcodeAccess, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if _, err := s.pool.Exec(ctx, `
		UPDATE user_shortcode_access SET is_active = FALSE
		WHERE user_id = $1 AND shortcode_id = $2 AND is_active AND expires_at <= NOW()`,
		a.UserID, a.ShortcodeID); err != nil {
		return models.ShortcodeAccess{}, fmt.Errorf("expire shortcode access: %w", err)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_shortcode_access (id, user_id, shortcode_id, access_type, granted_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, a.ShortcodeID, a.AccessType, a.GrantedBy, a.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ShortcodeAccess{}, storage.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return models.ShortcodeAccess{}, storage.ErrNotFound
		}
		return models.ShortcodeAccess{}, fmt.Errorf("grant shortcode access: %w", err)
	}
	return s.GetShortcodeAccess(ctx, a.ID)
}

// GetShortcodeAccess fetches a grant, active or not.
func (s *Store) GetShortcodeAccess(ctx context.Context, id uuid.UUID) (models.ShortcodeAccess, error) {
	return scanAccess(s.pool.QueryRow(ctx, `
		SELECT `+accessColumns+`
		FROM user_shortcode_access a JOIN partner_shortcodes sc ON sc.id = a.shortcode_id
		WHERE a.id = $1`, id))
}

// UpdateShortcodeAccess rewrites an active grant in place.
func (s *Store) UpdateShortcodeAccess(ctx context.Context, id uuid.UUID, accessType string, expiresAt *time.Time) (models.ShortcodeAccess, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_shortcode_access SET access_type = $2, expires_at = $3
		WHERE id = $1 AND is_active`, id, accessType, expiresAt)
	if err != nil {
		return models.ShortcodeAccess{}, fmt.Errorf("update shortcode access: %w", err)
	}
	if err := requireAffected(tag); err != nil {
		return models.ShortcodeAccess{}, err
	}
	return s.GetShortcodeAccess(ctx, id)
}

// ListShortcodeAccess returns the live grants of userIDs in one query.
func (s *Store) ListShortcodeAccess(ctx context.Context, userIDs []uuid.UUID) ([]models.ShortcodeAccess, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+accessColumns+`
		FROM user_shortcode_access a JOIN partner_shortcodes sc ON sc.id = a.shortcode_id
		WHERE a.user_id = ANY($1) AND a.is_active
		  AND (a.expires_at IS NULL OR a.expires_at > NOW())
		ORDER BY a.granted_at DESC`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list shortcode access: %w", err)
	}
	defer rows.Close()

	var out []models.ShortcodeAccess
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RevokeShortcodeAccess soft-deletes an active grant.
func (s *Store) RevokeShortcodeAccess(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE user_shortcode_access SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("revoke shortcode access: %w", err)
	}
	return requireAffected(tag)
}

func scanAccess(row pgx.Row) (models.ShortcodeAccess, error) {
	var a models.ShortcodeAccess
	err := row.Scan(&a.ID, &a.UserID, &a.ShortcodeID, &a.Shortcode, &a.PartnerID, &a.AccessType,
		&a.GrantedBy, &a.GrantedAt, &a.ExpiresAt, &a.IsActive)
	if err != nil {
		return models.ShortcodeAccess{}, notFound(err)
	}
	return a, nil
}
