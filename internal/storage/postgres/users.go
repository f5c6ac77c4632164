package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
)

const userColumns = `id, email, password_hash, role, partner_id, is_active, last_login_at, password_changed_at, created_at, updated_at`

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	query := `
		INSERT INTO users (email, password_hash, role, partner_id, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query, strings.ToLower(user.Email), user.PasswordHash, user.Role, user.PartnerID, user.IsActive)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, storage.ErrAlreadyExists
		}
		return models.User{}, err
	}
	return created, nil
}

// firstAdminLockKey is the advisory lock taken while creating the first admin.
const firstAdminLockKey int64 = 0x70766164

// CreateFirstAdmin inserts user as long as no admin exists yet. The advisory
// lock serialises concurrent setup requests across connections.
func (s *Store) CreateFirstAdmin(ctx context.Context, user models.User) (models.User, error) {
	var created models.User
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, firstAdminLockKey); err != nil {
			return fmt.Errorf("lock first admin: %w", err)
		}
		var admins int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role IN ('admin', 'super_admin')`).Scan(&admins); err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if admins > 0 {
			return storage.ErrAlreadyExists
		}
		var err error
		created, err = scanUser(tx.QueryRow(ctx, `
			INSERT INTO users (email, password_hash, role, partner_id, is_active)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+userColumns,
			strings.ToLower(user.Email), user.PasswordHash, user.Role, user.PartnerID, user.IsActive))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, storage.ErrAlreadyExists
		}
		return models.User{}, err
	}
	return created, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// FindByEmail fetches a user by email address, case-insensitively.
func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

// ListUsers returns users newest first.
func (s *Store) ListUsers(ctx context.Context, filter models.UserFilter) ([]models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE ($1 = '' OR role = $1)
		  AND ($2::uuid IS NULL OR partner_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := s.pool.Query(ctx, query, filter.Role, filter.PartnerID, limitOrDefault(filter.Limit), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser writes the mutable profile fields of user.
func (s *Store) UpdateUser(ctx context.Context, user models.User) (models.User, error) {
	query := `
		UPDATE users
		SET email = $2, role = $3, partner_id = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query, user.ID, strings.ToLower(user.Email), user.Role, user.PartnerID, user.IsActive)
	updated, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, storage.ErrAlreadyExists
		}
		return models.User{}, err
	}
	return updated, nil
}

// UpdatePassword replaces the password hash.
func (s *Store) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, changedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, password_changed_at = $3, updated_at = $3 WHERE id = $1`,
		id, passwordHash, changedAt)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(tag)
}

// TouchLastLogin advances last_login_at.
func (s *Store) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return requireAffected(tag)
}

// DeleteUser removes a user and, by cascade, their sessions.
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(tag)
}

// CountByRole counts users holding any of roles.
func (s *Store) CountByRole(ctx context.Context, roles ...string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = ANY($1)`, roles).Scan(&n)
	return n, err
}

// CreateSession stores a login session.
func (s *Store) CreateSession(ctx context.Context, session models.Session) (models.Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	const query = `
		INSERT INTO user_sessions (id, user_id, expires_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	if err := s.pool.QueryRow(ctx, query, session.ID, session.UserID, session.ExpiresAt,
		nullable(session.UserAgent), nullable(session.IPAddress)).Scan(&session.CreatedAt); err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (models.Session, error) {
	const query = `
		SELECT id, user_id, expires_at, COALESCE(user_agent, ''), COALESCE(ip_address, ''), created_at
		FROM user_sessions WHERE id = $1`
	var sess models.Session
	err := s.pool.QueryRow(ctx, query, id).Scan(&sess.ID, &sess.UserID, &sess.ExpiresAt, &sess.UserAgent, &sess.IPAddress, &sess.CreatedAt)
	if err != nil {
		return models.Session{}, notFound(err)
	}
	return sess, nil
}

// DeleteSession removes one session.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	return err
}

// DeleteUserSessions removes all sessions of a user except keep.
func (s *Store) DeleteUserSessions(ctx context.Context, userID uuid.UUID, keep *uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_sessions WHERE user_id = $1 AND ($2::uuid IS NULL OR id <> $2)`,
		userID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateResetToken stores a hashed reset token.
func (s *Store) CreateResetToken(ctx context.Context, token models.PasswordResetToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at) VALUES ($1, $2, $3, $4)`,
		token.ID, token.UserID, token.TokenHash, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken atomically marks a valid token used.
func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (uuid.UUID, error) {
	const query = `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id`
	var userID uuid.UUID
	if err := s.pool.QueryRow(ctx, query, tokenHash, now).Scan(&userID); err != nil {
		return uuid.Nil, notFound(err)
	}
	return userID, nil
}

// ListPermissions returns a user's grants.
func (s *Store) ListPermissions(ctx context.Context, userID uuid.UUID) ([]models.UserPermission, error) {
	const query = `
		SELECT id, user_id, permission, resource_type, resource_id, granted_by, created_at
		FROM user_permissions WHERE user_id = $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var perms []models.UserPermission
	for rows.Next() {
		var p models.UserPermission
		if err := rows.Scan(&p.ID, &p.UserID, &p.Permission, &p.ResourceType, &p.ResourceID, &p.GrantedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GrantPermission inserts a grant.
func (s *Store) GrantPermission(ctx context.Context, perm models.UserPermission) (models.UserPermission, error) {
	const query = `
		INSERT INTO user_permissions (user_id, permission, resource_type, resource_id, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := s.pool.QueryRow(ctx, query, perm.UserID, perm.Permission, perm.ResourceType, perm.ResourceID, perm.GrantedBy).
		Scan(&perm.ID, &perm.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.UserPermission{}, storage.ErrAlreadyExists
		}
		return models.UserPermission{}, fmt.Errorf("grant permission: %w", err)
	}
	return perm, nil
}

// RevokePermission deletes a grant.
func (s *Store) RevokePermission(ctx context.Context, userID uuid.UUID, permission, resourceType string, resourceID *string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM user_permissions
		WHERE user_id = $1 AND permission = $2 AND resource_type = $3
		  AND COALESCE(resource_id, '') = COALESCE($4, '')`,
		userID, permission, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	return requireAffected(tag)
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.PartnerID, &user.IsActive,
		&user.LastLoginAt, &user.PasswordChangedAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return models.User{}, notFound(err)
	}
	return user, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
