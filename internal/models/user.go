package models

import (
	"time"

	"github.com/google/uuid"
)

// User captures application-facing fields for an authenticated identity.
type User struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	Role              string     `json:"role"`
	PartnerID         *uuid.UUID `json:"partner_id,omitempty"`
	IsActive          bool       `json:"is_active"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsAdmin reports whether the user may use admin routes.
func (u User) IsAdmin() bool {
	return IsAdminRole(u.Role)
}

// IsPartner reports whether the user may use partner routes.
func (u User) IsPartner() bool {
	return IsPartnerRole(u.Role)
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Role      string
	PartnerID *uuid.UUID
	Limit     int
	Offset    int
}

// Session is a server-side login record referenced by the token's sid claim.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// PasswordResetToken stores only the hash of the emailed token.
type PasswordResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// UserPermission is a fine-grained grant on top of the user's role.
type UserPermission struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Permission   string     `json:"permission"`
	ResourceType string     `json:"resource_type"`
	ResourceID   *string    `json:"resource_id,omitempty"`
	GrantedBy    *uuid.UUID `json:"granted_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
