package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hongminglow/payvault-be/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrInUse indicates a delete blocked by rows that still reference the record.
var ErrInUse = errors.New("record is still referenced")

// UserStore captures persistence operations on users.
type UserStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context, filter models.UserFilter) ([]models.User, error)
	UpdateUser(ctx context.Context, user models.User) (models.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, changedAt time.Time) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	CountByRole(ctx context.Context, roles ...string) (int64, error)
	// CreateFirstAdmin inserts user only while no admin or super_admin exists,
	// returning ErrAlreadyExists otherwise. Concurrent calls create at most one.
	CreateFirstAdmin(ctx context.Context, user models.User) (models.User, error)
}

// SessionStore persists login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session models.Session) (models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (models.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	// DeleteUserSessions removes every session of userID except keep (when non-nil).
	DeleteUserSessions(ctx context.Context, userID uuid.UUID, keep *uuid.UUID) (int64, error)
}

// PasswordResetStore persists hashed password reset tokens.
type PasswordResetStore interface {
	CreateResetToken(ctx context.Context, token models.PasswordResetToken) error
	// ConsumeResetToken marks an unexpired, unused token as used and returns its user.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (uuid.UUID, error)
}

// PermissionStore persists fine-grained user permissions.
type PermissionStore interface {
	ListPermissions(ctx context.Context, userID uuid.UUID) ([]models.UserPermission, error)
	GrantPermission(ctx context.Context, perm models.UserPermission) (models.UserPermission, error)
	RevokePermission(ctx context.Context, userID uuid.UUID, permission, resourceType string, resourceID *string) error
}

// PartnerStore persists partner organisations.
type PartnerStore interface {
	CreatePartner(ctx context.Context, partner models.Partner) (models.Partner, error)
	GetPartner(ctx context.Context, id uuid.UUID) (models.Partner, error)
	ListPartners(ctx context.Context) ([]models.Partner, error)
	UpdatePartner(ctx context.Context, partner models.Partner) (models.Partner, error)
	DeletePartner(ctx context.Context, id uuid.UUID) error
	FindPartnerByAPIKeyHash(ctx context.Context, hash string) (models.Partner, error)
}

// ShortcodeStore persists partner shortcodes.
type ShortcodeStore interface {
	CreateShortcode(ctx context.Context, sc models.PartnerShortcode) (models.PartnerShortcode, error)
	GetShortcode(ctx context.Context, id uuid.UUID) (models.PartnerShortcode, error)
	// FindPartnerShortcode returns the shortcode only when it belongs to partnerID.
	FindPartnerShortcode(ctx context.Context, id, partnerID uuid.UUID) (models.PartnerShortcode, error)
	ListShortcodes(ctx context.Context, partnerID *uuid.UUID) ([]models.PartnerShortcode, error)
	UpdateShortcode(ctx context.Context, sc models.PartnerShortcode) (models.PartnerShortcode, error)
	DeleteShortcode(ctx context.Context, id, partnerID uuid.UUID) error
}

// ShortcodeAccessStore persists per-user shortcode grants.
type ShortcodeAccessStore interface {
	// GrantShortcodeAccess returns ErrAlreadyExists when the user already holds
	// an unexpired active grant on the shortcode.
	GrantShortcodeAccess(ctx context.Context, access models.ShortcodeAccess) (models.ShortcodeAccess, error)
	GetShortcodeAccess(ctx context.Context, id uuid.UUID) (models.ShortcodeAccess, error)
	// UpdateShortcodeAccess changes the type and expiry of an active grant.
	UpdateShortcodeAccess(ctx context.Context, id uuid.UUID, accessType string, expiresAt *time.Time) (models.ShortcodeAccess, error)
	// ListShortcodeAccess returns the unexpired active grants of userIDs, newest first.
	ListShortcodeAccess(ctx context.Context, userIDs []uuid.UUID) ([]models.ShortcodeAccess, error)
	// RevokeShortcodeAccess deactivates a grant; ErrNotFound when it is not active.
	RevokeShortcodeAccess(ctx context.Context, id uuid.UUID) error
}

// DisbursementStore persists disbursement requests and their callbacks.
type DisbursementStore interface {
	// CreateDisbursement inserts d unless (partner_id, client_request_id) already
	// exists, in which case the existing row is returned with created=false.
	CreateDisbursement(ctx context.Context, d models.Disbursement) (stored models.Disbursement, created bool, err error)
	GetDisbursement(ctx context.Context, id uuid.UUID) (models.Disbursement, error)
	FindByConversationID(ctx context.Context, conversationID string) (models.Disbursement, error)
	ListDisbursements(ctx context.Context, filter models.DisbursementFilter) ([]models.Disbursement, error)
	MarkAccepted(ctx context.Context, id uuid.UUID, conversationID, originatorConversationID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, resultCode, resultDesc string) error
	// BeginRetry re-queues a failed disbursement, or a queued one last touched
	// before staleBefore, and counts the attempt. force ignores max_retries.
	// ErrNotFound means the row is missing or not eligible.
	BeginRetry(ctx context.Context, id uuid.UUID, force bool, staleBefore time.Time) (models.Disbursement, error)
	ListRetryable(ctx context.Context, staleBefore time.Time, limit int) ([]models.Disbursement, error)
	ApplyResult(ctx context.Context, id uuid.UUID, result models.DisbursementResult) error
	LatestBalanceSnapshot(ctx context.Context, partnerID uuid.UUID) (models.Balances, error)
	RecordCallback(ctx context.Context, cb models.MpesaCallback) error
	Stats(ctx context.Context, partnerID *uuid.UUID, dayStart time.Time) (models.DashboardStats, error)
}

// BalanceStore persists balance monitoring state.
type BalanceStore interface {
	GetMonitoringConfig(ctx context.Context, partnerID uuid.UUID) (models.MonitoringConfig, error)
	UpsertMonitoringConfig(ctx context.Context, cfg models.MonitoringConfig) (models.MonitoringConfig, error)
	ListEnabledConfigs(ctx context.Context, partnerID *uuid.UUID) ([]models.MonitoringConfig, error)
	MarkConfigChecked(ctx context.Context, id uuid.UUID, checkedAt time.Time, alerted bool) error
	RecordBalanceHistory(ctx context.Context, h models.BalanceHistory) error
	ListBalanceHistory(ctx context.Context, partnerID *uuid.UUID, limit int) ([]models.BalanceHistory, error)
	RecentAlertExists(ctx context.Context, partnerID uuid.UUID, accountType, alertType string, since time.Time) (bool, error)
	CreateAlert(ctx context.Context, alert models.BalanceAlert) (models.BalanceAlert, error)
	MarkAlertSlackSent(ctx context.Context, id uuid.UUID) error
	ListAlerts(ctx context.Context, partnerID *uuid.UUID, limit int) ([]models.BalanceAlert, error)
	CreateBalanceRequest(ctx context.Context, req models.BalanceRequest) error
	FindBalanceRequest(ctx context.Context, conversationID, originatorConversationID string) (models.BalanceRequest, error)
	CompleteBalanceRequest(ctx context.Context, id uuid.UUID, status string, balances models.Balances, resultCode, resultDesc string, at time.Time) error
	LatestCompletedBalance(ctx context.Context, partnerID uuid.UUID) (models.BalanceRequest, error)
}

// SettingsStore persists JSON system settings by key.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string, out any) error
	PutSetting(ctx context.Context, key string, value any, updatedBy uuid.UUID) error
}

// Store is the full persistence surface the server is wired with.
type Store interface {
	UserStore
	SessionStore
	PasswordResetStore
	PermissionStore
	PartnerStore
	ShortcodeStore
	ShortcodeAccessStore
	DisbursementStore
	BalanceStore
	SettingsStore
	Close()
}
