// Package storagetest provides an in-memory storage.Store for unit tests.
package storagetest

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
)

var _ storage.Store = (*Memory)(nil)

// Memory keeps every table in maps guarded by one mutex.
type Memory struct {
	mu sync.Mutex

	Users         map[uuid.UUID]models.User
	Sessions      map[uuid.UUID]models.Session
	ResetTokens   map[string]models.PasswordResetToken
	Permissions   []models.UserPermission
	Partners      map[uuid.UUID]models.Partner
	Shortcodes    map[uuid.UUID]models.PartnerShortcode
	Access        map[uuid.UUID]models.ShortcodeAccess
	Disbursements map[uuid.UUID]models.Disbursement
	Callbacks     []models.MpesaCallback
	Configs       map[uuid.UUID]models.MonitoringConfig
	History       []models.BalanceHistory
	Alerts        []models.BalanceAlert
	BalanceReqs   map[uuid.UUID]models.BalanceRequest
	Settings      map[string][]byte

	// Now stamps created/updated times; defaults to time.Now.
	Now func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		Users:         map[uuid.UUID]models.User{},
		Sessions:      map[uuid.UUID]models.Session{},
		ResetTokens:   map[string]models.PasswordResetToken{},
		Partners:      map[uuid.UUID]models.Partner{},
		Shortcodes:    map[uuid.UUID]models.PartnerShortcode{},
		Access:        map[uuid.UUID]models.ShortcodeAccess{},
		Disbursements: map[uuid.UUID]models.Disbursement{},
		Configs:       map[uuid.UUID]models.MonitoringConfig{},
		BalanceReqs:   map[uuid.UUID]models.BalanceRequest{},
		Settings:      map[string][]byte{},
		Now:           time.Now,
	}
}

func (m *Memory) now() time.Time { return m.Now().UTC() }

// Close is a no-op.
func (m *Memory) Close() {}

func (m *Memory) CreateUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUserLocked(u)
}

func (m *Memory) createUserLocked(u models.User) (models.User, error) {
	u.Email = strings.ToLower(u.Email)
	for _, existing := range m.Users {
		if existing.Email == u.Email {
			return models.User{}, storage.ErrAlreadyExists
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt, u.UpdatedAt = m.now(), m.now()
	m.Users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (m *Memory) FindByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.Users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, storage.ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context, f models.UserFilter) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.Users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.PartnerID != nil && (u.PartnerID == nil || *u.PartnerID != *f.PartnerID) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (m *Memory) UpdateUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.Users[u.ID]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	u.Email = strings.ToLower(u.Email)
	for id, other := range m.Users {
		if id != u.ID && other.Email == u.Email {
			return models.User{}, storage.ErrAlreadyExists
		}
	}
	existing.Email, existing.Role, existing.PartnerID, existing.IsActive = u.Email, u.Role, u.PartnerID, u.IsActive
	existing.UpdatedAt = m.now()
	m.Users[u.ID] = existing
	return existing, nil
}

func (m *Memory) UpdatePassword(_ context.Context, id uuid.UUID, hash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = &changedAt
	m.Users[id] = u
	return nil
}

func (m *Memory) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.LastLoginAt = &at
	m.Users[id] = u
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.Users, id)
	for sid, s := range m.Sessions {
		if s.UserID == id {
			delete(m.Sessions, sid)
		}
	}
	return nil
}

func (m *Memory) CountByRole(_ context.Context, roles ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.Users {
		if slices.Contains(roles, u.Role) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateFirstAdmin(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Users {
		if models.IsAdminRole(existing.Role) {
			return models.User{}, storage.ErrAlreadyExists
		}
	}
	return m.createUserLocked(u)
}

func (m *Memory) CreateSession(_ context.Context, s models.Session) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = m.now()
	m.Sessions[s.ID] = s
	return s, nil
}

func (m *Memory) GetSession(_ context.Context, id uuid.UUID) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok {
		return models.Session{}, storage.ErrNotFound
	}
	return s, nil
}

func (m *Memory) DeleteSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, id)
	return nil
}

func (m *Memory) DeleteUserSessions(_ context.Context, userID uuid.UUID, keep *uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.Sessions {
		if s.UserID != userID || (keep != nil && id == *keep) {
			continue
		}
		delete(m.Sessions, id)
		n++
	}
	return n, nil
}

func (m *Memory) CreateResetToken(_ context.Context, t models.PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = m.now()
	m.ResetTokens[t.TokenHash] = t
	return nil
}

func (m *Memory) ConsumeResetToken(_ context.Context, hash string, now time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.ResetTokens[hash]
	if !ok || t.UsedAt != nil || !now.Before(t.ExpiresAt) {
		return uuid.Nil, storage.ErrNotFound
	}
	t.UsedAt = &now
	m.ResetTokens[hash] = t
	return t.UserID, nil
}

func (m *Memory) ListPermissions(_ context.Context, userID uuid.UUID) ([]models.UserPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UserPermission
	for _, p := range m.Permissions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) GrantPermission(_ context.Context, p models.UserPermission) (models.UserPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Permissions {
		if samePermission(existing, p.UserID, p.Permission, p.ResourceType, p.ResourceID) {
			return models.UserPermission{}, storage.ErrAlreadyExists
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = m.now()
	m.Permissions = append(m.Permissions, p)
	return p, nil
}

func (m *Memory) RevokePermission(_ context.Context, userID uuid.UUID, perm, resType string, resID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.Permissions {
		if samePermission(existing, userID, perm, resType, resID) {
			m.Permissions = append(m.Permissions[:i], m.Permissions[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func samePermission(p models.UserPermission, userID uuid.UUID, perm, resType string, resID *string) bool {
	return p.UserID == userID && p.Permission == perm && p.ResourceType == resType && deref(p.ResourceID) == deref(resID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (m *Memory) CreatePartner(_ context.Context, p models.Partner) (models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Partners {
		if existing.ShortCode == p.ShortCode || (p.APIKeyHash != "" && existing.APIKeyHash == p.APIKeyHash) {
			return models.Partner{}, storage.ErrAlreadyExists
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.MpesaEnvironment != models.EnvProduction {
		p.MpesaEnvironment = models.EnvSandbox
	}
	p.CreatedAt, p.UpdatedAt = m.now(), m.now()
	m.Partners[p.ID] = p
	return p, nil
}

func (m *Memory) GetPartner(_ context.Context, id uuid.UUID) (models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Partners[id]
	if !ok {
		return models.Partner{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPartners(_ context.Context) ([]models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Partner, 0, len(m.Partners))
	for _, p := range m.Partners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdatePartner(_ context.Context, p models.Partner) (models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.Partners[p.ID]
	if !ok {
		return models.Partner{}, storage.ErrNotFound
	}
	for id, other := range m.Partners {
		if id != p.ID && other.ShortCode == p.ShortCode {
			return models.Partner{}, storage.ErrAlreadyExists
		}
	}
	if p.MpesaEnvironment != models.EnvProduction {
		p.MpesaEnvironment = models.EnvSandbox
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = m.now()
	m.Partners[p.ID] = p
	return p, nil
}

func (m *Memory) DeletePartner(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Partners[id]; !ok {
		return storage.ErrNotFound
	}
	for _, d := range m.Disbursements {
		if d.PartnerID == id {
			return storage.ErrInUse
		}
	}
	delete(m.Partners, id)
	return nil
}

func (m *Memory) FindPartnerByAPIKeyHash(_ context.Context, hash string) (models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Partners {
		if hash != "" && p.APIKeyHash == hash {
			return p, nil
		}
	}
	return models.Partner{}, storage.ErrNotFound
}

func (m *Memory) CreateShortcode(_ context.Context, sc models.PartnerShortcode) (models.PartnerShortcode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Shortcodes {
		if existing.PartnerID == sc.PartnerID && existing.Shortcode == sc.Shortcode {
			return models.PartnerShortcode{}, storage.ErrAlreadyExists
		}
	}
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	if sc.Environment != models.EnvProduction {
		sc.Environment = models.EnvSandbox
	}
	sc.CreatedAt, sc.UpdatedAt = m.now(), m.now()
	m.Shortcodes[sc.ID] = sc
	return sc, nil
}

func (m *Memory) GetShortcode(_ context.Context, id uuid.UUID) (models.PartnerShortcode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.Shortcodes[id]
	if !ok {
		return models.PartnerShortcode{}, storage.ErrNotFound
	}
	return sc, nil
}

func (m *Memory) FindPartnerShortcode(_ context.Context, id, partnerID uuid.UUID) (models.PartnerShortcode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.Shortcodes[id]
	if !ok || sc.PartnerID != partnerID {
		return models.PartnerShortcode{}, storage.ErrNotFound
	}
	return sc, nil
}

func (m *Memory) ListShortcodes(_ context.Context, partnerID *uuid.UUID) ([]models.PartnerShortcode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PartnerShortcode
	for _, sc := range m.Shortcodes {
		if partnerID == nil || sc.PartnerID == *partnerID {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateShortcode(_ context.Context, sc models.PartnerShortcode) (models.PartnerShortcode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.Shortcodes[sc.ID]
	if !ok || existing.PartnerID != sc.PartnerID {
		return models.PartnerShortcode{}, storage.ErrNotFound
	}
	for id, other := range m.Shortcodes {
		if id != sc.ID && other.PartnerID == sc.PartnerID && other.Shortcode == sc.Shortcode {
			return models.PartnerShortcode{}, storage.ErrAlreadyExists
		}
	}
	if sc.Environment != models.EnvProduction {
		sc.Environment = models.EnvSandbox
	}
	sc.CreatedAt = existing.CreatedAt
	sc.UpdatedAt = m.now()
	m.Shortcodes[sc.ID] = sc
	return sc, nil
}

func (m *Memory) DeleteShortcode(_ context.Context, id, partnerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.Shortcodes[id]
	if !ok || sc.PartnerID != partnerID {
		return storage.ErrNotFound
	}
	delete(m.Shortcodes, id)
	return nil
}

func (m *Memory) GrantShortcodeAccess(_ context.Context, a models.ShortcodeAccess) (models.ShortcodeAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Users[a.UserID]; !ok {
		return models.ShortcodeAccess{}, storage.ErrNotFound
	}
	sc, ok := m.Shortcodes[a.ShortcodeID]
	if !ok {
		return models.ShortcodeAccess{}, storage.ErrNotFound
	}
	now := m.now()
	for id, existing := range m.Access {
		if existing.UserID != a.UserID || existing.ShortcodeID != a.ShortcodeID || !existing.IsActive {
			continue
		}
		if existing.ExpiresAt == nil || existing.ExpiresAt.After(now) {
			return models.ShortcodeAccess{}, storage.ErrAlreadyExists
		}
		existing.IsActive = false
		m.Access[id] = existing
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Shortcode, a.PartnerID = sc.Shortcode, sc.PartnerID
	a.GrantedAt = now
	a.IsActive = true
	m.Access[a.ID] = a
	return a, nil
}

func (m *Memory) GetShortcodeAccess(_ context.Context, id uuid.UUID) (models.ShortcodeAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Access[id]
	if !ok {
		return models.ShortcodeAccess{}, storage.ErrNotFound
	}
	return a, nil
}

func (m *Memory) UpdateShortcodeAccess(_ context.Context, id uuid.UUID, accessType string, expiresAt *time.Time) (models.ShortcodeAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Access[id]
	if !ok || !a.IsActive {
		return models.ShortcodeAccess{}, storage.ErrNotFound
	}
	a.AccessType, a.ExpiresAt = accessType, expiresAt
	m.Access[id] = a
	return a, nil
}

func (m *Memory) ListShortcodeAccess(_ context.Context, userIDs []uuid.UUID) ([]models.ShortcodeAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []models.ShortcodeAccess
	for _, a := range m.Access {
		if !a.IsActive || !slices.Contains(userIDs, a.UserID) || (a.ExpiresAt != nil && !a.ExpiresAt.After(now)) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	return out, nil
}

func (m *Memory) RevokeShortcodeAccess(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Access[id]
	if !ok || !a.IsActive {
		return storage.ErrNotFound
	}
	a.IsActive = false
	m.Access[id] = a
	return nil
}

func (m *Memory) CreateDisbursement(_ context.Context, d models.Disbursement) (models.Disbursement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Disbursements {
		if existing.PartnerID == d.PartnerID && existing.ClientRequestID == d.ClientRequestID {
			return existing, false, nil
		}
	}
	d.ID = uuid.New()
	if d.Status == "" {
		d.Status = models.StatusQueued
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = models.DefaultMaxRetries
	}
	d.CreatedAt, d.UpdatedAt = m.now(), m.now()
	m.Disbursements[d.ID] = d
	return d, true, nil
}

func (m *Memory) GetDisbursement(_ context.Context, id uuid.UUID) (models.Disbursement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Disbursements[id]
	if !ok {
		return models.Disbursement{}, storage.ErrNotFound
	}
	return d, nil
}

func (m *Memory) FindByConversationID(_ context.Context, conversationID string) (models.Disbursement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.Disbursements {
		if conversationID != "" && (d.ConversationID == conversationID || d.OriginatorConversationID == conversationID) {
			return d, nil
		}
	}
	return models.Disbursement{}, storage.ErrNotFound
}

func (m *Memory) ListDisbursements(_ context.Context, f models.DisbursementFilter) ([]models.Disbursement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Disbursement
	for _, d := range m.Disbursements {
		if f.PartnerID != nil && d.PartnerID != *f.PartnerID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.MSISDN != "" && d.MSISDN != f.MSISDN {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (m *Memory) MarkAccepted(_ context.Context, id uuid.UUID, conversationID, originatorConversationID string) error {
	return m.updateDisbursement(id, func(d *models.Disbursement) {
		d.Status = models.StatusAccepted
		d.ConversationID = conversationID
		d.OriginatorConversationID = originatorConversationID
	})
}

func (m *Memory) MarkFailed(_ context.Context, id uuid.UUID, code, desc string) error {
	return m.updateDisbursement(id, func(d *models.Disbursement) {
		d.Status = models.StatusFailed
		d.ResultCode = code
		d.ResultDesc = desc
	})
}

func retryEligible(d models.Disbursement, staleBefore time.Time) bool {
	return d.Status == models.StatusFailed || (d.Status == models.StatusQueued && d.UpdatedAt.Before(staleBefore))
}

func (m *Memory) BeginRetry(_ context.Context, id uuid.UUID, force bool, staleBefore time.Time) (models.Disbursement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Disbursements[id]
	if !ok || !retryEligible(d, staleBefore) || (!force && d.RetryCount >= d.MaxRetries) {
		return models.Disbursement{}, storage.ErrNotFound
	}
	now := m.now()
	d.Status = models.StatusQueued
	d.RetryCount++
	d.LastRetryAt = &now
	d.ResultCode, d.ResultDesc = "", ""
	d.UpdatedAt = now
	m.Disbursements[id] = d
	return d, nil
}

func (m *Memory) ListRetryable(_ context.Context, staleBefore time.Time, limit int) ([]models.Disbursement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Disbursement
	for _, d := range m.Disbursements {
		if retryEligible(d, staleBefore) && d.RetryCount < d.MaxRetries {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (m *Memory) ApplyResult(_ context.Context, id uuid.UUID, r models.DisbursementResult) error {
	now := m.now()
	return m.updateDisbursement(id, func(d *models.Disbursement) {
		d.Status = r.Status
		d.ResultCode = r.ResultCode
		d.ResultDesc = r.ResultDesc
		if r.TransactionReceipt != "" {
			d.TransactionReceipt = r.TransactionReceipt
		}
		if r.CustomerName != "" {
			d.CustomerName = r.CustomerName
		}
		if r.Balances.Working.Valid {
			d.Balances.Working = r.Balances.Working
		}
		if r.Balances.Utility.Valid {
			d.Balances.Utility = r.Balances.Utility
		}
		if r.Balances.Charges.Valid {
			d.Balances.Charges = r.Balances.Charges
		}
		if r.Balances.Known() {
			d.BalanceUpdatedAt = &now
		}
	})
}

func (m *Memory) updateDisbursement(id uuid.UUID, fn func(*models.Disbursement)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Disbursements[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&d)
	d.UpdatedAt = m.now()
	m.Disbursements[id] = d
	return nil
}

func (m *Memory) LatestBalanceSnapshot(_ context.Context, partnerID uuid.UUID) (models.Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Disbursement
	for _, d := range m.Disbursements {
		d := d
		if d.PartnerID != partnerID || d.BalanceUpdatedAt == nil {
			continue
		}
		if latest == nil || d.BalanceUpdatedAt.After(*latest.BalanceUpdatedAt) {
			latest = &d
		}
	}
	if latest == nil {
		return models.Balances{}, storage.ErrNotFound
	}
	return latest.Balances, nil
}

func (m *Memory) RecordCallback(_ context.Context, cb models.MpesaCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb.ID == uuid.Nil {
		cb.ID = uuid.New()
	}
	cb.CreatedAt = m.now()
	m.Callbacks = append(m.Callbacks, cb)
	return nil
}

func (m *Memory) Stats(_ context.Context, partnerID *uuid.UUID, dayStart time.Time) (models.DashboardStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := models.DashboardStats{TotalAmount: decimal.Zero, TodayAmount: decimal.Zero}
	for _, d := range m.Disbursements {
		if partnerID != nil && d.PartnerID != *partnerID {
			continue
		}
		st.TotalTransactions++
		switch d.Status {
		case models.StatusSuccess:
			st.SuccessfulTransactions++
			st.TotalAmount = st.TotalAmount.Add(d.Amount)
		case models.StatusFailed:
			st.FailedTransactions++
		default:
			st.PendingTransactions++
		}
		if !d.CreatedAt.Before(dayStart) {
			st.TodayTransactions++
			if d.Status == models.StatusSuccess {
				st.TodayAmount = st.TodayAmount.Add(d.Amount)
			}
		}
	}
	if partnerID == nil {
		for _, p := range m.Partners {
			if p.IsActive {
				st.ActivePartners++
			}
		}
	}
	st.SuccessRate = models.SuccessRate(st.SuccessfulTransactions, st.TotalTransactions)
	return st, nil
}

func (m *Memory) GetMonitoringConfig(_ context.Context, partnerID uuid.UUID) (models.MonitoringConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Configs {
		if c.PartnerID == partnerID {
			return c, nil
		}
	}
	return models.MonitoringConfig{}, storage.ErrNotFound
}

func (m *Memory) UpsertMonitoringConfig(_ context.Context, cfg models.MonitoringConfig) (models.MonitoringConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.Configs {
		if c.PartnerID == cfg.PartnerID {
			cfg.ID = id
			cfg.CreatedAt = c.CreatedAt
			cfg.LastCheckedAt = c.LastCheckedAt
			cfg.LastAlertSentAt = c.LastAlertSentAt
			cfg.UpdatedAt = m.now()
			m.Configs[id] = cfg
			return cfg, nil
		}
	}
	cfg.ID = uuid.New()
	cfg.CreatedAt, cfg.UpdatedAt = m.now(), m.now()
	m.Configs[cfg.ID] = cfg
	return cfg, nil
}

func (m *Memory) ListEnabledConfigs(_ context.Context, partnerID *uuid.UUID) ([]models.MonitoringConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MonitoringConfig
	for _, c := range m.Configs {
		if c.IsEnabled && (partnerID == nil || c.PartnerID == *partnerID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkConfigChecked(_ context.Context, id uuid.UUID, checkedAt time.Time, alerted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Configs[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.LastCheckedAt = &checkedAt
	if alerted {
		c.LastAlertSentAt = &checkedAt
	}
	m.Configs[id] = c
	return nil
}

func (m *Memory) RecordBalanceHistory(_ context.Context, h models.BalanceHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.RecordedAt.IsZero() {
		h.RecordedAt = m.now()
	}
	m.History = append(m.History, h)
	return nil
}

func (m *Memory) ListBalanceHistory(_ context.Context, partnerID *uuid.UUID, limit int) ([]models.BalanceHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BalanceHistory
	for i := len(m.History) - 1; i >= 0; i-- {
		h := m.History[i]
		if partnerID == nil || h.PartnerID == *partnerID {
			out = append(out, h)
		}
	}
	return page(out, limit, 0), nil
}

func (m *Memory) RecentAlertExists(_ context.Context, partnerID uuid.UUID, accountType, alertType string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Alerts {
		if a.PartnerID == partnerID && a.AccountType == accountType && a.AlertType == alertType && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateAlert(_ context.Context, a models.BalanceAlert) (models.BalanceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	m.Alerts = append(m.Alerts, a)
	return a, nil
}

func (m *Memory) MarkAlertSlackSent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Alerts {
		if m.Alerts[i].ID == id {
			m.Alerts[i].SlackSent = true
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *Memory) ListAlerts(_ context.Context, partnerID *uuid.UUID, limit int) ([]models.BalanceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BalanceAlert
	for i := len(m.Alerts) - 1; i >= 0; i-- {
		a := m.Alerts[i]
		if partnerID == nil || a.PartnerID == *partnerID {
			out = append(out, a)
		}
	}
	return page(out, limit, 0), nil
}

func (m *Memory) CreateBalanceRequest(_ context.Context, req models.BalanceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = models.BalanceRequestPending
	}
	req.CreatedAt, req.UpdatedAt = m.now(), m.now()
	m.BalanceReqs[req.ID] = req
	return nil
}

func (m *Memory) FindBalanceRequest(_ context.Context, conversationID, originatorConversationID string) (models.BalanceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.BalanceReqs {
		if (conversationID != "" && r.ConversationID == conversationID) ||
			(originatorConversationID != "" && r.OriginatorConversationID == originatorConversationID) {
			return r, nil
		}
	}
	return models.BalanceRequest{}, storage.ErrNotFound
}

func (m *Memory) CompleteBalanceRequest(_ context.Context, id uuid.UUID, status string, b models.Balances, code, desc string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.BalanceReqs[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status, r.Balances, r.ResultCode, r.ResultDesc = status, b, code, desc
	r.CallbackReceivedAt = &at
	r.UpdatedAt = at
	m.BalanceReqs[id] = r
	return nil
}

func (m *Memory) LatestCompletedBalance(_ context.Context, partnerID uuid.UUID) (models.BalanceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.BalanceRequest
	for _, r := range m.BalanceReqs {
		r := r
		if r.PartnerID != partnerID || r.Status != models.BalanceRequestCompleted || r.CallbackReceivedAt == nil {
			continue
		}
		if latest == nil || r.CallbackReceivedAt.After(*latest.CallbackReceivedAt) {
			latest = &r
		}
	}
	if latest == nil {
		return models.BalanceRequest{}, storage.ErrNotFound
	}
	return *latest, nil
}

func (m *Memory) GetSetting(_ context.Context, key string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.Settings[key]
	if !ok {
		return storage.ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (m *Memory) PutSetting(_ context.Context, key string, value any, _ uuid.UUID) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Settings[key] = raw
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
