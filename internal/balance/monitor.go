// Package balance checks partner M-Pesa balances against alert thresholds.
package balance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/cache"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
)

const (
	lockKey = "balance-monitor:lock"

	StatusChecked = "checked"
	StatusSkipped = "skipped"
	StatusError   = "error"

	SourceMonitor  = "balance_monitor"
	SourceCallback = "balance_callback"
)

// ErrRunInProgress is returned when another monitoring pass holds the lock.
var ErrRunInProgress = errors.New("balance monitoring is already running")

var accounts = []string{models.AccountWorking, models.AccountUtility, models.AccountCharges}

// Store is the persistence the monitor needs.
type Store interface {
	storage.BalanceStore
	GetPartner(ctx context.Context, id uuid.UUID) (models.Partner, error)
	LatestBalanceSnapshot(ctx context.Context, partnerID uuid.UUID) (models.Balances, error)
	RecordCallback(ctx context.Context, cb models.MpesaCallback) error
}

// Fetcher returns the current balances of a partner.
type Fetcher interface {
	Fetch(ctx context.Context, partner models.Partner) (models.Balances, error)
}

// Notifier posts an alert to a Slack webhook.
type Notifier interface {
	Post(ctx context.Context, webhookURL, channel, text string) error
}

// Options tunes a Monitor. Zero values pick 5m lock and 1h dedup window.
type Options struct {
	LockTTL     time.Duration
	DedupWindow time.Duration
}

// Monitor runs balance checks.
type Monitor struct {
	store   Store
	fetcher Fetcher
	slack   Notifier
	lock    cache.Cache
	lockTTL time.Duration
	dedup   time.Duration
	now     func() time.Time
	running sync.Mutex
}

func NewMonitor(store Store, fetcher Fetcher, slack Notifier, lock cache.Cache, opts Options) *Monitor {
	if lock == nil {
		lock = cache.Noop{}
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = time.Hour
	}
	return &Monitor{
		store:   store,
		fetcher: fetcher,
		slack:   slack,
		lock:    lock,
		lockTTL: opts.LockTTL,
		dedup:   opts.DedupWindow,
		now:     time.Now,
	}
}

// RunOptions selects what a pass checks.
type RunOptions struct {
	PartnerID *uuid.UUID
	Force     bool
}

// PartnerResult is the outcome for one monitored partner.
type PartnerResult struct {
	PartnerID   uuid.UUID             `json:"partner_id"`
	PartnerName string                `json:"partner_name,omitempty"`
	Status      string                `json:"status"`
	Reason      string                `json:"reason,omitempty"`
	Balances    *models.Balances      `json:"balance_data,omitempty"`
	AlertsSent  int                   `json:"alerts_sent"`
	Alerts      []models.BalanceAlert `json:"alerts,omitempty"`
}

// Report summarises a monitoring pass.
type Report struct {
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Results   []PartnerResult `json:"results"`
}

// Run performs one monitoring pass across enabled configs.
func (m *Monitor) Run(ctx context.Context, opts RunOptions) (Report, error) {
	if !m.running.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer m.running.Unlock()

	ok, err := m.lock.SetNX(ctx, lockKey, []byte(m.now().UTC().Format(time.RFC3339)), m.lockTTL)
	if err != nil {
		return Report{}, fmt.Errorf("acquire monitor lock: %w", err)
	}
	if !ok {
		return Report{}, ErrRunInProgress
	}
	defer func() {
		if err := m.lock.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
			logging.FromContext(ctx).Warn("release monitor lock", zap.Error(err))
		}
	}()

	configs, err := m.store.ListEnabledConfigs(ctx, opts.PartnerID)
	if err != nil {
		return Report{}, fmt.Errorf("list monitoring configs: %w", err)
	}
	report := Report{Timestamp: m.now().UTC(), Results: []PartnerResult{}}
	if len(configs) == 0 {
		report.Message = "No monitoring configurations found"
		return report, nil
	}

	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Results = append(report.Results, m.check(ctx, cfg, opts.Force))
	}
	report.Message = "Balance monitoring completed"
	return report, nil
}

func (m *Monitor) check(ctx context.Context, cfg models.MonitoringConfig, force bool) PartnerResult {
	log := logging.FromContext(ctx).With(zap.String("partner_id", cfg.PartnerID.String()))
	res := PartnerResult{PartnerID: cfg.PartnerID}
	now := m.now().UTC()

	if !force && !cfg.Due(now) {
		res.Status, res.Reason = StatusSkipped, "Not time to check yet"
		return res
	}

	partner, err := m.store.GetPartner(ctx, cfg.PartnerID)
	if err != nil || !partner.IsMpesaConfigured {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Error("load partner", zap.Error(err))
		}
		res.Status, res.Reason = StatusError, "Partner not found or M-Pesa not configured"
		return res
	}
	res.PartnerName = partner.Name

	balances, err := m.fetcher.Fetch(ctx, partner)
	if err != nil {
		log.Warn("fetch balance", zap.Error(err))
		res.Status, res.Reason = StatusError, err.Error()
		return res
	}
	if balances.Known() {
		err := m.store.RecordBalanceHistory(ctx, models.BalanceHistory{
			PartnerID:  partner.ID,
			Balances:   balances,
			Source:     SourceMonitor,
			RecordedAt: now,
		})
		if err != nil {
			log.Warn("record balance history", zap.Error(err))
		}
	}

	for _, account := range accounts {
		alert, err := m.evaluate(ctx, cfg, partner, balances, account, now)
		if err != nil {
			log.Error("evaluate threshold", zap.String("account", account), zap.Error(err))
			continue
		}
		if alert != nil {
			res.Alerts = append(res.Alerts, *alert)
		}
	}

	if err := m.store.MarkConfigChecked(ctx, cfg.ID, now, len(res.Alerts) > 0); err != nil {
		log.Warn("mark config checked", zap.Error(err))
	}

	res.Status = StatusChecked
	res.Balances = &balances
	res.AlertsSent = len(res.Alerts)
	log.Info("balance checked", zap.Int("alerts", res.AlertsSent))
	return res
}

// evaluate creates an alert when account is below its threshold and no
// equivalent alert exists inside the dedup window.
func (m *Monitor) evaluate(ctx context.Context, cfg models.MonitoringConfig, partner models.Partner, balances models.Balances, account string, now time.Time) (*models.BalanceAlert, error) {
	current := balances.Account(account)
	threshold := cfg.Threshold(account)
	if !current.Valid || !current.Decimal.LessThan(threshold) {
		return nil, nil
	}

	recent, err := m.store.RecentAlertExists(ctx, partner.ID, account, models.AlertLowBalance, now.Add(-m.dedup))
	if err != nil || recent {
		return nil, err
	}

	alert, err := m.store.CreateAlert(ctx, models.BalanceAlert{
		PartnerID:        partner.ID,
		AlertType:        models.AlertLowBalance,
		AccountType:      account,
		CurrentBalance:   current.Decimal,
		ThresholdBalance: threshold,
		AlertMessage:     alertMessage(partner, account, current.Decimal.StringFixed(2), threshold.StringFixed(2), now),
		CreatedAt:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	if cfg.SlackWebhookURL != "" && m.slack != nil {
		if err := m.slack.Post(ctx, cfg.SlackWebhookURL, cfg.SlackChannel, alert.AlertMessage); err != nil {
			logging.FromContext(ctx).Warn("slack alert failed", zap.String("partner_id", partner.ID.String()), zap.Error(err))
		} else if err := m.store.MarkAlertSlackSent(ctx, alert.ID); err == nil {
			alert.SlackSent = true
		}
	}
	return &alert, nil
}

func alertMessage(p models.Partner, account, current, threshold string, at time.Time) string {
	label := strings.ToUpper(account[:1]) + account[1:]
	return fmt.Sprintf(":rotating_light: Low %s Balance Alert for %s\nCurrent %s Balance: KES %s\nThreshold: KES %s\nShort Code: %s\nTime: %s",
		label, p.Name, label, current, threshold, p.MpesaShortcode, at.Format(time.RFC3339))
}
