package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/balance"
	"github.com/hongminglow/payvault-be/internal/cache"
	"github.com/hongminglow/payvault-be/internal/config"
	"github.com/hongminglow/payvault-be/internal/disbursement"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/mifos"
	"github.com/hongminglow/payvault-be/internal/mpesa"
	"github.com/hongminglow/payvault-be/internal/notify"
	"github.com/hongminglow/payvault-be/internal/server"
	postgres "github.com/hongminglow/payvault-be/internal/storage/postgres"
	"github.com/hongminglow/payvault-be/internal/vault"
)

const upstreamTimeout = 30 * time.Second

// app holds the process-wide collaborators shared by every command.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *postgres.Store
	cache   cache.Cache
	redis   *cache.RedisCache
	vault   *vault.Vault
	mailer  notify.Mailer
	service *disbursement.Service
	monitor *balance.Monitor
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	v, err := vault.New(cfg.VaultPassphrase)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init vault: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: store, cache: cache.Noop{}, vault: v}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache", zap.Error(err))
		} else {
			a.redis = rc
			a.cache = rc
		}
	}

	a.mailer = selectMailer(cfg)
	mpesaClient := mpesa.NewClient(upstreamTimeout)
	a.service = disbursement.NewService(store, selectDispatcher(cfg, mpesaClient, v, store), cfg.DisburseTimeout)

	fetcher := balance.NewMpesaFetcher(store, mpesaClient, v,
		cfg.CallbackURL("api/mpesa-callback/balance-result"),
		cfg.CallbackURL("api/mpesa-callback/timeout"))
	a.monitor = balance.NewMonitor(store, fetcher, notify.NewSlackNotifier(10*time.Second), a.cache, balance.Options{
		LockTTL:     cfg.BalanceMonitorLockTTL,
		DedupWindow: cfg.BalanceAlertDedupWindow,
	})
	return a, nil
}

func (a *app) deps() server.Deps {
	return server.Deps{
		Store:   a.store,
		DB:      a.store,
		Cache:   a.cache,
		Vault:   a.vault,
		Service: a.service,
		Monitor: a.monitor,
		Mailer:  a.mailer,
		Mifos:   mifos.NewClient(upstreamTimeout),
		Logger:  a.logger,
	}
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.store.Close()
	_ = a.logger.Sync()
}

// selectMailer prefers Resend, then SMTP, then logging the message.
func selectMailer(cfg config.Config) notify.Mailer {
	switch {
	case cfg.ResendAPIKey != "":
		return notify.NewResendMailer(cfg.ResendAPIKey, cfg.ResendFromEmail)
	case cfg.SMTP.Enabled():
		return notify.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.Sender)
	default:
		return notify.LogMailer{}
	}
}

// selectDispatcher forwards to the hosted disburse function when one is
// configured and calls Daraja directly otherwise.
func selectDispatcher(cfg config.Config, client *mpesa.Client, v *vault.Vault, partners disbursement.PartnerGetter) disbursement.Dispatcher {
	if cfg.DisburseFunctionURL != "" {
		return disbursement.NewRemoteDispatcher(cfg.DisburseFunctionURL, cfg.DisburseFunctionKey, cfg.DisburseTimeout)
	}
	return disbursement.NewMpesaDispatcher(client, v, partners,
		cfg.CallbackURL("api/mpesa-callback/result"),
		cfg.CallbackURL("api/mpesa-callback/timeout"))
}
