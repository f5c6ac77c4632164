package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port            string
	DatabaseURL     string
	JWTSecret       string
	JWTIssuer       string
	SessionTTL      time.Duration
	CORSOrigins     []string
	CookieSecure    bool
	LogLevel        string
	VaultPassphrase string
	RedisURL        string

	DisburseFunctionURL string
	DisburseFunctionKey string
	DisburseTimeout     time.Duration
	MpesaCallbackBase   string

	ResendAPIKey    string
	ResendFromEmail string
	SMTP            SMTPConfig
	AppURL          string

	CronSecret              string
	BalanceMonitorInterval  time.Duration
	BalanceMonitorLockTTL   time.Duration
	BalanceAlertDedupWindow time.Duration
}

// SMTPConfig configures the gomail fallback mailer.
type SMTPConfig struct {
	Host   string
	Port   int
	User   string
	Pass   string
	Sender string
}

// Enabled reports whether enough SMTP settings exist to send mail.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.User != ""
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	cfg := Config{
		Port:            fallback(os.Getenv("PORT"), "8080"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:       strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:       fallback(os.Getenv("JWT_ISSUER"), "payvault-backend"),
		SessionTTL:      hours("SESSION_TTL_HOURS", 8),
		CORSOrigins:     parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "*")),
		CookieSecure:    boolean("COOKIE_SECURE", false),
		LogLevel:        fallback(os.Getenv("LOG_LEVEL"), "info"),
		VaultPassphrase: strings.TrimSpace(os.Getenv("VAULT_PASSPHRASE")),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),

		DisburseFunctionURL: strings.TrimSpace(os.Getenv("DISBURSE_FUNCTION_URL")),
		DisburseFunctionKey: fallback(os.Getenv("DISBURSE_FUNCTION_KEY"), os.Getenv("SUPABASE_SERVICE_ROLE_KEY")),
		DisburseTimeout:     seconds("DISBURSE_TIMEOUT_SECONDS", 30),
		MpesaCallbackBase:   strings.TrimRight(fallback(os.Getenv("MPESA_CALLBACK_BASE_URL"), os.Getenv("NEXT_PUBLIC_APP_URL")), "/"),

		ResendAPIKey:    strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		ResendFromEmail: fallback(os.Getenv("RESEND_FROM_EMAIL"), "noreply@payvault.local"),
		SMTP: SMTPConfig{
			Host:   strings.TrimSpace(os.Getenv("SMTP_HOST")),
			Port:   integer("SMTP_PORT", 465),
			User:   strings.TrimSpace(os.Getenv("SMTP_USER")),
			Pass:   os.Getenv("SMTP_PASS"),
			Sender: strings.TrimSpace(os.Getenv("SMTP_SENDER")),
		},
		AppURL: strings.TrimRight(fallback(os.Getenv("APP_URL"), fallback(os.Getenv("NEXT_PUBLIC_APP_URL"), "http://localhost:3000")), "/"),

		CronSecret:              strings.TrimSpace(os.Getenv("CRON_SECRET")),
		BalanceMonitorInterval:  time.Duration(integer("BALANCE_MONITOR_INTERVAL_MINUTES", 0)) * time.Minute,
		BalanceMonitorLockTTL:   5 * time.Minute,
		BalanceAlertDedupWindow: time.Hour,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	if cfg.VaultPassphrase == "" {
		return Config{}, errors.New("VAULT_PASSPHRASE is required")
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// CallbackURL joins the public callback base with path, or returns "" when
// no base is configured.
func (c Config) CallbackURL(path string) string {
	if c.MpesaCallbackBase == "" {
		return ""
	}
	return c.MpesaCallbackBase + "/" + strings.TrimLeft(path, "/")
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return strings.TrimSpace(def)
	}
	return strings.TrimSpace(value)
}

func integer(key string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n >= 0 {
		return n
	}
	return def
}

func hours(key string, def int) time.Duration {
	n := integer(key, def)
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Hour
}

func seconds(key string, def int) time.Duration {
	n := integer(key, def)
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

func boolean(key string, def bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return b
	}
	return def
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
