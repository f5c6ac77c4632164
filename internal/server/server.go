package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/balance"
	"github.com/hongminglow/payvault-be/internal/cache"
	"github.com/hongminglow/payvault-be/internal/config"
	"github.com/hongminglow/payvault-be/internal/disbursement"
	"github.com/hongminglow/payvault-be/internal/http/handlers"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/notify"
	"github.com/hongminglow/payvault-be/internal/storage"
	"github.com/hongminglow/payvault-be/internal/vault"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Store   storage.Store
	DB      handlers.Pinger
	Cache   cache.Cache
	Vault   *vault.Vault
	Service *disbursement.Service
	Monitor *balance.Monitor
	Mailer  notify.Mailer
	Mifos   handlers.ConnectionTester
	Logger  *zap.Logger
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, deps Deps) *Server {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           Routes(cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Disbursement submits wait on the upstream call.
		WriteTimeout: cfg.DisburseTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{inner: httpServer}
}

// Routes builds the router used by New.
func Routes(cfg config.Config, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.L()
	}
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL)
	users := cache.NewUserCache(deps.Cache)
	gates := middleware.NewAuthenticator(tokens, deps.Store, users)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID(logger))
	r.Use(middleware.Logging)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	handlers.NewHealthHandler(time.Now(), deps.DB).Register(r)
	handlers.NewAuthHandler(deps.Store, tokens, users, deps.Mailer, handlers.AuthOptions{
		AppURL:       cfg.AppURL,
		CookieSecure: cfg.CookieSecure,
	}).Register(r, gates)
	handlers.NewUserHandler(deps.Store, users).Register(r, gates)
	handlers.NewPartnerHandler(deps.Store, deps.Vault).Register(r, gates)
	handlers.NewShortcodeHandler(deps.Store, deps.Vault).Register(r, gates)
	handlers.NewShortcodeAccessHandler(deps.Store).Register(r, gates)
	handlers.NewDisbursementHandler(deps.Service).Register(r, gates)
	handlers.NewCallbackHandler(deps.Service, deps.Monitor).Register(r)
	handlers.NewBalanceHandler(deps.Monitor, deps.Store, cfg.CronSecret).Register(r, gates)
	handlers.NewIntegrationHandler(deps.Store, deps.Vault, deps.Mifos).Register(r, gates)
	handlers.NewDashboardHandler(deps.Store).Register(r, gates)

	return r
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
