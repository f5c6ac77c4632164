package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/balance"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/server"
)

func main() {
	loadLocalEnv()

	root := &cobra.Command{
		Use:           "payvault",
		Short:         "PayVault disbursement admin backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(serveCmd(), migrateCmd(), monitorCmd(), createAdminCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx = logging.WithLogger(ctx, a.logger)

	var scheduler *balance.Scheduler
	if a.cfg.BalanceMonitorInterval > 0 {
		scheduler = balance.NewScheduler(a.monitor)
		scheduler.Start(ctx, a.cfg.BalanceMonitorInterval)
	}

	srv := server.New(a.cfg, a.deps())
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("payvault backend listening", zap.String("addr", a.cfg.HTTPAddress()))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		a.logger.Warn("graceful shutdown error", zap.Error(err))
	}
	if scheduler != nil {
		select {
		case <-scheduler.Done():
		case <-ctxShutdown.Done():
		}
	}
	return nil
}

func loadLocalEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found; relying on existing environment")
	}
}
