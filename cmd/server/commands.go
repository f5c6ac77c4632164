package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/balance"
	"github.com/hongminglow/payvault-be/internal/config"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
	postgres "github.com/hongminglow/payvault-be/internal/storage/postgres"
	"github.com/hongminglow/payvault-be/internal/validation"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and import legacy balance configs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer store.Close()

			n, err := store.ImportLegacyBalanceConfigs(ctx)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", zap.Int64("legacy_configs_imported", n))
			return nil
		},
	}
}

func monitorCmd() *cobra.Command {
	var (
		partner string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run one balance monitoring pass and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := balance.RunOptions{Force: force}
			if partner != "" {
				id, err := uuid.Parse(partner)
				if err != nil {
					return fmt.Errorf("invalid --partner: %w", err)
				}
				opts.PartnerID = &id
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := logging.WithLogger(cmd.Context(), a.logger)
			report, err := a.monitor.Run(ctx, opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&partner, "partner", "", "only check this partner id")
	cmd.Flags().BoolVar(&force, "force", false, "ignore per-partner check intervals")
	return cmd
}

func createAdminCmd() *cobra.Command {
	var (
		email    string
		password string
		super    bool
	)
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := cmd.Context()
			store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer store.Close()

			u, err := createAdmin(ctx, store, email, password, super)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", u.Role, u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cmd.Flags().BoolVar(&super, "super", false, "grant super_admin instead of admin")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func createAdmin(ctx context.Context, store storage.UserStore, email, password string, super bool) (models.User, error) {
	email = strings.TrimSpace(email)
	if err := validation.Validator().Var(email, "required,email"); err != nil {
		return models.User{}, fmt.Errorf("invalid email %q", email)
	}
	if err := auth.ValidatePasswordStrength(password); err != nil {
		return models.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	role := models.RoleAdmin
	if super {
		role = models.RoleSuperAdmin
	}
	u, err := store.CreateUser(ctx, models.User{Email: email, PasswordHash: hash, Role: role, IsActive: true})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return models.User{}, fmt.Errorf("user %s already exists", email)
	}
	return u, err
}
