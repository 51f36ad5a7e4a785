package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erpcore/authgate"
	"github.com/erpcore/authgate/identity"
	"github.com/erpcore/authgate/internal/config"
	"github.com/erpcore/authgate/internal/logger"
	"github.com/erpcore/authgate/password"
	"github.com/erpcore/authgate/store/postgres"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the identities schema to the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			store, err := postgres.Open(cfg.DatabaseURL, postgres.DefaultPoolConfig())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			if err := waitFor(ctx, log, "postgres", store.Ping); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			log.Info("schema applied")
			return nil
		},
	}
}

// newCreateAdminCmd registers an account and promotes it to admin. The
// password is read from the first line of stdin so it never lands in shell
// history.
func newCreateAdminCmd(configPath *string) *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account (password on stdin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			store, err := postgres.Open(cfg.DatabaseURL, postgres.DefaultPoolConfig())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			if err := waitFor(ctx, log, "postgres", store.Ping); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}

			// One-shot command: no Redis-backed features.
			engCfg := cfg.Engine()
			engCfg.Revocation.Enabled = false
			engCfg.RateLimit.Enabled = false

			engine, err := authgate.New().
				WithConfig(engCfg).
				WithIdentityStore(store).
				WithLogger(log).
				Build()
			if err != nil {
				return err
			}
			defer engine.Close()

			user, err := engine.Register(ctx, authgate.RegisterRequest{Email: email, Name: name, Password: pw})
			if err != nil {
				return err
			}
			if err := engine.SetRole(ctx, user.ID, identity.RoleAdmin); err != nil {
				return err
			}
			log.Info("admin created", zap.String("user_id", user.ID))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email address")
	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt hash of a password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			h, err := password.NewHasher(password.Config{Cost: cost})
			if err != nil {
				return err
			}
			encoded, err := h.Hash(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 12, "bcrypt cost")
	return cmd
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password must be supplied on stdin")
	}
	return line, nil
}
