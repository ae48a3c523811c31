// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/cybernet/cybernet/internal/auth"
	authpg "github.com/cybernet/cybernet/internal/auth/postgres"
	authredis "github.com/cybernet/cybernet/internal/auth/redis"
	"github.com/cybernet/cybernet/internal/config"
	"github.com/cybernet/cybernet/internal/logging"
	"github.com/cybernet/cybernet/internal/mail"
	"github.com/cybernet/cybernet/internal/observability"
	"github.com/cybernet/cybernet/internal/store"
	"github.com/cybernet/cybernet/internal/web"
)

// shutdownTimeout bounds graceful shutdown of the HTTP servers.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the CyberNet web server",
		Long: `Start the web server serving registration, login, password
reset pages and the authenticated JSON API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, autoMigrate)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "run pending database migrations before serving")

	return cmd
}

// mailDisabled satisfies auth.ResetNotifier when SMTP is not configured.
// Reset requests still mint tokens; delivery fails loudly instead of
// silently dropping mail.
type mailDisabled struct{}

func (mailDisabled) SendPasswordReset(_ context.Context, _, _ string) error {
	// Uncoded: the reset service wraps this as NOTIFY_FAILED and Code()
	// reports the deepest code in a chain.
	return oops.Errorf("mail delivery is not configured")
}

func runServe(cmd *cobra.Command, autoMigrate bool) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	logging.SetDefault("cybernet", version, cfg.LogFormat)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if autoMigrate {
		if err := runAutoMigrate(cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() {
		if closeErr := rdb.Close(); closeErr != nil {
			logger.Debug("closing redis client", "error", closeErr)
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.RedisAddr).Wrap(err)
	}

	users := authpg.NewUserRepository(pool)
	resets := authpg.NewPasswordResetRepository(pool)
	tx := authpg.NewTransactor(pool)
	sessions := authredis.NewSessionStore(rdb)
	hasher := auth.NewArgon2idHasher()

	authSvc, err := auth.NewServiceWithLogger(users, sessions, hasher, logger)
	if err != nil {
		return err
	}
	authSvc.SetSessionTTL(cfg.SessionTTL)

	var notifier auth.ResetNotifier
	if cfg.MailConfigured() {
		mailer, mailErr := mail.NewSMTPMailer(mail.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, logger)
		if mailErr != nil {
			return mailErr
		}
		notifier = mailer
	} else {
		logger.Warn("SMTP not configured, password reset mail disabled")
		notifier = mailDisabled{}
	}

	resetSvc, err := auth.NewPasswordResetService(users, resets, hasher, notifier, tx, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Observability server first so readiness reflects the dependencies the
	// web server is about to use.
	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func(ctx context.Context) bool {
			return pool.Ping(ctx) == nil && rdb.Ping(ctx).Err() == nil
		})
		obsErrCh, startErr := obsServer.Start()
		if startErr != nil {
			return startErr
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	}

	webServer, err := web.NewServer(cfg.HTTPAddr, cfg.BaseURL, authSvc, resetSvc, metrics, logger)
	if err != nil {
		return err
	}
	webErrCh, err := webServer.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, webErrCh, "web")

	logger.Info("cybernet ready", "addr", webServer.Addr(), "base_url", cfg.BaseURL)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if stopErr := webServer.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("stopping web server", "error", stopErr)
	}
	if obsServer != nil {
		if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
			logger.Warn("stopping observability server", "error", stopErr)
		}
	}

	return nil
}

func runAutoMigrate(databaseURL string, logger *slog.Logger) error {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Debug("closing migrator", "error", closeErr)
		}
	}()

	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}
	logger.Info("migrations applied")
	return nil
}

// monitorServerErrors cancels the run context when a server's error channel
// yields, so one failing listener takes the process down cleanly.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
