package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/todo-assistant/internal/api"
	"github.com/aixgo-dev/todo-assistant/internal/observability"
	"github.com/aixgo-dev/todo-assistant/internal/retention"
	metrics "github.com/aixgo-dev/todo-assistant/pkg/observability"
	"github.com/aixgo-dev/todo-assistant/pkg/security"
)

const (
	limiterSweepInterval = 10 * time.Minute
	limiterIdleAfter     = 30 * time.Minute
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

func runServe(parent context.Context, root *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := root.load(os.Getenv)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required to serve (JWT_SECRET)")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting todo-assistant", "version", Version, "addr", cfg.Server.Addr)

	if err := observability.Init(ctx, cfg.Tracing, logger); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(sctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()
	metrics.InitMetrics()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing stores", "error", err)
		}
	}()

	auth, err := security.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	var limiter *security.RateLimiter
	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
		limiter = security.NewRateLimiter(rl.RequestsPerSecond, rl.Burst, rl.GlobalPerSecond)
		go sweepLimiter(ctx, limiter)
	}

	if cfg.Retention.Enabled {
		sweeper := retention.NewSweeper(a.sessions, cfg.Retention.MaxIdle, logger)
		if err := sweeper.Start(cfg.Retention.Schedule); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			sweeper.Stop(sctx)
		}()
	}

	srv, err := api.NewServer(api.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}, api.Options{
		Service: a.svc,
		Auth:    auth,
		Audit:   security.NewSlogAuditLogger(logger),
		Limiter: limiter,
		Health:  a.health,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("todo-assistant stopped")
	return nil
}

// sweepLimiter drops per-user buckets that have been idle for a while.
func sweepLimiter(ctx context.Context, rl *security.RateLimiter) {
	t := time.NewTicker(limiterSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.Sweep(limiterIdleAfter)
		}
	}
}
