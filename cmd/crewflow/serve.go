package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/crewflow/internal/api"
	"github.com/p-blackswan/crewflow/internal/config"
)

func newServeCmd(pipelineFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and run engine",
		Long: `Start the HTTP API. Submitted projects are executed by a pool of
workers; snapshots are persisted to the configured SQLite database.

Configuration is read from CREWFLOW_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stdout)

			a, err := newApp(cfg, *pipelineFile, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize")
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			engine := api.NewEngine(api.EngineConfig{
				Workers:   cfg.Workers,
				QueueSize: cfg.QueueSize,
				CacheSize: cfg.ResultCacheSize,
				CacheTTL:  cfg.ResultCacheTTL,
			}, a.orch, a.projects, logger)
			engine.Start(ctx)

			server := api.NewServer(api.ServerConfig{
				ListenAddr: cfg.ListenAddr,
				Auth: api.AuthConfig{
					Mode:      cfg.AuthMode,
					APIKeys:   cfg.APIKeyList(),
					JWTSecret: cfg.JWTSecret,
					JWTIssuer: cfg.JWTIssuer,
				},
				RateLimit: api.RateLimitConfig{
					RPS:   cfg.RateLimitRPS,
					Burst: cfg.RateLimitBurst,
				},
				CORSOrigins: strings.Join(cfg.CORSOriginList(), ","),
			}, engine, a.checker, a.metrics, a.data, logger)

			var wg sync.WaitGroup
			errCh := make(chan error, 1)

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := server.Start(); err != nil {
					errCh <- err
				}
			}()

			wg.Add(1)
			go func() {
				defer wg.Done()
				a.runRetention(ctx)
				if cfg.RetentionInterval <= 0 {
					return
				}
				ticker := time.NewTicker(cfg.RetentionInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						a.runRetention(ctx)
					}
				}
			}()

			logger.Info().
				Str("environment", cfg.Environment).
				Str("addr", cfg.ListenAddr).
				Str("auth_mode", cfg.AuthMode).
				Int("workers", cfg.Workers).
				Msg("crewflow serving")

			var serveErr error
			select {
			case <-ctx.Done():
				logger.Info().Msg("shutting down gracefully")
			case serveErr = <-errCh:
				logger.Error().Err(serveErr).Msg("api server error")
				cancel()
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("api server shutdown error")
			}
			engine.Stop()

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-shutdownCtx.Done():
				logger.Warn().Msg("forced shutdown after timeout")
			}

			logger.Info().Msg("crewflow stopped")
			return serveErr
		},
	}
}
