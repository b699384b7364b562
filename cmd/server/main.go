/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the medops clinic operations server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment / .env via config.Load)
  2. Initialize SQLite store
  3. Wire domain services (scheduler, ledger, processor, queue)
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION (environment variables):
  PORT          HTTP server port (default: 8080)
  DB_PATH       SQLite database path (default: ./data/clinic.db)
                Use ":memory:" for an in-memory database
  CURRENCY      Ledger currency code (default: USD)
  LOG_LEVEL     zerolog level (default: info)
  CORS_ORIGINS  Comma-separated allowed origins
  ENV           development | production

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  medops serve

  # Run with in-memory database
  DB_PATH=":memory:" medops serve

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ungardev/medops/api"
	"github.com/ungardev/medops/billing"
	"github.com/ungardev/medops/config"
	"github.com/ungardev/medops/flow"
	"github.com/ungardev/medops/store/sqlite"
)

func main() {
	root := &cobra.Command{
		Use:   "medops",
		Short: "Clinic operations core: ledger, patient flow, audit trail",
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	handler := &api.Handler{
		Scheduler: flow.NewScheduler(store.Flow(), flow.DefaultAmountPolicy(), cfg.Currency, log),
		Queue:     flow.NewQueue(store.Flow(), log),
		Ledger:    billing.NewLedger(store.Billing(), log),
		Items:     billing.NewItems(store.Billing(), log),
		Processor: billing.NewProcessor(store.Billing(), log),
		Trail:     store.Audit(),
		Log:       log,
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-quit:
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = zerolog.New(os.Stderr)
	if cfg.IsDev() {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return out.Level(level).With().Timestamp().Logger()
}
