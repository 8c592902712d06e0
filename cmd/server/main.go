/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the policy engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags, then MAG_* environment, then defaults)
  2. Initialize SQLite store (migrations seed the rule configuration)
  3. Verify the rules configuration loads
  4. Build services and the API handler
  5. Start the rules scheduler (when an interval is set)
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: policies.db)
                   Use ":memory:" for in-memory database
  -log-level       debug, info, warn, error (default: info)
  -log-format      json or text (default: json)
  -rules-interval  Period of the rules re-application, e.g. 1h (default: off)
  -cors-origins    Allowed CORS origins, comma separated (default: *)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the rules scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/policies.db"
  MAG_LOG_LEVEL=debug ./server -db=":memory:" -log-format=text
  ./server -rules-interval=1h

SEE ALSO:
  - config/config.go: Flags and environment
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mag/policy-engine/api"
	"github.com/mag/policy-engine/collections"
	"github.com/mag/policy-engine/config"
	"github.com/mag/policy-engine/dashboard"
	"github.com/mag/policy-engine/engine"
	"github.com/mag/policy-engine/metrics"
	"github.com/mag/policy-engine/portfolio"
	"github.com/mag/policy-engine/reconciliation"
	"github.com/mag/policy-engine/settings"
	"github.com/mag/policy-engine/store/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stdout)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Fail fast on a broken configuration table
	if _, err := engine.NewFromSource(context.Background(), store); err != nil {
		return fmt.Errorf("rules configuration: %w", err)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Services
	pf := portfolio.New(store, portfolio.WithLogger(logger), portfolio.WithMetrics(m))
	handler := api.NewHandler(api.Services{
		Portfolio:      pf,
		Dashboard:      dashboard.New(pf, store, dashboard.WithLogger(logger), dashboard.WithMetrics(m)),
		Collections:    collections.New(pf, collections.WithLogger(logger), collections.WithMetrics(m)),
		Reconciliation: reconciliation.New(pf, store, reconciliation.WithLogger(logger), reconciliation.WithMetrics(m)),
		Settings:       settings.New(store, settings.WithLogger(logger)),
	}, logger)

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		Metrics:        reg,
		Health:         store.Ping,
	})

	scheduler := api.NewRulesScheduler(pf, cfg.RulesInterval, logger)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
