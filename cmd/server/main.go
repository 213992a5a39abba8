/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the restaurant loyalty server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Configure structured logging
  3. Open the SQLite store and seed the reward catalog
  4. Build ledger, service and API handler
  5. Start the HTTP server and the session expiry scheduler

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (shutdown_timeout)
  3. Stop the expiry scheduler
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/loyalty.db"

  # Run with in-memory database and a config file
  ./server -config=./loyalty.yaml -db=":memory:"

ENVIRONMENT:
  LOYALTY_PORT, LOYALTY_DB_PATH, LOYALTY_LOG_LEVEL, LOYALTY_CODE_TTL
  (see config/config.go)

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration precedence
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/config"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/observability"
	"github.com/warp/loyalty-engine/rewards"
	"github.com/warp/loyalty-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "loyalty server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observability.SetupLogger(observability.LogConfig{
		Service: "loyalty-engine",
		Env:     cfg.Env,
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
	})
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.Open(cfg.Database.Path, sqlite.Options{BusyTimeout: cfg.Database.BusyTimeout})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seedCatalog(ctx, store, cfg.CatalogFile, logger); err != nil {
		return err
	}

	tiers, err := cfg.TierPolicy()
	if err != nil {
		return err
	}
	earn, err := cfg.EarnPolicy()
	if err != nil {
		return err
	}

	ledger := loyalty.NewPointsLedger(store, loyalty.LedgerOptions{
		Tiers:         tiers,
		CodePrefix:    cfg.Ledger.CodePrefix,
		AtomicTimeout: cfg.Ledger.AtomicTimeout,
	})
	service, err := loyalty.NewService(ledger, nil, loyalty.ServiceOptions{
		CodeTTL:          cfg.Ledger.CodeTTL,
		SessionRetention: cfg.Ledger.SessionRetention,
	})
	if err != nil {
		return err
	}

	metrics := observability.Ledger()
	handler := api.NewHandler(api.Deps{
		Store:   store,
		Service: service,
		Earn:    earn,
		Metrics: metrics,
		Logger:  logger,
	})
	router := api.NewRouter(handler, api.RouterOptions{CORSOrigins: cfg.Server.CORSOrigins})

	scheduler := api.NewExpiryScheduler(service, metrics, logger)
	scheduler.CheckInterval = cfg.Ledger.SweepInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("db", cfg.Database.Path),
			slog.Duration("code_ttl", cfg.Ledger.CodeTTL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// seedCatalog upserts the configured catalog file, or the default catalog
// when the store has no rewards yet.
func seedCatalog(ctx context.Context, store loyalty.Store, path string, logger *slog.Logger) error {
	var catalog []loyalty.Reward
	switch {
	case path != "":
		loaded, err := factory.NewCatalogFactory().LoadFile(path)
		if err != nil {
			return err
		}
		catalog = loaded
	default:
		existing, err := store.ListRewards(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		catalog = rewards.DefaultCatalog()
	}

	for _, r := range catalog {
		if err := store.PutReward(ctx, r); err != nil {
			return fmt.Errorf("seed reward %s: %w", r.ID, err)
		}
	}
	logger.Info("reward catalog seeded", slog.Int("rewards", len(catalog)), slog.String("source", catalogSource(path)))
	return nil
}

func catalogSource(path string) string {
	if path == "" {
		return "default"
	}
	return path
}
