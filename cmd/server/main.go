package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/streamshare/internal"
	"github.com/DukeRupert/streamshare/internal/allocation"
	"github.com/DukeRupert/streamshare/internal/catalog"
	"github.com/DukeRupert/streamshare/internal/credential"
	"github.com/DukeRupert/streamshare/internal/email"
	"github.com/DukeRupert/streamshare/internal/handler"
	"github.com/DukeRupert/streamshare/internal/jobs"
	"github.com/DukeRupert/streamshare/internal/metrics"
	"github.com/DukeRupert/streamshare/internal/middleware"
	"github.com/DukeRupert/streamshare/internal/pool"
	"github.com/DukeRupert/streamshare/internal/repository"
	"github.com/DukeRupert/streamshare/internal/service"
	"github.com/DukeRupert/streamshare/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// backend is the storage side of the app for one STORE mode.
type backend struct {
	db        *sql.DB // nil in memory mode
	catalog   catalog.Store
	registry  pool.Registry
	subs      service.SubscriptionStore
	queue     *worker.Worker // nil when jobs run inline
	enqueuer  worker.Enqueuer
	register  func(worker.JobHandler)
	closeFunc func()
}

func openPostgres(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*backend, error) {
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	version, err := internal.RunMigrations(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready", "schema_version", version)

	queries := repository.New(db)
	b := &backend{
		db:        db,
		catalog:   catalog.NewPostgresStore(queries),
		registry:  pool.NewPostgresRegistry(db, queries, logger),
		subs:      service.NewPostgresSubscriptionStore(queries),
		enqueuer:  worker.NewQueueEnqueuer(queries),
		closeFunc: func() { db.Close() },
	}

	if cfg.WorkerEnabled {
		wcfg := worker.DefaultConfig()
		wcfg.Concurrency = cfg.WorkerConcurrency
		wcfg.PollInterval = cfg.WorkerPollInterval
		wcfg.JobTimeout = cfg.WorkerJobTimeout
		w, err := worker.New(db, queries, wcfg, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("worker initialization failed: %w", err)
		}
		b.queue = w
		b.register = w.Register
	} else {
		b.register = func(worker.JobHandler) {}
	}
	return b, nil
}

func openMemory(cfg *internal.Config, logger *slog.Logger) (*backend, error) {
	store := catalog.NewMemoryStore()
	if cfg.CatalogFile != "" {
		if err := store.LoadFile(cfg.CatalogFile); err != nil {
			return nil, fmt.Errorf("catalog seed failed: %w", err)
		}
	}
	logger.Warn("Using in-memory store; state is lost on restart")

	inline := worker.NewInlineEnqueuer(logger)
	return &backend{
		catalog:   store,
		registry:  pool.NewMemoryRegistry(),
		subs:      service.NewMemorySubscriptionStore(),
		enqueuer:  inline,
		register:  inline.Register,
		closeFunc: func() {},
	}, nil
}

func newNotifier(cfg *internal.Config, logger *slog.Logger) (email.Notifier, error) {
	smtpCfg := email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		To:       cfg.StaffAlertEmails,
	}
	if !smtpCfg.Enabled() {
		logger.Info("SMTP not configured, staff alerts go to the log")
		return email.NewLogNotifier(logger), nil
	}
	n, err := email.NewSMTPNotifier(smtpCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("email notifier: %w", err)
	}
	return n, nil
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	sealer, err := credential.NewSealer(cfg.CredentialKey)
	if err != nil {
		return fmt.Errorf("credential key: %w", err)
	}

	var b *backend
	if cfg.Store == internal.StoreMemory {
		b, err = openMemory(cfg, logger)
	} else {
		b, err = openPostgres(ctx, cfg, logger)
	}
	if err != nil {
		return err
	}
	defer b.closeFunc()

	// Initialize services
	engine := allocation.NewEngine(b.catalog, b.registry, logger)
	subs := service.NewSubscriptionService(
		b.subs,
		b.registry,
		engine,
		catalog.NewResolver(b.catalog, logger),
		service.SubscriptionConfig{ReserveRetries: cfg.ReserveRetries},
		logger,
	)
	accounts := service.NewAccountService(b.registry, b.catalog, sealer, logger)

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	// Background jobs
	b.register(jobs.NewExpireSubscriptionHandler(subs, logger))
	b.register(jobs.NewRenewSubscriptionHandler(subs, notifier, logger))

	var sweeper *jobs.Sweeper
	if cfg.SweepEnabled {
		sweeper, err = jobs.NewSweeper(subs, b.enqueuer, jobs.SweeperConfig{
			Schedule:  cfg.SweepSchedule,
			BatchSize: cfg.SweepBatchSize,
		}, logger)
		if err != nil {
			return err
		}
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	var pinger handler.Pinger
	if b.db != nil {
		pinger = b.db
	}
	mux.HandleFunc("GET /health", handler.Health(pinger))

	metricsAuth := middleware.NewBasicAuthMiddleware("metrics", cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(cfg.CreateRateLimit, cfg.CreateRateWindow)
	defer limiter.Close()
	rateLimit := middleware.NewRateLimitMiddleware(limiter, logger)
	staffAuth := middleware.NewStaffAuthMiddleware(cfg.StaffAPIToken, logger)

	subscriptionHandler := handler.NewSubscriptionHandler(subs, logger)
	subscriptionHandler.RegisterRoutes(mux)
	handler.NewAccountHandler(accounts, subs, logger).RegisterRoutes(mux, staffAuth.RequireStaff)
	handler.NewPlatformHandler(b.catalog, accounts, logger).RegisterRoutes(mux)

	// Checkout creates are the one public write path; limit them per client.
	root := http.NewServeMux()
	root.Handle("POST /api/subscriptions", rateLimit.Limit(http.HandlerFunc(subscriptionHandler.Create)))
	root.Handle("/", mux)

	security := middleware.NewSecurityHeadersMiddleware(cfg.Env != "development")
	requestLog := middleware.NewRequestLoggingMiddleware(logger)
	app := middleware.Stack(requestLog.Handler, metrics.Middleware, security.Handler)(root)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if b.queue != nil {
		b.queue.Start(ctx)
	}
	if sweeper != nil {
		sweeper.Start()
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}
	if b.queue != nil {
		b.queue.Stop()
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
