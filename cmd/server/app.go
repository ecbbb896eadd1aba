package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stride-app/stride-api/internal/api"
	"github.com/stride-app/stride-api/internal/config"
	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/events"
	"github.com/stride-app/stride-api/internal/jobs"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/platform/postgres"
	"github.com/stride-app/stride-api/internal/service/credit"
	"github.com/stride-app/stride-api/internal/service/task"
)

// application holds the wired components for startup and shutdown.
type application struct {
	config     *config.Config
	logger     *slog.Logger
	db         *sql.DB
	pool       *jobs.Pool
	dispatcher *jobs.Dispatcher
	server     *http.Server

	// Services are wired here even though the product API is served by a
	// separate process; this binary owns all state transitions.
	credits credit.CreditService
	tasks   task.TaskService
}

// newApplication loads configuration and wires every component.
func newApplication() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := setupDatabase(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	jobStore := postgres.NewPostgresJobStore(db)
	ledgerStore := postgres.NewPostgresLedgerStore(db)
	templateStore := postgres.NewPostgresTemplateStore(db)
	subscriptionStore := postgres.NewPostgresSubscriptionStore(db)

	emitter := events.NewInMemoryEventEmitter(log)

	registry := jobs.NewRegistry()
	registry.Register(domain.JobTypeReminderFire,
		jobs.NewReminderHandler(templateStore, emitter))
	registry.Register(domain.JobTypeStreakCalculate,
		jobs.NewStreakHandler(templateStore, emitter, cfg.Credit.StreakWindow))
	registry.Register(domain.JobTypeCreditExpire,
		jobs.NewCreditExpireHandler(ledgerStore, emitter))
	registry.Register(domain.JobTypeSubscriptionCheck,
		jobs.NewSubscriptionCheckHandler(subscriptionStore, emitter, cfg.Credit.GracePeriod))
	registry.Register(domain.JobTypeRecurringGenerate,
		jobs.NewRecurringGenerateHandler(templateStore, cfg.Credit.MaxCatchUp))

	pool := jobs.NewPool(jobStore, registry, jobs.PoolConfig{
		WorkerCount:   cfg.Worker.Count,
		PollInterval:  cfg.Worker.PollInterval,
		LeaseDuration: cfg.Worker.LeaseDuration,
	}, log)

	dispatcher := jobs.NewDispatcher(jobStore, templateStore, subscriptionStore, jobs.DispatcherConfig{
		ReminderBatchSize: cfg.Scheduler.ReminderBatchSize,
		CatchUpBatchSize:  cfg.Scheduler.CatchUpBatchSize,
		ActiveWindow:      cfg.Scheduler.ActiveWindow,
	}, log)

	ops := api.NewOpsHandler(db, jobStore, log)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           ops.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &application{
		config:     cfg,
		logger:     log,
		db:         db,
		pool:       pool,
		dispatcher: dispatcher,
		server:     server,
		credits:    credit.NewCreditService(ledgerStore, subscriptionStore),
		tasks:      task.NewTaskService(templateStore, jobStore),
	}, nil
}

// Run starts the worker pool, the dispatcher and the HTTP server, then
// blocks until a shutdown signal arrives.
func (app *application) Run() error {
	app.pool.Start()
	if err := app.dispatcher.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting http server", "port", app.config.Server.Port)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdownCh:
		app.logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		app.logger.Error("http server failed", "error", err)
		app.shutdown()
		return err
	}

	app.shutdown()
	return nil
}

// shutdown stops components in dependency order: no new ticks, no new
// claims, drain HTTP, then close the database.
func (app *application) shutdown() {
	app.dispatcher.Stop()
	app.pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("http server shutdown failed", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", "error", err)
	}

	app.logger.Info("shutdown complete")
}
