package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/evwarranty/warranty-backend/api/controllers"
	"github.com/evwarranty/warranty-backend/api/routes"
	"github.com/evwarranty/warranty-backend/internal/caselines"
	"github.com/evwarranty/warranty-backend/internal/components"
	"github.com/evwarranty/warranty-backend/internal/reservations"
	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/internal/transfers"
	"github.com/evwarranty/warranty-backend/internal/workflow"
	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/db"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/metrics"
	"github.com/evwarranty/warranty-backend/pkg/migrate"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
	"github.com/evwarranty/warranty-backend/pkg/redis"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, db.Options{
		UseSQLite:   cfg.FeatureFlags.UseSQLite,
		LockTimeout: cfg.Workflow.LockTimeout,
	}, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	deps, err := wire(cfg, logg, dbClient, metrics.NewWorkflowMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}
	deps.Idempotency = redis.NewIdempotency(redisClient)
	deps.Readiness = map[string]controllers.Pinger{
		"postgres": dbClient,
		"redis":    redisClient,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shut down gracefully")
	}
}

// wire builds the workflow services on top of one retrying transaction runner.
func wire(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, workflowMetrics *metrics.WorkflowMetrics) (routes.Deps, error) {
	conn := dbClient.DB()
	tx, err := db.NewRetryingRunner(dbClient, db.RetryPolicy{
		MaxRetries: cfg.Workflow.MaxLockRetries,
		BaseDelay:  cfg.Workflow.RetryBaseDelay,
	}, workflowMetrics)
	if err != nil {
		return routes.Deps{}, err
	}

	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	ledger := stock.NewLedger(conn)
	registry := components.NewRegistry(conn)
	lineRepo := caselines.NewRepository(conn)

	transitions, err := caselines.NewTransitioner(lineRepo, emitter, workflowMetrics)
	if err != nil {
		return routes.Deps{}, err
	}

	manager, err := reservations.NewManager(reservations.ManagerParams{
		Repo:        reservations.NewRepository(conn),
		Ledger:      ledger,
		Registry:    registry,
		Lines:       lineRepo,
		Transitions: transitions,
		Selector:    reservations.LocalFirstSelector{AllowCompanyFallback: cfg.Workflow.AllowCompanyFallback},
		Outbox:      emitter,
		Tx:          tx,
		Metrics:     workflowMetrics,
		Logger:      logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	lines, err := caselines.NewService(caselines.ServiceParams{
		Repo:        lineRepo,
		Tx:          tx,
		Transitions: transitions,
		Allocator:   manager,
		Outbox:      emitter,
		Metrics:     workflowMetrics,
		Logger:      logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	transferSvc, err := transfers.NewService(transfers.ServiceParams{
		Repo:    transfers.NewRepository(conn),
		Ledger:  ledger,
		Tx:      tx,
		Outbox:  emitter,
		Metrics: workflowMetrics,
		Logger:  logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	stockSvc, err := stock.NewService(ledger, tx, logg)
	if err != nil {
		return routes.Deps{}, err
	}
	componentSvc, err := components.NewService(registry, ledger, tx, logg)
	if err != nil {
		return routes.Deps{}, err
	}

	orch, err := workflow.New(workflow.Params{
		Lines:                   lines,
		Transfers:               transferSvc,
		AutoTransferOnShortfall: cfg.Workflow.AutoTransferOnShortfall,
		Logger:                  logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		Lines:        lines,
		Reservations: manager,
		Transfers:    transferSvc,
		Stock:        stockSvc,
		Components:   componentSvc,
		Orchestrator: orch,
	}, nil
}
