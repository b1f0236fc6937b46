package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/evwarranty/warranty-backend/internal/cron"
	"github.com/evwarranty/warranty-backend/internal/reservations"
	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/db"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/metrics"
	"github.com/evwarranty/warranty-backend/pkg/migrate"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
	"github.com/evwarranty/warranty-backend/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run a single maintenance cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, db.Options{UseSQLite: cfg.FeatureFlags.UseSQLite}, logg)
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

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	workflowMetrics := metrics.NewWorkflowMetrics(prometheus.DefaultRegisterer)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("workflow-maintenance:"+cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	jobs, err := buildJobs(cfg, logg, dbClient, workflowMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		logg.Error(context.Background(), "invalid cron schedule", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if *once {
		logg.Info(ctx, "running single cron cycle")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, workflowMetrics *metrics.WorkflowMetrics) ([]cron.Job, error) {
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.Retention,
		BatchSize:  cfg.Outbox.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	audit, err := cron.NewStockAuditJob(cron.StockAuditJobParams{
		Logger:  logg,
		Auditor: stock.NewLedger(dbClient.DB()),
		Metrics: workflowMetrics,
	})
	if err != nil {
		return nil, err
	}

	stale, err := cron.NewStaleReservationsJob(cron.StaleReservationsJobParams{
		Logger:       logg,
		Reservations: reservations.NewRepository(dbClient.DB()),
		Metrics:      workflowMetrics,
		Age:          cfg.Workflow.StaleReservationAge,
	})
	if err != nil {
		return nil, err
	}

	deadLetters, err := cron.NewDeadLetterReportJob(cron.DeadLetterReportJobParams{
		Logger:  logg,
		DLQ:     outbox.NewDLQRepository(dbClient.DB()),
		Metrics: workflowMetrics,
		Window:  cfg.Cron.DeadLetterWindow,
	})
	if err != nil {
		return nil, err
	}

	return []cron.Job{retention, audit, stale, deadLetters}, nil
}
