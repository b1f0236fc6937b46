package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/db"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/migrate"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
	"github.com/evwarranty/warranty-backend/pkg/outbox/registry"
	"github.com/evwarranty/warranty-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	drain := flag.Bool("drain", false, "publish every pending event once and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	if err := run(logg, *drain); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(context.Background(), "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(bootLogger *logger.Logger, drain bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, db.Options{UseSQLite: cfg.FeatureFlags.UseSQLite}, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(bootLogger, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(bootCtx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer closeWith(bootLogger, "pubsub client", pubsubClient.Close)

	routes, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("build event routes: %w", err)
	}

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      routes,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
	})
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if drain {
		batches, err := service.Drain(ctx)
		logg.Info(logg.WithField(ctx, "batches", batches), "outbox drained")
		return err
	}

	logg.Info(ctx, "starting outbox publisher")
	err = service.Run(ctx)
	logg.Info(ctx, "outbox publisher shutting down")
	return err
}

func closeWith(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}
