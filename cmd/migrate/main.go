package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/db"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/migrate"
)

const serviceName = "migrate"

func main() {
	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate")
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	_ = godotenv.Load()

	// offline commands work on files and need no config
	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(orDefault(*dir), *name)
		if err != nil {
			exitf("create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(orDefault(*dir)); err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if cfg.FeatureFlags.UseSQLite {
		exitf("goose migrations target postgres; unset WARRANTY_USE_SQLITE")
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	dbClient, err := db.New(ctx, cfg.DB, db.Options{}, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "failed to get sql handle", err)
		os.Exit(1)
	}
	fsys, err := migrate.Source(*dir)
	if err != nil {
		logg.Error(ctx, "failed to open migrations", err)
		os.Exit(1)
	}
	runner, err := migrate.NewRunner(sqlDB, fsys, logg)
	if err != nil {
		logg.Error(ctx, "failed to create migration runner", err)
		os.Exit(1)
	}

	switch *cmd {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "status":
		err = runner.Status(ctx)
	case "version":
		if *version == "" {
			exitf("missing -version for version command")
		}
		err = runner.ToVersion(ctx, *version)
	default:
		exitf("unknown -cmd value: %s", *cmd)
	}
	if err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration command finished")
}

func orDefault(dir string) string {
	if dir == "" {
		return migrate.DefaultDir
	}
	return dir
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
