package migrate

import (
	"context"
	"fmt"

	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/db"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

// MaybeRunDev executes migrations automatically when the app is running in dev mode and
// the feature flag is enabled. The sqlite dev database is built from the models
// because the SQL files use Postgres enum types.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "sqlite": cfg.FeatureFlags.UseSQLite})

	if cfg.FeatureFlags.UseSQLite {
		logg.Info(ctx, "auto-migrating sqlite schema from models")
		if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("auto-migrating models: %w", err)
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	fsys, err := Source("")
	if err != nil {
		return err
	}
	runner, err := NewRunner(sqlDB, fsys, logg)
	if err != nil {
		return err
	}

	logg.Info(ctx, "applying embedded migrations (dev auto-run)")
	return runner.Up(ctx)
}
