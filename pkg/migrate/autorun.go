package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// MaybeRunDev migrates on startup in dev when STOREFRONT_AUTO_MIGRATE is set.
// Postgres gets the embedded goose files, mysql and sqlite get AutoMigrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": driver})

	if driver == config.DriverMySQL || driver == config.DriverSQLite {
		logg.Info(ctx, "running gorm auto-migrate (dev auto-run)")
		if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := client.SQL()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	migrator, err := New(sqlDB, nil)
	if err != nil {
		return err
	}
	results, err := migrator.Up(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", len(results)), "goose migrations completed")
	return nil
}
