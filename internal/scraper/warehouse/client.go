// Package warehouse implements the staged-bills scraper family: instead of
// driving a portal, it queries a warehouse of normalized bills ingested by an
// upstream pipeline.
package warehouse

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gridsight/utility-bill-worker/internal/config"
	"github.com/gridsight/utility-bill-worker/internal/db"
)

// NewDatabase connects to the staged-bills warehouse. Returns nil when
// MONGO_URL is not configured; warehouse scrapers then fail their runs with
// DataSourceUnavailable instead of blocking portal-only deployments.
func NewDatabase(lc fx.Lifecycle, logger *zap.Logger, cfg config.WarehouseConfig) (*mongo.Database, error) {
	if cfg.URL == "" {
		logger.Info("staged-bills warehouse not configured, warehouse scrapers disabled")
		return nil, nil
	}

	logger.Info("attempting to connect to staged-bills warehouse...",
		zap.String("url", db.MaskPassword(cfg.URL)),
		zap.String("database", cfg.Database),
	)

	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("[WAREHOUSE CONNECTION FAILED] cannot connect to staged-bills warehouse. Please check: 1) MongoDB is running, 2) MONGO_URL is correct. Error: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx, nil); err != nil {
				logger.Error("warehouse ping failed", zap.Error(err))
				return fmt.Errorf("failed to reach staged-bills warehouse: %w", err)
			}
			logger.Info("warehouse connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := client.Disconnect(ctx); err != nil {
				logger.Error("failed to close warehouse connection", zap.Error(err))
				return err
			}
			logger.Info("warehouse connection closed")
			return nil
		},
	})

	return client.Database(cfg.Database), nil
}
