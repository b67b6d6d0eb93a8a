package main

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gridsight/utility-bill-worker/internal/artifact"
	"github.com/gridsight/utility-bill-worker/internal/browser"
	"github.com/gridsight/utility-bill-worker/internal/config"
	"github.com/gridsight/utility-bill-worker/internal/db"
	"github.com/gridsight/utility-bill-worker/internal/mq"
	"github.com/gridsight/utility-bill-worker/internal/orchestrator"
	"github.com/gridsight/utility-bill-worker/internal/reconcile"
	"github.com/gridsight/utility-bill-worker/internal/repository"
	"github.com/gridsight/utility-bill-worker/internal/scraper"
	"github.com/gridsight/utility-bill-worker/internal/scraper/warehouse"
	"github.com/gridsight/utility-bill-worker/internal/secrets"
	"github.com/gridsight/utility-bill-worker/internal/validate"
)

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideCredentialProvider creates the AES credential provider
func ProvideCredentialProvider(cfg *config.Config) (secrets.Provider, error) {
	return secrets.NewAESProvider(cfg.Secrets.AESKey)
}

// ProvideRegistry builds the scraper registry. All scraper families are
// registered here, once, at process start; a duplicate key panics.
func ProvideRegistry() *scraper.Registry {
	registry := scraper.NewRegistry()
	registry.MustRegister("warehouse", warehouse.New)
	return registry
}

// ProvideWarehouseDatabase connects to the staged-bills warehouse when
// MONGO_URL is configured
func ProvideWarehouseDatabase(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mongo.Database, error) {
	return warehouse.NewDatabase(lc, logger, cfg.Warehouse)
}

// ProvideBrowserFactory creates the WebDriver session factory; nil when no
// endpoint is configured
func ProvideBrowserFactory(cfg *config.Config, logger *zap.Logger) orchestrator.BrowserFactory {
	if cfg.Browser.Endpoint == "" {
		return nil
	}
	factory := browser.NewFactory(cfg.Browser.Endpoint, logger)
	return orchestrator.BrowserFactoryFunc(func(downloadDir string) (scraper.BrowserSession, error) {
		return factory.New(downloadDir)
	})
}

// ProvideArtifactStore creates the S3 artifact store, or a no-op store when
// no bucket is configured
func ProvideArtifactStore(cfg *config.Config, logger *zap.Logger) (artifact.Store, error) {
	if cfg.Artifacts.Bucket == "" {
		return artifact.NewNopStore(logger), nil
	}
	return artifact.NewS3Store(context.Background(), cfg.Artifacts, logger)
}

// ProvideSummaryPublisher creates the optional run-summary publisher
func ProvideSummaryPublisher(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (orchestrator.SummaryPublisher, error) {
	if cfg.RabbitMQ.URL == "" {
		return nil, nil
	}

	conn, err := mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.SummaryExchange, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideReconciler creates a new reconciler instance
func ProvideReconciler(logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.NewReconciler(0, logger)
}

// ProvideValidator creates a new validator instance
func ProvideValidator() *validate.Validator {
	return validate.NewValidator()
}

// ProvideOrchestrator wires the run orchestrator
func ProvideOrchestrator(
	cfg *config.Config,
	repo *repository.Repository,
	creds secrets.Provider,
	registry *scraper.Registry,
	browsers orchestrator.BrowserFactory,
	store artifact.Store,
	reconciler *reconcile.Reconciler,
	validator *validate.Validator,
	warehouseDB *mongo.Database,
	publisher orchestrator.SummaryPublisher,
	logger *zap.Logger,
) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Params{
		Config:      cfg,
		Repo:        repo,
		Credentials: creds,
		Registry:    registry,
		Browsers:    browsers,
		Store:       store,
		Reconciler:  reconciler,
		Validator:   validator,
		Warehouse:   warehouseDB,
		Publisher:   publisher,
		Logger:      logger,
	})
}
