//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"capsule-server/services/capsule-api/internal/config"
	"capsule-server/services/capsule-api/internal/domain/artifact"
	"capsule-server/services/capsule-api/internal/domain/bundle"
	capsuledomain "capsule-server/services/capsule-api/internal/domain/capsule"
	"capsule-server/services/capsule-api/internal/domain/quota"
	"capsule-server/services/capsule-api/internal/domain/safety"
	"capsule-server/services/capsule-api/internal/infrastructure/auth"
	"capsule-server/services/capsule-api/internal/infrastructure/database"
	"capsule-server/services/capsule-api/internal/infrastructure/logger"
	accountrepo "capsule-server/services/capsule-api/internal/infrastructure/repository/account"
	artifactrepo "capsule-server/services/capsule-api/internal/infrastructure/repository/artifact"
	capsulerepo "capsule-server/services/capsule-api/internal/infrastructure/repository/capsule"
	"capsule-server/services/capsule-api/internal/infrastructure/storage"
	"capsule-server/services/capsule-api/internal/interfaces/httpserver"
)

var pipelineSet = wire.NewSet(
	capsulerepo.NewRepository,
	wire.Bind(new(capsuledomain.Repository), new(*capsulerepo.Repository)),
	wire.Bind(new(bundle.RefCounter), new(*capsulerepo.Repository)),
	accountrepo.NewRepository,
	wire.Bind(new(quota.AccountRepository), new(*accountrepo.Repository)),
	artifactrepo.NewRepository,
	wire.Bind(new(artifact.Repository), new(*artifactrepo.Repository)),
	provideStorage,
	provideLedger,
	provideClassifier,
	provideCompiler,
	provideCapsuleService,
)

// BuildApplication assembles the capsule API with Wire.
func BuildApplication(ctx context.Context) (*Application, error) {
	wire.Build(
		config.Load,
		logger.New,
		auth.NewValidator,
		newDatabaseConfig,
		newGormDB,
		pipelineSet,
		provideHTTPServer,
		NewApplication,
	)
	return nil, nil
}

func newDatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		DSN:             cfg.GetDatabaseWriteDSN(),
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	}
}

func newGormDB(ctx context.Context, cfg database.Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(ctx, db, log); err != nil {
		return nil, err
	}
	return db, nil
}

// provideStorage selects the blob backend from configuration.
func provideStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Backend, error) {
	if cfg.IsLocalStorage() {
		return storage.NewLocalStorage(cfg, log)
	}
	return storage.NewS3Storage(ctx, cfg, log)
}

func provideLedger(repo quota.AccountRepository, cfg *config.Config, log zerolog.Logger) *quota.Ledger {
	return quota.NewLedger(repo, cfg.QuotaRetryLimit, log)
}

func provideClassifier(cfg *config.Config, log zerolog.Logger) *safety.Classifier {
	var scorer safety.Scorer
	if cfg.ScorerURL != "" {
		scorer = safety.NewHTTPScorer(cfg.ScorerURL)
	}
	return safety.NewClassifier(safety.DefaultRuleset(), cfg.BlockedHashes, nil, scorer, log)
}

func provideCompiler(cfg *config.Config, backend storage.Backend, log zerolog.Logger) *artifact.Compiler {
	return artifact.NewCompiler(artifact.RuntimeOptions{
		RuntimeVersion:   cfg.RuntimeVersion,
		BridgeURL:        cfg.BridgeURL,
		GuardURL:         cfg.GuardURL,
		RuntimeScriptURL: cfg.RuntimeScriptURL,
	}, backend, log)
}

func provideCapsuleService(
	repo capsuledomain.Repository,
	artifacts artifact.Repository,
	backend storage.Backend,
	refs bundle.RefCounter,
	ledger *quota.Ledger,
	classifier *safety.Classifier,
	compiler *artifact.Compiler,
	cfg *config.Config,
	log zerolog.Logger,
) *capsuledomain.Service {
	store := bundle.NewStore(backend, refs, log)
	return capsuledomain.NewService(
		repo, artifacts, store, ledger, classifier, compiler, nil,
		capsuledomain.ServiceOptions{
			MaxBundleFiles:    cfg.MaxBundleFiles,
			ClassifierTimeout: cfg.ClassifierTimeout,
			CompileTimeout:    cfg.CompileTimeout,
			Runtime: artifact.RuntimeOptions{
				RuntimeVersion:   cfg.RuntimeVersion,
				BridgeURL:        cfg.BridgeURL,
				GuardURL:         cfg.GuardURL,
				RuntimeScriptURL: cfg.RuntimeScriptURL,
			},
		},
		log,
	)
}

func provideHTTPServer(cfg *config.Config, log zerolog.Logger, service *capsuledomain.Service, validator *auth.Validator) *httpserver.HttpServer {
	return httpserver.New(cfg, log, service, validator, nil)
}
