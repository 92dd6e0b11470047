package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"capsule-server/services/capsule-api/internal/config"
	"capsule-server/services/capsule-api/internal/domain/artifact"
	"capsule-server/services/capsule-api/internal/domain/bundle"
	capsuledomain "capsule-server/services/capsule-api/internal/domain/capsule"
	"capsule-server/services/capsule-api/internal/domain/quota"
	"capsule-server/services/capsule-api/internal/domain/safety"
	"capsule-server/services/capsule-api/internal/infrastructure/auth"
	"capsule-server/services/capsule-api/internal/infrastructure/cache"
	"capsule-server/services/capsule-api/internal/infrastructure/database"
	"capsule-server/services/capsule-api/internal/infrastructure/logger"
	"capsule-server/services/capsule-api/internal/infrastructure/observability"
	accountrepo "capsule-server/services/capsule-api/internal/infrastructure/repository/account"
	artifactrepo "capsule-server/services/capsule-api/internal/infrastructure/repository/artifact"
	capsulerepo "capsule-server/services/capsule-api/internal/infrastructure/repository/capsule"
	"capsule-server/services/capsule-api/internal/infrastructure/storage"
	"capsule-server/services/capsule-api/internal/interfaces/httpserver"
	"capsule-server/services/capsule-api/internal/interfaces/httpserver/handlers"
)

// Application bundles the HTTP server with its logger for startup.
type Application struct {
	httpServer *httpserver.HttpServer
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HttpServer, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		log:        log,
	}
}

func (a *Application) Start(ctx context.Context) error {
	return a.httpServer.Run(ctx)
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	db, err := database.Connect(database.Config{
		DSN:             cfg.GetDatabaseWriteDSN(),
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	if err := database.AutoMigrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	blobBackend, err := newStorageBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}

	authValidator, err := auth.NewValidator(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize auth validator")
	}

	// Redis is optional; without it manifests are rebuilt per request and
	// only the static deny-list applies.
	var redisCache *cache.RedisCache
	if cfg.RedisURL != "" {
		redisCache, err = cache.NewRedisCache(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer redisCache.Close()
	}

	capsuleRepository := capsulerepo.NewRepository(db)
	accountRepository := accountrepo.NewRepository(db)
	artifactRepository := artifactrepo.NewRepository(db)

	bundleStore := bundle.NewStore(blobBackend, capsuleRepository, log)
	ledger := quota.NewLedger(accountRepository, cfg.QuotaRetryLimit, log)

	var blocklist safety.Blocklist
	if redisCache != nil {
		blocklist = redisCache
	}
	var scorer safety.Scorer
	if cfg.ScorerURL != "" {
		scorer = safety.NewHTTPScorer(cfg.ScorerURL)
	}
	classifier := safety.NewClassifier(safety.DefaultRuleset(), cfg.BlockedHashes, blocklist, scorer, log)

	runtimeOpts := artifact.RuntimeOptions{
		RuntimeVersion:   cfg.RuntimeVersion,
		BridgeURL:        cfg.BridgeURL,
		GuardURL:         cfg.GuardURL,
		RuntimeScriptURL: cfg.RuntimeScriptURL,
	}
	compiler := artifact.NewCompiler(runtimeOpts, blobBackend, log)

	var manifestCache capsuledomain.ManifestCache
	if redisCache != nil {
		manifestCache = redisCache
	}
	capsuleService := capsuledomain.NewService(
		capsuleRepository,
		artifactRepository,
		bundleStore,
		ledger,
		classifier,
		compiler,
		manifestCache,
		capsuledomain.ServiceOptions{
			MaxBundleFiles:    cfg.MaxBundleFiles,
			ClassifierTimeout: cfg.ClassifierTimeout,
			CompileTimeout:    cfg.CompileTimeout,
			Runtime:           runtimeOpts,
		},
		log,
	)

	readyChecks := []httpserver.ReadyChecker{blobBackend.Health}
	if redisCache != nil {
		readyChecks = append(readyChecks, redisCache.Health)
	}

	var blocklistWriter handlers.BlocklistWriter
	if redisCache != nil {
		blocklistWriter = redisCache
	}
	httpServer := httpserver.New(cfg, log, capsuleService, authValidator, blocklistWriter, readyChecks...)
	app := NewApplication(httpServer, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

// newStorageBackend selects the blob backend from configuration.
func newStorageBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Backend, error) {
	if cfg.IsLocalStorage() {
		return storage.NewLocalStorage(cfg, log)
	}
	return storage.NewS3Storage(ctx, cfg, log)
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
