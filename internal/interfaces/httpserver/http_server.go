package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/config"
	domain "capsule-server/services/capsule-api/internal/domain/capsule"
	"capsule-server/services/capsule-api/internal/infrastructure/auth"
	"capsule-server/services/capsule-api/internal/interfaces/httpserver/handlers"
	"capsule-server/services/capsule-api/internal/interfaces/httpserver/middleware"
	v1 "capsule-server/services/capsule-api/internal/interfaces/httpserver/routes/v1"
)

// ReadyChecker reports whether a dependency is reachable.
type ReadyChecker func(ctx context.Context) error

// HttpServer wraps the gin engine with graceful shutdown helpers.
type HttpServer struct {
	cfg    *config.Config
	engine *gin.Engine
	log    zerolog.Logger
	auth   *auth.Validator
	ready  []ReadyChecker
}

// New constructs the HTTP server with default middleware and routes.
func New(cfg *config.Config, log zerolog.Logger, capsuleService *domain.Service, authValidator *auth.Validator, blocklist handlers.BlocklistWriter, readyChecks ...ReadyChecker) *HttpServer {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestID(log), middleware.Metrics())

	handlerProvider := handlers.NewProvider(cfg, capsuleService, blocklist, log)
	routeProvider := v1.NewRoutes(handlerProvider)
	registerCoreRoutes(engine, cfg, authValidator, readyChecks)

	api := engine.Group("/")
	if authValidator != nil {
		api.Use(authValidator.Middleware())
	}
	routeProvider.Register(api)

	return &HttpServer{
		cfg:    cfg,
		engine: engine,
		log:    log,
		auth:   authValidator,
		ready:  readyChecks,
	}
}

// Run starts the HTTP listener and handles graceful shutdown via context cancellation.
func (s *HttpServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr()).Msg("capsule-api HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func registerCoreRoutes(engine *gin.Engine, cfg *config.Config, authValidator *auth.Validator, readyChecks []ReadyChecker) {
	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": cfg.ServiceName, "status": "ok"})
	})
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	engine.GET("/readyz", func(c *gin.Context) {
		for _, check := range readyChecks {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	engine.GET("/health/auth", func(c *gin.Context) {
		if authValidator == nil || authValidator.Ready() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
