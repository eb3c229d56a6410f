package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/cdainsight/internal/config"
	"github.com/ehr/cdainsight/internal/domain/reports"
	"github.com/ehr/cdainsight/internal/platform/auth"
	"github.com/ehr/cdainsight/internal/platform/batch"
	"github.com/ehr/cdainsight/internal/platform/blobstore"
	"github.com/ehr/cdainsight/internal/platform/cache"
	"github.com/ehr/cdainsight/internal/platform/ccda"
	"github.com/ehr/cdainsight/internal/platform/db"
	"github.com/ehr/cdainsight/internal/platform/middleware"
	"github.com/ehr/cdainsight/internal/platform/semantic"
	"github.com/ehr/cdainsight/internal/platform/telemetry"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

// services is everything the HTTP layer needs. Optional backends are nil
// when not configured.
type services struct {
	extractor *ccda.Extractor
	analyzer  *semantic.Service
	runner    *batch.Runner
	store     blobstore.BlobStore
	reports   *reports.Service
	pool      *pgxpool.Pool
	metrics   *telemetry.Metrics
	checks    map[string]db.Check
}

// buildServices connects the configured backends. The returned cleanup
// closes them in reverse order.
func buildServices(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*services, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	svc := &services{metrics: telemetry.New(), checks: map[string]db.Check{}}

	if cfg.DatabaseEnabled() {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:            cfg.DatabaseURL,
			MaxConns:       cfg.DBMaxConns,
			MinConns:       cfg.DBMinConns,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, pool.Close)
		svc.pool = pool
		svc.checks["database"] = pool.Ping
		svc.reports = reports.NewService(reports.NewRepoPG(pool))
		logger.Info().Msg("connected to database")
	}

	var resultCache cache.Cache = cache.Noop{}
	if cfg.CacheEnabled() {
		r, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { _ = r.Close() })
		resultCache = r
		svc.checks["cache"] = r.Ping
		logger.Info().Dur("ttl", cfg.CacheTTL).Msg("analysis cache enabled")
	}

	if cfg.MinioEnabled() {
		store, err := blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, cleanup, err
		}
		svc.store = store
		svc.checks["blobs"] = store.Ping
		logger.Info().Str("bucket", cfg.MinioBucket).Msg("using MinIO document store")
	} else {
		svc.store = blobstore.NewInMemoryBlobStore()
		logger.Warn().Msg("MINIO_ENDPOINT not set, documents are kept in memory")
	}

	svc.extractor = ccda.NewExtractor(ccda.ExtractorOptions{StrictQuantities: cfg.StrictQuantity})
	svc.analyzer = semantic.NewService(svc.extractor, resultCache, cfg.CacheTTL, logger)
	svc.runner = batch.NewRunner(batch.NewHeuristicExtractor(), cfg.BatchWorkers, logger)
	var (
		runRec      batch.RunRecorder
		analysisRec semantic.Recorder
	)
	if svc.reports != nil {
		runRec, analysisRec = svc.reports, svc.reports
	}
	svc.runner.SetRecorder(svc.metrics.RunRecorder(runRec))
	svc.analyzer.SetRecorder(svc.metrics.AnalysisRecorder(analysisRec))

	return svc, cleanup, nil
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if cfg.DevAuth() {
		logger.Warn().Msg("development auth is active: every request is treated as an admin, do not expose this server")
	}

	svc, cleanup, err := buildServices(ctx, cfg, logger)
	defer cleanup()
	if err != nil {
		return err
	}

	e := newServer(cfg, logger, svc)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with middleware and every route.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if svc.metrics != nil {
		e.Use(svc.metrics.Middleware())
	}
	e.Use(middleware.SecurityHeaders())
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		}))
	}
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	if cfg.DevAuth() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if svc.pool != nil {
		e.GET("/health/db", db.HealthHandler(svc.pool))
	}
	e.GET("/health/ready", db.ReadinessHandler(svc.checks))
	if svc.metrics != nil {
		e.GET("/metrics", svc.metrics.Handler())
	}

	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst
	api := e.Group("/api/v1", middleware.RateLimit(rl))

	ccda.NewHandler(svc.extractor).RegisterRoutes(api)
	semantic.NewHandler(svc.analyzer).RegisterRoutes(api)
	batch.NewHandler(svc.runner, svc.store).RegisterRoutes(api)
	blobstore.NewBlobHandler(svc.store, svc.analyzer).RegisterRoutes(api)
	if svc.reports != nil {
		reports.NewHandler(svc.reports).RegisterRoutes(api)
	}

	return e
}

// jsonErrorHandler renders errors that reach echo as {"error": "..."}.
func jsonErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		} else {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, map[string]string{"error": msg})
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
