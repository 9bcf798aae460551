package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medpractice/records/internal/config"
	"github.com/medpractice/records/internal/domain/billing"
	"github.com/medpractice/records/internal/domain/dedup"
	"github.com/medpractice/records/internal/domain/medication"
	"github.com/medpractice/records/internal/domain/patient"
	"github.com/medpractice/records/internal/platform/auth"
	"github.com/medpractice/records/internal/platform/cache"
	"github.com/medpractice/records/internal/platform/db"
	"github.com/medpractice/records/internal/platform/metrics"
	"github.com/medpractice/records/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "records-server",
		Short:        "Medical practice records API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(dedupCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the records API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg != nil && cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	if cfg != nil && cfg.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			logger = logger.Level(lvl)
		}
	}
	return logger
}

// loadConfig reads and validates the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// repositories holds the Postgres-backed repositories shared by the server
// and the offline commands.
type repositories struct {
	patients      patient.Repository
	careSheets    billing.CareSheetRepository
	prescriptions medication.PrescriptionRepository
}

func newRepositories(pool *pgxpool.Pool) repositories {
	return repositories{
		patients:      patient.NewRepo(pool),
		careSheets:    billing.NewCareSheetRepo(pool),
		prescriptions: medication.NewPrescriptionRepo(pool),
	}
}

func dedupConfig(cfg *config.Config, store cache.Store, m *metrics.Metrics, logger zerolog.Logger) dedup.ServiceConfig {
	opts := dedup.DefaultOptions()
	opts.FuzzyThreshold = cfg.DedupFuzzyThreshold
	opts.BirthDateWindowDays = cfg.DedupBirthDateWindowDays
	return dedup.ServiceConfig{
		Options:     opts,
		Cache:       store,
		CacheTTL:    cfg.DedupCacheTTL,
		StepTimeout: cfg.MergeStepTimeout,
		Metrics:     m,
		Logger:      logger.With().Str("component", "dedup").Logger(),
	}
}

// newReportCache picks Redis when REDIS_URL is configured and an in-process
// store otherwise. The returned close func is never nil.
func newReportCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Store, func(), error) {
	rs, err := cache.NewRedis(ctx, cfg.RedisURL, "records:")
	if err != nil {
		return nil, nil, err
	}
	if rs == nil {
		logger.Info().Msg("REDIS_URL not set, using in-memory report cache")
		return cache.NewMemoryStore(), func() {}, nil
	}
	logger.Info().Msg("connected to redis")
	return rs, func() { _ = rs.Close() }, nil
}

func runServer() error {
	cfg, err := loadConfig()
	logger := newLogger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	reportCache, closeCache, err := newReportCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeCache()

	m := metrics.New(prometheus.DefaultRegisterer)

	e := newServer(cfg, logger, pool, newRepositories(pool), reportCache, m)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with middleware and every route group.
// pool may be nil, in which case readiness skips the database check.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, repos repositories, reportCache cache.Store, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, "/health", "/metrics"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	checks := map[string]db.Check{}
	var stats func() *db.PoolStats
	if pool != nil {
		checks["database"] = pool.Ping
		stats = func() *db.PoolStats { return db.GetPoolStats(pool) }
	}
	if h, ok := reportCache.(interface{ Health(context.Context) error }); ok {
		checks["cache"] = h.Health
	}
	e.GET("/health/ready", db.ReadinessHandler(checks, stats))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}
	apiV1.Use(middleware.Audit(logger, middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		m.RecordAccess(entry.Resource, entry.Action)
		return nil
	})))

	patientSvc := patient.NewService(repos.patients)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	billing.NewHandler(billing.NewService(repos.careSheets, patientSvc)).RegisterRoutes(apiV1)
	medication.NewHandler(medication.NewService(repos.prescriptions, patientSvc)).RegisterRoutes(apiV1)

	store := dedup.NewRepositoryStore(repos.patients, repos.careSheets, repos.prescriptions)
	dedupSvc := dedup.NewService(store, dedupConfig(cfg, reportCache, m, logger))
	dedup.NewHandler(dedupSvc).RegisterRoutes(apiV1)

	return e
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
}
