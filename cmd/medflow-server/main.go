package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medflow/medflow/internal/config"
	"github.com/medflow/medflow/internal/domain/analysis"
	"github.com/medflow/medflow/internal/domain/billing"
	"github.com/medflow/medflow/internal/domain/patient"
	"github.com/medflow/medflow/internal/platform/auth"
	"github.com/medflow/medflow/internal/platform/completion"
	"github.com/medflow/medflow/internal/platform/db"
	"github.com/medflow/medflow/internal/platform/intasend"
	"github.com/medflow/medflow/internal/platform/metrics"
	"github.com/medflow/medflow/internal/platform/middleware"
	"github.com/medflow/medflow/internal/platform/quota"
	"github.com/medflow/medflow/migrations"
)

const (
	version    = "0.1.0"
	apiTimeout = 30 * time.Second
)

// waitsOnCompletion matches the routes bounded by the completion client's own timeout.
func waitsOnCompletion(c echo.Context) bool {
	p := c.Path()
	return strings.HasSuffix(p, "/analyze") || strings.HasSuffix(p, "/daily-note") || strings.HasSuffix(p, "/regenerate")
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "medflow-server",
		Short: "MedFlow clinical analysis API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationFiles returns dir as a filesystem, or the embedded set when dir is empty.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrationFiles(dir)))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// authMiddleware verifies bearer tokens, with HS256 when a shared secret is
// configured and JWKS otherwise. Development serves anonymous calls as the dev user.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthJWTSecret != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthJWTSecret)
	}

	var verify echo.MiddlewareFunc
	if cfg.AuthJWTSecret != "" || cfg.AuthJWKSURL != "" {
		verify = auth.JWTMiddleware(jwtCfg)
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify)
	}
	return verify
}

// routes is everything the router mounts.
type routes struct {
	patients *patient.Handler
	analyses *analysis.Handler
	billing  *billing.Handler
	health   echo.HandlerFunc
	metrics  *metrics.Collector
}

func buildRouter(cfg *config.Config, logger zerolog.Logger, r routes) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	if cfg.BodyLimit != "" {
		e.Use(echomw.BodyLimit(cfg.BodyLimit))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(r.metrics.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if r.health != nil {
		e.GET("/health/db", r.health)
	}
	e.GET("/metrics", r.metrics.Handler())

	// Provider callbacks authenticate by signature.
	webhooks := e.Group("/webhooks")
	r.billing.RegisterWebhookRoutes(webhooks)

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1")
	if authMW := authMiddleware(cfg); authMW != nil {
		apiV1.Use(authMW)
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(apiTimeout, waitsOnCompletion))

	r.patients.RegisterRoutes(apiV1)
	r.analyses.RegisterRoutes(apiV1)
	r.billing.RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.New()

	limiter, closeQuota, err := quota.New(ctx, cfg.RedisURL, cfg.AnalysisDailyLimit, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeQuota()
	if _, ok := limiter.(quota.Nop); ok {
		logger.Warn().Msg("daily analysis quota disabled")
	}

	// Outbound clients
	completionCfg := completion.DefaultConfig()
	completionCfg.APIKey = cfg.OpenRouterAPIKey
	completionCfg.Model = cfg.OpenRouterModel
	completionCfg.BaseURL = cfg.OpenRouterBaseURL
	completionCfg.Referer = cfg.AppURL
	completionCfg.Timeout = cfg.HTTPTimeout
	completer := completion.NewClient(completionCfg, logger, m)
	if cfg.OpenRouterAPIKey == "" {
		logger.Warn().Msg("OPENROUTER_API_KEY not set; analysis generation will fail")
	}

	checkout := intasend.NewClient(intasend.Config{
		PublishableKey: cfg.IntaSendPublishableKey,
		SecretKey:      cfg.IntaSendSecretKey,
		TestMode:       cfg.IntaSendTestMode,
	}, logger, m)

	// Domain services
	subRepo := billing.NewSubscriptionRepoPG(pool)
	webhookRepo := billing.NewWebhookLogRepoPG(pool)
	billingSvc := billing.NewService(subRepo, webhookRepo, checkout, billing.Plan{
		Type:        billing.PlanMonthly,
		Price:       cfg.SubscriptionPrice,
		Currency:    cfg.SubscriptionCurrency,
		Period:      cfg.SubscriptionPeriod(),
		RedirectURL: cfg.AppURL + "/dashboard?payment=success",
	}, logger)
	reconciler := billing.NewReconciler(subRepo, webhookRepo, cfg.IntaSendWebhookSecret, cfg.SubscriptionPeriod(), logger, m)

	patientSvc := patient.NewService(patient.NewRepoPG(pool), logger)
	analysisSvc := analysis.NewService(analysis.NewRepoPG(pool), patientSvc, completer, limiter,
		db.Transactor(pool), logger, m)

	gate := billing.RequireActiveSubscription(billingSvc, cfg.RequireSubscription)
	if !cfg.RequireSubscription {
		logger.Warn().Msg("subscription gate disabled")
	}

	dbHealth := db.HealthHandler(db.HealthCheck{
		DB:     pool,
		Stats:  func() *db.PoolStats { return db.GetPoolStats(pool) },
		Schema: db.NewMigrator(pool, migrations.FS).Versions,
	})

	e := buildRouter(cfg, logger, routes{
		patients: patient.NewHandler(patientSvc),
		analyses: analysis.NewHandler(analysisSvc, gate),
		billing:  billing.NewHandler(billingSvc, reconciler),
		health:   dbHealth,
		metrics:  m,
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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
