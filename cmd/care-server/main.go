package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careflow/careflow/internal/config"
	"github.com/careflow/careflow/internal/domain/appointment"
	"github.com/careflow/careflow/internal/domain/diagnosis"
	"github.com/careflow/careflow/internal/domain/report"
	"github.com/careflow/careflow/internal/platform/aiconsult"
	"github.com/careflow/careflow/internal/platform/auth"
	"github.com/careflow/careflow/internal/platform/availability"
	"github.com/careflow/careflow/internal/platform/blobstore"
	"github.com/careflow/careflow/internal/platform/db"
	"github.com/careflow/careflow/internal/platform/middleware"
	"github.com/careflow/careflow/internal/platform/notify"
)

// reportSourceAdapter breaks the construction cycle between the diagnosis and
// report services. The diagnosis service needs a report source at construction
// time, but the report service needs the diagnosis service for gating
// re-evaluation. The adapter is handed to the diagnosis service empty and
// bound once the report service exists.
type reportSourceAdapter struct {
	svc *report.Service
}

func (a *reportSourceAdapter) GatingReports(ctx context.Context, diagnosisID uuid.UUID) ([]diagnosis.GatingReport, error) {
	if a.svc == nil {
		return nil, nil
	}
	return a.svc.GatingReports(ctx, diagnosisID)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "care-server",
		Short: "Care coordination API server",
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
		Short: "Start the care coordination API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
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
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Blob storage
	var blobs blobstore.Store
	switch cfg.BlobBackend {
	case "s3":
		blobs, err = blobstore.NewS3Store(ctx, cfg.BlobS3Bucket, cfg.BlobS3Region)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize S3 blob store")
		}
		logger.Info().Str("bucket", cfg.BlobS3Bucket).Msg("using S3 blob store")
	default:
		blobs = blobstore.NewMemoryStore(cfg.BlobBaseURL)
		logger.Info().Msg("using in-memory blob store")
	}

	// AI consultant. A remote gateway when configured, the built-in rule
	// table otherwise.
	var consultant aiconsult.Consultant
	if cfg.AIConsultantURL != "" {
		consultant = aiconsult.NewClient(cfg.AIConsultantURL, time.Duration(cfg.AIConsultantTimeout)*time.Second)
		logger.Info().Str("url", cfg.AIConsultantURL).Msg("using remote AI consultant")
	} else {
		consultant = aiconsult.NewRuleBased()
		logger.Info().Msg("using rule-based AI consultant")
	}

	// Notifications
	emitter := notify.NewEmitter(notify.NewLogSink(logger), logger)

	// Repositories
	diagRepo := diagnosis.NewRepoPG(pool)
	apptRepo := appointment.NewRepoPG(pool)
	reportRepo := report.NewRepoPG(pool)
	availRepo := availability.NewRepoPG(pool)

	// Services. The diagnosis and report services reference each other, so
	// the report side is bound through an adapter after construction.
	reportSource := &reportSourceAdapter{}
	diagSvc := diagnosis.NewService(diagRepo, consultant, reportSource, emitter, logger)
	reportSvc := report.NewService(reportRepo, blobs, consultant, diagSvc, emitter, logger)
	reportSource.svc = reportSvc

	availProvider := availability.NewProvider(availRepo)
	apptSvc := appointment.NewService(apptRepo, availProvider, diagSvc, emitter, appointment.Config{
		DurationMinutes: cfg.AppointmentMinutes,
		FollowUpDays:    cfg.FollowUpDays,
	}, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit("1M", fmt.Sprintf("%d", blobstore.MaxFileSize)))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	// Health check
	e.GET("/health", db.HealthHandler(pool))

	// API routes
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	diagnosis.NewHandler(diagSvc).RegisterRoutes(apiV1)
	appointment.NewHandler(apptSvc).RegisterRoutes(apiV1)
	report.NewHandler(reportSvc).RegisterRoutes(apiV1)
	availability.NewHandler(availRepo).RegisterRoutes(apiV1)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}

	// Drain background work before closing the pool.
	reportSvc.Wait()
	emitter.Wait()

	logger.Info().Msg("server stopped")
	return nil
}
