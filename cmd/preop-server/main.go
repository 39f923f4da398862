package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/preop/preop/internal/config"
	"github.com/preop/preop/internal/domain/evaluation"
	"github.com/preop/preop/internal/domain/patient"
	"github.com/preop/preop/internal/domain/report"
	"github.com/preop/preop/internal/domain/staff"
	"github.com/preop/preop/internal/domain/workflow"
	"github.com/preop/preop/internal/platform/ai"
	"github.com/preop/preop/internal/platform/auth"
	"github.com/preop/preop/internal/platform/db"
	"github.com/preop/preop/internal/platform/middleware"
	"github.com/preop/preop/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "preop-server",
		Short: "Pre-anesthesia evaluation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(userCmd())

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

func rosterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Manage the patient roster",
	}

	importCmd := &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Import patients from an Excel roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open roster file: %w", err)
			}
			defer f.Close()

			svc := patient.NewService(patient.NewRepo(pool))
			result, err := svc.ImportRoster(ctx, f)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			fmt.Printf("Imported %d of %d row(s).\n", len(result.Created), result.Total)
			for _, s := range result.Skipped {
				fmt.Printf("  row %d skipped (dni=%s): %s\n", s.Row, s.DNI, s.Reason)
			}
			return nil
		},
	}
	cmd.AddCommand(importCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff users",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff user",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			role, _ := cmd.Flags().GetString("role")
			password, _ := cmd.Flags().GetString("password")

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

			svc := staff.NewService(staff.NewRepo(pool), auth.JWTConfig{
				Secret: []byte(cfg.JWTSecret),
				Expiry: cfg.JWTExpiry,
			})
			u, err := svc.CreateUser(ctx, email, name, role, password)
			if err != nil {
				return err
			}

			fmt.Printf("Created user %s (%s) with role %s.\n", u.Email, u.ID, u.Role)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "User email (required)")
	createCmd.Flags().String("name", "", "Display name (required)")
	createCmd.Flags().String("role", auth.RoleNurse, "Role: owner or nurse")
	createCmd.Flags().String("password", "", "Login password (required)")
	cmd.AddCommand(createCmd)

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
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "10M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// API groups. Staff routes carry a JWT; portal routes are keyed by the
	// patient access token in the path.
	public := e.Group("/api/v1")
	public.Use(middleware.RateLimit(rateLimitCfg))

	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(rateLimitCfg))
	if cfg.IsDev() && cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET not set; staff endpoints run with dev auth")
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Secret: []byte(cfg.JWTSecret),
			Expiry: cfg.JWTExpiry,
		}))
	}

	portal := e.Group("/api/v1/portal/:token")
	portal.Use(middleware.RateLimit(rateLimitCfg))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// SMS delivery. Without a relay URL messages are recorded but not sent,
	// which keeps local development working without AWS credentials.
	var sender notification.SMSSender
	if cfg.SMSRelayURL != "" {
		sender = notification.NewLambdaSender(notification.LambdaConfig{
			URL:     cfg.SMSRelayURL,
			Secret:  cfg.SMSRelaySecret,
			Timeout: cfg.SMSTimeout,
		}, logger)
	} else {
		logger.Warn().Msg("SMS_RELAY_URL not set; SMS delivery is disabled")
		sender = &notification.MockSMSSender{}
	}
	notifier := notification.NewService(sender, notification.NewTemplateEngine(), logger)

	// AI chat backend. The scripted interviewer stands in when no API key
	// is configured so the portal flow stays usable end to end.
	var chat ai.Chat
	if cfg.OpenAIAPIKey != "" {
		chat = ai.NewOpenAIChat(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.OpenAITimeout,
		}, logger)
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set; using scripted chat backend")
		chat = ai.NewScriptedChat()
	}

	// Domain services
	patientSvc := patient.NewService(patient.NewRepo(pool))
	evalSvc := evaluation.NewService(evaluation.NewRepo(pool))
	workflowSvc := workflow.NewService(workflow.NewRepo(pool), patientSvc, evalSvc, chat, notifier, logger)
	evalSvc.SetCompletionChecker(workflowSvc)
	reportSvc := report.NewService(patientSvc, evalSvc, notifier, logger)
	staffSvc := staff.NewService(staff.NewRepo(pool), auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		Expiry: cfg.JWTExpiry,
	})

	// Staff routes
	staff.NewHandler(staffSvc).RegisterRoutes(public, api)
	patient.NewHandler(patientSvc, notifier, cfg.PortalBaseURL).RegisterRoutes(api)
	report.NewHandler(reportSvc).RegisterRoutes(api)
	notification.NewHandler(notifier).RegisterRoutes(api)

	// Patient portal routes
	workflow.NewHandler(workflowSvc).RegisterPortalRoutes(portal)
	evaluation.NewHandler(evalSvc, patientSvc).RegisterPortalRoutes(portal)

	// Graceful shutdown
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
