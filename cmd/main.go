package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/adreach/settlement_service/internal/api/routes"
	"github.com/adreach/settlement_service/internal/infrastructure/config"
	"github.com/adreach/settlement_service/internal/infrastructure/database"
	"github.com/adreach/settlement_service/internal/infrastructure/di"
	"github.com/adreach/settlement_service/internal/workers/intent_expiry"
	"github.com/adreach/settlement_service/internal/workers/settlement_poller"
	"github.com/adreach/settlement_service/pkg/graceful"
	"github.com/adreach/settlement_service/pkg/logger"
	"github.com/adreach/settlement_service/pkg/secrets"
	"github.com/adreach/settlement_service/pkg/tracing"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

// @title Settlement Service API
// @version 1.0
// @description Crypto deposit intents, on-chain verification and wallet settlement

// @contact.name API Support

// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	var logFile *logger.FileConfig
	if cfg.Log.File != "" {
		logFile = &logger.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	log := logger.NewWithFile(cfg.LogLevel, cfg.Environment, logFile)
	defer log.Sync()

	ctx := context.Background()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		CollectorURL:   cfg.Tracing.Endpoint,
		Environment:    cfg.Environment,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	}
	tracingShutdown, err := tracing.InitTracer(ctx, tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	if cfg.Tracing.Enabled {
		log.Info("OpenTelemetry tracing initialized", "collector_url", tracingConfig.CollectorURL)
	}

	// Resolve secrets left empty in config
	if err := resolveSecrets(ctx, cfg); err != nil {
		log.Fatal("Failed to resolve secrets", "error", err)
	}
	if cfg.JWT.Required && cfg.JWT.Secret == "" {
		log.Fatal("JWT secret is required when authentication is enabled")
	}
	if cfg.Webhook.Secret == "" {
		log.Warn("Webhook secret not configured; chain deposit webhooks will be rejected")
	}

	// Initialize database
	var db *sqlx.DB
	if cfg.Storage.Driver == config.StorageDriverPostgres {
		db, err = database.NewConnector().Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", "error", err)
		}
		if cfg.Database.AutoMigrate {
			if err := database.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
				log.Fatal("Failed to run migrations", "error", err)
			}
			log.Info("Database migrations applied")
		}
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build dependency injection container
	container, err := di.NewContainer(ctx, cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}
	container.Version = version

	// Initialize router with DI container
	router := routes.SetupRoutes(container)

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)

	poller := settlement_poller.NewWorker(container.GetSettlementEngine(), settlement_poller.Config{
		Schedule: cfg.Settlement.PollSchedule,
	}, log.Zap())
	if err := poller.Start(); err != nil {
		log.Fatal("Failed to start settlement poller", "error", err)
	}

	expiry := intent_expiry.NewWorker(container.GetSettlementEngine(), &intent_expiry.Config{
		TTL:           cfg.Settlement.IntentTTLDuration(),
		CheckInterval: cfg.Settlement.ExpiryIntervalDuration(),
	}, log)
	go expiry.Start(workerCtx)

	if db != nil {
		go database.ReportPoolStats(workerCtx, db, container.Metrics, 30*time.Second)
	}

	// Create server
	server := &http.Server{
		Addr:           cfg.Server.Addr(),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.Info("Starting server",
			"addr", server.Addr,
			"environment", cfg.Environment,
			"storage", cfg.Storage.Driver,
			"version", version,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Workers stop first so no settlement starts while the server drains;
	// connections close last.
	shutdown := graceful.NewShutdownManager(server, log)
	shutdown.Register(poller)
	shutdown.Register(expiry)
	shutdown.Register(graceful.ShutdownFunc(func(context.Context) error {
		stopWorkers()
		return nil
	}))
	shutdown.Register(graceful.ShutdownFunc(tracingShutdown))
	shutdown.RegisterCloser(container)
	if db != nil {
		shutdown.RegisterCloser(db)
	}
	shutdown.WaitForShutdown()
}

// resolveSecrets fills the JWT and webhook secrets from the configured
// provider when config left them empty.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	var provider secrets.Provider = secrets.NewEnvProvider()
	if cfg.Secrets.Provider == "aws" {
		aws, err := secrets.NewAWSSecretsManagerProvider(ctx, cfg.Secrets.Region, cfg.Secrets.Prefix, 5*time.Minute)
		if err != nil {
			return err
		}
		provider = aws
	}
	return secrets.Resolve(ctx, provider, map[string]*string{
		"JWT_SECRET":     &cfg.JWT.Secret,
		"WEBHOOK_SECRET": &cfg.Webhook.Secret,
	})
}
