package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/studioforge/genrunner/internal/api/handler"
	"github.com/studioforge/genrunner/internal/api/router"
	"github.com/studioforge/genrunner/internal/archive"
	"github.com/studioforge/genrunner/internal/clock"
	"github.com/studioforge/genrunner/internal/config"
	"github.com/studioforge/genrunner/internal/detect"
	"github.com/studioforge/genrunner/internal/notify"
	"github.com/studioforge/genrunner/internal/profile"
	"github.com/studioforge/genrunner/internal/runner"
	"github.com/studioforge/genrunner/internal/surface"
	"github.com/studioforge/genrunner/shared/logger"
	"github.com/studioforge/genrunner/shared/postgresql"
	"github.com/studioforge/genrunner/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("RUNNER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/runner-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting runner service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Optional run archive, backed by PostgreSQL
	var (
		dbClient     *postgresql.Client
		archiveStore *archive.Store
	)
	if cfg.Archive.Enabled {
		dbClient, err = initPostgreSQL(&cfg.Archive.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize archive database: %w", err)
		}
		archiveStore, err = archive.NewStore(context.Background(), dbClient)
		if err != nil {
			return fmt.Errorf("failed to initialize run archive: %w", err)
		}
		appLogger.Info("Run archive enabled")
	}

	// Optional AMQP callback transport
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		appLogger.Info("AMQP callback transport enabled",
			slog.String("exchange", cfg.RabbitMQ.Exchange.Name),
		)
	}

	// Browser profile manager
	profiles, err := profile.NewManager(cfg.Storage.ProfilesDir, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize profile manager: %w", err)
	}

	// Agent-backed surfaces, detector, notifier, orchestrator
	surfaces := surface.NewRemoteFactory(surface.RemoteConfig{
		BaseURL:          cfg.Agent.BaseURL,
		RequestTimeout:   cfg.Agent.RequestTimeout,
		Techniques:       cfg.Agent.Techniques,
		VariantPrefs:     cfg.Agent.VariantPreferences,
		MenuPollInterval: cfg.Agent.MenuPollInterval,
		MenuTimeout:      cfg.Agent.MenuTimeout,
		OutputDir:        cfg.Storage.OutputDir,
	}, clock.Real{}, appLogger.Logger)

	detector := detect.New(detect.Config{
		PollInterval:      cfg.Detector.PollInterval,
		StartPollInterval: cfg.Detector.StartPollInterval,
		MinStartWait:      cfg.Detector.MinStartWait,
		MaxWait:           cfg.Detector.MaxWait,
	}, clock.Real{}, appLogger.Logger)

	notifier := notify.New(cfg.Notifier.Timeout, rabbitClient, appLogger.Logger)

	var archiveDep runner.Archive
	if archiveStore != nil {
		archiveDep = archiveStore
	}

	orchestrator := runner.New(runner.Config{
		MaxConcurrent: cfg.Runner.MaxConcurrent,
		NotifyTimeout: cfg.Notifier.Timeout,
	}, runner.NewStore(), surfaces, detector, notifier, archiveDep, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, orchestrator, profiles, surfaces, archiveStore)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Runner service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	// Let in-flight workers finish before dropping connections.
	if err := orchestrator.Shutdown(ctx); err != nil {
		appLogger.Warn("Workers still running at shutdown deadline",
			slog.Any("error", err),
		)
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ callback publisher
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange.Name,
		ExchangeType:      cfg.Exchange.Type,
		ExchangeDurable:   cfg.Exchange.Durable,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		ConnectionTimeout: cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, orchestrator *runner.Orchestrator, profiles *profile.Manager, launcher *surface.RemoteFactory, archiveStore *archive.Store) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:       logger,
		Orchestrator: orchestrator,
		Profiles:     profiles,
		Launcher:     launcher,
	}
	if archiveStore != nil {
		handlerDeps.History = archiveStore
	}

	return router.SetupRouter(handlerDeps)
}
