package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/derm-diagnosis-server/internal/api"
	"github.com/derm-diagnosis-server/internal/config"
	"github.com/derm-diagnosis-server/internal/database"
	"github.com/derm-diagnosis-server/internal/domain"
	"github.com/derm-diagnosis-server/internal/feedback"
	"github.com/derm-diagnosis-server/internal/notify"
	"github.com/derm-diagnosis-server/internal/repository"
	"github.com/derm-diagnosis-server/internal/service"
	"github.com/derm-diagnosis-server/pkg/providers"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(&cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting dermatology diagnosis server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := runMigrations(configManager, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	gemini := providers.NewGeminiClient(cfg.Providers.Gemini)
	openai := providers.NewOpenAIClient(cfg.Providers.OpenAI)

	var cache *providers.ResponseCache
	if cfg.Cache.RedisURL != "" {
		cache, err = providers.NewResponseCache(cfg.Cache)
		if err != nil {
			logger.WithError(err).Warn("Response cache unavailable, continuing without it")
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	resilientGemini := providers.NewResilientClient(gemini, cache, logger)
	resilientOpenAI := providers.NewResilientClient(openai, cache, logger)

	cases := repository.NewCaseRepository(db, logger)
	patients := repository.NewPatientRepository(db, logger)
	lesions := repository.NewLesionRepository(db, logger)
	settings := repository.NewSettingsRepository(db, logger)

	feedbackStore, err := newFeedbackStore(configManager, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open feedback store")
	}
	defer feedbackStore.Close()

	hub := notify.NewHub(logger)

	analysis := service.NewAnalysisService(resilientGemini, resilientOpenAI, cases, settings, hub, &cfg.Providers, logger)
	comparison := service.NewComparisonService(resilientGemini, lesions, hub, &cfg.Providers, logger)

	server := api.NewServer(configManager, api.Dependencies{
		Analysis:   analysis,
		Comparison: comparison,
		Cases:      cases,
		Patients:   patients,
		Lesions:    lesions,
		Settings:   settings,
		Feedback:   feedbackStore,
		Notify:     hub,
		HealthFn:   db.Health,
		Log:        logger,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func newLogger(cfg *domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer
	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}
	logger.SetOutput(out)

	return logger
}

func runMigrations(manager *config.Manager, cfg *domain.Config, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(manager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up()
}

func newFeedbackStore(manager *config.Manager, cfg *domain.Config) (feedback.Store, error) {
	switch cfg.Feedback.Backend {
	case "postgres":
		return feedback.NewPostgresStoreFromURL(manager.GetDatabaseURL())
	default:
		return feedback.NewSQLiteStore(cfg.Feedback.SQLitePath)
	}
}
