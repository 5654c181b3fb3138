package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xaenox/callscope/internal/aggregate"
	"github.com/xaenox/callscope/internal/classifier"
	"github.com/xaenox/callscope/internal/crm"
	"github.com/xaenox/callscope/internal/export"
	"github.com/xaenox/callscope/internal/notify"
	"github.com/xaenox/callscope/internal/pipeline"
	"github.com/xaenox/callscope/internal/scheduler"
	"github.com/xaenox/callscope/internal/server"
	"github.com/xaenox/callscope/internal/storage"
	"github.com/xaenox/callscope/internal/validation"
	"github.com/xaenox/callscope/pkg/config"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	configPath := os.Getenv("CALLSCOPE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		configPath = ""
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		// Logger config lives in the file, so fall back to a production logger here
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}

	// Initialize logger
	logger, _ := zap.NewProduction()
	if cfg.Log.Development {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := aggregate.LoadLocation(cfg.Business.Timezone)
	if err != nil {
		logger.Fatal("Invalid business timezone", zap.Error(err))
	}

	store := openStore(cfg, logger)
	defer store.Close()

	jobs, closeJobs := openJobSource(ctx, cfg, logger)
	defer closeJobs()

	gen := newGenerator(cfg, logger)
	cls := classifier.NewAIClassifier(gen, logger,
		classifier.WithTimeout(cfg.Classifier.Timeout),
		classifier.WithMinConfidence(cfg.Classifier.MinAIConfidence),
	)

	engine := aggregate.NewEngine(store, loc, logger)
	loop := validation.NewLoop(store, jobs, logger,
		validation.WithWindow(cfg.Validation.Window),
		validation.WithConcurrency(cfg.Validation.Concurrency),
	)
	svc := pipeline.NewService(store, cls, engine, loop, pipeline.Config{
		ClassifierVersion:     cfg.Classifier.Version,
		ReclassifyBatchSize:   cfg.Reclassify.BatchSize,
		ReclassifyConcurrency: cfg.Reclassify.Concurrency,
		ReclassifyLookback:    time.Duration(cfg.Reclassify.LookbackDays) * 24 * time.Hour,
		ValidationLookback:    time.Duration(cfg.Validation.LookbackDays) * 24 * time.Hour,
	}, logger)

	validationSchedule := cfg.Validation.Schedule
	if jobs == nil {
		validationSchedule = ""
	}
	sched, err := scheduler.New(svc, newNotifier(cfg, logger), scheduler.Config{
		ValidationSchedule: validationSchedule,
		ReclassifySchedule: cfg.Reclassify.Schedule,
		Location:           loc,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create scheduler", zap.Error(err))
	}
	sched.Start()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(svc, export.NewService(svc, logger), cfg.Server.CronSecret, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Server.CronSecret == "" {
		logger.Warn("CRON_SECRET is not set, cron endpoints are disabled")
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
}

func openStore(cfg *config.Config, logger *zap.Logger) storage.Storage {
	switch cfg.Database.Driver {
	case "postgres":
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host), zap.String("dbname", cfg.Database.DBName))
		store, err := storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
		return store
	case "sqlite":
		logger.Info("Using SQLite storage", zap.String("path", cfg.Database.SQLitePath))
		store, err := storage.NewSQLiteStorage(cfg.Database.SQLitePath)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
		return store
	default:
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage()
	}
}

func openJobSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (crm.JobSource, func()) {
	switch cfg.CRM.Source {
	case "http":
		src, err := crm.NewHTTPJobSource(crm.HTTPConfig{
			BaseURL:      cfg.CRM.BaseURL,
			APIKey:       cfg.CRM.APIKey,
			Timeout:      cfg.CRM.Timeout,
			MaxRetryTime: cfg.CRM.MaxRetryTime,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create CRM client", zap.Error(err))
		}
		return src, func() {}
	case "postgres":
		src, pool, err := crm.OpenPostgresJobSource(ctx, crm.PostgresConfig{DSN: cfg.CRM.DSN}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to CRM mirror", zap.Error(err))
		}
		return src, pool.Close
	default:
		logger.Warn("No CRM configured, booking validation is disabled")
		return nil, func() {}
	}
}

func newGenerator(cfg *config.Config, logger *zap.Logger) classifier.TextGenerator {
	switch cfg.Classifier.Provider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			logger.Warn("OPENAI_API_KEY is not set, using keyword classification")
			return nil
		}
		logger.Info("Using OpenAI classifier", zap.String("model", cfg.OpenAI.Model))
		return classifier.NewOpenAIGenerator(generatorOptions(cfg.OpenAI))
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			logger.Warn("ANTHROPIC_API_KEY is not set, using keyword classification")
			return nil
		}
		logger.Info("Using Anthropic classifier", zap.String("model", cfg.Anthropic.Model))
		return classifier.NewAnthropicGenerator(generatorOptions(cfg.Anthropic))
	default:
		logger.Info("No AI provider configured, using keyword classification")
		return nil
	}
}

func generatorOptions(c config.LLMConfig) classifier.GeneratorOptions {
	return classifier.GeneratorOptions{
		APIKey:      c.APIKey,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
}

func newNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	var notifiers notify.Multi
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Error("Telegram notifications disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel, logger))
	}
	if len(notifiers) == 0 {
		return notify.Nop{}
	}
	return notifiers
}
