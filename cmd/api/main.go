package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/aydintuna/sms-router/internal/agent"
	"github.com/aydintuna/sms-router/internal/classifier"
	"github.com/aydintuna/sms-router/internal/config"
	"github.com/aydintuna/sms-router/internal/dedup"
	"github.com/aydintuna/sms-router/internal/gateway"
	"github.com/aydintuna/sms-router/internal/handler"
	"github.com/aydintuna/sms-router/internal/infra/postgresql"
	"github.com/aydintuna/sms-router/internal/infra/postgresql/migrations"
	infraredis "github.com/aydintuna/sms-router/internal/infra/redis"
	"github.com/aydintuna/sms-router/internal/observability"
	"github.com/aydintuna/sms-router/internal/repository"
	"github.com/aydintuna/sms-router/internal/service"
	"github.com/aydintuna/sms-router/internal/signature"
	"github.com/aydintuna/sms-router/internal/transport"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil && err != context.Canceled {
		logger.Fatal("sms-router exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	overrides, err := cfg.ParseClassifierOverrides()
	if err != nil {
		return err
	}
	errClassifier := classifier.New(overrides)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SendRateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	dedupCache, err := dedup.NewCache(rdb, cfg.DedupTTL())
	if err != nil {
		return fmt.Errorf("dedup cache initialization failed: %w", err)
	}

	carrier, err := gateway.NewCarrierClient(gateway.CarrierConfig{
		APIURL:     cfg.CarrierAPIURL,
		AccountSID: cfg.CarrierAccountSID,
		AuthToken:  cfg.CarrierAuthToken,
		FromNumber: cfg.CarrierFromNumber,
		Timeout:    cfg.GatewayTimeout(),
	})
	if err != nil {
		return fmt.Errorf("carrier client initialization failed: %w", err)
	}

	agentClient, err := agent.NewOpenAIAgent(agent.OpenAIConfig{
		APIKey:  cfg.AgentAPIKey,
		BaseURL: cfg.AgentBaseURL,
		Model:   cfg.AgentModel,
		Timeout: cfg.AgentTimeout(),
	})
	if err != nil {
		return fmt.Errorf("agent initialization failed: %w", err)
	}

	validator, err := signature.NewValidator(cfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("signature validator initialization failed: %w", err)
	}

	phoneRepo := repository.NewGormPhoneMappingRepo(db)
	usageRepo := repository.NewGormUsageLogRepo(db)

	metrics := observability.NewMetrics()

	routing, err := service.NewRoutingService(phoneRepo, usageRepo, carrier, agentClient, errClassifier, dedupCache, limiter, logger)
	if err != nil {
		return err
	}
	routing.SetMetrics(metrics)

	scheduler, err := service.NewRetryScheduler(usageRepo, carrier, routing, limiter, logger, service.RetrySchedulerOptions{
		Interval:  cfg.RetryScanInterval(),
		BatchSize: cfg.RetryBatchSize,
	})
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	analytics, err := service.NewAnalyticsService(usageRepo, cfg.CostPerMessage, logger)
	if err != nil {
		return err
	}

	webhookHandler, err := handler.NewWebhookHandler(routing, validator, logger)
	if err != nil {
		return err
	}
	analyticsHandler, err := handler.NewAnalyticsHandler(analytics, logger)
	if err != nil {
		return err
	}
	phoneHandler, err := handler.NewPhoneMappingHandler(phoneRepo, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:      "sms-router",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	webhookHandler.Register(app)
	analyticsHandler.Register(app)
	phoneHandler.Register(app)
	handler.NewHealthHandler(db, rdb).Register(app)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("sms-router api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	group.Go(func() error {
		return scheduler.Start(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.Shutdown()
	})

	return group.Wait()
}
