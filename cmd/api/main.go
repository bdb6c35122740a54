package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/config"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/events"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/handler"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/infra/postgresql"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/infra/postgresql/migrations"
	infraredis "github.com/c3ll256/etsy-helper-server-sub000/internal/infra/redis"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/observability"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/parsing"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/registry"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/render"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/repository"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/service"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/template"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/transport"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	parseLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.ParseRateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		broker, err := events.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		publisher, err = events.NewRabbitMQPublisher(broker)
		if err != nil {
			logger.Fatal("rabbitmq publisher initialization failed", zap.Error(err))
		}
	}
	defer publisher.Close() //nolint:errcheck

	orderRepo := repository.NewGormOrderRepo(db)
	recordRepo := repository.NewGormRecordRepo(db)
	templateRepo := repository.NewGormTemplateRepo(db)

	resolver, err := template.NewResolver(templateRepo, logger)
	if err != nil {
		logger.Fatal("template resolver initialization failed", zap.Error(err))
	}

	parser, err := parsing.NewOpenAIParser(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, parseLimiter)
	if err != nil {
		logger.Fatal("variation parser initialization failed", zap.Error(err))
	}

	renderer, err := render.NewHTTPRenderer(cfg.RenderServiceURL)
	if err != nil {
		logger.Fatal("renderer initialization failed", zap.Error(err))
	}

	jobs := registry.NewInMemoryJobStore(logger)
	metrics := observability.NewMetrics()

	stampService, err := service.NewStampService(
		orderRepo,
		recordRepo,
		resolver,
		parser,
		renderer,
		jobs,
		cfg.ConvertTextToPaths,
		logger,
	)
	if err != nil {
		logger.Fatal("stamp service initialization failed", zap.Error(err))
	}
	stampService.SetMetrics(metrics)

	retention := time.Duration(cfg.JobRetentionHours) * time.Hour
	importService, err := service.NewImportService(jobs, stampService, publisher, retention, logger)
	if err != nil {
		logger.Fatal("import service initialization failed", zap.Error(err))
	}
	importService.SetMetrics(metrics)

	importHandler, err := handler.NewImportHandler(importService, logger)
	if err != nil {
		logger.Fatal("import handler initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "etsy-helper-api",
		ErrorHandler: transport.ErrorHandler(logger),
		BodyLimit:    32 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(transport.RequestContext())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterImportRoutes(app, importHandler)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("etsy-helper api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api server")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("api terminated with error", zap.Error(err))
	}

	logger.Info("api stopped")
}
