package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/rti-portal/internal/auth"
	"github.com/kursadbilgin/rti-portal/internal/channel"
	"github.com/kursadbilgin/rti-portal/internal/config"
	"github.com/kursadbilgin/rti-portal/internal/handler"
	"github.com/kursadbilgin/rti-portal/internal/infra/postgresql"
	"github.com/kursadbilgin/rti-portal/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/rti-portal/internal/infra/redis"
	"github.com/kursadbilgin/rti-portal/internal/infra/sqlite"
	"github.com/kursadbilgin/rti-portal/internal/observability"
	"github.com/kursadbilgin/rti-portal/internal/queue"
	"github.com/kursadbilgin/rti-portal/internal/repository"
	"github.com/kursadbilgin/rti-portal/internal/service"
	"github.com/kursadbilgin/rti-portal/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	shutdownTimeout = 15 * time.Second
	tokenTTL        = 12 * time.Hour
	relayPrefetch   = 64
)

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

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Fatal("database initialization failed", zap.String("driver", cfg.DatabaseDriver), zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	metrics := observability.NewMetrics()

	hubOpts := channel.Options{
		SendBuffer:   cfg.ChannelSendBuffer,
		WriteTimeout: cfg.ChannelWriteTimeout(),
	}
	if rdb != nil {
		limiter, err := infraredis.NewInboundRateLimiter(rdb, cfg.InboundRateLimitPerSec)
		if err != nil {
			logger.Fatal("inbound rate limiter initialization failed", zap.Error(err))
		}
		hubOpts.Limiter = limiter
	}

	hub, err := channel.NewHub(hubOpts, logger, metrics)
	if err != nil {
		logger.Fatal("delivery hub initialization failed", zap.Error(err))
	}

	var (
		pusher   channel.Pusher = hub
		consumer *queue.RabbitMQConsumer
		checks   []handler.ReadinessCheck
	)
	if cfg.RabbitMQURL != "" {
		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rmq.Close() //nolint:errcheck

		pusher = queue.NewRelayPusher(queue.NewRabbitMQPublisher(rmq))
		consumer = queue.NewRabbitMQConsumer(rmq, relayPrefetch, logger)
		checks = append(checks, handler.ReadinessCheck{Name: "rabbitmq", Check: rmq.Ping})
	}

	notificationRepo := repository.NewGormNotificationRepo(db)
	requestRepo := repository.NewGormRequestRepo(db)

	notificationService, err := service.NewNotificationService(
		notificationRepo,
		pusher,
		service.RetryPolicy{
			MaxAttempts: cfg.NotifyMaxAttempts,
			Delay:       cfg.NotifyRetryDelay(),
		},
		cfg.PushTimeout(),
		logger,
		metrics,
	)
	if err != nil {
		logger.Fatal("notification service initialization failed", zap.Error(err))
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	err = notificationService.VerifySchema(startupCtx)
	cancelStartup()
	if err != nil {
		logger.Fatal("notification store is not ready", zap.Error(err))
	}

	statusService, err := service.NewStatusService(requestRepo, notificationService, logger, metrics)
	if err != nil {
		logger.Fatal("status service initialization failed", zap.Error(err))
	}

	requestService, err := service.NewRequestService(requestRepo, notificationService, logger)
	if err != nil {
		logger.Fatal("request service initialization failed", zap.Error(err))
	}

	hub.SetInboundHandler(notificationService)

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, tokenTTL)
	if err != nil {
		logger.Fatal("token manager initialization failed", zap.Error(err))
	}
	authenticate := auth.Middleware(tokens)

	app := fiber.New(fiber.Config{
		AppName:               "rti-portal",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(transport.CorrelationID())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, checks...)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterChannelRoutes(app, hub, authenticate, logger); err != nil {
		logger.Fatal("channel route registration failed", zap.Error(err))
	}

	api := app.Group("/api")
	if err := handler.RegisterNotificationRoutes(api, notificationService, authenticate); err != nil {
		logger.Fatal("notification route registration failed", zap.Error(err))
	}
	if err := handler.RegisterRequestRoutes(api, requestService, statusService, authenticate); err != nil {
		logger.Fatal("request route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("rti-portal api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if consumer != nil {
		g.Go(func() error {
			logger.Info("channel relay consumer started", zap.String("exchange", queue.ExchangeName))
			return consumer.Consume(gctx, func(ctx context.Context, msg queue.EventMessage) error {
				if msg.CorrelationID != "" {
					ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
				}
				return hub.Publish(ctx, msg.UserID, msg.Event)
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// No new status changes once HTTP is down; pushes already started
		// still reach the hub before it closes its connections.
		httpErr := app.ShutdownWithContext(shutdownCtx)
		if err := statusService.Drain(shutdownCtx); err != nil {
			logger.Warn("pending pushes not drained", zap.Error(err))
		}
		hub.Stop()

		if httpErr != nil {
			return fmt.Errorf("http shutdown: %w", httpErr)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("rti-portal api stopped with error", zap.Error(err))
		return
	}
	logger.Info("rti-portal api stopped")
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		return sqlite.NewSQLite(cfg.DatabaseDSN)
	default:
		return postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.Pool{
			MaxOpenConns: cfg.DatabaseMaxOpenConns,
			MaxIdleConns: cfg.DatabaseMaxIdleConns,
		})
	}
}
