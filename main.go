package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Eursukkul/studio-booking/config"
	"github.com/Eursukkul/studio-booking/internal/cache"
	"github.com/Eursukkul/studio-booking/internal/consumer"
	"github.com/Eursukkul/studio-booking/internal/handler"
	"github.com/Eursukkul/studio-booking/internal/ledger"
	"github.com/Eursukkul/studio-booking/internal/middleware"
	"github.com/Eursukkul/studio-booking/internal/repository"
	"github.com/Eursukkul/studio-booking/internal/service"
	"github.com/Eursukkul/studio-booking/internal/worker"
	"github.com/Eursukkul/studio-booking/pkg/database"
	"github.com/Eursukkul/studio-booking/pkg/logger"
	"github.com/Eursukkul/studio-booking/pkg/obs"
	"github.com/Eursukkul/studio-booking/pkg/rabbitmq"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echoMw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const serviceName = "studio-booking"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, serviceName, cfg.Env, cfg.OTLPEndpoint, log)
	if err != nil {
		log.Fatal("failed to init tracer", zap.Error(err))
	}

	db, err := database.NewPostgresDB(cfg.DSN(), log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	redisClient, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisCacheDB)
	if err != nil {
		log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	windowCache := cache.NewAvailabilityCache(redisClient, cfg.AvailabilityTTL, log)

	// RabbitMQ publisher: booking lifecycle events
	publisher, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange, log)
	if err != nil {
		log.Fatal("failed to connect publisher to RabbitMQ", zap.Error(err))
	}
	defer publisher.Close()

	// asynq: delayed hold expiry
	queueRedis := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB}
	asynqClient := asynq.NewClient(queueRedis)
	defer asynqClient.Close()

	// Repositories
	txManager := repository.NewTxManager(db)
	bookingRepo := repository.NewBookingRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	ruleRepo := repository.NewAvailabilityRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// Services
	creditLedger := ledger.New(creditRepo)
	bookingSvc := service.NewBookingService(service.BookingServiceDeps{
		Tx:        txManager,
		Bookings:  bookingRepo,
		Catalog:   catalogRepo,
		Rules:     ruleRepo,
		Ledger:    creditLedger,
		Publisher: publisher,
		Scheduler: worker.NewHoldExpiryScheduler(asynqClient),
		Cache:     windowCache,
		Logger:    log,
		HoldTTL:   cfg.HoldTTL,
	})
	availabilitySvc := service.NewAvailabilityService(bookingRepo, catalogRepo, ruleRepo, windowCache, bookingSvc, log, nil)
	creditSvc := service.NewCreditService(txManager, creditLedger, bookingSvc, log)

	// RabbitMQ consumer: catalog sync and payment events
	eventConsumer := consumer.NewConsumer(messageRepo, log)
	consumer.NewCatalogSync(catalogRepo, windowCache, log).Register(eventConsumer)
	consumer.NewPaymentEvents(bookingSvc, creditSvc, log).Register(eventConsumer)

	mqConsumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitExchange, cfg.RabbitQueue, eventConsumer.RoutingKeys(), log)
	if err != nil {
		log.Fatal("failed to connect consumer to RabbitMQ", zap.Error(err))
	}
	defer mqConsumer.Close()

	msgs, err := mqConsumer.Consume(ctx)
	if err != nil {
		log.Fatal("failed to start consuming", zap.Error(err))
	}
	consumerDone := eventConsumer.Start(ctx, msgs)

	holdWorker := worker.NewWorker(queueRedis, bookingSvc, worker.Config{
		Concurrency:   cfg.WorkerConcurrency,
		SweepInterval: cfg.SweepInterval,
		SweepBatch:    cfg.SweepBatch,
	}, log)
	if err := holdWorker.Start(); err != nil {
		log.Fatal("failed to start hold worker", zap.Error(err))
	}

	// Echo
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.HTTPErrorHandler = middleware.ErrorHandler(log)
	e.Use(middleware.RequestLogger(log))
	e.Use(echoMw.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
	})

	api := e.Group("/api/v1")
	handler.NewBookingHandler(bookingSvc).RegisterRoutes(api)
	handler.NewAvailabilityHandler(availabilitySvc).RegisterRoutes(api)
	handler.NewCreditHandler(creditSvc).RegisterRoutes(api)

	go func() {
		log.Info("Booking Service starting", zap.String("port", cfg.ServerPort))
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	holdWorker.Shutdown()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn("consumer did not drain before timeout")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown", zap.Error(err))
	}
}
