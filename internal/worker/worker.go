package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Eursukkul/studio-booking/internal/service"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Config struct {
	Concurrency   int
	SweepInterval time.Duration
	SweepBatch    int
}

// Worker runs the hold expiry tasks and the periodic sweep that catches
// holds whose task was lost.
type Worker struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	cfg       Config
	logger    *zap.Logger
}

func NewWorker(redis asynq.RedisConnOpt, bookings service.BookingService, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{"default": 1},
		Logger:      logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("[Worker] task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   logger.Sugar(),
	})

	return &Worker{
		srv:       srv,
		scheduler: scheduler,
		mux:       NewServeMux(bookings, cfg.SweepBatch, logger),
		cfg:       cfg,
		logger:    logger,
	}
}

// Start returns once the server and scheduler are running.
func (w *Worker) Start() error {
	cronspec := fmt.Sprintf("@every %s", w.cfg.SweepInterval)
	if _, err := w.scheduler.Register(cronspec, asynq.NewTask(TypeHoldSweep, nil)); err != nil {
		return fmt.Errorf("register hold sweep: %w", err)
	}
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	if err := w.scheduler.Start(); err != nil {
		w.srv.Shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	w.logger.Info("[Worker] started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("sweep_interval", w.cfg.SweepInterval),
	)
	return nil
}

func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.srv.Shutdown()
	w.logger.Info("[Worker] stopped")
}

func NewServeMux(bookings service.BookingService, batch int, logger *zap.Logger) *asynq.ServeMux {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeHoldExpire, handleHoldExpire(bookings, logger))
	mux.HandleFunc(TypeHoldSweep, handleHoldSweep(bookings, batch, logger))
	return mux
}

func handleHoldExpire(bookings service.BookingService, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p HoldExpirePayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil || p.BookingID == "" {
			logger.Error("[HoldExpireHandler] invalid payload", zap.ByteString("payload", task.Payload()))
			return fmt.Errorf("invalid hold expire payload: %w", asynq.SkipRetry)
		}

		expired, err := bookings.ExpireHold(ctx, p.BookingID)
		if err != nil {
			if !service.IsRetryable(err) {
				logger.Warn("[HoldExpireHandler] nothing to expire", zap.String("booking_id", p.BookingID), zap.Error(err))
				return nil
			}
			return err
		}
		if expired {
			logger.Info("[HoldExpireHandler] hold expired", zap.String("booking_id", p.BookingID))
		}
		return nil
	}
}

func handleHoldSweep(bookings service.BookingService, batch int, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		n, err := bookings.ExpireLapsedHolds(ctx, batch)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("[HoldSweep] expired lapsed holds", zap.Int("count", n))
		}
		return nil
	}
}
