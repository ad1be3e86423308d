package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeHoldExpire = "booking:hold_expire"
	TypeHoldSweep  = "booking:hold_sweep"
)

type HoldExpirePayload struct {
	BookingID string `json:"booking_id"`
}

// NewHoldExpireTask builds a task that fires at the hold deadline. The
// booking id doubles as the task id so a booking is scheduled at most once.
func NewHoldExpireTask(bookingID string, at time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(HoldExpirePayload{BookingID: bookingID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeHoldExpire, b)
	opts := []asynq.Option{
		asynq.ProcessAt(at),
		asynq.TaskID("hold:" + bookingID),
		asynq.MaxRetry(5),
		asynq.Retention(time.Hour),
	}
	return task, opts, nil
}

// HoldExpiryScheduler enqueues delayed expiry tasks on Redis.
type HoldExpiryScheduler struct {
	client *asynq.Client
}

func NewHoldExpiryScheduler(client *asynq.Client) *HoldExpiryScheduler {
	return &HoldExpiryScheduler{client: client}
}

func (s *HoldExpiryScheduler) ScheduleHoldExpiry(ctx context.Context, bookingID string, at time.Time) error {
	task, opts, err := NewHoldExpireTask(bookingID, at)
	if err != nil {
		return err
	}
	if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue hold expiry for %s: %w", bookingID, err)
	}
	return nil
}
