package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Eursukkul/studio-booking/internal/service"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBookingService struct {
	service.BookingService
	expireHoldFn   func(ctx context.Context, id string) (bool, error)
	expireLapsedFn func(ctx context.Context, limit int) (int, error)
}

func (m *mockBookingService) ExpireHold(ctx context.Context, id string) (bool, error) {
	return m.expireHoldFn(ctx, id)
}

func (m *mockBookingService) ExpireLapsedHolds(ctx context.Context, limit int) (int, error) {
	return m.expireLapsedFn(ctx, limit)
}

func TestNewHoldExpireTask(t *testing.T) {
	at := time.Date(2030, 3, 1, 12, 15, 1, 0, time.UTC)

	task, opts, err := NewHoldExpireTask("b-1", at)

	require.NoError(t, err)
	assert.Equal(t, TypeHoldExpire, task.Type())
	assert.JSONEq(t, `{"booking_id":"b-1"}`, string(task.Payload()))

	var gotAt time.Time
	var gotID string
	for _, o := range opts {
		switch o.Type() {
		case asynq.ProcessAtOpt:
			gotAt = o.Value().(time.Time)
		case asynq.TaskIDOpt:
			gotID = o.Value().(string)
		}
	}
	assert.Equal(t, at, gotAt)
	assert.Equal(t, "hold:b-1", gotID)
}

func TestHoldExpireTask_ExpiresBooking(t *testing.T) {
	var got string
	svc := &mockBookingService{
		expireHoldFn: func(ctx context.Context, id string) (bool, error) {
			got = id
			return true, nil
		},
	}
	task, _, err := NewHoldExpireTask("b-1", time.Now())
	require.NoError(t, err)

	err = NewServeMux(svc, 100, nil).ProcessTask(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, "b-1", got)
}

func TestHoldExpireTask_ErrorPolicy(t *testing.T) {
	cases := map[string]struct {
		err     error
		wantErr bool
	}{
		"already confirmed": {nil, false},
		"booking deleted":   {service.ErrBookingNotFound, false},
		"database down":     {errors.New("connection refused"), true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &mockBookingService{
				expireHoldFn: func(ctx context.Context, id string) (bool, error) {
					return false, tc.err
				},
			}
			task, _, _ := NewHoldExpireTask("b-1", time.Now())

			err := NewServeMux(svc, 100, nil).ProcessTask(context.Background(), task)

			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHoldExpireTask_BadPayloadSkipsRetry(t *testing.T) {
	svc := &mockBookingService{}

	err := NewServeMux(svc, 100, nil).ProcessTask(context.Background(), asynq.NewTask(TypeHoldExpire, []byte(`{}`)))

	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHoldSweep_PassesBatch(t *testing.T) {
	var gotLimit int
	svc := &mockBookingService{
		expireLapsedFn: func(ctx context.Context, limit int) (int, error) {
			gotLimit = limit
			return 3, nil
		},
	}

	err := NewServeMux(svc, 250, nil).ProcessTask(context.Background(), asynq.NewTask(TypeHoldSweep, nil))

	require.NoError(t, err)
	assert.Equal(t, 250, gotLimit)
}
