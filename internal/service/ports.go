package service

import (
	"context"
	"time"

	"github.com/Eursukkul/studio-booking/internal/availability"
	"github.com/Eursukkul/studio-booking/internal/cache"
	"github.com/Eursukkul/studio-booking/internal/models"
)

// EventPublisher announces booking changes to the rest of the platform.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// HoldScheduler arranges for a hold to be expired once its deadline passes.
// Lazy expiry stays authoritative; this only shortens how long a lapsed
// hold sits unobserved.
type HoldScheduler interface {
	ScheduleHoldExpiry(ctx context.Context, bookingID string, at time.Time) error
}

// HoldExpirer applies lazy expiry on read paths so a lapsed hold neither
// blocks a slot nor keeps its credits.
type HoldExpirer interface {
	ExpireHold(ctx context.Context, id string) (bool, error)
	ExpireClientHolds(ctx context.Context, clientID string) (int, error)
}

type WindowCache interface {
	Get(ctx context.Context, key cache.Key) ([]availability.Window, bool)
	Set(ctx context.Context, key cache.Key, windows []availability.Window)
	Invalidate(ctx context.Context, trainerID string)
}

const (
	RoutingBookingCreated   = "booking.created"
	RoutingBookingConfirmed = "booking.confirmed"
	RoutingBookingCheckedIn = "booking.checked_in"
	RoutingBookingCompleted = "booking.completed"
	RoutingBookingCancelled = "booking.cancelled"
	RoutingBookingExpired   = "booking.expired"
)

type BookingEvent struct {
	BookingID     string              `json:"booking_id"`
	TrainerID     string              `json:"trainer_id"`
	ClientID      string              `json:"client_id"`
	ServiceID     string              `json:"service_id"`
	State         models.BookingState `json:"state"`
	StartsAt      time.Time           `json:"starts_at"`
	EndsAt        time.Time           `json:"ends_at"`
	CreditCost    int                 `json:"credit_cost"`
	HoldExpiresAt *time.Time          `json:"hold_expires_at,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

func newBookingEvent(b *models.Booking, at time.Time) BookingEvent {
	return BookingEvent{
		BookingID:     b.ID,
		TrainerID:     b.TrainerID,
		ClientID:      b.ClientID,
		ServiceID:     b.ServiceID,
		State:         b.State,
		StartsAt:      b.StartsAt,
		EndsAt:        b.EndsAt,
		CreditCost:    b.CreditCost,
		HoldExpiresAt: b.HoldExpiresAt,
		OccurredAt:    at,
	}
}
