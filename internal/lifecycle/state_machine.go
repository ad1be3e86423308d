// Package lifecycle holds the booking state machine.
package lifecycle

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/Eursukkul/studio-booking/internal/models"
	"gorm.io/datatypes"
)

var (
	ErrInvalidTransition  = errors.New("invalid booking state transition")
	ErrMissingDeclaration = errors.New("completing a session requires a non-empty declaration")
)

// Event is a request to move a booking to another state.
type Event string

const (
	EventConfirm  Event = "confirm"
	EventExpire   Event = "expire"
	EventCheckIn  Event = "check_in"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
)

var transitions = map[models.BookingState]map[Event]models.BookingState{
	models.StateHold: {
		EventConfirm: models.StateConfirmed,
		EventExpire:  models.StateExpired,
	},
	models.StateConfirmed: {
		EventCheckIn: models.StateCheckedIn,
		EventCancel:  models.StateCancelled,
	},
	models.StateCheckedIn: {
		EventComplete: models.StateCompleted,
		EventCancel:   models.StateCancelled,
	},
	models.StateCompleted: {},
	models.StateCancelled: {},
	models.StateExpired:   {},
}

// Next returns the state ev leads to from s.
func Next(s models.BookingState, ev Event) (models.BookingState, bool) {
	to, ok := transitions[s][ev]
	return to, ok
}

func CanApply(s models.BookingState, ev Event) bool {
	_, ok := Next(s, ev)
	return ok
}

// IsTerminal reports whether no further transitions are possible from s.
// Unknown states are treated as terminal.
func IsTerminal(s models.BookingState) bool {
	return len(transitions[s]) == 0
}

// IsActive reports whether a booking in state s blocks the trainer's calendar.
func IsActive(s models.BookingState) bool {
	for _, a := range models.ActiveStates {
		if a == s {
			return true
		}
	}
	return false
}

// InitialState is hold when the service still has to be paid for,
// confirmed otherwise.
func InitialState(requiresPayment bool) models.BookingState {
	if requiresPayment {
		return models.StateHold
	}
	return models.StateConfirmed
}

// HoldLapsed reports whether b is a hold whose expiry has passed.
func HoldLapsed(b *models.Booking, now time.Time) bool {
	return b.State == models.StateHold && b.HoldExpiresAt != nil && now.After(*b.HoldExpiresAt)
}

// Apply moves b along ev and stamps the matching timestamp. On error b is
// left untouched.
func Apply(b *models.Booking, ev Event, now time.Time) error {
	to, ok := Next(b.State, ev)
	if !ok {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, b.State)
	}
	if ev == EventComplete && !HasDeclaration(b.Completion) {
		return ErrMissingDeclaration
	}

	t := now
	switch ev {
	case EventConfirm:
		b.ConfirmedAt = &t
		b.HoldExpiresAt = nil
	case EventExpire:
		b.ExpiredAt = &t
	case EventCheckIn:
		b.CheckedInAt = &t
	case EventComplete:
		b.CompletedAt = &t
	case EventCancel:
		b.CancelledAt = &t
	}
	b.State = to
	return nil
}

// Complete attaches the session declaration and applies EventComplete.
func Complete(b *models.Booking, declaration datatypes.JSON, now time.Time) error {
	if !HasDeclaration(declaration) {
		return ErrMissingDeclaration
	}
	prev := b.Completion
	b.Completion = declaration
	if err := Apply(b, EventComplete, now); err != nil {
		b.Completion = prev
		return err
	}
	return nil
}

// HasDeclaration rejects empty payloads, including JSON null and empty
// objects, arrays and strings.
func HasDeclaration(d datatypes.JSON) bool {
	v := bytes.TrimSpace(d)
	switch string(v) {
	case "", "null", "{}", "[]", `""`:
		return false
	}
	return true
}
