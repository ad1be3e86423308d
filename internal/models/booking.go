package models

import (
	"time"

	"gorm.io/datatypes"
)

type BookingState string

const (
	StateHold      BookingState = "hold"
	StateConfirmed BookingState = "confirmed"
	StateCheckedIn BookingState = "checked_in"
	StateCompleted BookingState = "completed"
	StateCancelled BookingState = "cancelled"
	StateExpired   BookingState = "expired"
)

// ActiveStates block the trainer's calendar.
var ActiveStates = []BookingState{StateHold, StateConfirmed, StateCheckedIn}

type Booking struct {
	ID              string         `gorm:"type:uuid;primaryKey" json:"id"`
	TrainerID       string         `gorm:"type:varchar(64);not null;index:idx_bookings_trainer_start,priority:1" json:"trainer_id"`
	ClientID        string         `gorm:"type:varchar(64);not null;index" json:"client_id"`
	ServiceID       string         `gorm:"type:varchar(64);not null" json:"service_id"`
	StartsAt        time.Time      `gorm:"not null;index:idx_bookings_trainer_start,priority:2" json:"starts_at"`
	EndsAt          time.Time      `gorm:"not null" json:"ends_at"`
	DurationMinutes int            `gorm:"not null" json:"duration_minutes"`
	CreditCost      int            `gorm:"not null;default:0" json:"credit_cost"`
	State           BookingState   `gorm:"type:varchar(20);not null;index" json:"state"`
	HoldExpiresAt   *time.Time     `json:"hold_expires_at,omitempty"`
	LedgerUsageID   *string        `gorm:"type:uuid" json:"ledger_usage_id,omitempty"`
	Completion      datatypes.JSON `gorm:"type:jsonb" json:"completion,omitempty"`
	ConfirmedAt     *time.Time     `json:"confirmed_at,omitempty"`
	CheckedInAt     *time.Time     `json:"checked_in_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
	CancelledBy     *string        `gorm:"type:varchar(64)" json:"cancelled_by,omitempty"`
	ExpiredAt       *time.Time     `json:"expired_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (b *Booking) Duration() time.Duration {
	return time.Duration(b.DurationMinutes) * time.Minute
}
