package models

import (
	"time"

	"gorm.io/datatypes"
)

// TimeRange is a half-open "HH:MM" interval within one day.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DayHours struct {
	Weekday int         `json:"weekday"`
	Enabled bool        `json:"enabled"`
	Slots   []TimeRange `json:"slots"`
}

// Studio, Trainer and Service are owned by the studio configuration service
// and synced into the booking database by the catalog consumer.
type Studio struct {
	ID                      string                         `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name                    string                         `gorm:"not null" json:"name"`
	Timezone                string                         `gorm:"type:varchar(64);not null;default:'UTC'" json:"timezone"`
	CancellationWindowHours int                            `gorm:"not null;default:24" json:"cancellation_window_hours"`
	OperatingHours          datatypes.JSONType[[]DayHours] `gorm:"type:jsonb" json:"operating_hours"`
	CreatedAt               time.Time                      `json:"created_at"`
	UpdatedAt               time.Time                      `json:"updated_at"`
}

// Location falls back to UTC for unknown zone names.
func (s *Studio) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Trainer struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	StudioID  string    `gorm:"type:varchar(64);not null;index" json:"studio_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Service struct {
	ID              string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	TrainerID       string    `gorm:"type:varchar(64);not null;index" json:"trainer_id"`
	Name            string    `gorm:"not null" json:"name"`
	DurationMinutes int       `gorm:"not null" json:"duration_minutes"`
	CreditCost      int       `gorm:"not null;default:0" json:"credit_cost"`
	PriceCents      int64     `gorm:"not null;default:0" json:"price_cents"`
	Capacity        int       `gorm:"not null;default:1" json:"capacity"`
	Active          bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// RequiresPayment is true when a booking has to be held until credits or
// money are committed.
func (s *Service) RequiresPayment() bool {
	return s.CreditCost > 0 || s.PriceCents > 0
}
