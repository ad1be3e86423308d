package dto

import (
	"encoding/json"
	"time"
)

type CreateBookingRequest struct {
	ClientID  string    `json:"client_id" validate:"required"`
	TrainerID string    `json:"trainer_id" validate:"required"`
	ServiceID string    `json:"service_id" validate:"required"`
	StartTime time.Time `json:"start_time" validate:"required"`
}

type CancelBookingRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
}

type CompleteBookingRequest struct {
	Declaration json.RawMessage `json:"declaration" validate:"required"`
}

// CreateRuleRequest dates are calendar dates ("2006-01-02") in the studio's
// location; times are "HH:MM". Which fields a kind needs is checked by
// availability.ValidateRule.
type CreateRuleRequest struct {
	Kind      string  `json:"kind" validate:"required,oneof=recurring_weekly one_off"`
	Weekday   *int    `json:"weekday" validate:"omitempty,min=0,max=6"`
	StartTime string  `json:"start_time" validate:"required,len=5"`
	EndTime   string  `json:"end_time" validate:"required,len=5"`
	StartDate *string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   *string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Polarity  string  `json:"polarity" validate:"required,oneof=open blocked"`
	Reason    string  `json:"reason" validate:"max=500"`
}

type GrantPackageRequest struct {
	Credits   int        `json:"credits" validate:"required,gt=0"`
	ExpiresAt *time.Time `json:"expires_at"`
	SourceRef *string    `json:"source_ref" validate:"omitempty,max=128"`
	Note      string     `json:"note" validate:"max=500"`
}

type AdjustPackageRequest struct {
	Delta int    `json:"delta" validate:"required,ne=0"`
	Note  string `json:"note" validate:"required,max=500"`
}
