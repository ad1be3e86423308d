package models

import "time"

type RuleKind string

const (
	RuleRecurringWeekly RuleKind = "recurring_weekly"
	RuleOneOff          RuleKind = "one_off"
)

type RulePolarity string

const (
	PolarityOpen    RulePolarity = "open"
	PolarityBlocked RulePolarity = "blocked"
)

// AvailabilityRule times of day are "HH:MM" in the studio's location.
// StartDate/EndDate are inclusive calendar dates and only used by one-off rules.
type AvailabilityRule struct {
	ID        string       `gorm:"type:uuid;primaryKey" json:"id"`
	TrainerID string       `gorm:"type:varchar(64);not null;index" json:"trainer_id"`
	Kind      RuleKind     `gorm:"type:varchar(20);not null" json:"kind"`
	Weekday   *int         `json:"weekday,omitempty"`
	StartTime string       `gorm:"type:varchar(5);not null" json:"start_time"`
	EndTime   string       `gorm:"type:varchar(5);not null" json:"end_time"`
	StartDate *time.Time   `gorm:"type:date" json:"start_date,omitempty"`
	EndDate   *time.Time   `gorm:"type:date" json:"end_date,omitempty"`
	Polarity  RulePolarity `gorm:"type:varchar(10);not null" json:"polarity"`
	Reason    string       `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
