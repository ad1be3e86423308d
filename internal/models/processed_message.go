package models

import "time"

// ProcessedMessage records consumed broker messages so redeliveries are no-ops.
type ProcessedMessage struct {
	ID          string    `gorm:"type:varchar(128);primaryKey"`
	RoutingKey  string    `gorm:"type:varchar(64);index"`
	ProcessedAt time.Time `gorm:"not null"`
}
