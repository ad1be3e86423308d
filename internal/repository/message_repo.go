package repository

import (
	"context"
	"time"

	"github.com/Eursukkul/studio-booking/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository remembers which broker messages were already handled.
type MessageRepository interface {
	IsProcessed(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id, routingKey string) error
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) IsProcessed(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ProcessedMessage{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}

func (r *messageRepository) MarkProcessed(ctx context.Context, id, routingKey string) error {
	rec := models.ProcessedMessage{ID: id, RoutingKey: routingKey, ProcessedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}
