package repository

import (
	"context"

	"github.com/Eursukkul/studio-booking/internal/models"
	"gorm.io/gorm"
)

type AvailabilityRepository interface {
	Create(ctx context.Context, rule *models.AvailabilityRule) error
	FindByTrainer(ctx context.Context, tx *gorm.DB, trainerID string) ([]models.AvailabilityRule, error)
	Delete(ctx context.Context, trainerID, id string) error
}

type availabilityRepository struct {
	db *gorm.DB
}

func NewAvailabilityRepository(db *gorm.DB) AvailabilityRepository {
	return &availabilityRepository{db: db}
}

func (r *availabilityRepository) Create(ctx context.Context, rule *models.AvailabilityRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *availabilityRepository) FindByTrainer(ctx context.Context, tx *gorm.DB, trainerID string) ([]models.AvailabilityRule, error) {
	var rules []models.AvailabilityRule
	err := conn(ctx, r.db, tx).
		Where("trainer_id = ?", trainerID).
		Order("created_at ASC, id ASC").
		Find(&rules).Error
	return rules, err
}

// Delete returns gorm.ErrRecordNotFound when the trainer has no such rule.
func (r *availabilityRepository) Delete(ctx context.Context, trainerID, id string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND trainer_id = ?", id, trainerID).
		Delete(&models.AvailabilityRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
