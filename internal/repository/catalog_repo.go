package repository

import (
	"context"

	"github.com/Eursukkul/studio-booking/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogRepository reads and syncs the studio, trainer and service records
// owned by the studio configuration service.
type CatalogRepository interface {
	FindTrainer(ctx context.Context, tx *gorm.DB, id string) (*models.Trainer, error)
	FindTrainerForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Trainer, error)
	FindStudio(ctx context.Context, tx *gorm.DB, id string) (*models.Studio, error)
	FindService(ctx context.Context, tx *gorm.DB, id string) (*models.Service, error)
	UpsertStudio(ctx context.Context, tx *gorm.DB, studio *models.Studio) error
	UpsertTrainer(ctx context.Context, tx *gorm.DB, trainer *models.Trainer) error
	UpsertService(ctx context.Context, tx *gorm.DB, svc *models.Service) error
}

type catalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) FindTrainer(ctx context.Context, tx *gorm.DB, id string) (*models.Trainer, error) {
	var trainer models.Trainer
	if err := conn(ctx, r.db, tx).First(&trainer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &trainer, nil
}

// FindTrainerForUpdate acquires a row-level lock on the trainer within the
// given transaction. Booking creation for one trainer serializes on it.
func (r *catalogRepository) FindTrainerForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Trainer, error) {
	var trainer models.Trainer
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&trainer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &trainer, nil
}

func (r *catalogRepository) FindStudio(ctx context.Context, tx *gorm.DB, id string) (*models.Studio, error) {
	var studio models.Studio
	if err := conn(ctx, r.db, tx).First(&studio, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &studio, nil
}

func (r *catalogRepository) FindService(ctx context.Context, tx *gorm.DB, id string) (*models.Service, error) {
	var svc models.Service
	if err := conn(ctx, r.db, tx).First(&svc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &svc, nil
}

// Upserts: insert or update on conflict (same ID from the studio configuration service)

func (r *catalogRepository) UpsertStudio(ctx context.Context, tx *gorm.DB, studio *models.Studio) error {
	return conn(ctx, r.db, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "timezone", "cancellation_window_hours", "operating_hours", "updated_at"}),
	}).Create(studio).Error
}

func (r *catalogRepository) UpsertTrainer(ctx context.Context, tx *gorm.DB, trainer *models.Trainer) error {
	return conn(ctx, r.db, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"studio_id", "name", "updated_at"}),
	}).Create(trainer).Error
}

func (r *catalogRepository) UpsertService(ctx context.Context, tx *gorm.DB, svc *models.Service) error {
	return conn(ctx, r.db, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"trainer_id", "name", "duration_minutes", "credit_cost", "price_cents", "capacity", "active", "updated_at"}),
	}).Create(svc).Error
}
