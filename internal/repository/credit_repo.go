package repository

import (
	"context"
	"time"

	"github.com/Eursukkul/studio-booking/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreditRepository interface {
	LockEligiblePackages(ctx context.Context, tx *gorm.DB, clientID string, now time.Time) ([]models.CreditPackage, error)
	FindPackageForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.CreditPackage, error)
	FindPackageBySourceRef(ctx context.Context, tx *gorm.DB, ref string) (*models.CreditPackage, error)
	CreatePackage(ctx context.Context, tx *gorm.DB, pkg *models.CreditPackage) error
	UpdateBalance(ctx context.Context, tx *gorm.DB, pkg *models.CreditPackage) error
	AppendEntries(ctx context.Context, tx *gorm.DB, entries []models.LedgerEntry) error
	FindEntriesByUsage(ctx context.Context, tx *gorm.DB, usageID string) ([]models.LedgerEntry, error)
	FindReversedEntryIDs(ctx context.Context, tx *gorm.DB, entryIDs []string) ([]string, error)
	FindPackagesByClient(ctx context.Context, clientID string) ([]models.CreditPackage, error)
	FindEntriesByClient(ctx context.Context, clientID string, limit int) ([]models.LedgerEntry, error)
}

type creditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) CreditRepository {
	return &creditRepository{db: db}
}

// LockEligiblePackages locks the client's packages that still have credits
// and have not expired. Rows are locked in id order, the same order Reverse
// takes; callers sort for deduction afterwards.
func (r *creditRepository) LockEligiblePackages(ctx context.Context, tx *gorm.DB, clientID string, now time.Time) ([]models.CreditPackage, error) {
	var pkgs []models.CreditPackage
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("client_id = ? AND total_credits > consumed_credits", clientID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("id ASC").
		Find(&pkgs).Error
	return pkgs, err
}

func (r *creditRepository) FindPackageForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&pkg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *creditRepository) FindPackageBySourceRef(ctx context.Context, tx *gorm.DB, ref string) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	if err := conn(ctx, r.db, tx).First(&pkg, "source_ref = ?", ref).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *creditRepository) CreatePackage(ctx context.Context, tx *gorm.DB, pkg *models.CreditPackage) error {
	return conn(ctx, r.db, tx).Create(pkg).Error
}

func (r *creditRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, pkg *models.CreditPackage) error {
	return conn(ctx, r.db, tx).
		Model(&models.CreditPackage{}).
		Where("id = ?", pkg.ID).
		Updates(map[string]any{
			"total_credits":    pkg.TotalCredits,
			"consumed_credits": pkg.ConsumedCredits,
			"updated_at":       time.Now(),
		}).Error
}

func (r *creditRepository) AppendEntries(ctx context.Context, tx *gorm.DB, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return conn(ctx, r.db, tx).Create(&entries).Error
}

func (r *creditRepository) FindEntriesByUsage(ctx context.Context, tx *gorm.DB, usageID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := conn(ctx, r.db, tx).
		Where("usage_id = ? AND reason = ?", usageID, models.ReasonBooking).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *creditRepository) FindReversedEntryIDs(ctx context.Context, tx *gorm.DB, entryIDs []string) ([]string, error) {
	var ids []string
	if len(entryIDs) == 0 {
		return ids, nil
	}
	err := conn(ctx, r.db, tx).
		Model(&models.LedgerEntry{}).
		Where("reverses_entry_id IN ?", entryIDs).
		Pluck("reverses_entry_id", &ids).Error
	return ids, err
}

func (r *creditRepository) FindPackagesByClient(ctx context.Context, clientID string) ([]models.CreditPackage, error) {
	var pkgs []models.CreditPackage
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("expires_at ASC NULLS LAST, created_at ASC").
		Find(&pkgs).Error
	return pkgs, err
}

func (r *creditRepository) FindEntriesByClient(ctx context.Context, clientID string, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
