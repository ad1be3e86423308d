package repository

import (
	"context"
	"time"

	"github.com/Eursukkul/studio-booking/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BookingFilter narrows list queries. Zero values mean no restriction.
type BookingFilter struct {
	From  *time.Time
	To    *time.Time
	State *models.BookingState
}

type BookingRepository interface {
	Create(ctx context.Context, tx *gorm.DB, booking *models.Booking) error
	Update(ctx context.Context, tx *gorm.DB, booking *models.Booking) error
	FindByID(ctx context.Context, tx *gorm.DB, id string) (*models.Booking, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Booking, error)
	FindActiveOverlappingForUpdate(ctx context.Context, tx *gorm.DB, trainerID string, start, end time.Time) ([]models.Booking, error)
	FindActiveInRange(ctx context.Context, trainerID string, from, to time.Time) ([]models.Booking, error)
	FindByTrainer(ctx context.Context, trainerID string, f BookingFilter) ([]models.Booking, error)
	FindByClient(ctx context.Context, clientID string, f BookingFilter) ([]models.Booking, error)
	FindLapsedHoldIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	FindLapsedHoldsForClientForUpdate(ctx context.Context, tx *gorm.DB, clientID string, now time.Time) ([]models.Booking, error)
}

type bookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) BookingRepository {
	return &bookingRepository{db: db}
}

func (r *bookingRepository) Create(ctx context.Context, tx *gorm.DB, booking *models.Booking) error {
	return conn(ctx, r.db, tx).Create(booking).Error
}

func (r *bookingRepository) Update(ctx context.Context, tx *gorm.DB, booking *models.Booking) error {
	return conn(ctx, r.db, tx).Save(booking).Error
}

func (r *bookingRepository) FindByID(ctx context.Context, tx *gorm.DB, id string) (*models.Booking, error) {
	var booking models.Booking
	if err := conn(ctx, r.db, tx).First(&booking, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

// FindByIDForUpdate acquires a row-level lock on the booking within the given transaction.
func (r *bookingRepository) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Booking, error) {
	var booking models.Booking
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&booking, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

// FindActiveOverlappingForUpdate locks every active booking of the trainer
// whose interval intersects [start, end).
func (r *bookingRepository) FindActiveOverlappingForUpdate(ctx context.Context, tx *gorm.DB, trainerID string, start, end time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("trainer_id = ? AND state IN ?", trainerID, models.ActiveStates).
		Where("starts_at < ? AND ends_at > ?", end, start).
		Order("starts_at ASC").
		Find(&bookings).Error
	return bookings, err
}

func (r *bookingRepository) FindActiveInRange(ctx context.Context, trainerID string, from, to time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.WithContext(ctx).
		Where("trainer_id = ? AND state IN ?", trainerID, models.ActiveStates).
		Where("starts_at < ? AND ends_at > ?", to, from).
		Order("starts_at ASC").
		Find(&bookings).Error
	return bookings, err
}

func (r *bookingRepository) FindByTrainer(ctx context.Context, trainerID string, f BookingFilter) ([]models.Booking, error) {
	return r.list(ctx, "trainer_id = ?", trainerID, f)
}

func (r *bookingRepository) FindByClient(ctx context.Context, clientID string, f BookingFilter) ([]models.Booking, error) {
	return r.list(ctx, "client_id = ?", clientID, f)
}

func (r *bookingRepository) list(ctx context.Context, cond string, id string, f BookingFilter) ([]models.Booking, error) {
	var bookings []models.Booking
	q := r.db.WithContext(ctx).Where(cond, id)
	if f.From != nil {
		q = q.Where("ends_at > ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("starts_at < ?", *f.To)
	}
	if f.State != nil {
		q = q.Where("state = ?", *f.State)
	}
	if err := q.Order("starts_at ASC").Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

// FindLapsedHoldIDs returns holds whose expiry has passed, oldest first.
func (r *bookingRepository) FindLapsedHoldIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("state = ? AND hold_expires_at < ?", models.StateHold, now).
		Order("hold_expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// FindLapsedHoldsForClientForUpdate locks the client's holds whose expiry
// has passed, in id order.
func (r *bookingRepository) FindLapsedHoldsForClientForUpdate(ctx context.Context, tx *gorm.DB, clientID string, now time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("client_id = ? AND state = ? AND hold_expires_at < ?", clientID, models.StateHold, now).
		Order("id ASC").
		Find(&bookings).Error
	return bookings, err
}
