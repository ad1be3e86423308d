package database

import (
	"fmt"
	"time"

	"github.com/Eursukkul/studio-booking/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// backstop enforces at the database level what the services already
// guarantee under row locks.
var backstop = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,

	// No two active bookings of one trainer may overlap.
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'bookings_no_overlap') THEN
			ALTER TABLE bookings ADD CONSTRAINT bookings_no_overlap
			EXCLUDE USING gist (trainer_id WITH =, tstzrange(starts_at, ends_at, '[)') WITH &&)
			WHERE (state IN ('hold', 'confirmed', 'checked_in'));
		END IF;
	END $$`,

	// A usage id is reserved by one booking only.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_usage
	ON bookings (ledger_usage_id)
	WHERE ledger_usage_id IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_bookings_lapsed_holds
	ON bookings (hold_expires_at)
	WHERE state = 'hold'`,
}

func NewPostgresDB(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("[Database] connected and migrated")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Studio{},
		&models.Trainer{},
		&models.Service{},
		&models.AvailabilityRule{},
		&models.Booking{},
		&models.CreditPackage{},
		&models.LedgerEntry{},
		&models.ProcessedMessage{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	for _, stmt := range backstop {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply constraints: %w", err)
		}
	}
	return nil
}
