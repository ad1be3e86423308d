package service

import (
	"context"
	"time"

	"github.com/Eursukkul/studio-booking/internal/ledger"
	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/Eursukkul/studio-booking/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type GrantInput struct {
	ClientID  string
	Credits   int
	ExpiresAt *time.Time
	SourceRef *string
	Note      string
}

type CreditService interface {
	Summary(ctx context.Context, clientID string) (*ledger.Summary, error)
	History(ctx context.Context, clientID string, limit int) ([]models.LedgerEntry, error)
	GrantPackage(ctx context.Context, in GrantInput) (*models.CreditPackage, error)
	AdjustPackage(ctx context.Context, packageID string, delta int, note string) (*models.LedgerEntry, error)
}

type creditService struct {
	tx      repository.TxManager
	ledger  *ledger.Ledger
	expirer HoldExpirer
	logger  *zap.Logger
}

func NewCreditService(tx repository.TxManager, l *ledger.Ledger, expirer HoldExpirer, logger *zap.Logger) CreditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &creditService{tx: tx, ledger: l, expirer: expirer, logger: logger}
}

// settle returns the credits of the client's lapsed holds before a read.
func (s *creditService) settle(ctx context.Context, clientID string) error {
	if s.expirer == nil {
		return nil
	}
	_, err := s.expirer.ExpireClientHolds(ctx, clientID)
	return err
}

func (s *creditService) Summary(ctx context.Context, clientID string) (*ledger.Summary, error) {
	if err := s.settle(ctx, clientID); err != nil {
		return nil, err
	}
	return s.ledger.Summary(ctx, clientID)
}

func (s *creditService) History(ctx context.Context, clientID string, limit int) ([]models.LedgerEntry, error) {
	if err := s.settle(ctx, clientID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, clientID, limit)
}

// GrantPackage is idempotent when SourceRef is set.
func (s *creditService) GrantPackage(ctx context.Context, in GrantInput) (*models.CreditPackage, error) {
	var pkg *models.CreditPackage
	err := s.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		p, err := s.ledger.Grant(ctx, tx, in.ClientID, in.Credits, in.ExpiresAt, in.SourceRef, in.Note)
		if err != nil {
			return err
		}
		pkg = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("[CreditService] package granted",
		zap.String("package_id", pkg.ID),
		zap.String("client_id", pkg.ClientID),
		zap.Int("credits", pkg.TotalCredits),
	)
	return pkg, nil
}

func (s *creditService) AdjustPackage(ctx context.Context, packageID string, delta int, note string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		e, err := s.ledger.Adjust(ctx, tx, packageID, delta, note)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("[CreditService] package adjusted",
		zap.String("package_id", packageID),
		zap.Int("delta", delta),
		zap.String("reason", string(entry.Reason)),
	)
	return entry, nil
}
