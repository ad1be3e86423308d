package ledger

import (
	"context"
	"time"

	"github.com/Eursukkul/studio-booking/internal/models"
)

type PackageBalance struct {
	Package   models.CreditPackage
	Remaining int
	Status    models.PackageStatus
}

type Summary struct {
	ClientID       string
	TotalRemaining int
	NearestExpiry  *time.Time
	Packages       []PackageBalance
}

// Summary is a display read. It takes no locks and must not feed a write.
func (l *Ledger) Summary(ctx context.Context, clientID string) (*Summary, error) {
	pkgs, err := l.repo.FindPackagesByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	now := l.now()

	s := &Summary{ClientID: clientID, Packages: make([]PackageBalance, 0, len(pkgs))}
	for _, p := range pkgs {
		status := p.StatusAt(now)
		s.Packages = append(s.Packages, PackageBalance{Package: p, Remaining: p.Remaining(), Status: status})
		if status != models.PackageActive {
			continue
		}
		s.TotalRemaining += p.Remaining()
		if p.ExpiresAt != nil && (s.NearestExpiry == nil || p.ExpiresAt.Before(*s.NearestExpiry)) {
			exp := *p.ExpiresAt
			s.NearestExpiry = &exp
		}
	}
	return s, nil
}

func (l *Ledger) History(ctx context.Context, clientID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.repo.FindEntriesByClient(ctx, clientID, limit)
}
