// Package ledger owns client credit balances. Every change to a package is
// paired with an append-only LedgerEntry so refunds can be computed exactly.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/Eursukkul/studio-booking/internal/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
	ErrPackageNotFound     = errors.New("credit package not found")
	ErrInconsistentLedger  = errors.New("ledger entry does not match package balance")
)

type Ledger struct {
	repo repository.CreditRepository
	now  func() time.Time
}

type Option func(*Ledger)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(repo repository.CreditRepository, opts ...Option) *Ledger {
	l := &Ledger{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve deducts credits from the client's eligible packages, soonest
// expiry first. It either deducts the full amount or changes nothing and
// returns ErrInsufficientCredits. One entry is written per package touched,
// all sharing a fresh usage id. Must run inside tx.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, clientID string, credits int, bookingID *string) ([]models.LedgerEntry, error) {
	if credits <= 0 {
		return nil, ErrInvalidAmount
	}
	now := l.now()

	pkgs, err := l.repo.LockEligiblePackages(ctx, tx, clientID, now)
	if err != nil {
		return nil, fmt.Errorf("lock packages: %w", err)
	}
	// Locked in id order; deduct soonest expiry first.
	pkgs = eligible(pkgs, now)
	sortForDeduction(pkgs)

	available := 0
	for _, p := range pkgs {
		available += p.Remaining()
	}
	if available < credits {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientCredits, credits, available)
	}

	usageID := uuid.NewString()
	var entries []models.LedgerEntry
	left := credits
	for i := range pkgs {
		if left == 0 {
			break
		}
		p := &pkgs[i]
		take := min(p.Remaining(), left)
		p.ConsumedCredits += take
		if err := l.repo.UpdateBalance(ctx, tx, p); err != nil {
			return nil, fmt.Errorf("update package %s: %w", p.ID, err)
		}
		entries = append(entries, models.LedgerEntry{
			ID:               uuid.NewString(),
			PackageID:        p.ID,
			ClientID:         clientID,
			BookingID:        bookingID,
			UsageID:          &usageID,
			Delta:            -take,
			ResultingBalance: p.Remaining(),
			Reason:           models.ReasonBooking,
			CreatedAt:        now,
		})
		left -= take
	}

	if err := l.repo.AppendEntries(ctx, tx, entries); err != nil {
		return nil, fmt.Errorf("append entries: %w", err)
	}
	return entries, nil
}

// Reverse writes the exact inverse of each deduction against the same
// package it came from, expired or not. Entries that were already reversed
// are skipped, so calling Reverse twice refunds once. Must run inside tx.
func (l *Ledger) Reverse(ctx context.Context, tx *gorm.DB, entries []models.LedgerEntry, note string) ([]models.LedgerEntry, error) {
	var deductions []models.LedgerEntry
	for _, e := range entries {
		if e.Delta < 0 {
			deductions = append(deductions, e)
		}
	}
	if len(deductions) == 0 {
		return nil, nil
	}

	ids := make([]string, len(deductions))
	for i, e := range deductions {
		ids[i] = e.ID
	}
	reversed, err := l.repo.FindReversedEntryIDs(ctx, tx, ids)
	if err != nil {
		return nil, fmt.Errorf("find reversals: %w", err)
	}
	done := make(map[string]bool, len(reversed))
	for _, id := range reversed {
		done[id] = true
	}

	// Packages are locked in id order, matching LockEligiblePackages.
	sort.Slice(deductions, func(i, j int) bool { return deductions[i].PackageID < deductions[j].PackageID })

	now := l.now()
	pkgs := make(map[string]*models.CreditPackage)
	var refunds []models.LedgerEntry
	for _, e := range deductions {
		if done[e.ID] {
			continue
		}
		p, ok := pkgs[e.PackageID]
		if !ok {
			p, err = l.repo.FindPackageForUpdate(ctx, tx, e.PackageID)
			if err != nil {
				return nil, fmt.Errorf("lock package %s: %w", e.PackageID, err)
			}
			pkgs[e.PackageID] = p
		}
		p.ConsumedCredits += e.Delta
		if p.ConsumedCredits < 0 {
			return nil, fmt.Errorf("%w: package %s", ErrInconsistentLedger, p.ID)
		}
		origID := e.ID
		refunds = append(refunds, models.LedgerEntry{
			ID:               uuid.NewString(),
			PackageID:        p.ID,
			ClientID:         e.ClientID,
			BookingID:        e.BookingID,
			UsageID:          e.UsageID,
			ReversesEntryID:  &origID,
			Delta:            -e.Delta,
			ResultingBalance: p.Remaining(),
			Reason:           models.ReasonRefund,
			Note:             note,
			CreatedAt:        now,
		})
	}
	if len(refunds) == 0 {
		return nil, nil
	}

	for _, p := range pkgs {
		if err := l.repo.UpdateBalance(ctx, tx, p); err != nil {
			return nil, fmt.Errorf("update package %s: %w", p.ID, err)
		}
	}
	if err := l.repo.AppendEntries(ctx, tx, refunds); err != nil {
		return nil, fmt.Errorf("append refunds: %w", err)
	}
	return refunds, nil
}

// ReverseUsage reverses every deduction written under usageID.
func (l *Ledger) ReverseUsage(ctx context.Context, tx *gorm.DB, usageID, note string) ([]models.LedgerEntry, error) {
	entries, err := l.repo.FindEntriesByUsage(ctx, tx, usageID)
	if err != nil {
		return nil, fmt.Errorf("load usage %s: %w", usageID, err)
	}
	return l.Reverse(ctx, tx, entries, note)
}

// Grant creates a new package funded with credits. A non-nil sourceRef
// makes the grant idempotent: a second call returns the existing package.
func (l *Ledger) Grant(ctx context.Context, tx *gorm.DB, clientID string, credits int, expiresAt *time.Time, sourceRef *string, note string) (*models.CreditPackage, error) {
	if credits <= 0 {
		return nil, ErrInvalidAmount
	}
	if sourceRef != nil {
		existing, err := l.repo.FindPackageBySourceRef(ctx, tx, *sourceRef)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	now := l.now()
	pkg := &models.CreditPackage{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		TotalCredits: credits,
		ExpiresAt:    expiresAt,
		SourceRef:    sourceRef,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.repo.CreatePackage(ctx, tx, pkg); err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}
	entry := models.LedgerEntry{
		ID:               uuid.NewString(),
		PackageID:        pkg.ID,
		ClientID:         clientID,
		Delta:            credits,
		ResultingBalance: pkg.Remaining(),
		Reason:           models.ReasonPurchase,
		Note:             note,
		CreatedAt:        now,
	}
	if err := l.repo.AppendEntries(ctx, tx, []models.LedgerEntry{entry}); err != nil {
		return nil, fmt.Errorf("append grant: %w", err)
	}
	return pkg, nil
}

// Adjust applies a manual correction to one package. A positive delta
// raises the package total, a negative one consumes remaining credits and
// fails with ErrInsufficientCredits rather than going below zero.
func (l *Ledger) Adjust(ctx context.Context, tx *gorm.DB, packageID string, delta int, note string) (*models.LedgerEntry, error) {
	if delta == 0 {
		return nil, ErrInvalidAmount
	}
	p, err := l.repo.FindPackageForUpdate(ctx, tx, packageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}

	reason := models.ReasonManualGrant
	if delta > 0 {
		p.TotalCredits += delta
	} else {
		if p.Remaining() < -delta {
			return nil, fmt.Errorf("%w: package %s has %d", ErrInsufficientCredits, p.ID, p.Remaining())
		}
		p.ConsumedCredits -= delta
		reason = models.ReasonManualDeduction
	}
	if err := l.repo.UpdateBalance(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("update package %s: %w", p.ID, err)
	}

	entry := models.LedgerEntry{
		ID:               uuid.NewString(),
		PackageID:        p.ID,
		ClientID:         p.ClientID,
		Delta:            delta,
		ResultingBalance: p.Remaining(),
		Reason:           reason,
		Note:             note,
		CreatedAt:        l.now(),
	}
	if err := l.repo.AppendEntries(ctx, tx, []models.LedgerEntry{entry}); err != nil {
		return nil, fmt.Errorf("append adjustment: %w", err)
	}
	return &entry, nil
}

func eligible(pkgs []models.CreditPackage, now time.Time) []models.CreditPackage {
	out := pkgs[:0]
	for _, p := range pkgs {
		if p.StatusAt(now) == models.PackageActive {
			out = append(out, p)
		}
	}
	return out
}

// sortForDeduction orders packages soonest expiry first, never-expiring
// last, then by creation time.
func sortForDeduction(pkgs []models.CreditPackage) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		a, b := pkgs[i], pkgs[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
