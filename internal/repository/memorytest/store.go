// Package memorytest provides an in-process implementation of the
// repository interfaces for tests. Transactions are serialized and rolled
// back by restoring a snapshot, which is enough to exercise the service
// layer without Postgres. Production code must not import it.
package memorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Eursukkul/studio-booking/internal/lifecycle"
	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/Eursukkul/studio-booking/internal/repository"
	"gorm.io/gorm"
)

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	bookings  map[string]models.Booking
	packages  map[string]models.CreditPackage
	entries   []models.LedgerEntry
	rules     map[string]models.AvailabilityRule
	studios   map[string]models.Studio
	trainers  map[string]models.Trainer
	services  map[string]models.Service
	processed map[string]models.ProcessedMessage
	seq       int
}

func NewStore() *Store {
	return &Store{
		bookings:  map[string]models.Booking{},
		packages:  map[string]models.CreditPackage{},
		rules:     map[string]models.AvailabilityRule{},
		studios:   map[string]models.Studio{},
		trainers:  map[string]models.Trainer{},
		services:  map[string]models.Service{},
		processed: map[string]models.ProcessedMessage{},
	}
}

type snapshot struct {
	bookings map[string]models.Booking
	packages map[string]models.CreditPackage
	entries  []models.LedgerEntry
	rules    map[string]models.AvailabilityRule
}

// WithinTx runs fn with the store locked against other transactions. fn
// receives a nil *gorm.DB; repositories here ignore it.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snap := s.snapshot()
	if err := fn(nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		bookings: cloneMap(s.bookings),
		packages: cloneMap(s.packages),
		entries:  append([]models.LedgerEntry(nil), s.entries...),
		rules:    cloneMap(s.rules),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = snap.bookings
	s.packages = snap.packages
	s.entries = snap.entries
	s.rules = snap.rules
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// nextSeq orders rows created within the same instant.
func (s *Store) nextSeq() time.Duration {
	s.seq++
	return time.Duration(s.seq)
}

func (s *Store) Bookings() repository.BookingRepository { return &bookingRepo{s} }
func (s *Store) Credits() repository.CreditRepository { return &creditRepo{s} }
func (s *Store) Rules() repository.AvailabilityRepository { return &ruleRepo{s} }
func (s *Store) Catalog() repository.CatalogRepository { return &catalogRepo{s} }
func (s *Store) Messages() repository.MessageRepository { return &messageRepo{s} }

// Test helpers for inspecting state directly.

func (s *Store) Booking(id string) (models.Booking, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	return b, ok
}

func (s *Store) AllBookings() []models.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

func (s *Store) Package(id string) (models.CreditPackage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packages[id]
	return p, ok
}

func (s *Store) Entries() []models.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LedgerEntry(nil), s.entries...)
}

func (s *Store) PutPackage(p models.CreditPackage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[p.ID] = p
}

func (s *Store) PutBooking(b models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

// --- bookings ---

type bookingRepo struct{ s *Store }

func (r *bookingRepo) Create(_ context.Context, _ *gorm.DB, b *models.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.bookings[b.ID]; ok {
		return gorm.ErrDuplicatedKey
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	r.s.bookings[b.ID] = *b
	return nil
}

func (r *bookingRepo) Update(_ context.Context, _ *gorm.DB, b *models.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b.UpdatedAt = time.Now()
	r.s.bookings[b.ID] = *b
	return nil
}

func (r *bookingRepo) FindByID(_ context.Context, _ *gorm.DB, id string) (*models.Booking, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &b, nil
}

func (r *bookingRepo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Booking, error) {
	return r.FindByID(ctx, tx, id)
}

func (r *bookingRepo) FindActiveOverlappingForUpdate(_ context.Context, _ *gorm.DB, trainerID string, start, end time.Time) ([]models.Booking, error) {
	return r.active(trainerID, start, end), nil
}

func (r *bookingRepo) FindActiveInRange(_ context.Context, trainerID string, from, to time.Time) ([]models.Booking, error) {
	return r.active(trainerID, from, to), nil
}

func (r *bookingRepo) active(trainerID string, from, to time.Time) []models.Booking {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.Booking
	for _, b := range r.s.bookings {
		if b.TrainerID != trainerID || !lifecycle.IsActive(b.State) {
			continue
		}
		if b.StartsAt.Before(to) && b.EndsAt.After(from) {
			out = append(out, b)
		}
	}
	sortByStart(out)
	return out
}

func (r *bookingRepo) FindByTrainer(_ context.Context, trainerID string, f repository.BookingFilter) ([]models.Booking, error) {
	return r.list(func(b models.Booking) bool { return b.TrainerID == trainerID }, f), nil
}

func (r *bookingRepo) FindByClient(_ context.Context, clientID string, f repository.BookingFilter) ([]models.Booking, error) {
	return r.list(func(b models.Booking) bool { return b.ClientID == clientID }, f), nil
}

func (r *bookingRepo) list(match func(models.Booking) bool, f repository.BookingFilter) []models.Booking {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.Booking
	for _, b := range r.s.bookings {
		if !match(b) {
			continue
		}
		if f.From != nil && !b.EndsAt.After(*f.From) {
			continue
		}
		if f.To != nil && !b.StartsAt.Before(*f.To) {
			continue
		}
		if f.State != nil && b.State != *f.State {
			continue
		}
		out = append(out, b)
	}
	sortByStart(out)
	return out
}

func (r *bookingRepo) FindLapsedHoldIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var holds []models.Booking
	for _, b := range r.s.bookings {
		if b.State == models.StateHold && b.HoldExpiresAt != nil && b.HoldExpiresAt.Before(now) {
			holds = append(holds, b)
		}
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].HoldExpiresAt.Before(*holds[j].HoldExpiresAt) })
	ids := make([]string, 0, len(holds))
	for i, b := range holds {
		if limit > 0 && i >= limit {
			break
		}
		ids = append(ids, b.ID)
	}
	return ids, nil
}

func (r *bookingRepo) FindLapsedHoldsForClientForUpdate(_ context.Context, _ *gorm.DB, clientID string, now time.Time) ([]models.Booking, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.Booking
	for _, b := range r.s.bookings {
		if b.ClientID == clientID && b.State == models.StateHold && b.HoldExpiresAt != nil && b.HoldExpiresAt.Before(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func sortByStart(bs []models.Booking) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].StartsAt.Before(bs[j].StartsAt) })
}

// --- credits ---

type creditRepo struct{ s *Store }

func (r *creditRepo) LockEligiblePackages(_ context.Context, _ *gorm.DB, clientID string, now time.Time) ([]models.CreditPackage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.CreditPackage
	for _, p := range r.s.packages {
		if p.ClientID != clientID || p.Remaining() <= 0 {
			continue
		}
		if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *creditRepo) FindPackageForUpdate(_ context.Context, _ *gorm.DB, id string) (*models.CreditPackage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.packages[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *creditRepo) FindPackageBySourceRef(_ context.Context, _ *gorm.DB, ref string) (*models.CreditPackage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.packages {
		if p.SourceRef != nil && *p.SourceRef == ref {
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *creditRepo) CreatePackage(_ context.Context, _ *gorm.DB, p *models.CreditPackage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.packages[p.ID]; ok {
		return gorm.ErrDuplicatedKey
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().Add(r.s.nextSeq())
	}
	p.UpdatedAt = p.CreatedAt
	r.s.packages[p.ID] = *p
	return nil
}

func (r *creditRepo) UpdateBalance(_ context.Context, _ *gorm.DB, p *models.CreditPackage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.packages[p.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	cur.TotalCredits = p.TotalCredits
	cur.ConsumedCredits = p.ConsumedCredits
	cur.UpdatedAt = time.Now()
	r.s.packages[p.ID] = cur
	return nil
}

func (r *creditRepo) AppendEntries(_ context.Context, _ *gorm.DB, entries []models.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range entries {
		if e.ReversesEntryID == nil {
			continue
		}
		for _, existing := range r.s.entries {
			if existing.ReversesEntryID != nil && *existing.ReversesEntryID == *e.ReversesEntryID {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	r.s.entries = append(r.s.entries, entries...)
	return nil
}

func (r *creditRepo) FindEntriesByUsage(_ context.Context, _ *gorm.DB, usageID string) ([]models.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.LedgerEntry
	for _, e := range r.s.entries {
		if e.UsageID != nil && *e.UsageID == usageID && e.Reason == models.ReasonBooking {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *creditRepo) FindReversedEntryIDs(_ context.Context, _ *gorm.DB, entryIDs []string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	want := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		want[id] = true
	}
	var out []string
	for _, e := range r.s.entries {
		if e.ReversesEntryID != nil && want[*e.ReversesEntryID] {
			out = append(out, *e.ReversesEntryID)
		}
	}
	return out, nil
}

func (r *creditRepo) FindPackagesByClient(_ context.Context, clientID string) ([]models.CreditPackage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.CreditPackage
	for _, p := range r.s.packages {
		if p.ClientID == clientID {
			out = append(out, p)
		}
	}
	sortPackages(out)
	return out, nil
}

func (r *creditRepo) FindEntriesByClient(_ context.Context, clientID string, limit int) ([]models.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.LedgerEntry
	for i := len(r.s.entries) - 1; i >= 0; i-- {
		e := r.s.entries[i]
		if e.ClientID != clientID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// sortPackages matches "expires_at ASC NULLS LAST, created_at ASC, id ASC".
func sortPackages(ps []models.CreditPackage) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// --- availability rules ---

type ruleRepo struct{ s *Store }

func (r *ruleRepo) Create(_ context.Context, rule *models.AvailabilityRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().Add(r.s.nextSeq())
	}
	r.s.rules[rule.ID] = *rule
	return nil
}

func (r *ruleRepo) FindByTrainer(_ context.Context, _ *gorm.DB, trainerID string) ([]models.AvailabilityRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.AvailabilityRule
	for _, rule := range r.s.rules {
		if rule.TrainerID == trainerID {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *ruleRepo) Delete(_ context.Context, trainerID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.rules[id]
	if !ok || rule.TrainerID != trainerID {
		return gorm.ErrRecordNotFound
	}
	delete(r.s.rules, id)
	return nil
}

// --- catalog ---

type catalogRepo struct{ s *Store }

func (r *catalogRepo) FindTrainer(_ context.Context, _ *gorm.DB, id string) (*models.Trainer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.trainers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &t, nil
}

func (r *catalogRepo) FindTrainerForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Trainer, error) {
	return r.FindTrainer(ctx, tx, id)
}

func (r *catalogRepo) FindStudio(_ context.Context, _ *gorm.DB, id string) (*models.Studio, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.studios[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &st, nil
}

func (r *catalogRepo) FindService(_ context.Context, _ *gorm.DB, id string) (*models.Service, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	svc, ok := r.s.services[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &svc, nil
}

func (r *catalogRepo) UpsertStudio(_ context.Context, _ *gorm.DB, st *models.Studio) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st.UpdatedAt = time.Now()
	r.s.studios[st.ID] = *st
	return nil
}

func (r *catalogRepo) UpsertTrainer(_ context.Context, _ *gorm.DB, t *models.Trainer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.UpdatedAt = time.Now()
	r.s.trainers[t.ID] = *t
	return nil
}

func (r *catalogRepo) UpsertService(_ context.Context, _ *gorm.DB, svc *models.Service) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	svc.UpdatedAt = time.Now()
	r.s.services[svc.ID] = *svc
	return nil
}

// --- processed messages ---

type messageRepo struct{ s *Store }

func (r *messageRepo) IsProcessed(_ context.Context, id string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.processed[id]
	return ok, nil
}

func (r *messageRepo) MarkProcessed(_ context.Context, id, routingKey string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.processed[id]; !ok {
		r.s.processed[id] = models.ProcessedMessage{ID: id, RoutingKey: routingKey, ProcessedAt: time.Now().UTC()}
	}
	return nil
}
