package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Eursukkul/studio-booking/internal/availability"
	"github.com/Eursukkul/studio-booking/internal/cache"
	"github.com/Eursukkul/studio-booking/internal/ledger"
	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/Eursukkul/studio-booking/internal/repository/memorytest"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// 2030-03-01 is a Friday; 2030-03-04 is the following Monday.
var (
	friday = time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)
	monday = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)
)

func at(day time.Time, hour, min int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, time.UTC)
}

// --- fakes ---

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type published struct {
	routingKey string
	event      BookingEvent
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, _ := payload.(BookingEvent)
	p.events = append(p.events, published{routingKey: routingKey, event: ev})
	return p.err
}

func (p *fakePublisher) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.routingKey == routingKey {
			n++
		}
	}
	return n
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
}

func (s *fakeScheduler) ScheduleHoldExpiry(ctx context.Context, bookingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduled == nil {
		s.scheduled = map[string]time.Time{}
	}
	s.scheduled[bookingID] = at
	return nil
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[cache.Key][]availability.Window
	hits        int
	invalidated map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[cache.Key][]availability.Window{}, invalidated: map[string]int{}}
}

func (c *fakeCache) Get(ctx context.Context, key cache.Key) ([]availability.Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return ws, ok
}

func (c *fakeCache) Set(ctx context.Context, key cache.Key, ws []availability.Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ws
}

func (c *fakeCache) Invalidate(ctx context.Context, trainerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated[trainerID]++
	for k := range c.entries {
		if k.TrainerID == trainerID {
			delete(c.entries, k)
		}
	}
}

// --- fixture ---

type fixture struct {
	store     *memorytest.Store
	clock     *clock
	ledger    *ledger.Ledger
	publisher *fakePublisher
	scheduler *fakeScheduler
	cache     *fakeCache
	bookings  BookingService
	avail     AvailabilityService
	credits   CreditService
}

// newFixture seeds one UTC studio with a 24h cancellation window, trainer-1
// open Mondays 09:00-17:00, and these services:
//
//	pt-60   60 min, 1 credit
//	pt-3cr  60 min, 3 credits
//	free-60 60 min, free
//	paid-60 60 min, paid in money only
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:     memorytest.NewStore(),
		clock:     &clock{t: friday},
		publisher: &fakePublisher{},
		scheduler: &fakeScheduler{},
		cache:     newFakeCache(),
	}
	f.ledger = ledger.New(f.store.Credits(), ledger.WithClock(f.clock.Now))

	catalog := f.store.Catalog()
	require.NoError(t, catalog.UpsertStudio(ctx, nil, &models.Studio{
		ID:                      "studio-1",
		Name:                    "Riverside",
		Timezone:                "UTC",
		CancellationWindowHours: 24,
	}))
	require.NoError(t, catalog.UpsertTrainer(ctx, nil, &models.Trainer{ID: "trainer-1", StudioID: "studio-1", Name: "Ploy"}))
	require.NoError(t, catalog.UpsertTrainer(ctx, nil, &models.Trainer{ID: "trainer-2", StudioID: "studio-1", Name: "Ton"}))
	for _, svc := range []models.Service{
		{ID: "pt-60", TrainerID: "trainer-1", Name: "PT", DurationMinutes: 60, CreditCost: 1, Active: true},
		{ID: "pt-3cr", TrainerID: "trainer-1", Name: "PT premium", DurationMinutes: 60, CreditCost: 3, Active: true},
		{ID: "free-60", TrainerID: "trainer-1", Name: "Intro", DurationMinutes: 60, Active: true},
		{ID: "paid-60", TrainerID: "trainer-1", Name: "Drop-in", DurationMinutes: 60, PriceCents: 50000, Active: true},
		{ID: "retired", TrainerID: "trainer-1", Name: "Old", DurationMinutes: 60, Active: false},
		{ID: "other-trainer", TrainerID: "trainer-2", Name: "Yoga", DurationMinutes: 60, Active: true},
	} {
		svc := svc
		require.NoError(t, catalog.UpsertService(ctx, nil, &svc))
	}

	mon := int(time.Monday)
	require.NoError(t, f.store.Rules().Create(ctx, &models.AvailabilityRule{
		ID:        "rule-mon",
		TrainerID: "trainer-1",
		Kind:      models.RuleRecurringWeekly,
		Weekday:   &mon,
		StartTime: "09:00",
		EndTime:   "17:00",
		Polarity:  models.PolarityOpen,
	}))

	f.bookings = NewBookingService(BookingServiceDeps{
		Tx:        f.store,
		Bookings:  f.store.Bookings(),
		Catalog:   catalog,
		Rules:     f.store.Rules(),
		Ledger:    f.ledger,
		Publisher: f.publisher,
		Scheduler: f.scheduler,
		Cache:     f.cache,
		HoldTTL:   15 * time.Minute,
		Now:       f.clock.Now,
	})
	f.avail = NewAvailabilityService(f.store.Bookings(), catalog, f.store.Rules(), f.cache, f.bookings, nil, f.clock.Now)
	f.credits = NewCreditService(f.store, f.ledger, f.bookings, nil)
	return f
}

func (f *fixture) givePackage(id, clientID string, total int, expiresIn time.Duration) {
	exp := friday.Add(expiresIn)
	f.store.PutPackage(models.CreditPackage{
		ID:           id,
		ClientID:     clientID,
		TotalCredits: total,
		ExpiresAt:    &exp,
		CreatedAt:    friday.Add(-time.Hour),
	})
}

func (f *fixture) remaining(t *testing.T, id string) int {
	t.Helper()
	p, ok := f.store.Package(id)
	require.True(t, ok)
	return p.Remaining()
}

func (f *fixture) book(t *testing.T, clientID, serviceID string, start time.Time) *models.Booking {
	t.Helper()
	b, err := f.bookings.Create(context.Background(), CreateBookingInput{
		ClientID:  clientID,
		TrainerID: "trainer-1",
		ServiceID: serviceID,
		StartsAt:  start,
	})
	require.NoError(t, err)
	return b
}

var declaration = datatypes.JSON(`{"exercises":["squat"],"notes":"good session"}`)
