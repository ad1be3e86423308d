package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/Eursukkul/studio-booking/internal/conflict"
	"github.com/Eursukkul/studio-booking/internal/lifecycle"
	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/Eursukkul/studio-booking/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_ConflictWithinMondayHours(t *testing.T) {
	f := newFixture(t)
	f.givePackage("pkg", "client-1", 10, 30*24*time.Hour)
	f.givePackage("pkg-2", "client-2", 10, 30*24*time.Hour)

	first := f.book(t, "client-1", "pt-60", at(monday, 10, 0))

	_, err := f.bookings.Create(context.Background(), CreateBookingInput{
		ClientID: "client-2", TrainerID: "trainer-1", ServiceID: "pt-60", StartsAt: at(monday, 10, 30),
	})
	assert.ErrorIs(t, err, ErrSlotConflict)

	second := f.book(t, "client-2", "pt-60", at(monday, 11, 0))

	assert.Equal(t, at(monday, 11, 0), first.EndsAt)
	assert.Equal(t, at(monday, 11, 0), second.StartsAt)
	assert.Len(t, f.store.AllBookings(), 2)
	assert.Equal(t, 9, f.remaining(t, "pkg-2"))
}

func TestCreate_OutsideOpenWindows(t *testing.T) {
	f := newFixture(t)

	cases := map[string]time.Time{
		"before opening":    at(monday, 8, 0),
		"runs past closing": at(monday, 16, 30),
		"closed weekday":    at(monday.AddDate(0, 0, 1), 10, 0),
		"in the past":       at(monday.AddDate(0, 0, -7), 10, 0),
	}
	for name, start := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.bookings.Create(context.Background(), CreateBookingInput{
				ClientID: "client-1", TrainerID: "trainer-1", ServiceID: "free-60", StartsAt: start,
			})
			assert.ErrorIs(t, err, ErrOutsideOperatingHours)
		})
	}
	assert.Empty(t, f.store.AllBookings())
}

func TestCreate_LastSlotBeforeClosing(t *testing.T) {
	f := newFixture(t)

	b := f.book(t, "client-1", "free-60", at(monday, 16, 0))

	assert.Equal(t, at(monday, 17, 0), b.EndsAt)
}

func TestCreate_CatalogErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.bookings.Create(ctx, CreateBookingInput{ClientID: "c", TrainerID: "nobody", ServiceID: "pt-60", StartsAt: at(monday, 10, 0)})
	assert.ErrorIs(t, err, ErrTrainerNotFound)

	_, err = f.bookings.Create(ctx, CreateBookingInput{ClientID: "c", TrainerID: "trainer-1", ServiceID: "missing", StartsAt: at(monday, 10, 0)})
	assert.ErrorIs(t, err, ErrServiceNotFound)

	_, err = f.bookings.Create(ctx, CreateBookingInput{ClientID: "c", TrainerID: "trainer-1", ServiceID: "other-trainer", StartsAt: at(monday, 10, 0)})
	assert.ErrorIs(t, err, ErrServiceNotFound)

	_, err = f.bookings.Create(ctx, CreateBookingInput{ClientID: "c", TrainerID: "trainer-1", ServiceID: "retired", StartsAt: at(monday, 10, 0)})
	assert.ErrorIs(t, err, ErrServiceInactive)
}

func TestCreate_FreeServiceIsConfirmedImmediately(t *testing.T) {
	f := newFixture(t)

	b := f.book(t, "client-1", "free-60", at(monday, 9, 0))

	assert.Equal(t, models.StateConfirmed, b.State)
	assert.Nil(t, b.HoldExpiresAt)
	assert.Nil(t, b.LedgerUsageID)
	require.NotNil(t, b.ConfirmedAt)
	assert.Empty(t, f.scheduler.scheduled)
	assert.Equal(t, 1, f.publisher.count(RoutingBookingCreated))
	assert.Equal(t, 1, f.cache.invalidated["trainer-1"])
}

func TestCreate_PaidServiceStartsAsHoldWithoutCredits(t *testing.T) {
	f := newFixture(t)

	b := f.book(t, "client-1", "paid-60", at(monday, 9, 0))

	assert.Equal(t, models.StateHold, b.State)
	assert.Nil(t, b.LedgerUsageID)
	assert.Empty(t, f.store.Entries())
}

func TestCreate_CreditServiceHoldsAndSplitsCredits(t *testing.T) {
	f := newFixture(t)
	f.givePackage("near", "client-1", 2, 3*24*time.Hour)
	f.givePackage("far", "client-1", 5, 30*24*time.Hour)

	b := f.book(t, "client-1", "pt-3cr", at(monday, 10, 0))

	assert.Equal(t, models.StateHold, b.State)
	require.NotNil(t, b.HoldExpiresAt)
	assert.Equal(t, friday.Add(15*time.Minute), *b.HoldExpiresAt)
	require.NotNil(t, b.LedgerUsageID)
	assert.Equal(t, 0, f.remaining(t, "near"))
	assert.Equal(t, 4, f.remaining(t, "far"))

	entries := f.store.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, *b.LedgerUsageID, *e.UsageID)
		assert.Equal(t, b.ID, *e.BookingID)
	}
	assert.Equal(t, b.HoldExpiresAt.Add(time.Second), f.scheduler.scheduled[b.ID])
}

func TestCreate_InsufficientCreditsLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.givePackage("small", "client-1", 2, 30*24*time.Hour)

	_, err := f.bookings.Create(context.Background(), CreateBookingInput{
		ClientID: "client-1", TrainerID: "trainer-1", ServiceID: "pt-3cr", StartsAt: at(monday, 10, 0),
	})

	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Empty(t, f.store.AllBookings())
	assert.Empty(t, f.store.Entries())
	assert.Equal(t, 2, f.remaining(t, "small"))
	assert.Zero(t, f.publisher.count(RoutingBookingCreated))
}

func TestCancel_WindowScenario(t *testing.T) {
	ctx := context.Background()

	t.Run("30 hours ahead restores credits exactly", func(t *testing.T) {
		f := newFixture(t)
		f.givePackage("near", "client-1", 2, 3*24*time.Hour)
		f.givePackage("far", "client-1", 5, 30*24*time.Hour)
		b := f.book(t, "client-1", "pt-3cr", at(monday, 10, 0))
		_, err := f.bookings.Confirm(ctx, b.ID)
		require.NoError(t, err)

		f.clock.Set(at(monday, 10, 0).Add(-30 * time.Hour))
		got, err := f.bookings.Cancel(ctx, b.ID, "client-1")

		require.NoError(t, err)
		assert.Equal(t, models.StateCancelled, got.State)
		require.NotNil(t, got.CancelledBy)
		assert.Equal(t, "client-1", *got.CancelledBy)
		assert.Equal(t, 2, f.remaining(t, "near"))
		assert.Equal(t, 5, f.remaining(t, "far"))
		assert.Len(t, f.store.Entries(), 4)
		assert.Equal(t, 1, f.publisher.count(RoutingBookingCancelled))
	})

	t.Run("10 hours ahead is refused", func(t *testing.T) {
		f := newFixture(t)
		f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
		b := f.book(t, "client-1", "pt-3cr", at(monday, 10, 0))
		_, err := f.bookings.Confirm(ctx, b.ID)
		require.NoError(t, err)

		f.clock.Set(at(monday, 10, 0).Add(-10 * time.Hour))
		_, err = f.bookings.Cancel(ctx, b.ID, "client-1")

		assert.ErrorIs(t, err, ErrOutsideCancellationWindow)
		stored, _ := f.store.Booking(b.ID)
		assert.Equal(t, models.StateConfirmed, stored.State)
		assert.Equal(t, 2, f.remaining(t, "pkg"))
	})

	t.Run("exactly at the window edge is refused", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, "client-1", "free-60", at(monday, 10, 0))

		f.clock.Set(at(monday, 10, 0).Add(-24 * time.Hour))
		_, err := f.bookings.Cancel(ctx, b.ID, "trainer-1")

		assert.ErrorIs(t, err, ErrOutsideCancellationWindow)
	})
}

func TestCancel_TwiceRefundsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
	b := f.book(t, "client-1", "pt-3cr", at(monday, 10, 0))
	_, err := f.bookings.Confirm(ctx, b.ID)
	require.NoError(t, err)

	_, err = f.bookings.Cancel(ctx, b.ID, "trainer-1")
	require.NoError(t, err)
	_, err = f.bookings.Cancel(ctx, b.ID, "client-1")

	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 5, f.remaining(t, "pkg"))
	assert.Len(t, f.store.Entries(), 2)
}

func TestCancel_Refusals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
	hold := f.book(t, "client-1", "pt-60", at(monday, 10, 0))

	_, err := f.bookings.Cancel(ctx, hold.ID, "stranger")
	assert.ErrorIs(t, err, ErrNotBookingParty)

	_, err = f.bookings.Cancel(ctx, hold.ID, "client-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NotErrorIs(t, err, ErrAlreadyTerminal)

	_, err = f.bookings.Cancel(ctx, "missing", "client-1")
	assert.ErrorIs(t, err, ErrBookingNotFound)

	assert.Equal(t, 4, f.remaining(t, "pkg"))
}

func TestCancel_LapsedHoldIsExpiredAndCommitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
	b := f.book(t, "client-1", "pt-3cr", at(monday, 10, 0))

	f.clock.Advance(16 * time.Minute)
	_, err := f.bookings.Cancel(ctx, b.ID, "client-1")

	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	stored, _ := f.store.Booking(b.ID)
	assert.Equal(t, models.StateExpired, stored.State)
	assert.Equal(t, 5, f.remaining(t, "pkg"))
	assert.Equal(t, 1, f.publisher.count(RoutingBookingExpired))
}

func TestConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
	b := f.book(t, "client-1", "pt-60", at(monday, 10, 0))

	f.clock.Advance(14 * time.Minute)
	got, err := f.bookings.Confirm(ctx, b.ID)

	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, got.State)
	assert.Nil(t, got.HoldExpiresAt)

	_, err = f.bookings.Confirm(ctx, b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConfirm_AfterHoldLapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
	b := f.book(t, "client-1", "pt-60", at(monday, 10, 0))

	f.clock.Advance(15*time.Minute + time.Second)
	_, err := f.bookings.Confirm(ctx, b.ID)

	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, 5, f.remaining(t, "pkg"))
}

func TestCheckInAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "client-1", "free-60", at(monday, 10, 0))

	_, err := f.bookings.Complete(ctx, b.ID, nil)
	assert.ErrorIs(t, err, ErrMissingDeclaration)

	got, err := f.bookings.CheckIn(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCheckedIn, got.State)

	got, err = f.bookings.Complete(ctx, b.ID, declaration)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, got.State)
	assert.JSONEq(t, string(declaration), string(got.Completion))

	_, err = f.bookings.CheckIn(ctx, b.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestComplete_WalkInFromConfirmedKeepsCreditsSpent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
	b := f.book(t, "client-1", "pt-60", at(monday, 10, 0))
	_, err := f.bookings.Confirm(ctx, b.ID)
	require.NoError(t, err)

	got, err := f.bookings.Complete(ctx, b.ID, declaration)

	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, got.State)
	assert.NotNil(t, got.CheckedInAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 4, f.remaining(t, "pkg"))
}

func TestCheckIn_FromHoldIsInvalid(t *testing.T) {
	f := newFixture(t)
	f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
	b := f.book(t, "client-1", "pt-60", at(monday, 10, 0))

	_, err := f.bookings.CheckIn(context.Background(), b.ID)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	stored, _ := f.store.Booking(b.ID)
	assert.Equal(t, models.StateHold, stored.State)
}

func TestGet_ExpiresLapsedHoldOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
	b := f.book(t, "client-1", "pt-3cr", at(monday, 10, 0))
	f.clock.Advance(20 * time.Minute)

	first, err := f.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	second, err := f.bookings.Get(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StateExpired, first.State)
	assert.Equal(t, models.StateExpired, second.State)
	assert.Equal(t, 5, f.remaining(t, "pkg"))
	assert.Len(t, f.store.Entries(), 2)
	assert.Equal(t, 1, f.publisher.count(RoutingBookingExpired))
}

func TestExpireHold_ConcurrentObserversExpireExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
	b := f.book(t, "client-1", "pt-3cr", at(monday, 10, 0))
	f.clock.Advance(time.Hour)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			var err error
			if i%2 == 0 {
				ok, err = f.bookings.ExpireHold(ctx, b.ID)
			} else {
				_, err = f.bookings.Get(ctx, b.ID)
			}
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	stored, _ := f.store.Booking(b.ID)
	assert.Equal(t, models.StateExpired, stored.State)
	assert.Equal(t, 5, f.remaining(t, "pkg"))
	assert.Len(t, f.store.Entries(), 2)
	assert.Equal(t, 1, f.publisher.count(RoutingBookingExpired))
	assert.LessOrEqual(t, wins, 1)
}

func TestCreate_LapsedHoldFreesTheSlot(t *testing.T) {
	f := newFixture(t)
	f.givePackage("a", "client-a", 5, 30*24*time.Hour)
	f.givePackage("b", "client-b", 5, 30*24*time.Hour)
	stale := f.book(t, "client-a", "pt-60", at(monday, 10, 0))

	f.clock.Advance(16 * time.Minute)
	fresh := f.book(t, "client-b", "pt-60", at(monday, 10, 0))

	old, _ := f.store.Booking(stale.ID)
	assert.Equal(t, models.StateExpired, old.State)
	assert.Equal(t, models.StateHold, fresh.State)
	assert.Equal(t, 5, f.remaining(t, "a"))
	assert.Equal(t, 4, f.remaining(t, "b"))
}

func TestCreate_LapsedHoldExpiryCommitsEvenWhenCreateFails(t *testing.T) {
	f := newFixture(t)
	f.givePackage("a", "client-a", 5, 30*24*time.Hour)
	stale := f.book(t, "client-a", "pt-60", at(monday, 10, 0))

	f.clock.Advance(16 * time.Minute)
	_, err := f.bookings.Create(context.Background(), CreateBookingInput{
		ClientID: "broke", TrainerID: "trainer-1", ServiceID: "pt-60", StartsAt: at(monday, 10, 0),
	})

	assert.ErrorIs(t, err, ErrInsufficientCredits)
	old, _ := f.store.Booking(stale.ID)
	assert.Equal(t, models.StateExpired, old.State)
	assert.Equal(t, 5, f.remaining(t, "a"))
}

func TestCreate_RefundsClientsLapsedHoldOnAnotherSlot(t *testing.T) {
	f := newFixture(t)
	f.givePackage("pkg", "client-1", 1, 30*24*time.Hour)
	stale := f.book(t, "client-1", "pt-60", at(monday, 10, 0))
	require.Equal(t, 0, f.remaining(t, "pkg"))

	f.clock.Advance(16 * time.Minute)
	fresh, err := f.bookings.Create(context.Background(), CreateBookingInput{
		ClientID: "client-1", TrainerID: "trainer-1", ServiceID: "pt-60", StartsAt: at(monday, 14, 0),
	})

	require.NoError(t, err)
	assert.Equal(t, models.StateHold, fresh.State)
	old, _ := f.store.Booking(stale.ID)
	assert.Equal(t, models.StateExpired, old.State)
	assert.Equal(t, 0, f.remaining(t, "pkg"))
	assert.Equal(t, 1, f.publisher.count(RoutingBookingExpired))
}

func TestExpireClientHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 5, 30*24*time.Hour)
	f.givePackage("other", "client-2", 5, 30*24*time.Hour)
	f.book(t, "client-1", "pt-60", at(monday, 9, 0))
	f.book(t, "client-2", "pt-60", at(monday, 11, 0))
	f.clock.Advance(16 * time.Minute)

	n, err := f.bookings.ExpireClientHolds(ctx, "client-1")

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5, f.remaining(t, "pkg"))
	assert.Equal(t, 4, f.remaining(t, "other"))

	n, err = f.bookings.ExpireClientHolds(ctx, "client-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireLapsedHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 10, 30*24*time.Hour)
	f.book(t, "client-1", "pt-60", at(monday, 9, 0))
	f.book(t, "client-1", "pt-60", at(monday, 10, 0))
	f.clock.Advance(10 * time.Minute)
	f.book(t, "client-1", "pt-60", at(monday, 11, 0))
	f.clock.Advance(6 * time.Minute)

	n, err := f.bookings.ExpireLapsedHolds(ctx, 100)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 9, f.remaining(t, "pkg"))

	n, err = f.bookings.ExpireLapsedHolds(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListForClient_ReportsCurrentState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 10, 30*24*time.Hour)
	f.book(t, "client-1", "pt-60", at(monday, 9, 0))
	f.book(t, "client-1", "free-60", at(monday, 11, 0))
	f.clock.Advance(time.Hour)

	got, err := f.bookings.ListForClient(ctx, "client-1", repository.BookingFilter{})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.StateExpired, got[0].State)
	assert.Equal(t, models.StateConfirmed, got[1].State)

	confirmed := models.StateConfirmed
	got, err = f.bookings.ListForTrainer(ctx, "trainer-1", repository.BookingFilter{State: &confirmed})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPublishFailureDoesNotFailTheBooking(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	b := f.book(t, "client-1", "free-60", at(monday, 9, 0))

	stored, ok := f.store.Booking(b.ID)
	require.True(t, ok)
	assert.Equal(t, models.StateConfirmed, stored.State)
}

// Random interleavings of creates, cancels and clock moves must never leave
// two active bookings overlapping for the trainer.
func TestCreate_NeverOverlapsUnderRandomSequences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.givePackage("pkg", "client-1", 1000, 30*24*time.Hour)
	rng := rand.New(rand.NewSource(7))
	services := []string{"pt-60", "free-60"}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		seeds := make([]int64, 40)
		for i := range seeds {
			seeds[i] = rng.Int63()
		}
		wg.Add(1)
		go func(seeds []int64) {
			defer wg.Done()
			for _, seed := range seeds {
				r := rand.New(rand.NewSource(seed))
				start := at(monday, 9, 0).Add(time.Duration(r.Intn(29)) * 15 * time.Minute)
				b, err := f.bookings.Create(ctx, CreateBookingInput{
					ClientID: "client-1", TrainerID: "trainer-1", ServiceID: services[r.Intn(2)], StartsAt: start,
				})
				if err != nil {
					if !errors.Is(err, ErrSlotConflict) && !errors.Is(err, ErrOutsideOperatingHours) {
						t.Errorf("unexpected error: %v", err)
					}
					continue
				}
				switch r.Intn(3) {
				case 0:
					_, _ = f.bookings.Cancel(ctx, b.ID, "client-1")
				case 1:
					_, _ = f.bookings.Confirm(ctx, b.ID)
				}
			}
		}(seeds)
	}
	wg.Wait()

	var active []models.Booking
	for _, b := range f.store.AllBookings() {
		if lifecycle.IsActive(b.State) {
			active = append(active, b)
		}
	}
	require.NotEmpty(t, active)
	for i := range active {
		others := append(append([]models.Booking(nil), active[:i]...), active[i+1:]...)
		assert.False(t, conflict.Conflicts(active[i].StartsAt, active[i].Duration(), others),
			"booking %s at %s overlaps another active booking", active[i].ID, active[i].StartsAt)
	}
}
