package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Eursukkul/studio-booking/internal/availability"
	"github.com/Eursukkul/studio-booking/internal/conflict"
	"github.com/Eursukkul/studio-booking/internal/ledger"
	"github.com/Eursukkul/studio-booking/internal/lifecycle"
	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/Eursukkul/studio-booking/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultHoldTTL = 15 * time.Minute

type CreateBookingInput struct {
	ClientID  string
	TrainerID string
	ServiceID string
	StartsAt  time.Time
}

type BookingService interface {
	Create(ctx context.Context, in CreateBookingInput) (*models.Booking, error)
	Confirm(ctx context.Context, bookingID string) (*models.Booking, error)
	CheckIn(ctx context.Context, bookingID string) (*models.Booking, error)
	Complete(ctx context.Context, bookingID string, declaration datatypes.JSON) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID, actorID string) (*models.Booking, error)
	Get(ctx context.Context, bookingID string) (*models.Booking, error)
	ListForTrainer(ctx context.Context, trainerID string, f repository.BookingFilter) ([]models.Booking, error)
	ListForClient(ctx context.Context, clientID string, f repository.BookingFilter) ([]models.Booking, error)
	ExpireHold(ctx context.Context, bookingID string) (bool, error)
	ExpireLapsedHolds(ctx context.Context, limit int) (int, error)
	ExpireClientHolds(ctx context.Context, clientID string) (int, error)
}

// BookingServiceDeps groups the collaborators of the booking service.
// Publisher, Scheduler and Cache are optional.
type BookingServiceDeps struct {
	Tx        repository.TxManager
	Bookings  repository.BookingRepository
	Catalog   repository.CatalogRepository
	Rules     repository.AvailabilityRepository
	Ledger    *ledger.Ledger
	Publisher EventPublisher
	Scheduler HoldScheduler
	Cache     WindowCache
	Logger    *zap.Logger
	HoldTTL   time.Duration
	Now       func() time.Time
}

type bookingService struct {
	tx        repository.TxManager
	bookings  repository.BookingRepository
	catalog   repository.CatalogRepository
	rules     repository.AvailabilityRepository
	ledger    *ledger.Ledger
	publisher EventPublisher
	scheduler HoldScheduler
	cache     WindowCache
	logger    *zap.Logger
	holdTTL   time.Duration
	now       func() time.Time
}

func NewBookingService(d BookingServiceDeps) BookingService {
	s := &bookingService{
		tx:        d.Tx,
		bookings:  d.Bookings,
		catalog:   d.Catalog,
		rules:     d.Rules,
		ledger:    d.Ledger,
		publisher: d.Publisher,
		scheduler: d.Scheduler,
		cache:     d.Cache,
		logger:    d.Logger,
		holdTTL:   d.HoldTTL,
		now:       d.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.holdTTL <= 0 {
		s.holdTTL = DefaultHoldTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *bookingService) Create(ctx context.Context, in CreateBookingInput) (_ *models.Booking, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.Create", trace.WithAttributes(
		attribute.String("trainer.id", in.TrainerID),
		attribute.String("client.id", in.ClientID),
		attribute.String("service.id", in.ServiceID),
	))
	defer func() { endSpan(span, err) }()

	start := in.StartsAt.UTC()
	var (
		result  *models.Booking
		expired []models.Booking
	)

	err = s.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		expired = nil
		now := s.now()

		// 1. Lock the trainer row, serializing bookings for this calendar
		trainer, err := s.catalog.FindTrainerForUpdate(ctx, tx, in.TrainerID)
		if err != nil {
			return notFound(err, ErrTrainerNotFound)
		}
		svc, err := s.catalog.FindService(ctx, tx, in.ServiceID)
		if err != nil {
			return notFound(err, ErrServiceNotFound)
		}
		if svc.TrainerID != trainer.ID {
			return ErrServiceNotFound
		}
		if !svc.Active || svc.DurationMinutes <= 0 {
			return ErrServiceInactive
		}
		studio, err := s.catalog.FindStudio(ctx, tx, trainer.StudioID)
		if err != nil {
			return notFound(err, ErrStudioNotFound)
		}
		d := svc.Duration()
		end := start.Add(d)

		// 2. The slot must sit inside one open window
		if err := s.checkOpen(ctx, tx, trainer.ID, studio, start, d, now); err != nil {
			return err
		}

		// 3. Lock overlapping active bookings and retire lapsed holds among them
		overlapping, err := s.bookings.FindActiveOverlappingForUpdate(ctx, tx, trainer.ID, start, end)
		if err != nil {
			return err
		}
		for i := range overlapping {
			b := &overlapping[i]
			if !lifecycle.HoldLapsed(b, now) {
				continue
			}
			if err := s.expireLocked(ctx, tx, b, now); err != nil {
				return err
			}
			expired = append(expired, *b)
		}
		if c := conflict.FirstConflict(start, d, overlapping); c != nil {
			return fmt.Errorf("%w: booking %s at %s", ErrSlotConflict, c.ID, c.StartsAt.Format(time.RFC3339))
		}

		booking := &models.Booking{
			ID:              uuid.NewString(),
			TrainerID:       trainer.ID,
			ClientID:        in.ClientID,
			ServiceID:       svc.ID,
			StartsAt:        start,
			EndsAt:          end,
			DurationMinutes: svc.DurationMinutes,
			CreditCost:      svc.CreditCost,
			State:           lifecycle.InitialState(svc.RequiresPayment()),
			CreatedAt:       now,
		}

		// 4. Refund the client's own lapsed holds, then reserve credits
		released, err := s.expireClientLocked(ctx, tx, in.ClientID, now)
		if err != nil {
			return err
		}
		expired = append(expired, released...)
		if svc.CreditCost > 0 {
			entries, err := s.ledger.Reserve(ctx, tx, in.ClientID, svc.CreditCost, &booking.ID)
			if err != nil {
				return err
			}
			booking.LedgerUsageID = entries[0].UsageID
		}

		// 5. Insert
		if booking.State == models.StateHold {
			exp := now.Add(s.holdTTL)
			booking.HoldExpiresAt = &exp
		} else {
			confirmed := now
			booking.ConfirmedAt = &confirmed
		}
		if err := s.bookings.Create(ctx, tx, booking); err != nil {
			return err
		}
		result = booking
		return nil
	})
	if err != nil {
		s.retireAfterRollback(ctx, expired)
		return nil, err
	}

	for i := range expired {
		s.announce(ctx, RoutingBookingExpired, &expired[i])
	}
	s.announce(ctx, RoutingBookingCreated, result)
	if result.HoldExpiresAt != nil && s.scheduler != nil {
		if err := s.scheduler.ScheduleHoldExpiry(ctx, result.ID, result.HoldExpiresAt.Add(time.Second)); err != nil {
			s.logger.Warn("[BookingService] schedule hold expiry failed", zap.String("booking_id", result.ID), zap.Error(err))
		}
	}
	s.logger.Info("[BookingService] booking created",
		zap.String("booking_id", result.ID),
		zap.String("trainer_id", result.TrainerID),
		zap.String("state", string(result.State)),
	)
	return result, nil
}

// retireAfterRollback commits hold expiries that a failed Create observed
// and rolled back with it.
func (s *bookingService) retireAfterRollback(ctx context.Context, holds []models.Booking) {
	for _, b := range holds {
		if _, err := s.ExpireHold(ctx, b.ID); err != nil {
			s.logger.Warn("[BookingService] expire hold after rollback failed", zap.String("booking_id", b.ID), zap.Error(err))
		}
	}
}

func (s *bookingService) checkOpen(ctx context.Context, tx *gorm.DB, trainerID string, studio *models.Studio, start time.Time, d time.Duration, now time.Time) error {
	rules, err := s.rules.FindByTrainer(ctx, tx, trainerID)
	if err != nil {
		return err
	}
	loc := studio.Location()
	local := start.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	windows, err := availability.Resolve(availability.Query{
		From:     day,
		To:       day.AddDate(0, 0, 2),
		Duration: d,
		Now:      now,
		Location: loc,
	}, rules, studioHours(studio))
	if err != nil {
		return err
	}
	for _, w := range windows {
		if w.Contains(start, d) {
			return nil
		}
	}
	return ErrOutsideOperatingHours
}

// studioHours returns nil for a studio that never configured hours.
func studioHours(studio *models.Studio) []models.DayHours {
	hours := studio.OperatingHours.Data()
	if len(hours) == 0 {
		return nil
	}
	return hours
}

func (s *bookingService) Confirm(ctx context.Context, bookingID string) (_ *models.Booking, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.Confirm", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer func() { endSpan(span, err) }()

	b, err := s.transition(ctx, bookingID, RoutingBookingConfirmed, func(tx *gorm.DB, b *models.Booking, now time.Time) error {
		return lifecycle.Apply(b, lifecycle.EventConfirm, now)
	})
	return b, err
}

func (s *bookingService) CheckIn(ctx context.Context, bookingID string) (_ *models.Booking, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.CheckIn", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer func() { endSpan(span, err) }()

	b, err := s.transition(ctx, bookingID, RoutingBookingCheckedIn, func(tx *gorm.DB, b *models.Booking, now time.Time) error {
		return lifecycle.Apply(b, lifecycle.EventCheckIn, now)
	})
	return b, err
}

// Complete finishes a session. A confirmed booking is checked in first,
// covering walk-ins. Credits stay spent.
func (s *bookingService) Complete(ctx context.Context, bookingID string, declaration datatypes.JSON) (_ *models.Booking, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.Complete", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer func() { endSpan(span, err) }()

	if !lifecycle.HasDeclaration(declaration) {
		return nil, ErrMissingDeclaration
	}
	b, err := s.transition(ctx, bookingID, RoutingBookingCompleted, func(tx *gorm.DB, b *models.Booking, now time.Time) error {
		if b.State == models.StateConfirmed {
			if err := lifecycle.Apply(b, lifecycle.EventCheckIn, now); err != nil {
				return err
			}
		}
		return lifecycle.Complete(b, declaration, now)
	})
	return b, err
}

func (s *bookingService) Cancel(ctx context.Context, bookingID, actorID string) (_ *models.Booking, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.Cancel", trace.WithAttributes(
		attribute.String("booking.id", bookingID),
		attribute.String("actor.id", actorID),
	))
	defer func() { endSpan(span, err) }()

	b, err := s.transition(ctx, bookingID, RoutingBookingCancelled, func(tx *gorm.DB, b *models.Booking, now time.Time) error {
		if actorID != b.ClientID && actorID != b.TrainerID {
			return ErrNotBookingParty
		}
		if !lifecycle.CanApply(b.State, lifecycle.EventCancel) {
			return fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, b.State)
		}

		trainer, err := s.catalog.FindTrainer(ctx, tx, b.TrainerID)
		if err != nil {
			return notFound(err, ErrTrainerNotFound)
		}
		studio, err := s.catalog.FindStudio(ctx, tx, trainer.StudioID)
		if err != nil {
			return notFound(err, ErrStudioNotFound)
		}
		window := time.Duration(studio.CancellationWindowHours) * time.Hour
		if b.StartsAt.Sub(now) <= window {
			return ErrOutsideCancellationWindow
		}

		if b.LedgerUsageID != nil {
			if _, err := s.ledger.ReverseUsage(ctx, tx, *b.LedgerUsageID, "booking cancelled"); err != nil {
				return err
			}
		}
		if err := lifecycle.Apply(b, lifecycle.EventCancel, now); err != nil {
			return err
		}
		by := actorID
		b.CancelledBy = &by
		return nil
	})
	if err == nil {
		s.logger.Info("[BookingService] booking cancelled", zap.String("booking_id", bookingID), zap.String("actor_id", actorID))
	}
	return b, err
}

// transition locks the booking, applies lazy expiry and then fn. A hold
// that lapsed is expired and committed, and the caller gets
// ErrAlreadyTerminal. A booking that is already terminal is reported the
// same way without being touched.
func (s *bookingService) transition(ctx context.Context, bookingID, routingKey string, fn func(tx *gorm.DB, b *models.Booking, now time.Time) error) (*models.Booking, error) {
	var (
		result *models.Booking
		lapsed bool
	)
	err := s.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		lapsed = false
		now := s.now()
		b, err := s.bookings.FindByIDForUpdate(ctx, tx, bookingID)
		if err != nil {
			return notFound(err, ErrBookingNotFound)
		}
		if lifecycle.HoldLapsed(b, now) {
			if err := s.expireLocked(ctx, tx, b, now); err != nil {
				return err
			}
			result, lapsed = b, true
			return nil
		}
		if lifecycle.IsTerminal(b.State) {
			return fmt.Errorf("%w: state %s", ErrAlreadyTerminal, b.State)
		}
		if err := fn(tx, b, now); err != nil {
			return err
		}
		if err := s.bookings.Update(ctx, tx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		s.announce(ctx, RoutingBookingExpired, result)
		return nil, fmt.Errorf("%w: hold expired at %s", ErrAlreadyTerminal, result.ExpiredAt.Format(time.RFC3339))
	}
	s.announce(ctx, routingKey, result)
	return result, nil
}

// expireLocked moves a lapsed hold to expired and refunds its credits.
// The caller holds the booking row lock.
func (s *bookingService) expireLocked(ctx context.Context, tx *gorm.DB, b *models.Booking, now time.Time) error {
	if err := lifecycle.Apply(b, lifecycle.EventExpire, now); err != nil {
		return err
	}
	if b.LedgerUsageID != nil {
		if _, err := s.ledger.ReverseUsage(ctx, tx, *b.LedgerUsageID, "hold expired"); err != nil {
			return err
		}
	}
	return s.bookings.Update(ctx, tx, b)
}

// expireClientLocked expires every lapsed hold of the client inside tx.
func (s *bookingService) expireClientLocked(ctx context.Context, tx *gorm.DB, clientID string, now time.Time) ([]models.Booking, error) {
	holds, err := s.bookings.FindLapsedHoldsForClientForUpdate(ctx, tx, clientID, now)
	if err != nil {
		return nil, err
	}
	var expired []models.Booking
	for i := range holds {
		b := &holds[i]
		if !lifecycle.HoldLapsed(b, now) {
			continue
		}
		if err := s.expireLocked(ctx, tx, b, now); err != nil {
			return nil, err
		}
		expired = append(expired, *b)
	}
	return expired, nil
}

// ExpireClientHolds expires the client's lapsed holds so their credits are
// back before a balance is read.
func (s *bookingService) ExpireClientHolds(ctx context.Context, clientID string) (_ int, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.ExpireClientHolds", trace.WithAttributes(attribute.String("client.id", clientID)))
	defer func() { endSpan(span, err) }()

	var expired []models.Booking
	err = s.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		var err error
		expired, err = s.expireClientLocked(ctx, tx, clientID, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	for i := range expired {
		s.announce(ctx, RoutingBookingExpired, &expired[i])
	}
	return len(expired), nil
}

// ExpireHold applies lazy expiry to one booking. It reports whether this
// call did the expiring; re-observing an expired hold is a no-op.
func (s *bookingService) ExpireHold(ctx context.Context, bookingID string) (_ bool, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.ExpireHold", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer func() { endSpan(span, err) }()

	var expired *models.Booking
	err = s.tx.WithinTx(ctx, func(tx *gorm.DB) error {
		expired = nil
		now := s.now()
		b, err := s.bookings.FindByIDForUpdate(ctx, tx, bookingID)
		if err != nil {
			return notFound(err, ErrBookingNotFound)
		}
		if !lifecycle.HoldLapsed(b, now) {
			return nil
		}
		if err := s.expireLocked(ctx, tx, b, now); err != nil {
			return err
		}
		expired = b
		return nil
	})
	if err != nil || expired == nil {
		return false, err
	}
	s.announce(ctx, RoutingBookingExpired, expired)
	return true, nil
}

// ExpireLapsedHolds sweeps up to limit lapsed holds, one transaction each.
func (s *bookingService) ExpireLapsedHolds(ctx context.Context, limit int) (int, error) {
	ids, err := s.bookings.FindLapsedHoldIDs(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		ok, err := s.ExpireHold(ctx, id)
		if err != nil {
			return n, fmt.Errorf("expire hold %s: %w", id, err)
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("[BookingService] swept lapsed holds", zap.Int("count", n))
	}
	return n, nil
}

func (s *bookingService) Get(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.bookings.FindByID(ctx, nil, bookingID)
	if err != nil {
		return nil, notFound(err, ErrBookingNotFound)
	}
	if !lifecycle.HoldLapsed(b, s.now()) {
		return b, nil
	}
	if _, err := s.ExpireHold(ctx, bookingID); err != nil {
		return nil, err
	}
	b, err = s.bookings.FindByID(ctx, nil, bookingID)
	if err != nil {
		return nil, notFound(err, ErrBookingNotFound)
	}
	return b, nil
}

func (s *bookingService) ListForTrainer(ctx context.Context, trainerID string, f repository.BookingFilter) ([]models.Booking, error) {
	bs, err := s.bookings.FindByTrainer(ctx, trainerID, f)
	if err != nil {
		return nil, err
	}
	return s.refreshLapsed(ctx, bs)
}

func (s *bookingService) ListForClient(ctx context.Context, clientID string, f repository.BookingFilter) ([]models.Booking, error) {
	bs, err := s.bookings.FindByClient(ctx, clientID, f)
	if err != nil {
		return nil, err
	}
	return s.refreshLapsed(ctx, bs)
}

// refreshLapsed expires lapsed holds in a listing and returns their
// current rows. A state filter may no longer match the refreshed rows;
// callers see each booking as it is now.
func (s *bookingService) refreshLapsed(ctx context.Context, bs []models.Booking) ([]models.Booking, error) {
	now := s.now()
	for i := range bs {
		if !lifecycle.HoldLapsed(&bs[i], now) {
			continue
		}
		if _, err := s.ExpireHold(ctx, bs[i].ID); err != nil {
			return nil, err
		}
		fresh, err := s.bookings.FindByID(ctx, nil, bs[i].ID)
		if err != nil {
			return nil, err
		}
		bs[i] = *fresh
	}
	return bs, nil
}

// announce runs the post-commit side effects. Failures are logged; the
// booking change is already durable.
func (s *bookingService) announce(ctx context.Context, routingKey string, b *models.Booking) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, b.TrainerID)
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, routingKey, newBookingEvent(b, s.now())); err != nil {
		s.logger.Error("[BookingService] publish failed",
			zap.String("routing_key", routingKey),
			zap.String("booking_id", b.ID),
			zap.Error(err),
		)
	}
}

// IsRetryable reports whether err came from infrastructure rather than a
// business rule.
func IsRetryable(err error) bool {
	for _, target := range []error{
		ErrBookingNotFound, ErrTrainerNotFound, ErrStudioNotFound, ErrServiceNotFound,
		ErrServiceInactive, ErrSlotConflict, ErrOutsideOperatingHours, ErrOutsideCancellationWindow,
		ErrNotBookingParty, ErrInvalidTransition, ErrMissingDeclaration, ErrInsufficientCredits,
		ErrPackageNotFound, ErrInvalidAmount, ErrInvalidRule, ErrInvalidRange, ErrRuleNotFound,
	} {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}
