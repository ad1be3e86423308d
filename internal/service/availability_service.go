package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Eursukkul/studio-booking/internal/availability"
	"github.com/Eursukkul/studio-booking/internal/cache"
	"github.com/Eursukkul/studio-booking/internal/lifecycle"
	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/Eursukkul/studio-booking/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MaxAvailabilityRange bounds a single availability query.
const MaxAvailabilityRange = 62 * 24 * time.Hour

type WindowsQuery struct {
	TrainerID string
	ServiceID string
	From      time.Time
	To        time.Time
	Stride    time.Duration
}

type WindowsResult struct {
	Duration time.Duration
	Windows  []availability.Window
	Starts   []time.Time
}

type AvailabilityService interface {
	Windows(ctx context.Context, q WindowsQuery) (*WindowsResult, error)
	CreateRule(ctx context.Context, rule *models.AvailabilityRule) (*models.AvailabilityRule, error)
	ListRules(ctx context.Context, trainerID string) ([]models.AvailabilityRule, error)
	DeleteRule(ctx context.Context, trainerID, ruleID string) error
}

type availabilityService struct {
	bookings repository.BookingRepository
	catalog  repository.CatalogRepository
	rules    repository.AvailabilityRepository
	cache    WindowCache
	expirer  HoldExpirer
	logger   *zap.Logger
	now      func() time.Time
}

func NewAvailabilityService(
	bookings repository.BookingRepository,
	catalog repository.CatalogRepository,
	rules repository.AvailabilityRepository,
	windowCache WindowCache,
	expirer HoldExpirer,
	logger *zap.Logger,
	now func() time.Time,
) AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &availabilityService{
		bookings: bookings,
		catalog:  catalog,
		rules:    rules,
		cache:    windowCache,
		expirer:  expirer,
		logger:   logger,
		now:      now,
	}
}

// Windows returns the bookable windows for a service in [From, To), with
// active bookings carved out. The rule-level resolution is cached per
// trainer; bookings are always read fresh.
func (s *availabilityService) Windows(ctx context.Context, q WindowsQuery) (_ *WindowsResult, err error) {
	ctx, span := tracer.Start(ctx, "AvailabilityService.Windows", trace.WithAttributes(
		attribute.String("trainer.id", q.TrainerID),
		attribute.String("service.id", q.ServiceID),
	))
	defer func() { endSpan(span, err) }()

	if !q.To.After(q.From) || q.To.Sub(q.From) > MaxAvailabilityRange {
		return nil, fmt.Errorf("%w: range must be positive and at most %d days", ErrInvalidRange, int(MaxAvailabilityRange.Hours()/24))
	}
	trainer, err := s.catalog.FindTrainer(ctx, nil, q.TrainerID)
	if err != nil {
		return nil, notFound(err, ErrTrainerNotFound)
	}
	svc, err := s.catalog.FindService(ctx, nil, q.ServiceID)
	if err != nil {
		return nil, notFound(err, ErrServiceNotFound)
	}
	if svc.TrainerID != trainer.ID {
		return nil, ErrServiceNotFound
	}
	if !svc.Active || svc.DurationMinutes <= 0 {
		return nil, ErrServiceInactive
	}
	studio, err := s.catalog.FindStudio(ctx, nil, trainer.StudioID)
	if err != nil {
		return nil, notFound(err, ErrStudioNotFound)
	}

	now := s.now()
	d := svc.Duration()
	open, err := s.openWindows(ctx, trainer.ID, studio, q.From.UTC(), q.To.UTC(), d)
	if err != nil {
		return nil, err
	}

	booked, err := s.bookings.FindActiveInRange(ctx, trainer.ID, q.From, q.To)
	if err != nil {
		return nil, err
	}
	busy := make([]availability.Window, 0, len(booked))
	for i := range booked {
		if lifecycle.HoldLapsed(&booked[i], now) {
			if s.expirer != nil {
				if _, err := s.expirer.ExpireHold(ctx, booked[i].ID); err != nil {
					return nil, err
				}
			}
			continue
		}
		busy = append(busy, availability.Window{Start: booked[i].StartsAt, End: booked[i].EndsAt})
	}

	// The cached resolution is clipped at the time it was computed.
	open = availability.AtLeast(availability.Clip(open, later(q.From, now), q.To), d)
	free := availability.ExcludeBusy(open, busy, d)
	return &WindowsResult{
		Duration: d,
		Windows:  free,
		Starts:   availability.CandidateStarts(free, d, q.Stride),
	}, nil
}

func (s *availabilityService) openWindows(ctx context.Context, trainerID string, studio *models.Studio, from, to time.Time, d time.Duration) ([]availability.Window, error) {
	key := cache.Key{
		TrainerID:       trainerID,
		From:            from,
		To:              to,
		DurationMinutes: int(d / time.Minute),
		StudioStamp:     studio.UpdatedAt.UnixNano(),
	}
	if s.cache != nil {
		if ws, ok := s.cache.Get(ctx, key); ok {
			return ws, nil
		}
	}

	rules, err := s.rules.FindByTrainer(ctx, nil, trainerID)
	if err != nil {
		return nil, err
	}
	ws, err := availability.Resolve(availability.Query{
		From:     from,
		To:       to,
		Duration: d,
		Now:      s.now(),
		Location: studio.Location(),
	}, rules, studioHours(studio))
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, ws)
	}
	return ws, nil
}

func (s *availabilityService) CreateRule(ctx context.Context, rule *models.AvailabilityRule) (*models.AvailabilityRule, error) {
	if err := availability.ValidateRule(rule); err != nil {
		return nil, err
	}
	if _, err := s.catalog.FindTrainer(ctx, nil, rule.TrainerID); err != nil {
		return nil, notFound(err, ErrTrainerNotFound)
	}
	rule.ID = uuid.NewString()
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}
	s.invalidate(ctx, rule.TrainerID)
	s.logger.Info("[AvailabilityService] rule created",
		zap.String("rule_id", rule.ID),
		zap.String("trainer_id", rule.TrainerID),
		zap.String("polarity", string(rule.Polarity)),
	)
	return rule, nil
}

func (s *availabilityService) ListRules(ctx context.Context, trainerID string) ([]models.AvailabilityRule, error) {
	if _, err := s.catalog.FindTrainer(ctx, nil, trainerID); err != nil {
		return nil, notFound(err, ErrTrainerNotFound)
	}
	return s.rules.FindByTrainer(ctx, nil, trainerID)
}

func (s *availabilityService) DeleteRule(ctx context.Context, trainerID, ruleID string) error {
	if err := s.rules.Delete(ctx, trainerID, ruleID); err != nil {
		return notFound(err, ErrRuleNotFound)
	}
	s.invalidate(ctx, trainerID)
	return nil
}

func (s *availabilityService) invalidate(ctx context.Context, trainerID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, trainerID)
	}
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
