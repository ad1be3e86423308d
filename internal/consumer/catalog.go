package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/Eursukkul/studio-booking/internal/repository"
	"github.com/Eursukkul/studio-booking/internal/service"
	"go.uber.org/zap"
)

const (
	RoutingStudioUpserted  = "studio.upserted"
	RoutingTrainerUpserted = "trainer.upserted"
	RoutingServiceUpserted = "service.upserted"
)

// CatalogSync mirrors studios, trainers and services from the studio
// configuration service into the booking database.
type CatalogSync struct {
	catalog repository.CatalogRepository
	cache   service.WindowCache
	logger  *zap.Logger
}

func NewCatalogSync(catalog repository.CatalogRepository, cache service.WindowCache, logger *zap.Logger) *CatalogSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogSync{catalog: catalog, cache: cache, logger: logger}
}

func (s *CatalogSync) Register(c *Consumer) {
	c.Handle(RoutingStudioUpserted, s.handleStudio)
	c.Handle(RoutingTrainerUpserted, s.handleTrainer)
	c.Handle(RoutingServiceUpserted, s.handleService)
}

func (s *CatalogSync) handleStudio(ctx context.Context, body []byte) error {
	var studio models.Studio
	if err := json.Unmarshal(body, &studio); err != nil || studio.ID == "" {
		return fmt.Errorf("%w: studio: %v", errMalformed, err)
	}
	if err := s.catalog.UpsertStudio(ctx, nil, &studio); err != nil {
		return fmt.Errorf("upsert studio %s: %w", studio.ID, err)
	}
	s.logger.Info("[CatalogSync] synced studio", zap.String("studio_id", studio.ID), zap.String("name", studio.Name))
	return nil
}

func (s *CatalogSync) handleTrainer(ctx context.Context, body []byte) error {
	var trainer models.Trainer
	if err := json.Unmarshal(body, &trainer); err != nil || trainer.ID == "" || trainer.StudioID == "" {
		return fmt.Errorf("%w: trainer: %v", errMalformed, err)
	}
	if err := s.catalog.UpsertTrainer(ctx, nil, &trainer); err != nil {
		return fmt.Errorf("upsert trainer %s: %w", trainer.ID, err)
	}
	// A trainer moving studio changes hours and timezone.
	if s.cache != nil {
		s.cache.Invalidate(ctx, trainer.ID)
	}
	s.logger.Info("[CatalogSync] synced trainer", zap.String("trainer_id", trainer.ID))
	return nil
}

func (s *CatalogSync) handleService(ctx context.Context, body []byte) error {
	var svc models.Service
	if err := json.Unmarshal(body, &svc); err != nil || svc.ID == "" || svc.TrainerID == "" {
		return fmt.Errorf("%w: service: %v", errMalformed, err)
	}
	if svc.DurationMinutes <= 0 || svc.CreditCost < 0 || svc.PriceCents < 0 {
		return fmt.Errorf("%w: service %s has invalid duration or cost", errMalformed, svc.ID)
	}
	if err := s.catalog.UpsertService(ctx, nil, &svc); err != nil {
		return fmt.Errorf("upsert service %s: %w", svc.ID, err)
	}
	s.logger.Info("[CatalogSync] synced service", zap.String("service_id", svc.ID), zap.Bool("active", svc.Active))
	return nil
}
