package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shelfarr/shelfarr/internal/events"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/provider"
	"github.com/shelfarr/shelfarr/internal/repository"
)

// IdentifyService matches discovered entities against metadata providers and
// applies the resulting scalar metadata.
type IdentifyService struct {
	entityRepo repository.EntityRepository
	gateway    *provider.Gateway
	bus        *events.Bus
	logger     *slog.Logger
}

// NewIdentifyService creates a new identify service.
func NewIdentifyService(
	entityRepo repository.EntityRepository,
	gateway *provider.Gateway,
	bus *events.Bus,
) *IdentifyService {
	return &IdentifyService{
		entityRepo: entityRepo,
		gateway:    gateway,
		bus:        bus,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *IdentifyService) WithLogger(logger *slog.Logger) *IdentifyService {
	s.logger = logger
	return s
}

// entityRef builds the provider lookup reference for an entity.
func entityRef(entity *models.Entity) provider.EntityRef {
	return provider.EntityRef{
		Kind:        entity.Kind,
		Title:       entity.Title,
		Year:        entity.Year,
		ProviderIDs: entity.ProviderIDs,
	}
}

// Identify resolves an entity against the provider gateway and applies the
// returned metadata to unlocked fields. Re-identifying an already identified
// entity refreshes metadata without moving it backward in the pipeline.
func (s *IdentifyService) Identify(ctx context.Context, entityID models.ULID) (string, error) {
	entity, err := s.entityRepo.GetByID(ctx, entityID)
	if err != nil {
		return "", fmt.Errorf("getting entity: %w", err)
	}
	if entity == nil {
		return "", fmt.Errorf("entity %s not found", entityID)
	}
	if !entity.IsMonitored() {
		return "skipped: entity unmonitored", nil
	}

	meta, providerName, err := s.gateway.Identify(ctx, entityRef(entity))
	if err != nil {
		return "", fmt.Errorf("identifying %q: %w", entity.Title, err)
	}

	s.applyMetadata(entity, meta, providerName)

	if entity.State == models.StateDiscovered {
		if err := entity.MarkIdentified(); err != nil {
			return "", err
		}
	}

	if err := s.entityRepo.Update(ctx, entity); err != nil {
		return "", fmt.Errorf("updating entity: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(events.New(events.EventEntityIdentified, entity.ID.String(), map[string]any{
			"title":    entity.Title,
			"provider": providerName,
		}))
	}

	s.logger.Info("entity identified",
		slog.String("entity_id", entity.ID.String()),
		slog.String("title", entity.Title),
		slog.String("provider", providerName))

	return fmt.Sprintf("identified %q via %s", entity.Title, providerName), nil
}

// applyMetadata copies provider metadata onto the entity, honoring field
// locks. The provider identifier is always merged: external IDs are facts,
// not operator-editable fields.
func (s *IdentifyService) applyMetadata(entity *models.Entity, meta *provider.Metadata, providerName string) {
	if meta.Title != "" && !entity.FieldLocked("title") {
		entity.Title = meta.Title
	}
	if meta.SortTitle != "" && !entity.FieldLocked("sort_title") {
		entity.SortTitle = meta.SortTitle
	}
	if meta.Year != 0 && !entity.FieldLocked("year") {
		entity.Year = meta.Year
	}
	if meta.Overview != "" && !entity.FieldLocked("overview") {
		entity.Overview = meta.Overview
	}

	if meta.ProviderID != "" {
		if entity.ProviderIDs == nil {
			entity.ProviderIDs = make(models.StringMap)
		}
		entity.ProviderIDs[providerName] = meta.ProviderID
	}
}
