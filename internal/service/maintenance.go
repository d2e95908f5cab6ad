package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/shelfarr/shelfarr/internal/cache"
	"github.com/shelfarr/shelfarr/internal/events"
)

// MaintenanceService runs housekeeping job bodies.
type MaintenanceService struct {
	store  *cache.Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewMaintenanceService creates a new maintenance service.
func NewMaintenanceService(store *cache.Store, bus *events.Bus) *MaintenanceService {
	return &MaintenanceService{
		store:  store,
		bus:    bus,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *MaintenanceService) WithLogger(logger *slog.Logger) *MaintenanceService {
	s.logger = logger
	return s
}

// RunCacheGC runs one mark-and-sweep pass over the asset cache.
func (s *MaintenanceService) RunCacheGC(ctx context.Context) (string, error) {
	result, err := s.store.GC(ctx)
	if err != nil {
		return "", fmt.Errorf("cache gc: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(events.New(events.EventCacheGC, "", map[string]any{
			"marked":      result.Marked,
			"swept":       result.Swept,
			"rescued":     result.Rescued,
			"bytes_freed": result.BytesFreed,
		}))
	}

	return fmt.Sprintf("marked %d, swept %d (%s freed), rescued %d",
		result.Marked, result.Swept, humanize.Bytes(uint64(result.BytesFreed)), result.Rescued), nil
}
