// Package service provides the business logic layer for shelfarr: the job
// bodies that move entities through the discovery, identification,
// enrichment, and publish pipeline.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shelfarr/shelfarr/internal/events"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
)

// ProgressFunc reports item-level progress for a long-running job body.
type ProgressFunc func(current, total int, message string)

// noProgress is used when the caller does not care about progress.
func noProgress(int, int, string) {}

// DiscoveredItem is one media item a Scanner found under a library root.
type DiscoveredItem struct {
	Kind       models.EntityKind
	Title      string
	Year       int
	SourcePath string
}

// Scanner discovers media items under a library root. Implementations decide
// how items are located and named; the scan service only persists what they
// report.
type Scanner interface {
	Scan(ctx context.Context, library *models.Library) ([]DiscoveredItem, error)
}

// ScanService turns scanner output into discovered entities.
type ScanService struct {
	libraryRepo repository.LibraryRepository
	entityRepo  repository.EntityRepository
	scanner     Scanner
	bus         *events.Bus
	logger      *slog.Logger
}

// NewScanService creates a new scan service.
func NewScanService(
	libraryRepo repository.LibraryRepository,
	entityRepo repository.EntityRepository,
	scanner Scanner,
	bus *events.Bus,
) *ScanService {
	return &ScanService{
		libraryRepo: libraryRepo,
		entityRepo:  entityRepo,
		scanner:     scanner,
		bus:         bus,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *ScanService) WithLogger(logger *slog.Logger) *ScanService {
	s.logger = logger
	return s
}

// Scan discovers new entities in a library. Items whose source path is
// already known are left untouched, so a scan never resets pipeline progress.
func (s *ScanService) Scan(ctx context.Context, libraryID models.ULID, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = noProgress
	}

	library, err := s.libraryRepo.GetByID(ctx, libraryID)
	if err != nil {
		return "", fmt.Errorf("getting library: %w", err)
	}
	if library == nil {
		return "", fmt.Errorf("library %s not found", libraryID)
	}
	if !library.IsMonitored() {
		return "skipped: library unmonitored", nil
	}

	items, err := s.scanner.Scan(ctx, library)
	if err != nil {
		return "", fmt.Errorf("scanning library %s: %w", library.Name, err)
	}

	var created, seen int
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		progress(i+1, len(items), item.Title)

		existing, err := s.entityRepo.GetBySourcePath(ctx, library.ID, item.SourcePath)
		if err != nil {
			return "", fmt.Errorf("checking source path %s: %w", item.SourcePath, err)
		}
		if existing != nil {
			seen++
			continue
		}

		entity := &models.Entity{
			LibraryID:  library.ID,
			Kind:       item.Kind,
			Title:      item.Title,
			Year:       item.Year,
			SourcePath: item.SourcePath,
		}
		if err := s.entityRepo.Create(ctx, entity); err != nil {
			return "", fmt.Errorf("creating entity %q: %w", item.Title, err)
		}
		created++

		if s.bus != nil {
			s.bus.Publish(events.New(events.EventEntityDiscovered, entity.ID.String(), map[string]any{
				"title":   entity.Title,
				"library": library.Name,
			}))
		}
	}

	s.logger.Info("library scan completed",
		slog.String("library", library.Name),
		slog.Int("discovered", created),
		slog.Int("known", seen))

	return fmt.Sprintf("discovered %d new entities (%d already known)", created, seen), nil
}
