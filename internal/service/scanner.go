package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/storage"
)

// titleYearPattern matches the "Title (Year)" directory naming convention.
var titleYearPattern = regexp.MustCompile(`^(.*?)\s*\((\d{4})\)$`)

// FilesystemScanner discovers items by listing the top-level directories of a
// library root. Each directory is one item; a trailing "(Year)" in the name
// becomes the item's year. Files at the root and dot-directories are ignored.
type FilesystemScanner struct {
	logger *slog.Logger
}

// NewFilesystemScanner creates a scanner that reads library roots from disk.
func NewFilesystemScanner() *FilesystemScanner {
	return &FilesystemScanner{logger: slog.Default()}
}

// WithLogger sets the logger for the scanner.
func (s *FilesystemScanner) WithLogger(logger *slog.Logger) *FilesystemScanner {
	s.logger = logger
	return s
}

// Scan lists the library root and reports one item per directory.
func (s *FilesystemScanner) Scan(ctx context.Context, library *models.Library) ([]DiscoveredItem, error) {
	sandbox, err := storage.NewSandbox(library.RootDir)
	if err != nil {
		return nil, fmt.Errorf("opening library root: %w", err)
	}

	entries, err := sandbox.List(".")
	if err != nil {
		return nil, fmt.Errorf("listing library root: %w", err)
	}

	kind := entityKindFor(library.Kind)

	items := make([]DiscoveredItem, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		title, year := parseTitleYear(entry.Name())
		items = append(items, DiscoveredItem{
			Kind:       kind,
			Title:      title,
			Year:       year,
			SourcePath: entry.Name(),
		})
	}

	s.logger.Debug("filesystem scan",
		slog.String("library", library.Name),
		slog.Int("items", len(items)))

	return items, nil
}

// parseTitleYear splits "Heat (1995)" into its title and year. Names without
// a year suffix are returned unchanged with a zero year.
func parseTitleYear(name string) (string, int) {
	m := titleYearPattern.FindStringSubmatch(name)
	if m == nil {
		return name, 0
	}
	year, err := strconv.Atoi(m[2])
	if err != nil || m[1] == "" {
		return name, 0
	}
	return m[1], year
}

func entityKindFor(kind models.LibraryKind) models.EntityKind {
	switch kind {
	case models.LibraryKindSeries:
		return models.EntityKindSeries
	case models.LibraryKindMusic:
		return models.EntityKindAlbum
	default:
		return models.EntityKindMovie
	}
}
