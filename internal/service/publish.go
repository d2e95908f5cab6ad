package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shelfarr/shelfarr/internal/cache"
	"github.com/shelfarr/shelfarr/internal/events"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
	"github.com/shelfarr/shelfarr/internal/storage"
)

// PublishService writes an entity's enriched metadata and selected assets
// into its library directory.
type PublishService struct {
	entityRepo  repository.EntityRepository
	libraryRepo repository.LibraryRepository
	candidates  repository.CandidateRepository
	audits      repository.PublishAuditRepository
	store       *cache.Store
	bus         *events.Bus
	logger      *slog.Logger
}

// NewPublishService creates a new publish service.
func NewPublishService(
	entityRepo repository.EntityRepository,
	libraryRepo repository.LibraryRepository,
	candidates repository.CandidateRepository,
	audits repository.PublishAuditRepository,
	store *cache.Store,
	bus *events.Bus,
) *PublishService {
	return &PublishService{
		entityRepo:  entityRepo,
		libraryRepo: libraryRepo,
		candidates:  candidates,
		audits:      audits,
		store:       store,
		bus:         bus,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *PublishService) WithLogger(logger *slog.Logger) *PublishService {
	s.logger = logger
	return s
}

// descriptor is the XML document written next to the entity's media file.
type descriptor struct {
	XMLName   xml.Name          `xml:"entity"`
	Kind      string            `xml:"kind"`
	Title     string            `xml:"title"`
	SortTitle string            `xml:"sorttitle,omitempty"`
	Year      int               `xml:"year,omitempty"`
	Overview  string            `xml:"overview,omitempty"`
	IDs       []descriptorID    `xml:"ids>id"`
	Assets    []descriptorAsset `xml:"assets>asset"`
}

type descriptorID struct {
	Provider string `xml:"provider,attr"`
	Value    string `xml:",chardata"`
}

type descriptorAsset struct {
	Type string `xml:"type,attr"`
	File string `xml:"file,attr"`
	Hash string `xml:"hash,attr"`
}

// publishedAsset pairs a resolved candidate with its destination file.
type publishedAsset struct {
	candidate *models.AssetCandidate
	destRel   string
}

// Publish writes an entity's descriptor and selected assets to the library.
// The write is idempotent: when the descriptor hash matches the last publish
// and the descriptor and asset files are still on disk, nothing is rewritten. Any selected,
// unlocked candidate without cached content blocks the publish with a typed
// error.
func (s *PublishService) Publish(ctx context.Context, entityID models.ULID) (string, error) {
	start := time.Now()

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
	if entity.State != models.StateEnriched && entity.State != models.StatePublished {
		return "", fmt.Errorf("entity %q is %s, not ready to publish", entity.Title, entity.State)
	}

	library, err := s.libraryRepo.GetByID(ctx, entity.LibraryID)
	if err != nil {
		return "", fmt.Errorf("getting library: %w", err)
	}
	if library == nil {
		return "", fmt.Errorf("library %s not found", entity.LibraryID)
	}

	selected, err := s.candidates.GetSelected(ctx, entity.ID)
	if err != nil {
		return "", fmt.Errorf("listing selections: %w", err)
	}

	// Selections without cached content block the publish unless the
	// operator locked that asset type.
	var unresolved []models.ULID
	for _, c := range selected {
		if !c.IsResolved() && !entity.AssetLocked(c.AssetType) {
			unresolved = append(unresolved, c.ID)
		}
	}
	if len(unresolved) > 0 {
		err := &models.UnresolvedSelectionsError{EntityID: entity.ID, Unresolved: unresolved}
		s.audit(ctx, entity.ID, &models.PublishAudit{
			EntityID:   entity.ID,
			Success:    false,
			Error:      err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		})
		return "", err
	}

	assets := planAssets(entity, selected)
	doc := buildDescriptor(entity, assets)

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling descriptor: %w", err)
	}
	data = append([]byte(xml.Header), data...)

	sum := sha256.Sum256(data)
	descriptorHash := hex.EncodeToString(sum[:])

	sandbox, err := storage.NewSandbox(library.RootDir)
	if err != nil {
		return "", fmt.Errorf("opening library root: %w", err)
	}

	if descriptorHash == entity.PublishedDescriptorHash && s.libraryCopyIntact(sandbox, entity, assets) {
		s.audit(ctx, entity.ID, &models.PublishAudit{
			EntityID:       entity.ID,
			Success:        true,
			Skipped:        true,
			DescriptorHash: descriptorHash,
			DurationMs:     time.Since(start).Milliseconds(),
		})

		// A republish request with nothing to write still settles the
		// unpublished-changes flag.
		if entity.HasUnpublishedChanges {
			entity.HasUnpublishedChanges = false
			if err := s.entityRepo.Update(ctx, entity); err != nil {
				return "", fmt.Errorf("updating entity: %w", err)
			}
		}

		s.logger.Info("publish skipped, descriptor unchanged",
			slog.String("entity_id", entity.ID.String()),
			slog.String("title", entity.Title))
		return "skipped: descriptor unchanged", nil
	}

	written, err := s.writeAssets(ctx, sandbox, assets)
	if err != nil {
		s.audit(ctx, entity.ID, &models.PublishAudit{
			EntityID:       entity.ID,
			Success:        false,
			DescriptorHash: descriptorHash,
			AssetsWritten:  written,
			Error:          err.Error(),
			DurationMs:     time.Since(start).Milliseconds(),
		})
		return "", err
	}

	if err := sandbox.AtomicWrite(descriptorPath(entity), data); err != nil {
		s.audit(ctx, entity.ID, &models.PublishAudit{
			EntityID:       entity.ID,
			Success:        false,
			DescriptorHash: descriptorHash,
			AssetsWritten:  written,
			Error:          err.Error(),
			DurationMs:     time.Since(start).Milliseconds(),
		})
		return "", fmt.Errorf("writing descriptor: %w", err)
	}

	if err := entity.MarkPublished(descriptorHash); err != nil {
		return "", err
	}
	if err := s.entityRepo.Update(ctx, entity); err != nil {
		return "", fmt.Errorf("updating entity: %w", err)
	}

	s.audit(ctx, entity.ID, &models.PublishAudit{
		EntityID:       entity.ID,
		Success:        true,
		DescriptorHash: descriptorHash,
		AssetsWritten:  written,
		DurationMs:     time.Since(start).Milliseconds(),
	})

	if s.bus != nil {
		s.bus.Publish(events.New(events.EventEntityPublished, entity.ID.String(), map[string]any{
			"title":   entity.Title,
			"library": library.Name,
			"assets":  written,
		}))
	}

	s.logger.Info("entity published",
		slog.String("entity_id", entity.ID.String()),
		slog.String("title", entity.Title),
		slog.Int("assets_written", written),
		slog.String("descriptor_hash", descriptorHash))

	return fmt.Sprintf("published %q with %d assets", entity.Title, written), nil
}

// writeAssets copies cached blobs into the library. Each copy is atomic; the
// first failure aborts the publish so the job retries.
func (s *PublishService) writeAssets(ctx context.Context, sandbox *storage.Sandbox, assets []publishedAsset) (int, error) {
	var written int
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		reader, entry, err := s.store.Resolve(ctx, a.candidate.ContentHash)
		if err != nil {
			return written, fmt.Errorf("resolving asset %s: %w", a.candidate.ContentHash, err)
		}
		reader.Close()

		srcPath, err := s.store.BlobPath(entry)
		if err != nil {
			return written, fmt.Errorf("locating asset %s: %w", a.candidate.ContentHash, err)
		}

		if err := sandbox.AtomicCopyIn(srcPath, a.destRel); err != nil {
			return written, fmt.Errorf("writing asset %s: %w", a.destRel, err)
		}
		written++
	}
	return written, nil
}

// libraryCopyIntact reports whether the descriptor file and every planned
// asset file already exist in the library. A missing descriptor forces a
// rewrite even when its hash matches the last publish.
func (s *PublishService) libraryCopyIntact(sandbox *storage.Sandbox, entity *models.Entity, assets []publishedAsset) bool {
	exists, err := sandbox.Exists(descriptorPath(entity))
	if err != nil || !exists {
		return false
	}
	for _, a := range assets {
		exists, err := sandbox.Exists(a.destRel)
		if err != nil || !exists {
			return false
		}
	}
	return true
}

// audit persists one publish attempt record. Audit writes survive job
// cancellation.
func (s *PublishService) audit(ctx context.Context, entityID models.ULID, row *models.PublishAudit) {
	if err := s.audits.Create(context.WithoutCancel(ctx), row); err != nil {
		s.logger.Error("failed to write publish audit",
			slog.String("entity_id", entityID.String()),
			slog.Any("error", err))
	}
}

// planAssets maps resolved selections to deterministic destination files.
// Multiple selections of the same type get an index suffix.
func planAssets(entity *models.Entity, selected []*models.AssetCandidate) []publishedAsset {
	dir, base := entityBasePath(entity)

	// Deterministic order: asset type, then score descending via the
	// repository's ordering is not guaranteed here, so sort explicitly.
	ordered := make([]*models.AssetCandidate, 0, len(selected))
	for _, c := range selected {
		if c.IsResolved() {
			ordered = append(ordered, c)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].AssetType != ordered[j].AssetType {
			return ordered[i].AssetType < ordered[j].AssetType
		}
		return ordered[i].AutoScore > ordered[j].AutoScore
	})

	var assets []publishedAsset
	perType := make(map[models.AssetType]int)
	for _, c := range ordered {
		name := fmt.Sprintf("%s-%s", base, c.AssetType)
		if n := perType[c.AssetType]; n > 0 {
			name = fmt.Sprintf("%s%d", name, n)
		}
		perType[c.AssetType]++

		assets = append(assets, publishedAsset{
			candidate: c,
			destRel:   filepath.Join(dir, name+assetExtension(c)),
		})
	}
	return assets
}

// buildDescriptor assembles the XML document for an entity and its planned
// assets. Provider IDs are sorted for a stable hash.
func buildDescriptor(entity *models.Entity, assets []publishedAsset) descriptor {
	doc := descriptor{
		Kind:      string(entity.Kind),
		Title:     entity.Title,
		SortTitle: entity.SortTitle,
		Year:      entity.Year,
		Overview:  entity.Overview,
	}

	providers := make([]string, 0, len(entity.ProviderIDs))
	for name := range entity.ProviderIDs {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	for _, name := range providers {
		doc.IDs = append(doc.IDs, descriptorID{Provider: name, Value: entity.ProviderIDs[name]})
	}

	for _, a := range assets {
		doc.Assets = append(doc.Assets, descriptorAsset{
			Type: string(a.candidate.AssetType),
			File: filepath.Base(a.destRel),
			Hash: a.candidate.ContentHash,
		})
	}
	return doc
}

// entityBasePath returns the directory and file stem for an entity's
// published files, relative to the library root.
func entityBasePath(entity *models.Entity) (dir, base string) {
	if entity.SourcePath != "" {
		dir = filepath.Dir(entity.SourcePath)
		name := filepath.Base(entity.SourcePath)
		base = strings.TrimSuffix(name, filepath.Ext(name))
		return dir, base
	}
	return ".", slugify(entity.Title)
}

// descriptorPath returns the descriptor file path relative to the library
// root.
func descriptorPath(entity *models.Entity) string {
	dir, base := entityBasePath(entity)
	return filepath.Join(dir, base+".xml")
}

// assetExtension picks a file extension for a candidate from its source URL,
// falling back per asset type.
func assetExtension(c *models.AssetCandidate) string {
	if ext := filepath.Ext(c.ProviderURL); ext != "" && len(ext) <= 5 && !strings.ContainsAny(ext, "?&=") {
		return ext
	}
	switch c.AssetType {
	case models.AssetTypeTrailer:
		return ".mp4"
	case models.AssetTypeSubtitle:
		return ".srt"
	default:
		return ".jpg"
	}
}

// slugify lowercases a title and replaces unsafe path characters.
func slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "entity"
	}
	return slug
}
