package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/shelfarr/shelfarr/internal/cache"
	"github.com/shelfarr/shelfarr/internal/events"
	"github.com/shelfarr/shelfarr/internal/fetch"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/provider"
	"github.com/shelfarr/shelfarr/internal/repository"
	"github.com/shelfarr/shelfarr/internal/selection"
)

// defaultDownloadConcurrency bounds parallel asset downloads per enrich run.
const defaultDownloadConcurrency = 4

// EnrichService fetches asset candidates from providers, runs automatic
// selection, and downloads selected assets into the cache.
type EnrichService struct {
	entityRepo  repository.EntityRepository
	libraryRepo repository.LibraryRepository
	candidates  repository.CandidateRepository
	configs     repository.SelectionConfigRepository
	gateway     *provider.Gateway
	store       *cache.Store
	client      *fetch.Client
	bus         *events.Bus
	logger      *slog.Logger
	concurrency int
}

// NewEnrichService creates a new enrich service.
func NewEnrichService(
	entityRepo repository.EntityRepository,
	libraryRepo repository.LibraryRepository,
	candidates repository.CandidateRepository,
	configs repository.SelectionConfigRepository,
	gateway *provider.Gateway,
	store *cache.Store,
	client *fetch.Client,
	bus *events.Bus,
) *EnrichService {
	return &EnrichService{
		entityRepo:  entityRepo,
		libraryRepo: libraryRepo,
		candidates:  candidates,
		configs:     configs,
		gateway:     gateway,
		store:       store,
		client:      client,
		bus:         bus,
		logger:      slog.Default(),
		concurrency: defaultDownloadConcurrency,
	}
}

// WithLogger sets the logger for the service.
func (s *EnrichService) WithLogger(logger *slog.Logger) *EnrichService {
	s.logger = logger
	return s
}

// WithDownloadConcurrency bounds parallel asset downloads.
func (s *EnrichService) WithDownloadConcurrency(n int) *EnrichService {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// enrichRun tracks mutable state across one enrichment pass so cancellation
// can roll back cache references taken during the run.
type enrichRun struct {
	mu       sync.Mutex
	attached []*models.AssetCandidate // candidates selected and attached during this run
	resolved int
	failed   int
	dropped  int
}

func (r *enrichRun) recordAttach(c *models.AssetCandidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, c)
}

// Enrich runs one enrichment pass over an entity: candidate refresh,
// selection per asset type, and bounded-concurrency downloads of selected
// assets. Locked asset types keep their current selections untouched.
func (s *EnrichService) Enrich(ctx context.Context, entityID models.ULID, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = noProgress
	}

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
	if entity.State == models.StateDiscovered {
		return "", fmt.Errorf("entity %q has not been identified yet", entity.Title)
	}

	library, err := s.libraryRepo.GetByID(ctx, entity.LibraryID)
	if err != nil {
		return "", fmt.Errorf("getting library: %w", err)
	}
	if library == nil {
		return "", fmt.Errorf("library %s not found", entity.LibraryID)
	}

	allConfigs, err := s.configs.GetByLibrary(ctx, library.ID)
	if err != nil {
		return "", fmt.Errorf("getting selection configs: %w", err)
	}

	// Locked asset types are skipped entirely: no candidate refresh, no
	// reselection.
	var active []*models.SelectionConfig
	for _, cfg := range allConfigs {
		if entity.AssetLocked(cfg.AssetType) {
			continue
		}
		active = append(active, cfg)
	}

	if len(active) > 0 {
		if err := s.refreshCandidates(ctx, entity, active); err != nil {
			return "", err
		}
	}

	run := &enrichRun{}
	shortfalls := make(map[models.AssetType]int)

	for i, cfg := range active {
		if err := ctx.Err(); err != nil {
			s.rollback(ctx, run)
			return "", err
		}

		progress(i+1, len(active), string(cfg.AssetType))

		shortfall, err := s.selectAndFetch(ctx, entity, cfg, run)
		if err != nil {
			if ctx.Err() != nil {
				s.rollback(ctx, run)
				return "", ctx.Err()
			}
			return "", err
		}
		shortfalls[cfg.AssetType] = shortfall
	}

	complete := s.isComplete(ctx, entity, library, allConfigs, shortfalls)

	if complete {
		if err := entity.MarkEnriched(); err != nil {
			return "", err
		}
	} else {
		entity.RecordEnrichment()
	}
	if err := s.entityRepo.Update(ctx, entity); err != nil {
		return "", fmt.Errorf("updating entity: %w", err)
	}

	if s.bus != nil && complete {
		s.bus.Publish(events.New(events.EventEntityEnriched, entity.ID.String(), map[string]any{
			"title":    entity.Title,
			"resolved": run.resolved,
		}))
	}

	s.logger.Info("enrichment completed",
		slog.String("entity_id", entity.ID.String()),
		slog.String("title", entity.Title),
		slog.Int("resolved", run.resolved),
		slog.Int("failed", run.failed),
		slog.Bool("complete", complete))

	status := "partial"
	if complete {
		status = "complete"
	}
	return fmt.Sprintf("%s: %d assets resolved, %d failed, %d duplicates dropped",
		status, run.resolved, run.failed, run.dropped), nil
}

// refreshCandidates fans out to the provider gateway and upserts the offered
// candidates. Existing candidate rows keep their flags and discovery order so
// operator rejections and prior downloads survive the refresh.
func (s *EnrichService) refreshCandidates(ctx context.Context, entity *models.Entity, configs []*models.SelectionConfig) error {
	types := make([]models.AssetType, len(configs))
	wanted := make(map[models.AssetType]bool, len(configs))
	for i, cfg := range configs {
		types[i] = cfg.AssetType
		wanted[cfg.AssetType] = true
	}

	set, err := s.gateway.Candidates(ctx, entityRef(entity), types)
	if err != nil {
		return fmt.Errorf("fetching candidates for %q: %w", entity.Title, err)
	}
	if len(set.Failed) > 0 {
		s.logger.Warn("some providers failed during candidate fetch",
			slog.String("entity_id", entity.ID.String()),
			slog.Any("failed", set.Failed))
	}

	// Next discovery order per asset type continues after existing rows.
	nextOrder := make(map[models.AssetType]int)
	existing, err := s.candidates.GetByEntity(ctx, entity.ID)
	if err != nil {
		return fmt.Errorf("listing existing candidates: %w", err)
	}
	for _, c := range existing {
		if c.DiscoveryOrder >= nextOrder[c.AssetType] {
			nextOrder[c.AssetType] = c.DiscoveryOrder + 1
		}
	}

	for _, pc := range set.Candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !wanted[pc.AssetType] {
			continue
		}

		current, err := s.candidates.GetByProviderURL(ctx, entity.ID, pc.AssetType, pc.URL)
		if err != nil {
			return fmt.Errorf("looking up candidate: %w", err)
		}

		if current != nil {
			current.Width = pc.Width
			current.Height = pc.Height
			current.DurationSec = pc.DurationSec
			current.Votes = pc.Votes
			current.VoteAverage = pc.VoteAverage
			current.Language = pc.Language
			if err := s.candidates.Update(ctx, current); err != nil {
				return fmt.Errorf("updating candidate: %w", err)
			}
			continue
		}

		candidate := &models.AssetCandidate{
			EntityID:       entity.ID,
			AssetType:      pc.AssetType,
			Provider:       pc.Provider,
			ProviderURL:    pc.URL,
			Width:          pc.Width,
			Height:         pc.Height,
			DurationSec:    pc.DurationSec,
			Votes:          pc.Votes,
			VoteAverage:    pc.VoteAverage,
			Language:       pc.Language,
			DiscoveryOrder: nextOrder[pc.AssetType],
		}
		nextOrder[pc.AssetType]++
		if err := s.candidates.Create(ctx, candidate); err != nil {
			return fmt.Errorf("creating candidate: %w", err)
		}
	}

	return nil
}

// selectAndFetch runs selection for one asset type and reconciles the result:
// deselected candidates release their cache reference, newly selected ones
// are downloaded and attached. Returns the selection shortfall.
func (s *EnrichService) selectAndFetch(ctx context.Context, entity *models.Entity, cfg *models.SelectionConfig, run *enrichRun) (int, error) {
	candidates, err := s.candidates.GetByEntityAndType(ctx, entity.ID, cfg.AssetType)
	if err != nil {
		return 0, fmt.Errorf("listing candidates: %w", err)
	}

	result := selection.Select(candidates, cfg)
	run.dropped += len(result.Dropped)

	picked := make(map[string]bool, len(result.Selected))
	for _, c := range result.Selected {
		picked[c.ID.String()] = true
	}

	// Deselect candidates that lost their slot; release their reference.
	for _, c := range candidates {
		if !c.IsSelected || picked[c.ID.String()] {
			continue
		}
		c.IsSelected = false
		if err := s.candidates.Update(ctx, c); err != nil {
			return 0, fmt.Errorf("deselecting candidate: %w", err)
		}
		if c.ContentHash != "" {
			if err := s.store.Detach(ctx, c.ContentHash, c.ID.String()); err != nil {
				return 0, err
			}
		}
	}

	// Select and download winners with bounded concurrency.
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, c := range result.Selected {
		wasSelected := c.IsSelected
		needsContent := c.ContentHash == ""

		if wasSelected && !needsContent {
			continue // already resolved and holding its reference
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(c *models.AssetCandidate, needsContent bool) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.resolveCandidate(ctx, c, needsContent, run)

			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}(c, needsContent)
	}
	wg.Wait()

	if firstErr != nil {
		return 0, firstErr
	}

	// Count resolved selections after the downloads settled.
	for _, c := range result.Selected {
		if c.IsResolved() {
			run.resolved++
		}
	}

	return result.Shortfall, nil
}

// resolveCandidate flips a candidate to selected, downloading its content
// first if the cache does not hold it yet. Download failures mark the
// candidate failed so the next selection run passes over it.
func (s *EnrichService) resolveCandidate(ctx context.Context, c *models.AssetCandidate, needsContent bool, run *enrichRun) error {
	if needsContent {
		if err := s.download(ctx, c); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			s.logger.Warn("asset download failed",
				slog.String("candidate_id", c.ID.String()),
				slog.String("url", c.ProviderURL),
				slog.String("error", err.Error()))

			c.IsSelected = false
			c.DownloadFailed = true
			c.FailureReason = err.Error()
			run.mu.Lock()
			run.failed++
			run.mu.Unlock()
			return s.candidates.Update(ctx, c)
		}
	}

	if err := s.store.Attach(ctx, c.ContentHash, c.ID.String()); err != nil {
		return err
	}

	c.IsSelected = true
	c.DownloadFailed = false
	c.FailureReason = ""
	if err := s.candidates.Update(ctx, c); err != nil {
		// Keep refcounts consistent with the candidate row
		s.store.Detach(context.WithoutCancel(ctx), c.ContentHash, c.ID.String())
		return fmt.Errorf("updating candidate: %w", err)
	}

	run.recordAttach(c)
	return nil
}

// download fetches a candidate's content into the cache and computes its
// perceptual hash. Non-image assets simply keep a zero hash.
func (s *EnrichService) download(ctx context.Context, c *models.AssetCandidate) error {
	resp, err := s.client.Get(ctx, c.ProviderURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, c.ProviderURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading asset body: %w", err)
	}

	put, err := s.store.Put(ctx, bytes.NewReader(data), c.AssetType)
	if err != nil {
		return err
	}
	c.ContentHash = put.ContentHash

	if hash, err := selection.PerceptualHash(bytes.NewReader(data)); err == nil {
		c.PerceptualHash = hash
	}
	return nil
}

// rollback undoes the selections committed during a cancelled run: each
// candidate attached this pass is deselected again and its cache reference
// released, so candidate rows and refcounts stay in step.
func (s *EnrichService) rollback(ctx context.Context, run *enrichRun) {
	detachCtx := context.WithoutCancel(ctx)
	for _, c := range run.attached {
		c.IsSelected = false
		if err := s.candidates.Update(detachCtx, c); err != nil {
			s.logger.Warn("rollback deselect failed",
				slog.String("candidate_id", c.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if err := s.store.Detach(detachCtx, c.ContentHash, c.ID.String()); err != nil {
			s.logger.Warn("rollback detach failed",
				slog.String("content_hash", c.ContentHash),
				slog.String("error", err.Error()))
		}
	}
}

// isComplete reports whether the entity meets the enrichment bar: every
// required metadata field populated and every required asset type fully
// selected and cache-resident.
func (s *EnrichService) isComplete(ctx context.Context, entity *models.Entity, library *models.Library, configs []*models.SelectionConfig, shortfalls map[models.AssetType]int) bool {
	for _, field := range library.RequiredFields {
		if !fieldPopulated(entity, field) {
			return false
		}
	}

	for _, cfg := range configs {
		required := cfg.Required || library.RequiredAssetTypes.Contains(string(cfg.AssetType))
		if !required {
			continue
		}
		if entity.AssetLocked(cfg.AssetType) {
			// Operator pinned this slot; whatever is selected counts.
			continue
		}
		if shortfalls[cfg.AssetType] > 0 {
			return false
		}

		selected, err := s.candidates.GetByEntityAndType(ctx, entity.ID, cfg.AssetType)
		if err != nil {
			return false
		}
		var resolved int
		for _, c := range selected {
			if c.IsResolved() {
				resolved++
			}
		}
		if resolved < cfg.MinCount {
			return false
		}
	}

	return true
}

// fieldPopulated reports whether a named metadata field has a value.
// Unknown field names count as populated so a typo in library config cannot
// wedge the pipeline.
func fieldPopulated(e *models.Entity, field string) bool {
	switch field {
	case "title":
		return e.Title != ""
	case "sort_title":
		return e.SortTitle != ""
	case "year":
		return e.Year != 0
	case "overview":
		return e.Overview != ""
	default:
		return true
	}
}
