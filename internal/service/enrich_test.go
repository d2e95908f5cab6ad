package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shelfarr/shelfarr/internal/cache"
	"github.com/shelfarr/shelfarr/internal/fetch"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/provider"
	"github.com/shelfarr/shelfarr/internal/repository"
)

// enrichEnv bundles the repositories and cache store an enrichment test needs.
type enrichEnv struct {
	db         *gorm.DB
	entities   repository.EntityRepository
	libraries  repository.LibraryRepository
	candidates repository.CandidateRepository
	configs    repository.SelectionConfigRepository
	cacheRepo  repository.CacheEntryRepository
	store      *cache.Store
	library    *models.Library
}

func newEnrichEnv(t *testing.T) *enrichEnv {
	t.Helper()
	db := setupServiceDB(t)
	cacheRepo := repository.NewCacheEntryRepository(db)

	store, err := cache.NewStore(t.TempDir(), cacheRepo)
	require.NoError(t, err)

	return &enrichEnv{
		db:         db,
		entities:   repository.NewEntityRepository(db),
		libraries:  repository.NewLibraryRepository(db),
		candidates: repository.NewCandidateRepository(db),
		configs:    repository.NewSelectionConfigRepository(db),
		cacheRepo:  cacheRepo,
		store:      store,
		library:    createLibrary(t, db, "movies", true),
	}
}

func (e *enrichEnv) service(t *testing.T, providers ...provider.Provider) *EnrichService {
	t.Helper()
	return NewEnrichService(
		e.entities, e.libraries, e.candidates, e.configs,
		newGateway(t, providers...), e.store, fetch.New(fetch.Config{}), nil,
	)
}

func (e *enrichEnv) addConfig(t *testing.T, assetType models.AssetType, required bool) *models.SelectionConfig {
	t.Helper()
	cfg := &models.SelectionConfig{
		LibraryID:           e.library.ID,
		AssetType:           assetType,
		MinCount:            1,
		MaxCount:            1,
		WeightResolution:    0.4,
		WeightVotes:         0.3,
		WeightLanguage:      0.2,
		WeightProvider:      0.1,
		SimilarityThreshold: 0.92,
		Required:            required,
	}
	require.NoError(t, e.configs.Create(context.Background(), cfg))
	return cfg
}

// assetServer serves a fixed image body on every path except /missing.
func assetServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnrichService_Enrich(t *testing.T) {
	env := newEnrichEnv(t)
	env.addConfig(t, models.AssetTypePoster, true)
	entity := createEntity(t, env.db, env.library, "Heat", models.StateIdentified)

	srv := assetServer(t, pngBytes(t, 64, 96, redColor))
	tmdb := &fakeProvider{name: "tmdb", candidates: []provider.Candidate{
		{AssetType: models.AssetTypePoster, URL: srv.URL + "/poster.png", Width: 2000, Height: 3000, Votes: 100, VoteAverage: 8.0},
	}}

	svc := env.service(t, tmdb)
	ctx := context.Background()

	result, err := svc.Enrich(ctx, entity.ID, nil)
	require.NoError(t, err)
	assert.Contains(t, result, "complete: 1 assets resolved")

	updated, err := env.entities.GetByID(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEnriched, updated.State)
	require.NotNil(t, updated.LastEnrichedAt)

	candidates, err := env.candidates.GetByEntity(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].IsSelected)
	assert.NotEmpty(t, candidates[0].ContentHash)
	assert.Greater(t, candidates[0].AutoScore, 0.0)

	// The selected candidate holds exactly one cache reference.
	entry, err := env.cacheRepo.GetByHash(ctx, candidates[0].ContentHash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1), entry.ReferenceCount)
}

func TestEnrichService_Enrich_DownloadFailure(t *testing.T) {
	env := newEnrichEnv(t)
	env.addConfig(t, models.AssetTypePoster, true)
	entity := createEntity(t, env.db, env.library, "Heat", models.StateIdentified)

	srv := assetServer(t, nil)
	tmdb := &fakeProvider{name: "tmdb", candidates: []provider.Candidate{
		{AssetType: models.AssetTypePoster, URL: srv.URL + "/missing", Width: 2000, Height: 3000},
	}}

	svc := env.service(t, tmdb)
	ctx := context.Background()

	result, err := svc.Enrich(ctx, entity.ID, nil)
	require.NoError(t, err)
	assert.Contains(t, result, "partial")
	assert.Contains(t, result, "1 failed")

	// The required poster is unresolved, so the entity does not advance.
	updated, err := env.entities.GetByID(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdentified, updated.State)

	candidates, err := env.candidates.GetByEntity(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].DownloadFailed)
	assert.False(t, candidates[0].IsSelected)
	assert.NotEmpty(t, candidates[0].FailureReason)
	assert.Empty(t, candidates[0].ContentHash)
}

func TestEnrichService_Enrich_NotIdentified(t *testing.T) {
	env := newEnrichEnv(t)
	entity := createEntity(t, env.db, env.library, "Heat", models.StateDiscovered)

	svc := env.service(t, &fakeProvider{name: "tmdb"})

	_, err := svc.Enrich(context.Background(), entity.ID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not been identified yet")
}

func TestEnrichService_Enrich_PostPublishFlagsRepublish(t *testing.T) {
	env := newEnrichEnv(t)
	env.addConfig(t, models.AssetTypePoster, true)
	entity := createEntity(t, env.db, env.library, "Heat", models.StatePublished)

	srv := assetServer(t, pngBytes(t, 64, 96, redColor))
	tmdb := &fakeProvider{name: "tmdb", candidates: []provider.Candidate{
		{AssetType: models.AssetTypePoster, URL: srv.URL + "/poster.png", Width: 2000, Height: 3000},
	}}

	svc := env.service(t, tmdb)
	ctx := context.Background()

	_, err := svc.Enrich(ctx, entity.ID, nil)
	require.NoError(t, err)

	// Published entities never regress; they queue a republish instead.
	updated, err := env.entities.GetByID(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePublished, updated.State)
	assert.True(t, updated.HasUnpublishedChanges)
}

func TestEnrichService_Enrich_LockedAssetTypeUntouched(t *testing.T) {
	env := newEnrichEnv(t)
	env.addConfig(t, models.AssetTypePoster, true)

	entity := createEntity(t, env.db, env.library, "Heat", models.StateIdentified)
	entity.LockAsset(models.AssetTypePoster)
	require.NoError(t, env.entities.Update(context.Background(), entity))

	tmdb := &fakeProvider{name: "tmdb", candidates: []provider.Candidate{
		{AssetType: models.AssetTypePoster, URL: "http://example.invalid/poster.png", Width: 2000, Height: 3000},
	}}

	svc := env.service(t, tmdb)
	ctx := context.Background()

	result, err := svc.Enrich(ctx, entity.ID, nil)
	require.NoError(t, err)

	// The only configured type is locked, so no providers are queried and the
	// lock counts as satisfied.
	assert.Equal(t, 0, tmdb.candidatesCalls)
	assert.Contains(t, result, "complete: 0 assets resolved")

	candidates, err := env.candidates.GetByEntity(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	updated, err := env.entities.GetByID(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEnriched, updated.State)
}

func TestEnrichService_Enrich_ReplacementReleasesOldReference(t *testing.T) {
	env := newEnrichEnv(t)
	env.addConfig(t, models.AssetTypePoster, true)
	entity := createEntity(t, env.db, env.library, "Heat", models.StateIdentified)

	redSrv := assetServer(t, pngBytes(t, 64, 96, redColor))
	blueSrv := assetServer(t, pngBytes(t, 64, 96, blueColor))

	tmdb := &fakeProvider{name: "tmdb", candidates: []provider.Candidate{
		{AssetType: models.AssetTypePoster, URL: redSrv.URL + "/a.png", Width: 1000, Height: 1500},
	}}

	svc := env.service(t, tmdb)
	ctx := context.Background()

	_, err := svc.Enrich(ctx, entity.ID, nil)
	require.NoError(t, err)

	candidates, err := env.candidates.GetByEntity(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	oldHash := candidates[0].ContentHash
	require.NotEmpty(t, oldHash)

	// A higher-resolution candidate appears on the next refresh and takes the
	// single poster slot.
	tmdb.candidates = append(tmdb.candidates, provider.Candidate{
		AssetType: models.AssetTypePoster, URL: blueSrv.URL + "/b.png", Width: 2000, Height: 3000,
	})

	_, err = svc.Enrich(ctx, entity.ID, nil)
	require.NoError(t, err)

	candidates, err = env.candidates.GetByEntity(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	var oldCand, newCand *models.AssetCandidate
	for _, c := range candidates {
		if c.ContentHash == oldHash {
			oldCand = c
		} else {
			newCand = c
		}
	}
	require.NotNil(t, oldCand)
	require.NotNil(t, newCand)

	assert.False(t, oldCand.IsSelected)
	assert.True(t, newCand.IsSelected)
	assert.NotEmpty(t, newCand.ContentHash)
	assert.NotEqual(t, oldHash, newCand.ContentHash)

	// The loser's reference is released; the winner holds one.
	oldEntry, err := env.cacheRepo.GetByHash(ctx, oldHash)
	require.NoError(t, err)
	require.NotNil(t, oldEntry)
	assert.Equal(t, int64(0), oldEntry.ReferenceCount)

	newEntry, err := env.cacheRepo.GetByHash(ctx, newCand.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, newEntry)
	assert.Equal(t, int64(1), newEntry.ReferenceCount)
}

func TestEnrichService_Enrich_CancellationRollsBackSelections(t *testing.T) {
	env := newEnrichEnv(t)
	env.addConfig(t, models.AssetTypeFanart, true)
	env.addConfig(t, models.AssetTypePoster, true)
	entity := createEntity(t, env.db, env.library, "Heat", models.StateIdentified)

	// Serve distinct bytes per path so the fanart and poster candidates do
	// not dedupe into one shared cache entry.
	fanartBody := pngBytes(t, 64, 96, redColor)
	posterBody := pngBytes(t, 64, 96, blueColor)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/poster.png" {
			w.Write(posterBody)
			return
		}
		w.Write(fanartBody)
	}))
	t.Cleanup(srv.Close)
	tmdb := &fakeProvider{name: "tmdb", candidates: []provider.Candidate{
		{AssetType: models.AssetTypeFanart, URL: srv.URL + "/fanart.png", Width: 3840, Height: 2160},
		{AssetType: models.AssetTypePoster, URL: srv.URL + "/poster.png", Width: 2000, Height: 3000},
	}}

	svc := env.service(t, tmdb)

	// Asset types run in order (fanart, then poster); cancel once the fanart
	// pass has committed its selection.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	progress := func(current, total int, message string) {
		if current == 2 {
			cancel()
		}
	}

	_, err := svc.Enrich(ctx, entity.ID, progress)
	require.ErrorIs(t, err, context.Canceled)

	// The committed fanart selection is rolled back, not just its refcount:
	// a candidate row must never claim a reference the cache no longer holds.
	candidates, err := env.candidates.GetByEntityAndType(context.Background(), entity.ID, models.AssetTypeFanart)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.False(t, candidates[0].IsSelected)
	require.NotEmpty(t, candidates[0].ContentHash)

	entry, err := env.cacheRepo.GetByHash(context.Background(), candidates[0].ContentHash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(0), entry.ReferenceCount)

	// A later run starts clean and re-selects the same content.
	_, err = svc.Enrich(context.Background(), entity.ID, nil)
	require.NoError(t, err)

	candidates, err = env.candidates.GetByEntityAndType(context.Background(), entity.ID, models.AssetTypeFanart)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].IsSelected)

	entry, err = env.cacheRepo.GetByHash(context.Background(), candidates[0].ContentHash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1), entry.ReferenceCount)
}

func TestEnrichService_Enrich_RefreshKeepsRejections(t *testing.T) {
	env := newEnrichEnv(t)
	env.addConfig(t, models.AssetTypePoster, true)
	entity := createEntity(t, env.db, env.library, "Heat", models.StateIdentified)

	srv := assetServer(t, pngBytes(t, 64, 96, redColor))
	url := srv.URL + "/poster.png"

	rejected := &models.AssetCandidate{
		EntityID:    entity.ID,
		AssetType:   models.AssetTypePoster,
		Provider:    "tmdb",
		ProviderURL: url,
		Width:       400,
		Height:      600,
		IsRejected:  true,
	}
	require.NoError(t, env.candidates.Create(context.Background(), rejected))

	tmdb := &fakeProvider{name: "tmdb", candidates: []provider.Candidate{
		{AssetType: models.AssetTypePoster, URL: url, Width: 2000, Height: 3000},
	}}

	svc := env.service(t, tmdb)
	ctx := context.Background()

	result, err := svc.Enrich(ctx, entity.ID, nil)
	require.NoError(t, err)
	assert.Contains(t, result, "partial")

	// The refresh updates dimensions but the rejection sticks, so nothing is
	// selected.
	candidates, err := env.candidates.GetByEntity(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].IsRejected)
	assert.False(t, candidates[0].IsSelected)
	assert.Equal(t, 2000, candidates[0].Width)
}

func TestEnrichService_Enrich_UnmonitoredEntity(t *testing.T) {
	env := newEnrichEnv(t)
	entity := createEntity(t, env.db, env.library, "Heat", models.StateIdentified)
	entity.Monitored = models.BoolPtr(false)
	require.NoError(t, env.entities.Update(context.Background(), entity))

	tmdb := &fakeProvider{name: "tmdb"}
	svc := env.service(t, tmdb)

	result, err := svc.Enrich(context.Background(), entity.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "skipped: entity unmonitored", result)
	assert.Equal(t, 0, tmdb.candidatesCalls)
}
