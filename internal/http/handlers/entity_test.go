package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shelfarr/shelfarr/internal/cache"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
)

type entityHandlerEnv struct {
	db         *gorm.DB
	server     *httptest.Server
	scheduler  *stubScheduler
	entities   repository.EntityRepository
	candidates repository.CandidateRepository
	store      *cache.Store
	library    *models.Library
}

func setupEntityHandler(t *testing.T) *entityHandlerEnv {
	t.Helper()
	db := setupHandlerDB(t)
	entities := repository.NewEntityRepository(db)
	candidates := repository.NewCandidateRepository(db)

	store, err := cache.NewStore(t.TempDir(), repository.NewCacheEntryRepository(db))
	require.NoError(t, err)

	scheduler := &stubScheduler{}

	router, api := newTestRouter(t)
	NewEntityHandler(entities, candidates, store, scheduler, nil).Register(api)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &entityHandlerEnv{
		db:         db,
		server:     server,
		scheduler:  scheduler,
		entities:   entities,
		candidates: candidates,
		store:      store,
		library:    createTestLibrary(t, db, "Films"),
	}
}

func (e *entityHandlerEnv) patch(t *testing.T, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPatch, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestEntityHandler_ListByLibrary(t *testing.T) {
	env := setupEntityHandler(t)
	createTestEntity(t, env.db, env.library, "Heat", models.StateIdentified)
	createTestEntity(t, env.db, env.library, "Ronin", models.StateDiscovered)

	other := createTestLibrary(t, env.db, "Documentaries")
	createTestEntity(t, env.db, other, "Senna", models.StateDiscovered)

	resp, err := http.Get(env.server.URL + "/api/v1/entities?library_id=" + env.library.ID.String())
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Entities []EntityResponse `json:"entities"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Entities, 2)
	for _, e := range out.Entities {
		assert.Equal(t, env.library.ID.String(), e.LibraryID)
	}
}

func TestEntityHandler_ListByState(t *testing.T) {
	env := setupEntityHandler(t)
	createTestEntity(t, env.db, env.library, "Heat", models.StateIdentified)
	createTestEntity(t, env.db, env.library, "Ronin", models.StateDiscovered)

	resp, err := http.Get(env.server.URL + "/api/v1/entities?state=identified")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Entities []EntityResponse `json:"entities"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Entities, 1)
	assert.Equal(t, "Heat", out.Entities[0].Title)
}

func TestEntityHandler_UpdateLocksOverriddenFields(t *testing.T) {
	env := setupEntityHandler(t)
	entity := createTestEntity(t, env.db, env.library, "Heat", models.StateIdentified)

	resp := env.patch(t, "/api/v1/entities/"+entity.ID.String(), `{"title": "Heat (1995)", "year": 1995}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out EntityResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Heat (1995)", out.Title)
	assert.Equal(t, 1995, out.Year)
	assert.ElementsMatch(t, []string{"title", "year"}, out.FieldLocks)

	stored, err := env.entities.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.True(t, stored.FieldLocked("title"))
	assert.True(t, stored.FieldLocked("year"))
	assert.False(t, stored.FieldLocked("overview"))
}

func TestEntityHandler_UpdatePublishedFlagsRepublish(t *testing.T) {
	env := setupEntityHandler(t)
	entity := createTestEntity(t, env.db, env.library, "Heat", models.StatePublished)

	resp := env.patch(t, "/api/v1/entities/"+entity.ID.String(), `{"overview": "A heist thriller."}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := env.entities.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasUnpublishedChanges)
}

func TestEntityHandler_FieldLockRoundTrip(t *testing.T) {
	env := setupEntityHandler(t)
	entity := createTestEntity(t, env.db, env.library, "Heat", models.StateIdentified)

	resp, err := http.Post(env.server.URL+"/api/v1/entities/"+entity.ID.String()+"/locks/fields/title", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := env.entities.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.True(t, stored.FieldLocked("title"))

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/v1/entities/"+entity.ID.String()+"/locks/fields/title", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err = env.entities.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.False(t, stored.FieldLocked("title"))
}

func TestEntityHandler_AssetLock(t *testing.T) {
	env := setupEntityHandler(t)
	entity := createTestEntity(t, env.db, env.library, "Heat", models.StateEnriched)

	resp, err := http.Post(env.server.URL+"/api/v1/entities/"+entity.ID.String()+"/locks/assets/poster", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out EntityResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []string{"poster"}, out.AssetLocks)

	stored, err := env.entities.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.True(t, stored.AssetLocked(models.AssetTypePoster))
}

func TestEntityHandler_RejectResolvedCandidateReleasesReference(t *testing.T) {
	env := setupEntityHandler(t)
	entity := createTestEntity(t, env.db, env.library, "Heat", models.StateEnriched)

	ctx := context.Background()
	put, err := env.store.Put(ctx, strings.NewReader("poster bytes"), models.AssetTypePoster)
	require.NoError(t, err)

	candidate := &models.AssetCandidate{
		EntityID:    entity.ID,
		AssetType:   models.AssetTypePoster,
		Provider:    "tmdb",
		ProviderURL: "https://img.example.test/poster.png",
		IsSelected:  true,
		ContentHash: put.ContentHash,
	}
	require.NoError(t, env.candidates.Create(ctx, candidate))
	require.NoError(t, env.store.Attach(ctx, put.ContentHash, candidate.ID.String()))

	resp, err := http.Post(
		env.server.URL+"/api/v1/entities/"+entity.ID.String()+"/candidates/"+candidate.ID.String()+"/reject",
		"application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out CandidateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.IsRejected)
	assert.False(t, out.IsSelected)

	entry, err := repository.NewCacheEntryRepository(env.db).GetByHash(ctx, put.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(0), entry.ReferenceCount)
}

func TestEntityHandler_RejectCandidateWrongEntity(t *testing.T) {
	env := setupEntityHandler(t)
	entity := createTestEntity(t, env.db, env.library, "Heat", models.StateEnriched)
	other := createTestEntity(t, env.db, env.library, "Ronin", models.StateEnriched)

	candidate := &models.AssetCandidate{
		EntityID:    other.ID,
		AssetType:   models.AssetTypePoster,
		Provider:    "tmdb",
		ProviderURL: "https://img.example.test/poster.png",
	}
	require.NoError(t, env.candidates.Create(context.Background(), candidate))

	resp, err := http.Post(
		env.server.URL+"/api/v1/entities/"+entity.ID.String()+"/candidates/"+candidate.ID.String()+"/reject",
		"application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEntityHandler_TriggerJobs(t *testing.T) {
	env := setupEntityHandler(t)
	entity := createTestEntity(t, env.db, env.library, "Heat", models.StateDiscovered)

	for _, action := range []string{"identify", "enrich", "publish"} {
		resp, err := http.Post(env.server.URL+"/api/v1/entities/"+entity.ID.String()+"/"+action, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	assert.Equal(t, []models.JobType{
		models.JobTypeIdentify,
		models.JobTypeEnrich,
		models.JobTypePublish,
	}, env.scheduler.calls)
}
