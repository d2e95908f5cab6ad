package handlers

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
)

func setupHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Library{},
		&models.Entity{},
		&models.AssetCandidate{},
		&models.CacheEntry{},
		&models.SelectionConfig{},
		&models.Job{},
		&models.JobHistory{},
		&models.PublishAudit{},
	)
	require.NoError(t, err)

	return db
}

func newTestRouter(t *testing.T) (*chi.Mux, huma.API) {
	t.Helper()
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	return router, api
}

func createTestLibrary(t *testing.T, db *gorm.DB, name string) *models.Library {
	t.Helper()
	library := &models.Library{
		Name:    name,
		RootDir: t.TempDir(),
		Kind:    models.LibraryKindMovies,
	}
	require.NoError(t, repository.NewLibraryRepository(db).Create(context.Background(), library))
	return library
}

func createTestEntity(t *testing.T, db *gorm.DB, library *models.Library, title string, state models.EntityState) *models.Entity {
	t.Helper()
	entity := &models.Entity{
		LibraryID:  library.ID,
		Kind:       models.EntityKindMovie,
		Title:      title,
		SourcePath: "films/" + title + "/" + title + ".mkv",
		State:      state,
	}
	require.NoError(t, repository.NewEntityRepository(db).Create(context.Background(), entity))
	return entity
}

// stubScheduler records ScheduleImmediate calls and hands back a pending job.
type stubScheduler struct {
	calls []models.JobType
	err   error
}

func (s *stubScheduler) ScheduleImmediate(ctx context.Context, jobType models.JobType, targetID models.ULID, targetName string) (*models.Job, error) {
	s.calls = append(s.calls, jobType)
	if s.err != nil {
		return nil, s.err
	}
	return &models.Job{
		BaseModel:  models.BaseModel{ID: models.NewULID()},
		Type:       jobType,
		TargetID:   targetID,
		TargetName: targetName,
		Status:     models.JobStatusPending,
	}, nil
}

// stubCanceller records runner cancel requests.
type stubCanceller struct {
	cancelled []models.ULID
	result    bool
}

func (s *stubCanceller) Cancel(jobID models.ULID) bool {
	s.cancelled = append(s.cancelled, jobID)
	return s.result
}
