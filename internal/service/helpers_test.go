package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/provider"
	"github.com/shelfarr/shelfarr/internal/repository"
)

func setupServiceDB(t *testing.T) *gorm.DB {
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

func createLibrary(t *testing.T, db *gorm.DB, name string, monitored bool) *models.Library {
	t.Helper()
	library := &models.Library{
		Name:      name,
		RootDir:   t.TempDir(),
		Kind:      models.LibraryKindMovies,
		Monitored: models.BoolPtr(monitored),
	}
	require.NoError(t, repository.NewLibraryRepository(db).Create(context.Background(), library))
	return library
}

func createEntity(t *testing.T, db *gorm.DB, library *models.Library, title string, state models.EntityState) *models.Entity {
	t.Helper()
	entity := &models.Entity{
		LibraryID:  library.ID,
		Kind:       models.EntityKindMovie,
		Title:      title,
		SourcePath: "films/" + title + "/" + title + ".mkv",
		State:      state,
		Monitored:  models.BoolPtr(true),
	}
	require.NoError(t, repository.NewEntityRepository(db).Create(context.Background(), entity))
	return entity
}

var (
	redColor  = color.RGBA{R: 255, A: 255}
	blueColor = color.RGBA{B: 255, A: 255}
)

// pngBytes renders a solid-color PNG for download and cache tests. Different
// colors produce different content hashes.
func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeProvider is a scriptable metadata provider.
type fakeProvider struct {
	name string

	metadata    *provider.Metadata
	identifyErr error

	candidates    []provider.Candidate
	candidatesErr error

	identifyCalls   int
	candidatesCalls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Identify(ctx context.Context, ref provider.EntityRef) (*provider.Metadata, error) {
	p.identifyCalls++
	if p.identifyErr != nil {
		return nil, p.identifyErr
	}
	return p.metadata, nil
}

func (p *fakeProvider) Candidates(ctx context.Context, ref provider.EntityRef, assetTypes []models.AssetType) ([]provider.Candidate, error) {
	p.candidatesCalls++
	if p.candidatesErr != nil {
		return nil, p.candidatesErr
	}
	return p.candidates, nil
}

func newGateway(t *testing.T, providers ...provider.Provider) *provider.Gateway {
	t.Helper()
	gw := provider.NewGateway()
	for _, p := range providers {
		require.NoError(t, gw.Register(p, 100, 100, nil))
	}
	return gw
}
