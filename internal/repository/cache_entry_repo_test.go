package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shelfarr/shelfarr/internal/models"
)

func setupCacheTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.CacheEntry{})
	require.NoError(t, err)

	return db
}

func testCacheEntry(hash string) *models.CacheEntry {
	return &models.CacheEntry{
		ContentHash:  hash,
		RelativePath: hash[:2] + "/" + hash,
		SizeBytes:    1024,
		MimeType:     "image/jpeg",
		AssetType:    models.AssetTypePoster,
		LastUsedAt:   models.Now(),
	}
}

func TestCacheEntryRepo_AttachDetach(t *testing.T) {
	db := setupCacheTestDB(t)
	repo := NewCacheEntryRepository(db)
	ctx := context.Background()

	hash := "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"
	require.NoError(t, repo.Create(ctx, testCacheEntry(hash)))

	t.Run("attach increments", func(t *testing.T) {
		ok, err := repo.Attach(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Attach(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		entry, err := repo.GetByHash(ctx, hash)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, int64(2), entry.ReferenceCount)
	})

	t.Run("detach decrements", func(t *testing.T) {
		ok, err := repo.Detach(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		entry, err := repo.GetByHash(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, int64(1), entry.ReferenceCount)
	})

	t.Run("detach refuses to go below zero", func(t *testing.T) {
		ok, err := repo.Detach(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Detach(ctx, hash)
		require.NoError(t, err)
		assert.False(t, ok)

		entry, err := repo.GetByHash(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, int64(0), entry.ReferenceCount)
	})

	t.Run("attach unknown hash", func(t *testing.T) {
		ok, err := repo.Attach(ctx, "0000000000000000000000000000000000000000000000000000000000000000")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCacheEntryRepo_AttachClearsOrphanMark(t *testing.T) {
	db := setupCacheTestDB(t)
	repo := NewCacheEntryRepository(db)
	ctx := context.Background()

	hash := "1111111111111111111111111111111111111111111111111111111111111111"
	require.NoError(t, repo.Create(ctx, testCacheEntry(hash)))

	marked, err := repo.MarkOrphans(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	entry, err := repo.GetByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, entry.OrphanedAt)

	ok, err := repo.Attach(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	entry, err = repo.GetByHash(ctx, hash)
	require.NoError(t, err)
	assert.Nil(t, entry.OrphanedAt)
	assert.Equal(t, int64(1), entry.ReferenceCount)
}

func TestCacheEntryRepo_MarkOrphans(t *testing.T) {
	db := setupCacheTestDB(t)
	repo := NewCacheEntryRepository(db)
	ctx := context.Background()

	unreferenced := testCacheEntry("2222222222222222222222222222222222222222222222222222222222222222")
	referenced := testCacheEntry("3333333333333333333333333333333333333333333333333333333333333333")
	require.NoError(t, repo.Create(ctx, unreferenced))
	require.NoError(t, repo.Create(ctx, referenced))

	ok, err := repo.Attach(ctx, referenced.ContentHash)
	require.NoError(t, err)
	require.True(t, ok)

	firstMark := time.Now().Add(-time.Hour)
	marked, err := repo.MarkOrphans(ctx, firstMark)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	// A second mark phase does not reset the original timestamp
	marked, err = repo.MarkOrphans(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), marked)

	entry, err := repo.GetByHash(ctx, unreferenced.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, entry.OrphanedAt)
	assert.WithinDuration(t, firstMark, *entry.OrphanedAt, time.Second)
}

func TestCacheEntryRepo_Sweep(t *testing.T) {
	db := setupCacheTestDB(t)
	repo := NewCacheEntryRepository(db)
	ctx := context.Background()

	oldOrphan := testCacheEntry("4444444444444444444444444444444444444444444444444444444444444444")
	freshOrphan := testCacheEntry("5555555555555555555555555555555555555555555555555555555555555555")
	require.NoError(t, repo.Create(ctx, oldOrphan))
	require.NoError(t, repo.Create(ctx, freshOrphan))

	_, err := repo.MarkOrphans(ctx, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	// Only entries past the grace period are sweepable
	sweepable, err := repo.GetSweepable(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, sweepable, 2)

	sweepable, err = repo.GetSweepable(ctx, time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sweepable)

	t.Run("delete only while unreferenced", func(t *testing.T) {
		// Simulate a concurrent attach rescuing the entry mid-sweep
		ok, err := repo.Attach(ctx, freshOrphan.ContentHash)
		require.NoError(t, err)
		require.True(t, ok)

		deleted, err := repo.DeleteIfUnreferenced(ctx, freshOrphan.ContentHash)
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = repo.DeleteIfUnreferenced(ctx, oldOrphan.ContentHash)
		require.NoError(t, err)
		assert.True(t, deleted)

		entry, err := repo.GetByHash(ctx, oldOrphan.ContentHash)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})
}

func TestCacheEntryRepo_Stats(t *testing.T) {
	db := setupCacheTestDB(t)
	repo := NewCacheEntryRepository(db)
	ctx := context.Background()

	count, totalBytes, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, int64(0), totalBytes)

	a := testCacheEntry("6666666666666666666666666666666666666666666666666666666666666666")
	a.SizeBytes = 100
	b := testCacheEntry("7777777777777777777777777777777777777777777777777777777777777777")
	b.SizeBytes = 250
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	count, totalBytes, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(350), totalBytes)
}
