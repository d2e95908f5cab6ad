package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shelfarr/shelfarr/internal/models"
)

// cacheEntryRepo implements CacheEntryRepository using GORM. Reference count
// mutations are expressed as guarded single-statement updates so concurrent
// attach/detach/sweep never race through a read-modify-write cycle.
type cacheEntryRepo struct {
	db *gorm.DB
}

// NewCacheEntryRepository creates a new CacheEntryRepository.
func NewCacheEntryRepository(db *gorm.DB) *cacheEntryRepo {
	return &cacheEntryRepo{db: db}
}

// Create creates a new cache entry.
func (r *cacheEntryRepo) Create(ctx context.Context, entry *models.CacheEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("creating cache entry: %w", err)
	}
	return nil
}

// GetByHash retrieves a cache entry by content hash.
func (r *cacheEntryRepo) GetByHash(ctx context.Context, contentHash string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	if err := r.db.WithContext(ctx).Where("content_hash = ?", contentHash).First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting cache entry by hash: %w", err)
	}
	return &entry, nil
}

// Attach atomically increments the reference count and clears any orphan
// mark. A blob marked for sweep is rescued by a concurrent attach because
// the orphan mark and the increment happen in the same statement.
func (r *cacheEntryRepo) Attach(ctx context.Context, contentHash string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("content_hash = ?", contentHash).
		Updates(map[string]interface{}{
			"reference_count": gorm.Expr("reference_count + 1"),
			"orphaned_at":     nil,
			"last_used_at":    models.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("attaching cache entry: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Detach atomically decrements the reference count. The guard keeps the
// count from going negative when detach is retried after a partial failure.
func (r *cacheEntryRepo) Detach(ctx context.Context, contentHash string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("content_hash = ? AND reference_count > 0", contentHash).
		Update("reference_count", gorm.Expr("reference_count - 1"))
	if result.Error != nil {
		return false, fmt.Errorf("detaching cache entry: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Touch updates LastUsedAt on a cache hit.
func (r *cacheEntryRepo) Touch(ctx context.Context, contentHash string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("content_hash = ?", contentHash).
		Update("last_used_at", models.Now()).Error; err != nil {
		return fmt.Errorf("touching cache entry: %w", err)
	}
	return nil
}

// MarkOrphans stamps OrphanedAt on unreferenced, unmarked entries. Already
// marked entries keep their original timestamp so the grace period is not
// reset by repeated mark phases.
func (r *cacheEntryRepo) MarkOrphans(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("reference_count = 0 AND orphaned_at IS NULL").
		Update("orphaned_at", now)
	if result.Error != nil {
		return 0, fmt.Errorf("marking orphaned cache entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetSweepable returns entries orphaned before the cutoff and still
// unreferenced.
func (r *cacheEntryRepo) GetSweepable(ctx context.Context, cutoff time.Time) ([]*models.CacheEntry, error) {
	var entries []*models.CacheEntry
	if err := r.db.WithContext(ctx).
		Where("reference_count = 0 AND orphaned_at IS NOT NULL AND orphaned_at < ?", cutoff).
		Order("orphaned_at ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("getting sweepable cache entries: %w", err)
	}
	return entries, nil
}

// DeleteIfUnreferenced removes the row only while its reference count is
// still zero. Returns false when a concurrent attach rescued the entry
// between the sweep listing and the delete. The delete is unscoped so the
// unique hash index does not block the blob from being re-cached later.
func (r *cacheEntryRepo) DeleteIfUnreferenced(ctx context.Context, contentHash string) (bool, error) {
	result := r.db.WithContext(ctx).
		Unscoped().
		Where("content_hash = ? AND reference_count = 0", contentHash).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return false, fmt.Errorf("deleting unreferenced cache entry: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Stats returns entry count and total stored bytes.
func (r *cacheEntryRepo) Stats(ctx context.Context) (int64, int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.CacheEntry{}).Count(&count).Error; err != nil {
		return 0, 0, fmt.Errorf("counting cache entries: %w", err)
	}

	var totalBytes int64
	if err := r.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&totalBytes).Error; err != nil {
		return 0, 0, fmt.Errorf("summing cache entry sizes: %w", err)
	}

	return count, totalBytes, nil
}

// Ensure cacheEntryRepo implements CacheEntryRepository at compile time.
var _ CacheEntryRepository = (*cacheEntryRepo)(nil)
