// Package repository provides data access interfaces and GORM implementations
// for shelfarr models.
package repository

import (
	"context"
	"time"

	"github.com/shelfarr/shelfarr/internal/models"
)

// LibraryRepository manages Library persistence.
type LibraryRepository interface {
	Create(ctx context.Context, library *models.Library) error
	GetByID(ctx context.Context, id models.ULID) (*models.Library, error)
	GetByName(ctx context.Context, name string) (*models.Library, error)
	GetAll(ctx context.Context) ([]*models.Library, error)
	GetMonitored(ctx context.Context) ([]*models.Library, error)
	Update(ctx context.Context, library *models.Library) error
	Delete(ctx context.Context, id models.ULID) error
}

// EntityRepository manages Entity persistence.
type EntityRepository interface {
	Create(ctx context.Context, entity *models.Entity) error
	GetByID(ctx context.Context, id models.ULID) (*models.Entity, error)
	GetBySourcePath(ctx context.Context, libraryID models.ULID, sourcePath string) (*models.Entity, error)
	GetByLibrary(ctx context.Context, libraryID models.ULID) ([]*models.Entity, error)
	GetAll(ctx context.Context) ([]*models.Entity, error)
	GetByState(ctx context.Context, state models.EntityState) ([]*models.Entity, error)
	// GetMonitoredInState returns monitored entities in the given state whose
	// library is also monitored.
	GetMonitoredInState(ctx context.Context, state models.EntityState) ([]*models.Entity, error)
	// GetPendingRepublish returns monitored published entities flagged with
	// unpublished changes.
	GetPendingRepublish(ctx context.Context) ([]*models.Entity, error)
	Update(ctx context.Context, entity *models.Entity) error
	Delete(ctx context.Context, id models.ULID) error
}

// CandidateRepository manages AssetCandidate persistence.
type CandidateRepository interface {
	Create(ctx context.Context, candidate *models.AssetCandidate) error
	GetByID(ctx context.Context, id models.ULID) (*models.AssetCandidate, error)
	// GetByProviderURL finds an existing candidate row for upsert-style
	// refreshes during enrichment.
	GetByProviderURL(ctx context.Context, entityID models.ULID, assetType models.AssetType, providerURL string) (*models.AssetCandidate, error)
	GetByEntity(ctx context.Context, entityID models.ULID) ([]*models.AssetCandidate, error)
	GetByEntityAndType(ctx context.Context, entityID models.ULID, assetType models.AssetType) ([]*models.AssetCandidate, error)
	GetSelected(ctx context.Context, entityID models.ULID) ([]*models.AssetCandidate, error)
	// CountByContentHash returns how many candidates reference a cached blob.
	CountByContentHash(ctx context.Context, contentHash string) (int64, error)
	Update(ctx context.Context, candidate *models.AssetCandidate) error
	Delete(ctx context.Context, id models.ULID) error
}

// CacheEntryRepository manages CacheEntry persistence with atomic reference
// counting.
type CacheEntryRepository interface {
	Create(ctx context.Context, entry *models.CacheEntry) error
	GetByHash(ctx context.Context, contentHash string) (*models.CacheEntry, error)
	// Attach atomically increments the reference count and clears any orphan
	// mark. Returns false if no entry exists for the hash.
	Attach(ctx context.Context, contentHash string) (bool, error)
	// Detach atomically decrements the reference count, refusing to go below
	// zero. Returns false if no entry exists or the count was already zero.
	Detach(ctx context.Context, contentHash string) (bool, error)
	// Touch updates LastUsedAt on a cache hit.
	Touch(ctx context.Context, contentHash string) error
	// MarkOrphans stamps OrphanedAt on unreferenced, unmarked entries and
	// returns how many were marked (GC mark phase).
	MarkOrphans(ctx context.Context, now time.Time) (int64, error)
	// GetSweepable returns entries orphaned before the cutoff and still
	// unreferenced (GC sweep phase input).
	GetSweepable(ctx context.Context, cutoff time.Time) ([]*models.CacheEntry, error)
	// DeleteIfUnreferenced removes the row only while its reference count is
	// still zero. Returns false if the entry was re-attached concurrently.
	DeleteIfUnreferenced(ctx context.Context, contentHash string) (bool, error)
	// Stats returns entry count and total stored bytes.
	Stats(ctx context.Context) (count int64, totalBytes int64, err error)
}

// SelectionConfigRepository manages SelectionConfig persistence.
type SelectionConfigRepository interface {
	Create(ctx context.Context, cfg *models.SelectionConfig) error
	GetByID(ctx context.Context, id models.ULID) (*models.SelectionConfig, error)
	GetByLibrary(ctx context.Context, libraryID models.ULID) ([]*models.SelectionConfig, error)
	GetByLibraryAndType(ctx context.Context, libraryID models.ULID, assetType models.AssetType) (*models.SelectionConfig, error)
	Update(ctx context.Context, cfg *models.SelectionConfig) error
	Delete(ctx context.Context, id models.ULID) error
}

// JobRepository manages Job persistence and atomic queue operations.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	GetAll(ctx context.Context) ([]*models.Job, error)
	GetPending(ctx context.Context) ([]*models.Job, error)
	GetRunning(ctx context.Context) ([]*models.Job, error)
	GetByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	Delete(ctx context.Context, id models.ULID) error
	DeleteCompleted(ctx context.Context, before time.Time) (int64, error)

	// AcquireJob atomically claims the most urgent runnable job for the
	// worker. Jobs whose target already has a running job are skipped so at
	// most one job mutates an entity at a time.
	AcquireJob(ctx context.Context, workerID string) (*models.Job, error)
	// ReleaseJob returns a claimed job to the pending queue.
	ReleaseJob(ctx context.Context, id models.ULID) error
	// CancelQueued atomically cancels a pending or scheduled job. Returns
	// false if the job had already started or finished.
	CancelQueued(ctx context.Context, id models.ULID) (bool, error)
	// UpdateProgress records item-level progress without touching job hooks.
	UpdateProgress(ctx context.Context, id models.ULID, current, total int, message string) error
	// FindDuplicatePending finds an existing pending/scheduled/running job
	// for the same type and target.
	FindDuplicatePending(ctx context.Context, jobType models.JobType, targetID models.ULID) (*models.Job, error)

	CreateHistory(ctx context.Context, history *models.JobHistory) error
	GetHistory(ctx context.Context, jobType *models.JobType, offset, limit int) ([]*models.JobHistory, int64, error)
	DeleteHistory(ctx context.Context, before time.Time) (int64, error)
}

// PublishAuditRepository manages PublishAudit persistence.
type PublishAuditRepository interface {
	Create(ctx context.Context, audit *models.PublishAudit) error
	GetByEntity(ctx context.Context, entityID models.ULID, limit int) ([]*models.PublishAudit, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
