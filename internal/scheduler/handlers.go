package scheduler

import (
	"context"
	"log/slog"

	"github.com/shelfarr/shelfarr/internal/events"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
	"github.com/shelfarr/shelfarr/internal/service"
)

// ScanRunner defines the service interface for library scan jobs.
type ScanRunner interface {
	Scan(ctx context.Context, libraryID models.ULID, progress service.ProgressFunc) (string, error)
}

// IdentifyRunner defines the service interface for identification jobs.
type IdentifyRunner interface {
	Identify(ctx context.Context, entityID models.ULID) (string, error)
}

// EnrichRunner defines the service interface for enrichment jobs.
type EnrichRunner interface {
	Enrich(ctx context.Context, entityID models.ULID, progress service.ProgressFunc) (string, error)
}

// PublishRunner defines the service interface for publish jobs.
type PublishRunner interface {
	Publish(ctx context.Context, entityID models.ULID) (string, error)
}

// CacheGCRunner defines the service interface for cache GC jobs.
type CacheGCRunner interface {
	RunCacheGC(ctx context.Context) (string, error)
}

// progressReporter builds a progress callback that persists job progress and
// broadcasts it on the bus.
type progressReporter struct {
	jobRepo repository.JobRepository
	bus     *events.Bus
	logger  *slog.Logger
}

func (r *progressReporter) forJob(ctx context.Context, job *models.Job) service.ProgressFunc {
	return func(current, total int, message string) {
		if err := r.jobRepo.UpdateProgress(ctx, job.ID, current, total, message); err != nil {
			r.logger.Debug("failed to record job progress",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err))
		}
		if r.bus != nil {
			r.bus.Publish(events.New(events.EventJobProgress, job.ID.String(), map[string]any{
				"current": current,
				"total":   total,
				"message": message,
			}))
		}
	}
}

// ScanHandler handles library scan jobs.
type ScanHandler struct {
	service  ScanRunner
	progress *progressReporter
}

// NewScanHandler creates a handler for library scan jobs.
func NewScanHandler(svc ScanRunner, jobRepo repository.JobRepository, bus *events.Bus) *ScanHandler {
	return &ScanHandler{
		service:  svc,
		progress: &progressReporter{jobRepo: jobRepo, bus: bus, logger: slog.Default()},
	}
}

// Execute runs a library scan job.
func (h *ScanHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	return h.service.Scan(ctx, job.TargetID, h.progress.forJob(ctx, job))
}

// IdentifyHandler handles entity identification jobs.
type IdentifyHandler struct {
	service IdentifyRunner
}

// NewIdentifyHandler creates a handler for identification jobs.
func NewIdentifyHandler(svc IdentifyRunner) *IdentifyHandler {
	return &IdentifyHandler{service: svc}
}

// Execute runs an identification job.
func (h *IdentifyHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	return h.service.Identify(ctx, job.TargetID)
}

// EnrichHandler handles enrichment jobs.
type EnrichHandler struct {
	service  EnrichRunner
	progress *progressReporter
}

// NewEnrichHandler creates a handler for enrichment jobs.
func NewEnrichHandler(svc EnrichRunner, jobRepo repository.JobRepository, bus *events.Bus) *EnrichHandler {
	return &EnrichHandler{
		service:  svc,
		progress: &progressReporter{jobRepo: jobRepo, bus: bus, logger: slog.Default()},
	}
}

// Execute runs an enrichment job.
func (h *EnrichHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	return h.service.Enrich(ctx, job.TargetID, h.progress.forJob(ctx, job))
}

// PublishHandler handles publish jobs.
type PublishHandler struct {
	service PublishRunner
}

// NewPublishHandler creates a handler for publish jobs.
func NewPublishHandler(svc PublishRunner) *PublishHandler {
	return &PublishHandler{service: svc}
}

// Execute runs a publish job.
func (h *PublishHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	return h.service.Publish(ctx, job.TargetID)
}

// CacheGCHandler handles cache garbage collection jobs.
type CacheGCHandler struct {
	service CacheGCRunner
}

// NewCacheGCHandler creates a handler for cache GC jobs.
func NewCacheGCHandler(svc CacheGCRunner) *CacheGCHandler {
	return &CacheGCHandler{service: svc}
}

// Execute runs a cache GC job.
func (h *CacheGCHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	return h.service.RunCacheGC(ctx)
}
