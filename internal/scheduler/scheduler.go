package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shelfarr/shelfarr/internal/events"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
)

// Scheduler turns library and entity state into queued jobs. It periodically
// walks the pipeline (discovered -> identify, identified -> enrich,
// enriched -> publish) and maintains the recurring scan and cache GC
// schedules.
type Scheduler struct {
	mu sync.RWMutex

	jobRepo     repository.JobRepository
	libraryRepo repository.LibraryRepository
	entityRepo  repository.EntityRepository
	bus         *events.Bus

	logger *slog.Logger

	// cron parser for validating/parsing cron expressions
	parser cron.Parser

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	syncInterval time.Duration
	scanCron     string
	gcCron       string
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// SyncInterval is how often the pipeline is checked for due work.
	// Default: 1 minute
	SyncInterval time.Duration

	// ScanCron is the recurring schedule for library scans.
	// Default: hourly
	ScanCron string

	// GCCron is the recurring schedule for cache garbage collection.
	// Default: every 6 hours
	GCCron string
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SyncInterval: time.Minute,
		ScanCron:     "0 * * * *",
		GCCron:       "0 */6 * * *",
	}
}

// NewScheduler creates a new scheduler.
func NewScheduler(
	jobRepo repository.JobRepository,
	libraryRepo repository.LibraryRepository,
	entityRepo repository.EntityRepository,
	bus *events.Bus,
) *Scheduler {
	config := DefaultSchedulerConfig()
	return &Scheduler{
		jobRepo:      jobRepo,
		libraryRepo:  libraryRepo,
		entityRepo:   entityRepo,
		bus:          bus,
		logger:       slog.Default(),
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		syncInterval: config.SyncInterval,
		scanCron:     config.ScanCron,
		gcCron:       config.GCCron,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithConfig applies configuration to the scheduler.
func (s *Scheduler) WithConfig(config SchedulerConfig) *Scheduler {
	if config.SyncInterval > 0 {
		s.syncInterval = config.SyncInterval
	}
	if config.ScanCron != "" {
		s.scanCron = config.ScanCron
	}
	if config.GCCron != "" {
		s.gcCron = config.GCCron
	}
	return s
}

// Start begins the scheduler's background sync loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	if err := s.ValidateCron(s.scanCron); err != nil {
		return fmt.Errorf("invalid scan cron %q: %w", s.scanCron, err)
	}
	if err := s.ValidateCron(s.gcCron); err != nil {
		return fmt.Errorf("invalid gc cron %q: %w", s.gcCron, err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.syncLoop()

	s.logger.Info("scheduler started",
		slog.Duration("sync_interval", s.syncInterval),
		slog.String("scan_cron", s.scanCron),
		slog.String("gc_cron", s.gcCron))

	return nil
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// syncLoop periodically syncs the pipeline and creates due jobs.
func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	// Run immediately on start
	s.SyncOnce(s.ctx)

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(s.ctx)
		}
	}
}

// SyncOnce runs a single scheduling pass: due library scans, pipeline
// advancement for monitored entities, pending republishes, and cache GC.
func (s *Scheduler) SyncOnce(ctx context.Context) {
	s.syncLibraryScans(ctx)
	s.syncPipeline(ctx)
	s.syncCacheGC(ctx)
}

// syncLibraryScans enqueues scan jobs for monitored libraries when the scan
// schedule is due.
func (s *Scheduler) syncLibraryScans(ctx context.Context) {
	if !s.isDue(s.scanCron) {
		return
	}

	libraries, err := s.libraryRepo.GetMonitored(ctx)
	if err != nil {
		s.logger.Error("failed to get libraries for scheduling", slog.Any("error", err))
		return
	}

	for _, library := range libraries {
		job := models.NewJobForLibrary(models.JobTypeScan, library, s.scanCron)
		if err := s.createJobIfNotDuplicate(ctx, job); err != nil {
			s.logger.Error("failed to create scan job",
				slog.String("library", library.Name),
				slog.Any("error", err))
		}
	}
}

// syncPipeline enqueues the next pipeline step for each monitored entity.
// Duplicate detection keeps this idempotent across sync ticks: an entity with
// a pending or running job for the step is skipped.
func (s *Scheduler) syncPipeline(ctx context.Context) {
	steps := []struct {
		state   models.EntityState
		jobType models.JobType
	}{
		{models.StateDiscovered, models.JobTypeIdentify},
		{models.StateIdentified, models.JobTypeEnrich},
		{models.StateEnriched, models.JobTypePublish},
	}

	for _, step := range steps {
		entities, err := s.entityRepo.GetMonitoredInState(ctx, step.state)
		if err != nil {
			s.logger.Error("failed to get entities for scheduling",
				slog.String("state", string(step.state)),
				slog.Any("error", err))
			continue
		}

		for _, entity := range entities {
			job := models.NewJobForEntity(step.jobType, entity)
			if err := s.createJobIfNotDuplicate(ctx, job); err != nil {
				s.logger.Error("failed to create pipeline job",
					slog.String("type", string(step.jobType)),
					slog.String("entity", entity.Title),
					slog.Any("error", err))
			}
		}
	}

	// Published entities with unpublished changes go back through publish.
	entities, err := s.entityRepo.GetPendingRepublish(ctx)
	if err != nil {
		s.logger.Error("failed to get entities pending republish", slog.Any("error", err))
		return
	}

	for _, entity := range entities {
		job := models.NewJobForEntity(models.JobTypePublish, entity)
		if err := s.createJobIfNotDuplicate(ctx, job); err != nil {
			s.logger.Error("failed to create republish job",
				slog.String("entity", entity.Title),
				slog.Any("error", err))
		}
	}
}

// syncCacheGC enqueues a cache GC job when the GC schedule is due.
func (s *Scheduler) syncCacheGC(ctx context.Context) {
	if !s.isDue(s.gcCron) {
		return
	}

	job := &models.Job{
		Type:         models.JobTypeCacheGC,
		TargetName:   "asset cache",
		Status:       models.JobStatusPending,
		CronSchedule: s.gcCron,
	}
	if err := s.createJobIfNotDuplicate(ctx, job); err != nil {
		s.logger.Error("failed to create cache gc job", slog.Any("error", err))
	}
}

// isDue checks if a cron schedule is due for execution.
// A schedule is due if it fired within the last sync interval, i.e. since
// the previous sync pass ran. Upcoming fire times are not due yet; they
// belong to the pass that follows them.
func (s *Scheduler) isDue(cronExpr string) bool {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		s.logger.Warn("invalid cron expression", slog.String("cron", cronExpr), slog.Any("error", err))
		return false
	}

	now := time.Now()
	next := schedule.Next(now.Add(-s.syncInterval))
	return !next.After(now)
}

// createJobIfNotDuplicate creates a job unless one for the same type and
// target is already queued or running.
func (s *Scheduler) createJobIfNotDuplicate(ctx context.Context, job *models.Job) error {
	existing, err := s.jobRepo.FindDuplicatePending(ctx, job.Type, job.TargetID)
	if err != nil {
		return fmt.Errorf("checking for duplicate job: %w", err)
	}

	if existing != nil {
		s.logger.Debug("skipping duplicate job",
			slog.String("type", string(job.Type)),
			slog.String("target", job.TargetName))
		return nil
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	s.publishQueued(job)

	s.logger.Info("created scheduled job",
		slog.String("type", string(job.Type)),
		slog.String("target", job.TargetName),
		slog.String("job_id", job.ID.String()))

	return nil
}

// ScheduleImmediate creates an immediate (one-off) job for the given target.
// Returns the existing job if a duplicate is pending.
func (s *Scheduler) ScheduleImmediate(ctx context.Context, jobType models.JobType, targetID models.ULID, targetName string) (*models.Job, error) {
	existing, err := s.jobRepo.FindDuplicatePending(ctx, jobType, targetID)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicate job: %w", err)
	}

	if existing != nil {
		s.logger.Debug("returning existing pending job",
			slog.String("type", string(jobType)),
			slog.String("target", targetName),
			slog.String("job_id", existing.ID.String()))
		return existing, nil
	}

	job := &models.Job{
		Type:       jobType,
		TargetID:   targetID,
		TargetName: targetName,
		Status:     models.JobStatusPending,
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating immediate job: %w", err)
	}

	s.publishQueued(job)

	s.logger.Info("created immediate job",
		slog.String("type", string(jobType)),
		slog.String("target", targetName),
		slog.String("job_id", job.ID.String()))

	return job, nil
}

// publishQueued emits a queued event for a freshly created job.
func (s *Scheduler) publishQueued(job *models.Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.New(events.EventJobQueued, job.ID.String(), map[string]any{
		"job_type":    string(job.Type),
		"target_name": job.TargetName,
		"priority":    job.Priority,
	}))
}

// ParseCron validates a cron expression and returns the next run time.
func (s *Scheduler) ParseCron(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now()), nil
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}
