package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfarr/shelfarr/internal/events"
	"github.com/shelfarr/shelfarr/internal/models"
)

// mockJobRepo implements repository.JobRepository for testing.
type mockJobRepo struct {
	jobs    map[models.ULID]*models.Job
	history []*models.JobHistory
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{
		jobs: make(map[models.ULID]*models.Job),
	}
}

func (m *mockJobRepo) Create(ctx context.Context, job *models.Job) error {
	if job.ID.IsZero() {
		job.ID = models.NewULID()
	}
	if job.Priority == 0 {
		job.Priority = models.DefaultPriority(job.Type)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepo) GetByID(ctx context.Context, id models.ULID) (*models.Job, error) {
	return m.jobs[id], nil
}

func (m *mockJobRepo) GetAll(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (m *mockJobRepo) GetPending(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	for _, j := range m.jobs {
		if j.IsPending() {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (m *mockJobRepo) GetRunning(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	for _, j := range m.jobs {
		if j.IsRunning() {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (m *mockJobRepo) GetByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []*models.Job
	for _, j := range m.jobs {
		if j.Status == status {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (m *mockJobRepo) Update(ctx context.Context, job *models.Job) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepo) Delete(ctx context.Context, id models.ULID) error {
	delete(m.jobs, id)
	return nil
}

func (m *mockJobRepo) DeleteCompleted(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	for id, j := range m.jobs {
		if j.IsFinished() && j.CompletedAt != nil && j.CompletedAt.Before(before) {
			delete(m.jobs, id)
			count++
		}
	}
	return count, nil
}

func (m *mockJobRepo) AcquireJob(ctx context.Context, workerID string) (*models.Job, error) {
	for _, j := range m.jobs {
		if j.Status == models.JobStatusPending && j.LockedBy == "" {
			j.MarkRunning(workerID)
			return j, nil
		}
	}
	return nil, nil
}

func (m *mockJobRepo) ReleaseJob(ctx context.Context, id models.ULID) error {
	if j, ok := m.jobs[id]; ok {
		j.LockedBy = ""
		j.LockedAt = nil
		j.Status = models.JobStatusPending
	}
	return nil
}

func (m *mockJobRepo) CancelQueued(ctx context.Context, id models.ULID) (bool, error) {
	j, ok := m.jobs[id]
	if !ok || !j.IsPending() {
		return false, nil
	}
	j.MarkCancelled()
	return true, nil
}

func (m *mockJobRepo) UpdateProgress(ctx context.Context, id models.ULID, current, total int, message string) error {
	if j, ok := m.jobs[id]; ok {
		j.ProgressCurrent = current
		j.ProgressTotal = total
		j.ProgressMessage = message
		now := models.Now()
		j.ProgressAt = &now
	}
	return nil
}

func (m *mockJobRepo) FindDuplicatePending(ctx context.Context, jobType models.JobType, targetID models.ULID) (*models.Job, error) {
	for _, j := range m.jobs {
		if j.Type == jobType && j.TargetID == targetID && (j.IsPending() || j.IsRunning()) {
			return j, nil
		}
	}
	return nil, nil
}

func (m *mockJobRepo) CreateHistory(ctx context.Context, history *models.JobHistory) error {
	if history.ID.IsZero() {
		history.ID = models.NewULID()
	}
	m.history = append(m.history, history)
	return nil
}

func (m *mockJobRepo) GetHistory(ctx context.Context, jobType *models.JobType, offset, limit int) ([]*models.JobHistory, int64, error) {
	var filtered []*models.JobHistory
	for _, h := range m.history {
		if jobType == nil || h.Type == *jobType {
			filtered = append(filtered, h)
		}
	}
	total := int64(len(filtered))
	if offset >= len(filtered) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], total, nil
}

func (m *mockJobRepo) DeleteHistory(ctx context.Context, before time.Time) (int64, error) {
	var remaining []*models.JobHistory
	var count int64
	for _, h := range m.history {
		if h.CompletedAt == nil || h.CompletedAt.After(before) {
			remaining = append(remaining, h)
		} else {
			count++
		}
	}
	m.history = remaining
	return count, nil
}

// countByType counts jobs of the given type regardless of status.
func (m *mockJobRepo) countByType(jobType models.JobType) int {
	count := 0
	for _, j := range m.jobs {
		if j.Type == jobType {
			count++
		}
	}
	return count
}

// mockLibraryRepo implements repository.LibraryRepository for testing.
type mockLibraryRepo struct {
	libraries []*models.Library
}

func (m *mockLibraryRepo) Create(ctx context.Context, library *models.Library) error { return nil }

func (m *mockLibraryRepo) GetByID(ctx context.Context, id models.ULID) (*models.Library, error) {
	for _, l := range m.libraries {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, nil
}

func (m *mockLibraryRepo) GetByName(ctx context.Context, name string) (*models.Library, error) {
	return nil, nil
}

func (m *mockLibraryRepo) GetAll(ctx context.Context) ([]*models.Library, error) {
	return m.libraries, nil
}

func (m *mockLibraryRepo) GetMonitored(ctx context.Context) ([]*models.Library, error) {
	var monitored []*models.Library
	for _, l := range m.libraries {
		if l.IsMonitored() {
			monitored = append(monitored, l)
		}
	}
	return monitored, nil
}

func (m *mockLibraryRepo) Update(ctx context.Context, library *models.Library) error { return nil }
func (m *mockLibraryRepo) Delete(ctx context.Context, id models.ULID) error          { return nil }

// mockEntityRepo implements repository.EntityRepository for testing.
type mockEntityRepo struct {
	entities  []*models.Entity
	republish []*models.Entity
}

func (m *mockEntityRepo) Create(ctx context.Context, entity *models.Entity) error { return nil }

func (m *mockEntityRepo) GetByID(ctx context.Context, id models.ULID) (*models.Entity, error) {
	for _, e := range m.entities {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (m *mockEntityRepo) GetBySourcePath(ctx context.Context, libraryID models.ULID, sourcePath string) (*models.Entity, error) {
	return nil, nil
}

func (m *mockEntityRepo) GetByLibrary(ctx context.Context, libraryID models.ULID) ([]*models.Entity, error) {
	return m.entities, nil
}

func (m *mockEntityRepo) GetAll(ctx context.Context) ([]*models.Entity, error) {
	return m.entities, nil
}

func (m *mockEntityRepo) GetByState(ctx context.Context, state models.EntityState) ([]*models.Entity, error) {
	var matched []*models.Entity
	for _, e := range m.entities {
		if e.State == state {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (m *mockEntityRepo) GetMonitoredInState(ctx context.Context, state models.EntityState) ([]*models.Entity, error) {
	var matched []*models.Entity
	for _, e := range m.entities {
		if e.State == state && e.IsMonitored() {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (m *mockEntityRepo) GetPendingRepublish(ctx context.Context) ([]*models.Entity, error) {
	return m.republish, nil
}

func (m *mockEntityRepo) Update(ctx context.Context, entity *models.Entity) error { return nil }
func (m *mockEntityRepo) Delete(ctx context.Context, id models.ULID) error        { return nil }

func newTestScheduler(jobRepo *mockJobRepo, libraryRepo *mockLibraryRepo, entityRepo *mockEntityRepo) *Scheduler {
	return NewScheduler(jobRepo, libraryRepo, entityRepo, nil)
}

func testEntity(state models.EntityState, title string) *models.Entity {
	entity := &models.Entity{
		LibraryID: models.NewULID(),
		Kind:      models.EntityKindMovie,
		Title:     title,
		State:     state,
		Monitored: models.BoolPtr(true),
	}
	entity.ID = models.NewULID()
	return entity
}

func TestScheduler_ValidateCron(t *testing.T) {
	scheduler := newTestScheduler(newMockJobRepo(), &mockLibraryRepo{}, &mockEntityRepo{})

	tests := []struct {
		name    string
		cron    string
		wantErr bool
	}{
		{"every 6 hours", "0 */6 * * *", false},
		{"every minute", "* * * * *", false},
		{"daily at midnight", "0 0 * * *", false},
		{"weekly", "0 0 * * 0", false},
		{"invalid format", "invalid", true},
		{"too few fields", "* * *", true},
		{"too many fields", "0 0 0 * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := scheduler.ValidateCron(tt.cron)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_ParseCron(t *testing.T) {
	scheduler := newTestScheduler(newMockJobRepo(), &mockLibraryRepo{}, &mockEntityRepo{})

	nextRun, err := scheduler.ParseCron("0 */6 * * *")
	require.NoError(t, err)
	assert.True(t, nextRun.After(time.Now()))

	_, err = scheduler.ParseCron("not a cron")
	assert.Error(t, err)
}

func TestScheduler_IsDue(t *testing.T) {
	scheduler := newTestScheduler(newMockJobRepo(), &mockLibraryRepo{}, &mockEntityRepo{}).
		WithConfig(SchedulerConfig{SyncInterval: 5 * time.Minute})

	// An every-minute schedule always fired within the lookback window.
	assert.True(t, scheduler.isDue("* * * * *"))

	// A schedule whose next fire time is still ahead is not due; it belongs
	// to the sync pass after it fires, otherwise it would be due twice.
	upcoming := time.Now().Add(2 * time.Minute)
	assert.False(t, scheduler.isDue(fmt.Sprintf("%d * * * *", upcoming.Minute())))
}

func TestScheduler_ScheduleImmediate(t *testing.T) {
	jobRepo := newMockJobRepo()
	scheduler := newTestScheduler(jobRepo, &mockLibraryRepo{}, &mockEntityRepo{})
	ctx := context.Background()

	targetID := models.NewULID()

	// First call creates a new job
	job1, err := scheduler.ScheduleImmediate(ctx, models.JobTypeEnrich, targetID, "Heat")
	require.NoError(t, err)
	require.NotNil(t, job1)
	assert.Equal(t, models.JobTypeEnrich, job1.Type)
	assert.Equal(t, targetID, job1.TargetID)
	assert.Equal(t, models.JobStatusPending, job1.Status)

	// Second call returns the existing job
	job2, err := scheduler.ScheduleImmediate(ctx, models.JobTypeEnrich, targetID, "Heat")
	require.NoError(t, err)
	require.NotNil(t, job2)
	assert.Equal(t, job1.ID, job2.ID)

	// Different type creates a new job
	job3, err := scheduler.ScheduleImmediate(ctx, models.JobTypePublish, targetID, "Heat")
	require.NoError(t, err)
	require.NotNil(t, job3)
	assert.NotEqual(t, job1.ID, job3.ID)
}

func TestScheduler_ScheduleImmediate_PublishesQueuedEvent(t *testing.T) {
	jobRepo := newMockJobRepo()
	bus := events.NewBus()
	scheduler := NewScheduler(jobRepo, &mockLibraryRepo{}, &mockEntityRepo{}, bus)

	id, ch := bus.Subscribe(events.TypeFilter(events.EventJobQueued))
	defer bus.Unsubscribe(id)

	job, err := scheduler.ScheduleImmediate(context.Background(), models.JobTypeIdentify, models.NewULID(), "Heat")
	require.NoError(t, err)

	select {
	case event := <-ch:
		assert.Equal(t, events.EventJobQueued, event.Type)
		assert.Equal(t, job.ID.String(), event.TargetID)
		assert.Equal(t, string(models.JobTypeIdentify), event.Data["job_type"])
	case <-time.After(time.Second):
		t.Fatal("no queued event received")
	}
}

func TestScheduler_SyncPipeline(t *testing.T) {
	jobRepo := newMockJobRepo()
	entityRepo := &mockEntityRepo{
		entities: []*models.Entity{
			testEntity(models.StateDiscovered, "Heat"),
			testEntity(models.StateIdentified, "Ronin"),
			testEntity(models.StateEnriched, "Collateral"),
		},
	}
	scheduler := newTestScheduler(jobRepo, &mockLibraryRepo{}, entityRepo)
	ctx := context.Background()

	scheduler.syncPipeline(ctx)

	assert.Equal(t, 1, jobRepo.countByType(models.JobTypeIdentify))
	assert.Equal(t, 1, jobRepo.countByType(models.JobTypeEnrich))
	assert.Equal(t, 1, jobRepo.countByType(models.JobTypePublish))

	// A second pass is idempotent while jobs are still queued
	scheduler.syncPipeline(ctx)
	assert.Len(t, jobRepo.jobs, 3)
}

func TestScheduler_SyncPipeline_SkipsUnmonitored(t *testing.T) {
	jobRepo := newMockJobRepo()
	unmonitored := testEntity(models.StateDiscovered, "Heat")
	unmonitored.Monitored = models.BoolPtr(false)
	entityRepo := &mockEntityRepo{entities: []*models.Entity{unmonitored}}
	scheduler := newTestScheduler(jobRepo, &mockLibraryRepo{}, entityRepo)

	scheduler.syncPipeline(context.Background())

	assert.Empty(t, jobRepo.jobs)
}

func TestScheduler_SyncPipeline_Republish(t *testing.T) {
	jobRepo := newMockJobRepo()
	changed := testEntity(models.StatePublished, "Heat")
	changed.HasUnpublishedChanges = true
	entityRepo := &mockEntityRepo{republish: []*models.Entity{changed}}
	scheduler := newTestScheduler(jobRepo, &mockLibraryRepo{}, entityRepo)

	scheduler.syncPipeline(context.Background())

	require.Equal(t, 1, jobRepo.countByType(models.JobTypePublish))
	for _, job := range jobRepo.jobs {
		assert.Equal(t, changed.ID, job.TargetID)
	}
}

func TestScheduler_SyncLibraryScans(t *testing.T) {
	jobRepo := newMockJobRepo()
	monitored := &models.Library{Name: "Movies", RootDir: "/media/movies", Monitored: models.BoolPtr(true)}
	monitored.ID = models.NewULID()
	paused := &models.Library{Name: "Archive", RootDir: "/media/archive", Monitored: models.BoolPtr(false)}
	paused.ID = models.NewULID()

	libraryRepo := &mockLibraryRepo{libraries: []*models.Library{monitored, paused}}
	scheduler := newTestScheduler(jobRepo, libraryRepo, &mockEntityRepo{}).
		WithConfig(SchedulerConfig{ScanCron: "* * * * *"})

	scheduler.syncLibraryScans(context.Background())

	require.Equal(t, 1, jobRepo.countByType(models.JobTypeScan))
	for _, job := range jobRepo.jobs {
		assert.Equal(t, monitored.ID, job.TargetID)
		assert.Equal(t, "* * * * *", job.CronSchedule)
	}
}

func TestScheduler_SyncCacheGC(t *testing.T) {
	jobRepo := newMockJobRepo()
	scheduler := newTestScheduler(jobRepo, &mockLibraryRepo{}, &mockEntityRepo{}).
		WithConfig(SchedulerConfig{GCCron: "* * * * *"})
	ctx := context.Background()

	scheduler.syncCacheGC(ctx)
	assert.Equal(t, 1, jobRepo.countByType(models.JobTypeCacheGC))

	// Duplicate detection holds for the targetless GC job too
	scheduler.syncCacheGC(ctx)
	assert.Equal(t, 1, jobRepo.countByType(models.JobTypeCacheGC))
}

func TestScheduler_StartStop(t *testing.T) {
	jobRepo := newMockJobRepo()
	scheduler := newTestScheduler(jobRepo, &mockLibraryRepo{}, &mockEntityRepo{}).
		WithConfig(SchedulerConfig{SyncInterval: 100 * time.Millisecond})

	ctx := context.Background()

	err := scheduler.Start(ctx)
	require.NoError(t, err)

	// Double start should error
	err = scheduler.Start(ctx)
	assert.Error(t, err)

	scheduler.Stop()

	// Can restart after stop
	err = scheduler.Start(ctx)
	require.NoError(t, err)
	scheduler.Stop()
}

func TestScheduler_Start_RejectsInvalidCron(t *testing.T) {
	scheduler := newTestScheduler(newMockJobRepo(), &mockLibraryRepo{}, &mockEntityRepo{}).
		WithConfig(SchedulerConfig{GCCron: "not a cron"})

	err := scheduler.Start(context.Background())
	assert.Error(t, err)
}
