package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfarr/shelfarr/internal/events"
	"github.com/shelfarr/shelfarr/internal/models"
)

// mockJobHandler implements JobHandler for testing.
type mockJobHandler struct {
	executeResult string
	executeErr    error
	executeCalled bool
}

func (m *mockJobHandler) Execute(ctx context.Context, job *models.Job) (string, error) {
	m.executeCalled = true
	return m.executeResult, m.executeErr
}

func runningJob(jobType models.JobType) *models.Job {
	now := models.Now()
	job := &models.Job{
		Type:         jobType,
		TargetID:     models.NewULID(),
		TargetName:   "Heat",
		Status:       models.JobStatusRunning,
		StartedAt:    &now,
		AttemptCount: 1,
		MaxAttempts:  3,
	}
	job.ID = models.NewULID()
	return job
}

func TestExecutor_RegisterHandler(t *testing.T) {
	executor := NewExecutor(newMockJobRepo(), nil)

	handler := &mockJobHandler{}
	executor.RegisterHandler(models.JobTypeEnrich, handler)

	assert.NotNil(t, executor.handlers[models.JobTypeEnrich])
}

func TestExecutor_Execute_Success(t *testing.T) {
	jobRepo := newMockJobRepo()
	executor := NewExecutor(jobRepo, nil)

	handler := &mockJobHandler{executeResult: "selected 3 assets"}
	executor.RegisterHandler(models.JobTypeEnrich, handler)

	job := runningJob(models.JobTypeEnrich)
	jobRepo.jobs[job.ID] = job

	err := executor.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, handler.executeCalled)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "selected 3 assets", job.Result)
	assert.NotNil(t, job.CompletedAt)

	// History should be created
	require.Len(t, jobRepo.history, 1)
	assert.Equal(t, models.JobStatusCompleted, jobRepo.history[0].Status)
}

func TestExecutor_Execute_TerminalFailure(t *testing.T) {
	jobRepo := newMockJobRepo()
	executor := NewExecutor(jobRepo, nil)

	handler := &mockJobHandler{executeErr: errors.New("provider unavailable")}
	executor.RegisterHandler(models.JobTypeEnrich, handler)

	job := runningJob(models.JobTypeEnrich)
	job.MaxAttempts = 1
	jobRepo.jobs[job.ID] = job

	err := executor.Execute(context.Background(), job)
	require.NoError(t, err) // Execute returns nil, error is recorded in job

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "provider unavailable", job.LastError)
	assert.NotNil(t, job.CompletedAt)

	require.Len(t, jobRepo.history, 1)
	assert.Equal(t, models.JobStatusFailed, jobRepo.history[0].Status)
}

func TestExecutor_Execute_FailureWithRetry(t *testing.T) {
	jobRepo := newMockJobRepo()
	executor := NewExecutor(jobRepo, nil)

	handler := &mockJobHandler{executeErr: errors.New("temporary error")}
	executor.RegisterHandler(models.JobTypeEnrich, handler)

	job := runningJob(models.JobTypeEnrich)
	job.BackoffSeconds = 10
	jobRepo.jobs[job.ID] = job

	err := executor.Execute(context.Background(), job)
	require.NoError(t, err)

	// Should be scheduled for retry, not terminal
	assert.Equal(t, models.JobStatusScheduled, job.Status)
	assert.NotNil(t, job.NextRunAt)
	assert.Empty(t, jobRepo.history)
}

func TestExecutor_Execute_FailedEventOnlyWhenTerminal(t *testing.T) {
	jobRepo := newMockJobRepo()
	bus := events.NewBus()
	executor := NewExecutor(jobRepo, bus)

	handler := &mockJobHandler{executeErr: errors.New("provider unavailable")}
	executor.RegisterHandler(models.JobTypeEnrich, handler)

	id, ch := bus.Subscribe(events.TypeFilter(events.EventJobFailed))
	defer bus.Unsubscribe(id)

	// First attempt fails but retries remain: no failed event
	job := runningJob(models.JobTypeEnrich)
	job.MaxAttempts = 2
	jobRepo.jobs[job.ID] = job

	require.NoError(t, executor.Execute(context.Background(), job))

	select {
	case event := <-ch:
		t.Fatalf("unexpected failed event for retryable failure: %v", event)
	default:
	}

	// Final attempt fails terminally: failed event published
	job.Status = models.JobStatusRunning
	job.AttemptCount = 2
	require.NoError(t, executor.Execute(context.Background(), job))

	select {
	case event := <-ch:
		assert.Equal(t, events.EventJobFailed, event.Type)
		assert.Equal(t, job.ID.String(), event.TargetID)
		assert.Equal(t, "provider unavailable", event.Data["error"])
	case <-time.After(time.Second):
		t.Fatal("no failed event received")
	}
}

func TestExecutor_Execute_Cancelled(t *testing.T) {
	jobRepo := newMockJobRepo()
	bus := events.NewBus()
	executor := NewExecutor(jobRepo, bus)

	executor.RegisterHandler(models.JobTypeScan, JobHandlerFunc(func(ctx context.Context, job *models.Job) (string, error) {
		return "", context.Canceled
	}))

	id, ch := bus.Subscribe(events.TypeFilter(events.EventJobCancelled))
	defer bus.Unsubscribe(id)

	job := runningJob(models.JobTypeScan)
	jobRepo.jobs[job.ID] = job

	err := executor.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Empty(t, job.LockedBy)

	select {
	case event := <-ch:
		assert.Equal(t, events.EventJobCancelled, event.Type)
	case <-time.After(time.Second):
		t.Fatal("no cancelled event received")
	}

	require.Len(t, jobRepo.history, 1)
	assert.Equal(t, models.JobStatusCancelled, jobRepo.history[0].Status)
}

func TestExecutor_Execute_PersistsAfterContextCancel(t *testing.T) {
	jobRepo := newMockJobRepo()
	executor := NewExecutor(jobRepo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	executor.RegisterHandler(models.JobTypeScan, JobHandlerFunc(func(ctx context.Context, job *models.Job) (string, error) {
		cancel()
		return "", ctx.Err()
	}))

	job := runningJob(models.JobTypeScan)
	jobRepo.jobs[job.ID] = job

	err := executor.Execute(ctx, job)
	require.NoError(t, err)

	// Status reached the repository despite the cancelled context
	stored := jobRepo.jobs[job.ID]
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
}

func TestExecutor_Execute_NoHandler(t *testing.T) {
	executor := NewExecutor(newMockJobRepo(), nil)

	job := runningJob(models.JobTypePublish)

	err := executor.Execute(context.Background(), job)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")
}
