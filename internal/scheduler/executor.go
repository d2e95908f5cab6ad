// Package scheduler implements the persisted job queue: acquisition,
// execution, retries with backoff, cancellation, and the pipeline sync loop
// that turns entity state into queued work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shelfarr/shelfarr/internal/events"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
)

// JobHandler defines the interface for handling specific job types.
type JobHandler interface {
	// Execute runs the job and returns a result string or error.
	Execute(ctx context.Context, job *models.Job) (string, error)
}

// JobHandlerFunc adapts a function to the JobHandler interface.
type JobHandlerFunc func(ctx context.Context, job *models.Job) (string, error)

// Execute implements JobHandler.
func (f JobHandlerFunc) Execute(ctx context.Context, job *models.Job) (string, error) {
	return f(ctx, job)
}

// Executor dispatches jobs to the appropriate handlers and records their
// outcomes.
type Executor struct {
	handlers map[models.JobType]JobHandler
	jobRepo  repository.JobRepository
	bus      *events.Bus
	logger   *slog.Logger
}

// NewExecutor creates a new job executor.
func NewExecutor(jobRepo repository.JobRepository, bus *events.Bus) *Executor {
	return &Executor{
		handlers: make(map[models.JobType]JobHandler),
		jobRepo:  jobRepo,
		bus:      bus,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// RegisterHandler registers a handler for a job type.
func (e *Executor) RegisterHandler(jobType models.JobType, handler JobHandler) {
	e.handlers[jobType] = handler
}

// Execute runs a job and updates its status. Failure events are only
// published when the job reaches terminal failure; retries stay quiet so a
// flaky job does not spam subscribers once per attempt.
func (e *Executor) Execute(ctx context.Context, job *models.Job) error {
	handler, ok := e.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler registered for job type: %s", job.Type)
	}

	e.logger.Info("executing job",
		slog.String("job_id", job.ID.String()),
		slog.String("type", string(job.Type)),
		slog.String("target", job.TargetName))

	e.publish(events.EventJobStarted, job, nil)

	result, err := handler.Execute(ctx, job)

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		e.logger.Info("job cancelled",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)))

		job.MarkCancelled()
		e.publish(events.EventJobCancelled, job, nil)

	case err != nil:
		e.logger.Error("job failed",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)),
			slog.Any("error", err))

		job.MarkFailed(err)

		if job.CanRetry() {
			job.ScheduleRetry()
			e.logger.Info("job scheduled for retry",
				slog.String("job_id", job.ID.String()),
				slog.Int("attempt", job.AttemptCount),
				slog.Time("next_run", job.NextRunAt.UTC()))
		} else {
			e.publish(events.EventJobFailed, job, map[string]any{
				"error":    err.Error(),
				"attempts": job.AttemptCount,
			})
		}

	default:
		e.logger.Info("job completed",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)),
			slog.String("result", result))

		job.MarkCompleted(result)
		e.publish(events.EventJobCompleted, job, map[string]any{"result": result})
	}

	// Status must persist even when the job context was cancelled
	saveCtx := context.WithoutCancel(ctx)
	if err := e.jobRepo.Update(saveCtx, job); err != nil {
		e.logger.Error("failed to update job status",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err))
		return fmt.Errorf("updating job status: %w", err)
	}

	if job.IsFinished() {
		e.createHistoryRecord(saveCtx, job)
	}

	return nil
}

// publish sends a job event on the bus if one is attached.
func (e *Executor) publish(eventType events.EventType, job *models.Job, data map[string]any) {
	if e.bus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["job_type"] = string(job.Type)
	data["target_name"] = job.TargetName
	e.bus.Publish(events.New(eventType, job.ID.String(), data))
}

// createHistoryRecord creates a job history record.
func (e *Executor) createHistoryRecord(ctx context.Context, job *models.Job) {
	history := &models.JobHistory{
		JobID:         job.ID,
		Type:          job.Type,
		TargetID:      job.TargetID,
		TargetName:    job.TargetName,
		Status:        job.Status,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		DurationMs:    job.DurationMs,
		AttemptNumber: job.AttemptCount,
		Error:         job.LastError,
		Result:        job.Result,
	}

	if err := e.jobRepo.CreateHistory(ctx, history); err != nil {
		e.logger.Error("failed to create job history",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err))
	}
}
