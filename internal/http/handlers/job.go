package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
)

// JobScheduler queues immediate jobs on behalf of API triggers.
type JobScheduler interface {
	ScheduleImmediate(ctx context.Context, jobType models.JobType, targetID models.ULID, targetName string) (*models.Job, error)
}

// JobCanceller stops a job that is already executing on the worker.
type JobCanceller interface {
	Cancel(jobID models.ULID) bool
}

// JobHandler handles job queue and history endpoints.
type JobHandler struct {
	jobs   repository.JobRepository
	runner JobCanceller
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobs repository.JobRepository, runner JobCanceller) *JobHandler {
	return &JobHandler{
		jobs:   jobs,
		runner: runner,
	}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Lists jobs in the queue, optionally filtered by status",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Description: "Cancels a queued job, or signals a running job to stop",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "listJobHistory",
		Method:      "GET",
		Path:        "/api/v1/jobs/history",
		Summary:     "List job history",
		Tags:        []string{"Jobs"},
	}, h.History)
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Status string `query:"status" doc:"Filter by status" enum:"pending,scheduled,running,completed,failed,cancelled,"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// List returns jobs, optionally filtered by status.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	var (
		jobs []*models.Job
		err  error
	)
	if input.Status != "" {
		jobs, err = h.jobs.GetByStatus(ctx, models.JobStatus(input.Status))
	} else {
		jobs, err = h.jobs.GetAll(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}

	resp := &ListJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(j))
	}
	return resp, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	job, err := h.getJob(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetJobOutput{Body: JobFromModel(job)}, nil
}

func (h *JobHandler) getJob(ctx context.Context, rawID string) (*models.Job, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job", err)
	}
	if job == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", rawID))
	}
	return job, nil
}

// CancelJobInput is the input for cancelling a job.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// CancelJobOutput is the output for cancelling a job.
type CancelJobOutput struct {
	Body JobResponse
}

// Cancel cancels a job. Queued jobs are cancelled atomically in the store;
// a running job gets its context cancelled and finishes on its own.
func (h *JobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	job, err := h.getJob(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	cancelled, err := h.jobs.CancelQueued(ctx, job.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to cancel job", err)
	}
	if !cancelled {
		if !h.runner.Cancel(job.ID) {
			return nil, huma.Error409Conflict(fmt.Sprintf("job %s is not cancellable in status %s", input.ID, job.Status))
		}
	}

	job, err = h.getJob(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &CancelJobOutput{Body: JobFromModel(job)}, nil
}

// ListJobHistoryInput is the input for listing job history.
type ListJobHistoryInput struct {
	Type   string `query:"type" doc:"Filter by job type" enum:"library_scan,identify,enrich,publish,cache_gc,"`
	Offset int    `query:"offset" minimum:"0" default:"0" doc:"Pagination offset"`
	Limit  int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
}

// ListJobHistoryOutput is the output for listing job history.
type ListJobHistoryOutput struct {
	Body struct {
		History []JobHistoryResponse `json:"history"`
		Total   int64                `json:"total"`
		Offset  int                  `json:"offset"`
		Limit   int                  `json:"limit"`
	}
}

// History returns completed job executions, newest first.
func (h *JobHandler) History(ctx context.Context, input *ListJobHistoryInput) (*ListJobHistoryOutput, error) {
	var jobType *models.JobType
	if input.Type != "" {
		t := models.JobType(input.Type)
		jobType = &t
	}

	history, total, err := h.jobs.GetHistory(ctx, jobType, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list job history", err)
	}

	resp := &ListJobHistoryOutput{}
	resp.Body.History = make([]JobHistoryResponse, 0, len(history))
	for _, entry := range history {
		resp.Body.History = append(resp.Body.History, JobHistoryFromModel(entry))
	}
	resp.Body.Total = total
	resp.Body.Offset = input.Offset
	resp.Body.Limit = input.Limit
	return resp, nil
}
