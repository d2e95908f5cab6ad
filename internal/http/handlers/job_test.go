package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
)

func setupJobHandler(t *testing.T) (*httptest.Server, repository.JobRepository, *stubCanceller) {
	t.Helper()
	db := setupHandlerDB(t)
	jobs := repository.NewJobRepository(db)
	canceller := &stubCanceller{}

	router, api := newTestRouter(t)
	NewJobHandler(jobs, canceller).Register(api)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, jobs, canceller
}

func createTestJob(t *testing.T, jobs repository.JobRepository, jobType models.JobType, status models.JobStatus) *models.Job {
	t.Helper()
	job := &models.Job{
		Type:   jobType,
		Status: status,
	}
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

func TestJobHandler_ListFiltersByStatus(t *testing.T) {
	server, jobs, _ := setupJobHandler(t)
	createTestJob(t, jobs, models.JobTypeScan, models.JobStatusPending)
	createTestJob(t, jobs, models.JobTypeEnrich, models.JobStatusRunning)

	resp, err := http.Get(server.URL + "/api/v1/jobs?status=running")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Jobs []JobResponse `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Jobs, 1)
	assert.Equal(t, string(models.JobTypeEnrich), out.Jobs[0].Type)
}

func TestJobHandler_GetNotFound(t *testing.T) {
	server, _, _ := setupJobHandler(t)

	resp, err := http.Get(server.URL + "/api/v1/jobs/" + models.NewULID().String())
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobHandler_CancelQueuedJob(t *testing.T) {
	server, jobs, canceller := setupJobHandler(t)
	job := createTestJob(t, jobs, models.JobTypeScan, models.JobStatusPending)

	resp, err := http.Post(server.URL+"/api/v1/jobs/"+job.ID.String()+"/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out JobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, string(models.JobStatusCancelled), out.Status)

	// Queued jobs cancel in the store without touching the runner.
	assert.Empty(t, canceller.cancelled)
}

func TestJobHandler_CancelRunningJobSignalsRunner(t *testing.T) {
	server, jobs, canceller := setupJobHandler(t)
	canceller.result = true
	job := createTestJob(t, jobs, models.JobTypeEnrich, models.JobStatusRunning)

	resp, err := http.Post(server.URL+"/api/v1/jobs/"+job.ID.String()+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []models.ULID{job.ID}, canceller.cancelled)
}

func TestJobHandler_CancelFinishedJobConflicts(t *testing.T) {
	server, jobs, canceller := setupJobHandler(t)
	job := createTestJob(t, jobs, models.JobTypePublish, models.JobStatusCompleted)

	resp, err := http.Post(server.URL+"/api/v1/jobs/"+job.ID.String()+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, []models.ULID{job.ID}, canceller.cancelled)
}

func TestJobHandler_History(t *testing.T) {
	server, jobs, _ := setupJobHandler(t)

	ctx := context.Background()
	now := time.Now()
	for i, jobType := range []models.JobType{models.JobTypeScan, models.JobTypeScan, models.JobTypeEnrich} {
		started := now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, jobs.CreateHistory(ctx, &models.JobHistory{
			JobID:      models.NewULID(),
			Type:       jobType,
			Status:     models.JobStatusCompleted,
			StartedAt:  &started,
			DurationMs: 100,
		}))
	}

	resp, err := http.Get(server.URL + "/api/v1/jobs/history?type=library_scan&limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		History []JobHistoryResponse `json:"history"`
		Total   int64                `json:"total"`
		Limit   int                  `json:"limit"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.History, 1)
	assert.Equal(t, int64(2), out.Total)
	assert.Equal(t, 1, out.Limit)
	assert.Equal(t, string(models.JobTypeScan), out.History[0].Type)
}
