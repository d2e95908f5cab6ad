package models

import (
	"time"

	"gorm.io/gorm"
)

// JobType represents the type of job to execute.
type JobType string

const (
	// JobTypeScan represents a library scan for new media files.
	JobTypeScan JobType = "library_scan"
	// JobTypeIdentify represents entity identification against providers.
	JobTypeIdentify JobType = "identify"
	// JobTypeEnrich represents candidate fetching, selection, and asset caching.
	JobTypeEnrich JobType = "enrich"
	// JobTypePublish represents publishing an entity to its library directory.
	JobTypePublish JobType = "publish"
	// JobTypeCacheGC represents cache garbage collection.
	JobTypeCacheGC JobType = "cache_gc"
)

// Default priorities per job type. Lower values run first.
const (
	// PriorityPublish makes operator-visible output the most urgent work.
	PriorityPublish = 10
	// PriorityIdentify runs before enrichment so metadata lands first.
	PriorityIdentify = 20
	// PriorityEnrich is the bulk of background work.
	PriorityEnrich = 30
	// PriorityScan discovers new work at low urgency.
	PriorityScan = 40
	// PriorityMaintenance is for GC and housekeeping.
	PriorityMaintenance = 50
)

// DefaultPriority returns the default queue priority for a job type.
func DefaultPriority(t JobType) int {
	switch t {
	case JobTypePublish:
		return PriorityPublish
	case JobTypeIdentify:
		return PriorityIdentify
	case JobTypeEnrich:
		return PriorityEnrich
	case JobTypeScan:
		return PriorityScan
	default:
		return PriorityMaintenance
	}
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be executed.
	JobStatusPending JobStatus = "pending"
	// JobStatusScheduled indicates the job is scheduled for future execution.
	JobStatusScheduled JobStatus = "scheduled"
	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed terminally.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled.
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a scheduled or immediate task execution record.
type Job struct {
	BaseModel

	// Type indicates what kind of job this is.
	Type JobType `gorm:"not null;size:50;index" json:"type"`

	// TargetID is the entity or library this job operates on. Used both for
	// deduplication and to serialize jobs touching the same target.
	TargetID ULID `gorm:"type:varchar(26);index" json:"target_id,omitempty"`

	// TargetName is a human-readable name for the target (for display purposes).
	TargetName string `gorm:"size:255" json:"target_name,omitempty"`

	// Status indicates the current status of the job.
	Status JobStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// CronSchedule for recurring jobs (optional). Standard 5-field cron
	// format: "0 */6 * * *" for every 6 hours. Empty means one-off.
	CronSchedule string `gorm:"size:100" json:"cron_schedule,omitempty"`

	// NextRunAt is the timestamp when the job should next execute.
	NextRunAt *Time `gorm:"index" json:"next_run_at,omitempty"`

	// StartedAt is the timestamp when the job started executing.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is the timestamp when the job completed (successfully or not).
	CompletedAt *Time `json:"completed_at,omitempty"`

	// DurationMs is the execution duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// AttemptCount is the number of times this job has been attempted.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// MaxAttempts is the maximum number of attempts (0 = no retries).
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// BackoffSeconds is the initial backoff duration in seconds for retries.
	// Each retry doubles the backoff up to a maximum.
	BackoffSeconds int `gorm:"default:60" json:"backoff_seconds"`

	// LastError contains the error message from the last failed attempt.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// Result contains optional result data (e.g., counts, summaries).
	Result string `gorm:"size:4096" json:"result,omitempty"`

	// Priority determines execution order. Lower values run first; within a
	// priority, older jobs run first.
	Priority int `gorm:"default:0;index" json:"priority"`

	// Cancellable indicates the job supports cooperative cancellation while
	// running.
	Cancellable *bool `gorm:"default:true" json:"cancellable"`

	// ProgressCurrent and ProgressTotal track item-level progress for
	// long-running jobs. Zero totals mean progress is unknown.
	ProgressCurrent int `gorm:"default:0" json:"progress_current"`
	ProgressTotal   int `gorm:"default:0" json:"progress_total"`

	// ProgressMessage describes the current work item.
	ProgressMessage string `gorm:"size:512" json:"progress_message,omitempty"`

	// ProgressAt is the last heartbeat, refreshed on claim and on every
	// progress update. Stale recovery keys off this rather than LockedAt so
	// a long job that still reports progress keeps its claim.
	ProgressAt *Time `json:"progress_at,omitempty"`

	// LockedBy is the worker ID that has claimed this job for execution.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`

	// LockedAt is the timestamp when the job was claimed.
	LockedAt *Time `json:"locked_at,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsRecurring returns true if this is a recurring scheduled job.
func (j *Job) IsRecurring() bool {
	return j.CronSchedule != ""
}

// IsPending returns true if the job is waiting to execute.
func (j *Job) IsPending() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusScheduled
}

// IsRunning returns true if the job is currently executing.
func (j *Job) IsRunning() bool {
	return j.Status == JobStatusRunning
}

// IsFinished returns true if the job has reached a terminal status.
func (j *Job) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// IsCancellable returns true if the job supports cooperative cancellation.
func (j *Job) IsCancellable() bool {
	return BoolVal(j.Cancellable)
}

// CanRetry returns true if the job can be retried.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.AttemptCount < j.MaxAttempts
}

// MarkRunning marks the job as running under the given worker.
func (j *Job) MarkRunning(workerID string) {
	j.Status = JobStatusRunning
	now := Now()
	j.StartedAt = &now
	j.LockedBy = workerID
	j.LockedAt = &now
	j.ProgressAt = &now
	j.AttemptCount++
	j.LastError = ""
}

// MarkCompleted marks the job as completed successfully.
func (j *Job) MarkCompleted(result string) {
	j.Status = JobStatusCompleted
	now := Now()
	j.CompletedAt = &now
	j.Result = result
	j.LastError = ""

	if j.StartedAt != nil {
		j.DurationMs = now.Sub(*j.StartedAt).Milliseconds()
	}

	j.LockedBy = ""
	j.LockedAt = nil
}

// MarkFailed marks the job as failed with an error message.
func (j *Job) MarkFailed(err error) {
	j.Status = JobStatusFailed
	now := Now()
	j.CompletedAt = &now

	if err != nil {
		j.LastError = err.Error()
	}

	if j.StartedAt != nil {
		j.DurationMs = now.Sub(*j.StartedAt).Milliseconds()
	}

	j.LockedBy = ""
	j.LockedAt = nil
}

// MarkCancelled marks the job as cancelled.
func (j *Job) MarkCancelled() {
	j.Status = JobStatusCancelled
	now := Now()
	j.CompletedAt = &now
	j.LockedBy = ""
	j.LockedAt = nil
}

// CalculateNextBackoff returns the backoff duration for the next retry.
// Uses exponential backoff: base * 2^(attemptCount-1), capped at 1 hour.
func (j *Job) CalculateNextBackoff() time.Duration {
	if j.BackoffSeconds <= 0 {
		j.BackoffSeconds = 60
	}

	attempts := j.AttemptCount
	if attempts < 1 {
		attempts = 1
	}

	multiplier := 1 << (attempts - 1) // 2^(attempts-1)
	if multiplier < 1 {
		multiplier = 1
	}

	backoffSecs := j.BackoffSeconds * multiplier

	maxBackoff := 3600
	if backoffSecs > maxBackoff {
		backoffSecs = maxBackoff
	}

	return time.Duration(backoffSecs) * time.Second
}

// ScheduleRetry schedules the job for retry with exponential backoff.
func (j *Job) ScheduleRetry() {
	if !j.CanRetry() {
		return
	}

	backoff := j.CalculateNextBackoff()
	nextRun := Now().Add(backoff)
	j.NextRunAt = &nextRun
	j.Status = JobStatusScheduled
	j.LockedBy = ""
	j.LockedAt = nil
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if j.Type == "" {
		return ErrJobTypeRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job, applies the default
// priority, and generates a ULID.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if j.Priority == 0 {
		j.Priority = DefaultPriority(j.Type)
	}
	return j.Validate()
}

// BeforeUpdate is a GORM hook that validates the job before update.
func (j *Job) BeforeUpdate(tx *gorm.DB) error {
	return j.Validate()
}

// JobHistory stores historical execution records for completed jobs.
// This is separate from the main Job table to keep it lean.
type JobHistory struct {
	BaseModel

	// JobID is the ID of the original job.
	JobID ULID `gorm:"not null;index" json:"job_id"`

	// Type indicates what kind of job this was.
	Type JobType `gorm:"not null;size:50;index" json:"type"`

	// TargetID is the ID of the entity this job operated on.
	TargetID ULID `gorm:"type:varchar(26);index" json:"target_id,omitempty"`

	// TargetName is a human-readable name for the target.
	TargetName string `gorm:"size:255" json:"target_name,omitempty"`

	// Status indicates the final status of the job execution.
	Status JobStatus `gorm:"not null;size:20" json:"status"`

	// StartedAt is the timestamp when the job started executing.
	StartedAt *Time `gorm:"index" json:"started_at,omitempty"`

	// CompletedAt is the timestamp when the job completed.
	CompletedAt *Time `gorm:"index" json:"completed_at,omitempty"`

	// DurationMs is the execution duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// AttemptNumber is which attempt this was (1 = first attempt).
	AttemptNumber int `json:"attempt_number"`

	// Error contains the error message if the job failed.
	Error string `gorm:"size:4096" json:"error,omitempty"`

	// Result contains optional result data.
	Result string `gorm:"size:4096" json:"result,omitempty"`
}

// TableName returns the table name for JobHistory.
func (JobHistory) TableName() string {
	return "job_history"
}

// NewJobForEntity creates a one-off job targeting an entity.
func NewJobForEntity(jobType JobType, entity *Entity) *Job {
	return &Job{
		Type:       jobType,
		TargetID:   entity.ID,
		TargetName: entity.Title,
		Status:     JobStatusPending,
	}
}

// NewJobForLibrary creates a job targeting a library, optionally recurring.
func NewJobForLibrary(jobType JobType, library *Library, cronSchedule string) *Job {
	return &Job{
		Type:         jobType,
		TargetID:     library.ID,
		TargetName:   library.Name,
		Status:       JobStatusPending,
		CronSchedule: cronSchedule,
	}
}
