// Package handlers provides the HTTP API handlers for shelfarr.
package handlers

import (
	"sort"
	"time"

	"github.com/shelfarr/shelfarr/internal/models"
)

// LibraryResponse represents a library in API responses.
type LibraryResponse struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	RootDir            string   `json:"root_dir"`
	Kind               string   `json:"kind"`
	Monitored          bool     `json:"monitored"`
	RequiredFields     []string `json:"required_fields,omitempty"`
	RequiredAssetTypes []string `json:"required_asset_types,omitempty"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
}

// LibraryFromModel converts a library model to a response.
func LibraryFromModel(l *models.Library) LibraryResponse {
	return LibraryResponse{
		ID:                 l.ID.String(),
		Name:               l.Name,
		RootDir:            l.RootDir,
		Kind:               string(l.Kind),
		Monitored:          l.IsMonitored(),
		RequiredFields:     l.RequiredFields,
		RequiredAssetTypes: l.RequiredAssetTypes,
		CreatedAt:          l.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateLibraryRequest is the payload for creating a library.
type CreateLibraryRequest struct {
	Name               string   `json:"name" minLength:"1" maxLength:"255" doc:"Unique library name"`
	RootDir            string   `json:"root_dir" minLength:"1" doc:"Absolute path to the library root"`
	Kind               string   `json:"kind,omitempty" enum:"movies,series,music" doc:"Media kind"`
	Monitored          *bool    `json:"monitored,omitempty" doc:"Whether automated work is enabled"`
	RequiredFields     []string `json:"required_fields,omitempty" doc:"Metadata fields required for enrichment"`
	RequiredAssetTypes []string `json:"required_asset_types,omitempty" doc:"Asset types required for enrichment"`
}

// ToModel converts the request to a library model.
func (r *CreateLibraryRequest) ToModel() *models.Library {
	kind := models.LibraryKind(r.Kind)
	if kind == "" {
		kind = models.LibraryKindMovies
	}
	return &models.Library{
		Name:               r.Name,
		RootDir:            r.RootDir,
		Kind:               kind,
		Monitored:          r.Monitored,
		RequiredFields:     models.StringList(r.RequiredFields),
		RequiredAssetTypes: models.StringList(r.RequiredAssetTypes),
	}
}

// UpdateLibraryRequest is the payload for updating a library. Nil fields are
// left unchanged.
type UpdateLibraryRequest struct {
	Name               *string  `json:"name,omitempty" maxLength:"255"`
	RootDir            *string  `json:"root_dir,omitempty"`
	Monitored          *bool    `json:"monitored,omitempty"`
	RequiredFields     []string `json:"required_fields,omitempty"`
	RequiredAssetTypes []string `json:"required_asset_types,omitempty"`
}

// ApplyToModel applies the non-nil fields to a library model.
func (r *UpdateLibraryRequest) ApplyToModel(l *models.Library) {
	if r.Name != nil {
		l.Name = *r.Name
	}
	if r.RootDir != nil {
		l.RootDir = *r.RootDir
	}
	if r.Monitored != nil {
		l.Monitored = r.Monitored
	}
	if r.RequiredFields != nil {
		l.RequiredFields = models.StringList(r.RequiredFields)
	}
	if r.RequiredAssetTypes != nil {
		l.RequiredAssetTypes = models.StringList(r.RequiredAssetTypes)
	}
}

// SelectionConfigResponse represents a selection config in API responses.
type SelectionConfigResponse struct {
	ID                  string   `json:"id"`
	LibraryID           string   `json:"library_id"`
	AssetType           string   `json:"asset_type"`
	MinCount            int      `json:"min_count"`
	MaxCount            int      `json:"max_count"`
	MinWidth            int      `json:"min_width,omitempty"`
	MinHeight           int      `json:"min_height,omitempty"`
	PreferredLanguage   string   `json:"preferred_language,omitempty"`
	FallbackLanguage    string   `json:"fallback_language,omitempty"`
	WeightResolution    float64  `json:"weight_resolution"`
	WeightVotes         float64  `json:"weight_votes"`
	WeightLanguage      float64  `json:"weight_language"`
	WeightProvider      float64  `json:"weight_provider"`
	SimilarityThreshold float64  `json:"similarity_threshold"`
	ProviderOrder       []string `json:"provider_order,omitempty"`
	Required            bool     `json:"required"`
}

// SelectionConfigFromModel converts a selection config model to a response.
func SelectionConfigFromModel(c *models.SelectionConfig) SelectionConfigResponse {
	return SelectionConfigResponse{
		ID:                  c.ID.String(),
		LibraryID:           c.LibraryID.String(),
		AssetType:           string(c.AssetType),
		MinCount:            c.MinCount,
		MaxCount:            c.MaxCount,
		MinWidth:            c.MinWidth,
		MinHeight:           c.MinHeight,
		PreferredLanguage:   c.PreferredLanguage,
		FallbackLanguage:    c.FallbackLanguage,
		WeightResolution:    c.WeightResolution,
		WeightVotes:         c.WeightVotes,
		WeightLanguage:      c.WeightLanguage,
		WeightProvider:      c.WeightProvider,
		SimilarityThreshold: c.SimilarityThreshold,
		ProviderOrder:       c.ProviderOrder,
		Required:            c.Required,
	}
}

// SelectionConfigRequest is the payload for creating or replacing a
// selection config.
type SelectionConfigRequest struct {
	MinCount            int      `json:"min_count" minimum:"0" doc:"Minimum selections to aim for"`
	MaxCount            int      `json:"max_count" minimum:"1" doc:"Maximum selections"`
	MinWidth            int      `json:"min_width,omitempty" minimum:"0"`
	MinHeight           int      `json:"min_height,omitempty" minimum:"0"`
	PreferredLanguage   string   `json:"preferred_language,omitempty" doc:"BCP 47 tag scoring highest"`
	FallbackLanguage    string   `json:"fallback_language,omitempty" doc:"BCP 47 tag scoring half"`
	WeightResolution    float64  `json:"weight_resolution" doc:"Weights must sum to 1.0"`
	WeightVotes         float64  `json:"weight_votes"`
	WeightLanguage      float64  `json:"weight_language"`
	WeightProvider      float64  `json:"weight_provider"`
	SimilarityThreshold float64  `json:"similarity_threshold" minimum:"0" maximum:"1"`
	ProviderOrder       []string `json:"provider_order,omitempty" doc:"Provider names, most trusted first"`
	Required            bool     `json:"required"`
}

// ApplyToModel applies the request to a selection config model.
func (r *SelectionConfigRequest) ApplyToModel(c *models.SelectionConfig) {
	c.MinCount = r.MinCount
	c.MaxCount = r.MaxCount
	c.MinWidth = r.MinWidth
	c.MinHeight = r.MinHeight
	c.PreferredLanguage = r.PreferredLanguage
	c.FallbackLanguage = r.FallbackLanguage
	c.WeightResolution = r.WeightResolution
	c.WeightVotes = r.WeightVotes
	c.WeightLanguage = r.WeightLanguage
	c.WeightProvider = r.WeightProvider
	c.SimilarityThreshold = r.SimilarityThreshold
	c.ProviderOrder = models.StringList(r.ProviderOrder)
	c.Required = r.Required
}

// EntityResponse represents an entity in API responses.
type EntityResponse struct {
	ID                    string            `json:"id"`
	LibraryID             string            `json:"library_id"`
	Kind                  string            `json:"kind"`
	Title                 string            `json:"title"`
	SortTitle             string            `json:"sort_title,omitempty"`
	Year                  int               `json:"year,omitempty"`
	Overview              string            `json:"overview,omitempty"`
	ProviderIDs           map[string]string `json:"provider_ids,omitempty"`
	SourcePath            string            `json:"source_path,omitempty"`
	State                 string            `json:"state"`
	Monitored             bool              `json:"monitored"`
	FieldLocks            []string          `json:"field_locks,omitempty"`
	AssetLocks            []string          `json:"asset_locks,omitempty"`
	HasUnpublishedChanges bool              `json:"has_unpublished_changes"`
	LastEnrichedAt        *time.Time        `json:"last_enriched_at,omitempty"`
	LastPublishedAt       *time.Time        `json:"last_published_at,omitempty"`
}

// EntityFromModel converts an entity model to a response.
func EntityFromModel(e *models.Entity) EntityResponse {
	return EntityResponse{
		ID:                    e.ID.String(),
		LibraryID:             e.LibraryID.String(),
		Kind:                  string(e.Kind),
		Title:                 e.Title,
		SortTitle:             e.SortTitle,
		Year:                  e.Year,
		Overview:              e.Overview,
		ProviderIDs:           e.ProviderIDs,
		SourcePath:            e.SourcePath,
		State:                 string(e.State),
		Monitored:             e.IsMonitored(),
		FieldLocks:            lockNames(e.FieldLocks),
		AssetLocks:            lockNames(e.AssetLocks),
		HasUnpublishedChanges: e.HasUnpublishedChanges,
		LastEnrichedAt:        e.LastEnrichedAt,
		LastPublishedAt:       e.LastPublishedAt,
	}
}

// lockNames returns the locked names in sorted order for stable responses.
func lockNames(s models.LockSet) []string {
	if len(s) == 0 {
		return nil
	}
	names := make([]string, 0, len(s))
	for name, locked := range s {
		if locked {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// UpdateEntityRequest is the payload for updating entity metadata. Fields
// set here override provider values until unlocked.
type UpdateEntityRequest struct {
	Title     *string `json:"title,omitempty" maxLength:"512"`
	SortTitle *string `json:"sort_title,omitempty" maxLength:"512"`
	Year      *int    `json:"year,omitempty"`
	Overview  *string `json:"overview,omitempty"`
	Monitored *bool   `json:"monitored,omitempty"`
}

// CandidateResponse represents an asset candidate in API responses.
type CandidateResponse struct {
	ID             string  `json:"id"`
	EntityID       string  `json:"entity_id"`
	AssetType      string  `json:"asset_type"`
	Provider       string  `json:"provider"`
	ProviderURL    string  `json:"provider_url"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	DurationSec    int     `json:"duration_sec,omitempty"`
	Votes          int     `json:"votes,omitempty"`
	VoteAverage    float64 `json:"vote_average,omitempty"`
	Language       string  `json:"language,omitempty"`
	AutoScore      float64 `json:"auto_score"`
	DiscoveryOrder int     `json:"discovery_order"`
	IsSelected     bool    `json:"is_selected"`
	IsRejected     bool    `json:"is_rejected"`
	DownloadFailed bool    `json:"download_failed"`
	FailureReason  string  `json:"failure_reason,omitempty"`
	ContentHash    string  `json:"content_hash,omitempty"`
}

// CandidateFromModel converts a candidate model to a response.
func CandidateFromModel(c *models.AssetCandidate) CandidateResponse {
	return CandidateResponse{
		ID:             c.ID.String(),
		EntityID:       c.EntityID.String(),
		AssetType:      string(c.AssetType),
		Provider:       c.Provider,
		ProviderURL:    c.ProviderURL,
		Width:          c.Width,
		Height:         c.Height,
		DurationSec:    c.DurationSec,
		Votes:          c.Votes,
		VoteAverage:    c.VoteAverage,
		Language:       c.Language,
		AutoScore:      c.AutoScore,
		DiscoveryOrder: c.DiscoveryOrder,
		IsSelected:     c.IsSelected,
		IsRejected:     c.IsRejected,
		DownloadFailed: c.DownloadFailed,
		FailureReason:  c.FailureReason,
		ContentHash:    c.ContentHash,
	}
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	TargetID        string     `json:"target_id,omitempty"`
	TargetName      string     `json:"target_name,omitempty"`
	Status          string     `json:"status"`
	CronSchedule    string     `json:"cron_schedule,omitempty"`
	Priority        int        `json:"priority"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationMs      int64      `json:"duration_ms,omitempty"`
	AttemptCount    int        `json:"attempt_count"`
	MaxAttempts     int        `json:"max_attempts"`
	LastError       string     `json:"last_error,omitempty"`
	Result          string     `json:"result,omitempty"`
	ProgressCurrent int        `json:"progress_current"`
	ProgressTotal   int        `json:"progress_total"`
	ProgressMessage string     `json:"progress_message,omitempty"`
}

// JobFromModel converts a job model to a response.
func JobFromModel(j *models.Job) JobResponse {
	resp := JobResponse{
		ID:              j.ID.String(),
		Type:            string(j.Type),
		TargetName:      j.TargetName,
		Status:          string(j.Status),
		CronSchedule:    j.CronSchedule,
		Priority:        j.Priority,
		NextRunAt:       j.NextRunAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		DurationMs:      j.DurationMs,
		AttemptCount:    j.AttemptCount,
		MaxAttempts:     j.MaxAttempts,
		LastError:       j.LastError,
		Result:          j.Result,
		ProgressCurrent: j.ProgressCurrent,
		ProgressTotal:   j.ProgressTotal,
		ProgressMessage: j.ProgressMessage,
	}
	if !j.TargetID.IsZero() {
		resp.TargetID = j.TargetID.String()
	}
	return resp
}

// JobHistoryResponse represents a historical job execution.
type JobHistoryResponse struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	Type          string     `json:"type"`
	TargetID      string     `json:"target_id,omitempty"`
	TargetName    string     `json:"target_name,omitempty"`
	Status        string     `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    int64      `json:"duration_ms,omitempty"`
	AttemptNumber int        `json:"attempt_number"`
	Error         string     `json:"error,omitempty"`
	Result        string     `json:"result,omitempty"`
}

// JobHistoryFromModel converts a job history model to a response.
func JobHistoryFromModel(h *models.JobHistory) JobHistoryResponse {
	resp := JobHistoryResponse{
		ID:            h.ID.String(),
		JobID:         h.JobID.String(),
		Type:          string(h.Type),
		TargetName:    h.TargetName,
		Status:        string(h.Status),
		StartedAt:     h.StartedAt,
		CompletedAt:   h.CompletedAt,
		DurationMs:    h.DurationMs,
		AttemptNumber: h.AttemptNumber,
		Error:         h.Error,
		Result:        h.Result,
	}
	if !h.TargetID.IsZero() {
		resp.TargetID = h.TargetID.String()
	}
	return resp
}

// PublishAuditResponse represents one publish attempt.
type PublishAuditResponse struct {
	ID             string `json:"id"`
	EntityID       string `json:"entity_id"`
	Success        bool   `json:"success"`
	Skipped        bool   `json:"skipped"`
	DescriptorHash string `json:"descriptor_hash,omitempty"`
	AssetsWritten  int    `json:"assets_written"`
	Error          string `json:"error,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
	CreatedAt      string `json:"created_at"`
}

// PublishAuditFromModel converts a publish audit model to a response.
func PublishAuditFromModel(a *models.PublishAudit) PublishAuditResponse {
	return PublishAuditResponse{
		ID:             a.ID.String(),
		EntityID:       a.EntityID.String(),
		Success:        a.Success,
		Skipped:        a.Skipped,
		DescriptorHash: a.DescriptorHash,
		AssetsWritten:  a.AssetsWritten,
		Error:          a.Error,
		DurationMs:     a.DurationMs,
		CreatedAt:      a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
