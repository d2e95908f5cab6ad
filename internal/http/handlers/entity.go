package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfarr/shelfarr/internal/cache"
	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
)

// EntityHandler handles entity, lock and candidate endpoints.
type EntityHandler struct {
	entities   repository.EntityRepository
	candidates repository.CandidateRepository
	store      *cache.Store
	scheduler  JobScheduler
	logger     *slog.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(entities repository.EntityRepository, candidates repository.CandidateRepository, store *cache.Store, scheduler JobScheduler, logger *slog.Logger) *EntityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityHandler{
		entities:   entities,
		candidates: candidates,
		store:      store,
		scheduler:  scheduler,
		logger:     logger,
	}
}

// Register registers the entity routes with the API.
func (h *EntityHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listEntities",
		Method:      "GET",
		Path:        "/api/v1/entities",
		Summary:     "List entities",
		Description: "Lists entities, optionally filtered by library or pipeline state",
		Tags:        []string{"Entities"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getEntity",
		Method:      "GET",
		Path:        "/api/v1/entities/{id}",
		Summary:     "Get entity",
		Tags:        []string{"Entities"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "updateEntity",
		Method:      "PATCH",
		Path:        "/api/v1/entities/{id}",
		Summary:     "Update entity metadata",
		Description: "Overrides metadata fields. Overridden fields are locked so enrichment will not replace them.",
		Tags:        []string{"Entities"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "listEntityCandidates",
		Method:      "GET",
		Path:        "/api/v1/entities/{id}/candidates",
		Summary:     "List asset candidates",
		Tags:        []string{"Entities"},
	}, h.ListCandidates)

	huma.Register(api, huma.Operation{
		OperationID: "lockEntityField",
		Method:      "POST",
		Path:        "/api/v1/entities/{id}/locks/fields/{field}",
		Summary:     "Lock metadata field",
		Tags:        []string{"Entities"},
	}, h.LockField)

	huma.Register(api, huma.Operation{
		OperationID: "unlockEntityField",
		Method:      "DELETE",
		Path:        "/api/v1/entities/{id}/locks/fields/{field}",
		Summary:     "Unlock metadata field",
		Tags:        []string{"Entities"},
	}, h.UnlockField)

	huma.Register(api, huma.Operation{
		OperationID: "lockEntityAsset",
		Method:      "POST",
		Path:        "/api/v1/entities/{id}/locks/assets/{asset_type}",
		Summary:     "Lock asset type",
		Description: "Pins the current selection for an asset type so enrichment leaves it untouched",
		Tags:        []string{"Entities"},
	}, h.LockAsset)

	huma.Register(api, huma.Operation{
		OperationID: "unlockEntityAsset",
		Method:      "DELETE",
		Path:        "/api/v1/entities/{id}/locks/assets/{asset_type}",
		Summary:     "Unlock asset type",
		Tags:        []string{"Entities"},
	}, h.UnlockAsset)

	huma.Register(api, huma.Operation{
		OperationID: "rejectCandidate",
		Method:      "POST",
		Path:        "/api/v1/entities/{id}/candidates/{candidate_id}/reject",
		Summary:     "Reject candidate",
		Description: "Excludes a candidate from selection. A resolved candidate is deselected and its cache reference released.",
		Tags:        []string{"Entities"},
	}, h.RejectCandidate)

	huma.Register(api, huma.Operation{
		OperationID: "identifyEntity",
		Method:      "POST",
		Path:        "/api/v1/entities/{id}/identify",
		Summary:     "Trigger identification",
		Tags:        []string{"Entities"},
	}, h.Identify)

	huma.Register(api, huma.Operation{
		OperationID: "enrichEntity",
		Method:      "POST",
		Path:        "/api/v1/entities/{id}/enrich",
		Summary:     "Trigger enrichment",
		Tags:        []string{"Entities"},
	}, h.Enrich)

	huma.Register(api, huma.Operation{
		OperationID: "publishEntity",
		Method:      "POST",
		Path:        "/api/v1/entities/{id}/publish",
		Summary:     "Trigger publish",
		Tags:        []string{"Entities"},
	}, h.Publish)
}

// getEntity loads an entity or maps the failure to an API error.
func (h *EntityHandler) getEntity(ctx context.Context, rawID string) (*models.Entity, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	entity, err := h.entities.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get entity", err)
	}
	if entity == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("entity %s not found", rawID))
	}
	return entity, nil
}

// ListEntitiesInput is the input for listing entities.
type ListEntitiesInput struct {
	LibraryID string `query:"library_id" doc:"Filter by library ID"`
	State     string `query:"state" doc:"Filter by pipeline state" enum:"discovered,identified,enriched,published,"`
}

// ListEntitiesOutput is the output for listing entities.
type ListEntitiesOutput struct {
	Body struct {
		Entities []EntityResponse `json:"entities"`
	}
}

// List returns entities filtered by library and state.
func (h *EntityHandler) List(ctx context.Context, input *ListEntitiesInput) (*ListEntitiesOutput, error) {
	var (
		entities []*models.Entity
		err      error
	)

	switch {
	case input.LibraryID != "":
		var libraryID models.ULID
		libraryID, err = models.ParseULID(input.LibraryID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid library_id format", err)
		}
		entities, err = h.entities.GetByLibrary(ctx, libraryID)
	case input.State != "":
		entities, err = h.entities.GetByState(ctx, models.EntityState(input.State))
	default:
		entities, err = h.entities.GetAll(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list entities", err)
	}

	if input.LibraryID != "" && input.State != "" {
		filtered := entities[:0]
		for _, e := range entities {
			if string(e.State) == input.State {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}

	resp := &ListEntitiesOutput{}
	resp.Body.Entities = make([]EntityResponse, 0, len(entities))
	for _, e := range entities {
		resp.Body.Entities = append(resp.Body.Entities, EntityFromModel(e))
	}
	return resp, nil
}

// GetEntityInput is the input for getting an entity.
type GetEntityInput struct {
	ID string `path:"id" doc:"Entity ID (ULID)"`
}

// GetEntityOutput is the output for getting an entity.
type GetEntityOutput struct {
	Body EntityResponse
}

// GetByID returns an entity by ID.
func (h *EntityHandler) GetByID(ctx context.Context, input *GetEntityInput) (*GetEntityOutput, error) {
	entity, err := h.getEntity(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetEntityOutput{Body: EntityFromModel(entity)}, nil
}

// UpdateEntityInput is the input for updating entity metadata.
type UpdateEntityInput struct {
	ID   string `path:"id" doc:"Entity ID (ULID)"`
	Body UpdateEntityRequest
}

// UpdateEntityOutput is the output for updating entity metadata.
type UpdateEntityOutput struct {
	Body EntityResponse
}

// Update applies metadata overrides. Each overridden field is locked so the
// manual value survives later enrichment runs.
func (h *EntityHandler) Update(ctx context.Context, input *UpdateEntityInput) (*UpdateEntityOutput, error) {
	entity, err := h.getEntity(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if input.Body.Title != nil {
		entity.Title = *input.Body.Title
		entity.LockField("title")
	}
	if input.Body.SortTitle != nil {
		entity.SortTitle = *input.Body.SortTitle
		entity.LockField("sort_title")
	}
	if input.Body.Year != nil {
		entity.Year = *input.Body.Year
		entity.LockField("year")
	}
	if input.Body.Overview != nil {
		entity.Overview = *input.Body.Overview
		entity.LockField("overview")
	}
	if input.Body.Monitored != nil {
		entity.Monitored = input.Body.Monitored
	}

	if entity.State == models.StatePublished {
		entity.HasUnpublishedChanges = true
	}

	if err := h.entities.Update(ctx, entity); err != nil {
		return nil, huma.Error500InternalServerError("failed to update entity", err)
	}

	return &UpdateEntityOutput{Body: EntityFromModel(entity)}, nil
}

// ListCandidatesInput is the input for listing candidates.
type ListCandidatesInput struct {
	ID        string `path:"id" doc:"Entity ID (ULID)"`
	AssetType string `query:"asset_type" doc:"Filter by asset type"`
}

// ListCandidatesOutput is the output for listing candidates.
type ListCandidatesOutput struct {
	Body struct {
		Candidates []CandidateResponse `json:"candidates"`
	}
}

// ListCandidates returns the asset candidates discovered for an entity.
func (h *EntityHandler) ListCandidates(ctx context.Context, input *ListCandidatesInput) (*ListCandidatesOutput, error) {
	entity, err := h.getEntity(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	var candidates []*models.AssetCandidate
	if input.AssetType != "" {
		candidates, err = h.candidates.GetByEntityAndType(ctx, entity.ID, models.AssetType(input.AssetType))
	} else {
		candidates, err = h.candidates.GetByEntity(ctx, entity.ID)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list candidates", err)
	}

	resp := &ListCandidatesOutput{}
	resp.Body.Candidates = make([]CandidateResponse, 0, len(candidates))
	for _, c := range candidates {
		resp.Body.Candidates = append(resp.Body.Candidates, CandidateFromModel(c))
	}
	return resp, nil
}

// EntityLockInput is the input for field lock operations.
type EntityLockInput struct {
	ID    string `path:"id" doc:"Entity ID (ULID)"`
	Field string `path:"field" doc:"Metadata field name"`
}

// EntityLockOutput is the output for lock operations.
type EntityLockOutput struct {
	Body EntityResponse
}

// LockField pins a metadata field against enrichment overwrites.
func (h *EntityHandler) LockField(ctx context.Context, input *EntityLockInput) (*EntityLockOutput, error) {
	return h.setFieldLock(ctx, input, true)
}

// UnlockField releases a metadata field lock.
func (h *EntityHandler) UnlockField(ctx context.Context, input *EntityLockInput) (*EntityLockOutput, error) {
	return h.setFieldLock(ctx, input, false)
}

func (h *EntityHandler) setFieldLock(ctx context.Context, input *EntityLockInput, locked bool) (*EntityLockOutput, error) {
	entity, err := h.getEntity(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if locked {
		entity.LockField(input.Field)
	} else {
		entity.UnlockField(input.Field)
	}

	if err := h.entities.Update(ctx, entity); err != nil {
		return nil, huma.Error500InternalServerError("failed to update entity", err)
	}
	return &EntityLockOutput{Body: EntityFromModel(entity)}, nil
}

// EntityAssetLockInput is the input for asset lock operations.
type EntityAssetLockInput struct {
	ID        string `path:"id" doc:"Entity ID (ULID)"`
	AssetType string `path:"asset_type" doc:"Asset type"`
}

// LockAsset pins the current selection for an asset type.
func (h *EntityHandler) LockAsset(ctx context.Context, input *EntityAssetLockInput) (*EntityLockOutput, error) {
	return h.setAssetLock(ctx, input, true)
}

// UnlockAsset releases an asset type lock.
func (h *EntityHandler) UnlockAsset(ctx context.Context, input *EntityAssetLockInput) (*EntityLockOutput, error) {
	return h.setAssetLock(ctx, input, false)
}

func (h *EntityHandler) setAssetLock(ctx context.Context, input *EntityAssetLockInput, locked bool) (*EntityLockOutput, error) {
	entity, err := h.getEntity(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	assetType := models.AssetType(input.AssetType)
	if locked {
		entity.LockAsset(assetType)
	} else {
		entity.UnlockAsset(assetType)
	}

	if err := h.entities.Update(ctx, entity); err != nil {
		return nil, huma.Error500InternalServerError("failed to update entity", err)
	}
	return &EntityLockOutput{Body: EntityFromModel(entity)}, nil
}

// RejectCandidateInput is the input for rejecting a candidate.
type RejectCandidateInput struct {
	ID          string `path:"id" doc:"Entity ID (ULID)"`
	CandidateID string `path:"candidate_id" doc:"Candidate ID (ULID)"`
}

// RejectCandidateOutput is the output for rejecting a candidate.
type RejectCandidateOutput struct {
	Body CandidateResponse
}

// RejectCandidate excludes a candidate from selection. If the candidate was
// selected and resolved, its cache reference is released.
func (h *EntityHandler) RejectCandidate(ctx context.Context, input *RejectCandidateInput) (*RejectCandidateOutput, error) {
	entity, err := h.getEntity(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	candidateID, err := models.ParseULID(input.CandidateID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid candidate ID format", err)
	}

	candidate, err := h.candidates.GetByID(ctx, candidateID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get candidate", err)
	}
	if candidate == nil || candidate.EntityID != entity.ID {
		return nil, huma.Error404NotFound(fmt.Sprintf("candidate %s not found", input.CandidateID))
	}

	if candidate.IsSelected && candidate.ContentHash != "" {
		if err := h.store.Detach(ctx, candidate.ContentHash, candidate.ID.String()); err != nil {
			h.logger.Warn("failed to release cache reference for rejected candidate",
				slog.String("candidate_id", candidate.ID.String()),
				slog.String("content_hash", candidate.ContentHash),
				slog.String("error", err.Error()))
		}
	}
	candidate.IsSelected = false
	candidate.IsRejected = true

	if err := h.candidates.Update(ctx, candidate); err != nil {
		return nil, huma.Error500InternalServerError("failed to update candidate", err)
	}

	return &RejectCandidateOutput{Body: CandidateFromModel(candidate)}, nil
}

// TriggerEntityJobInput is the input for the per-entity job triggers.
type TriggerEntityJobInput struct {
	ID string `path:"id" doc:"Entity ID (ULID)"`
}

// TriggerEntityJobOutput is the output for the per-entity job triggers.
type TriggerEntityJobOutput struct {
	Body JobResponse
}

// Identify queues an immediate identify job for the entity.
func (h *EntityHandler) Identify(ctx context.Context, input *TriggerEntityJobInput) (*TriggerEntityJobOutput, error) {
	return h.trigger(ctx, input, models.JobTypeIdentify)
}

// Enrich queues an immediate enrich job for the entity.
func (h *EntityHandler) Enrich(ctx context.Context, input *TriggerEntityJobInput) (*TriggerEntityJobOutput, error) {
	return h.trigger(ctx, input, models.JobTypeEnrich)
}

// Publish queues an immediate publish job for the entity.
func (h *EntityHandler) Publish(ctx context.Context, input *TriggerEntityJobInput) (*TriggerEntityJobOutput, error) {
	return h.trigger(ctx, input, models.JobTypePublish)
}

func (h *EntityHandler) trigger(ctx context.Context, input *TriggerEntityJobInput, jobType models.JobType) (*TriggerEntityJobOutput, error) {
	entity, err := h.getEntity(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	job, err := h.scheduler.ScheduleImmediate(ctx, jobType, entity.ID, entity.Title)
	if err != nil {
		return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to queue %s job", jobType), err)
	}
	return &TriggerEntityJobOutput{Body: JobFromModel(job)}, nil
}
