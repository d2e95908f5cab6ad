package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfarr/shelfarr/internal/models"
	"github.com/shelfarr/shelfarr/internal/repository"
)

// LibraryHandler handles library and selection config endpoints.
type LibraryHandler struct {
	libraries repository.LibraryRepository
	configs   repository.SelectionConfigRepository
	scheduler JobScheduler
}

// NewLibraryHandler creates a new library handler.
func NewLibraryHandler(libraries repository.LibraryRepository, configs repository.SelectionConfigRepository, scheduler JobScheduler) *LibraryHandler {
	return &LibraryHandler{
		libraries: libraries,
		configs:   configs,
		scheduler: scheduler,
	}
}

// Register registers the library routes with the API.
func (h *LibraryHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listLibraries",
		Method:      "GET",
		Path:        "/api/v1/libraries",
		Summary:     "List libraries",
		Tags:        []string{"Libraries"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getLibrary",
		Method:      "GET",
		Path:        "/api/v1/libraries/{id}",
		Summary:     "Get library",
		Tags:        []string{"Libraries"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "createLibrary",
		Method:      "POST",
		Path:        "/api/v1/libraries",
		Summary:     "Create library",
		Tags:        []string{"Libraries"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateLibrary",
		Method:      "PUT",
		Path:        "/api/v1/libraries/{id}",
		Summary:     "Update library",
		Tags:        []string{"Libraries"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteLibrary",
		Method:      "DELETE",
		Path:        "/api/v1/libraries/{id}",
		Summary:     "Delete library",
		Description: "Deletes a library. Entities under it are no longer managed.",
		Tags:        []string{"Libraries"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "scanLibrary",
		Method:      "POST",
		Path:        "/api/v1/libraries/{id}/scan",
		Summary:     "Trigger library scan",
		Description: "Queues an immediate scan job for the library",
		Tags:        []string{"Libraries"},
	}, h.Scan)

	huma.Register(api, huma.Operation{
		OperationID: "listSelectionConfigs",
		Method:      "GET",
		Path:        "/api/v1/libraries/{id}/selection-configs",
		Summary:     "List selection configs",
		Tags:        []string{"Libraries"},
	}, h.ListSelectionConfigs)

	huma.Register(api, huma.Operation{
		OperationID: "putSelectionConfig",
		Method:      "PUT",
		Path:        "/api/v1/libraries/{id}/selection-configs/{asset_type}",
		Summary:     "Create or replace selection config",
		Description: "Upserts the selection config for one asset type",
		Tags:        []string{"Libraries"},
	}, h.PutSelectionConfig)

	huma.Register(api, huma.Operation{
		OperationID: "deleteSelectionConfig",
		Method:      "DELETE",
		Path:        "/api/v1/libraries/{id}/selection-configs/{asset_type}",
		Summary:     "Delete selection config",
		Tags:        []string{"Libraries"},
	}, h.DeleteSelectionConfig)
}

// getLibrary loads a library or maps the failure to an API error.
func (h *LibraryHandler) getLibrary(ctx context.Context, rawID string) (*models.Library, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	library, err := h.libraries.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get library", err)
	}
	if library == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("library %s not found", rawID))
	}
	return library, nil
}

// ListLibrariesInput is the input for listing libraries.
type ListLibrariesInput struct{}

// ListLibrariesOutput is the output for listing libraries.
type ListLibrariesOutput struct {
	Body struct {
		Libraries []LibraryResponse `json:"libraries"`
	}
}

// List returns all libraries.
func (h *LibraryHandler) List(ctx context.Context, input *ListLibrariesInput) (*ListLibrariesOutput, error) {
	libraries, err := h.libraries.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list libraries", err)
	}

	resp := &ListLibrariesOutput{}
	resp.Body.Libraries = make([]LibraryResponse, 0, len(libraries))
	for _, l := range libraries {
		resp.Body.Libraries = append(resp.Body.Libraries, LibraryFromModel(l))
	}
	return resp, nil
}

// GetLibraryInput is the input for getting a library.
type GetLibraryInput struct {
	ID string `path:"id" doc:"Library ID (ULID)"`
}

// GetLibraryOutput is the output for getting a library.
type GetLibraryOutput struct {
	Body LibraryResponse
}

// GetByID returns a library by ID.
func (h *LibraryHandler) GetByID(ctx context.Context, input *GetLibraryInput) (*GetLibraryOutput, error) {
	library, err := h.getLibrary(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetLibraryOutput{Body: LibraryFromModel(library)}, nil
}

// CreateLibraryInput is the input for creating a library.
type CreateLibraryInput struct {
	Body CreateLibraryRequest
}

// CreateLibraryOutput is the output for creating a library.
type CreateLibraryOutput struct {
	Body LibraryResponse
}

// Create creates a new library.
func (h *LibraryHandler) Create(ctx context.Context, input *CreateLibraryInput) (*CreateLibraryOutput, error) {
	library := input.Body.ToModel()

	if err := h.libraries.Create(ctx, library); err != nil {
		if errors.Is(err, models.ErrLibraryNameRequired) || errors.Is(err, models.ErrLibraryRootRequired) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "duplicate key") {
			return nil, huma.Error409Conflict("a library with this name already exists")
		}
		return nil, huma.Error500InternalServerError("failed to create library", err)
	}

	return &CreateLibraryOutput{Body: LibraryFromModel(library)}, nil
}

// UpdateLibraryInput is the input for updating a library.
type UpdateLibraryInput struct {
	ID   string `path:"id" doc:"Library ID (ULID)"`
	Body UpdateLibraryRequest
}

// UpdateLibraryOutput is the output for updating a library.
type UpdateLibraryOutput struct {
	Body LibraryResponse
}

// Update updates an existing library.
func (h *LibraryHandler) Update(ctx context.Context, input *UpdateLibraryInput) (*UpdateLibraryOutput, error) {
	library, err := h.getLibrary(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	input.Body.ApplyToModel(library)

	if err := h.libraries.Update(ctx, library); err != nil {
		if errors.Is(err, models.ErrLibraryNameRequired) || errors.Is(err, models.ErrLibraryRootRequired) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to update library", err)
	}

	return &UpdateLibraryOutput{Body: LibraryFromModel(library)}, nil
}

// DeleteLibraryInput is the input for deleting a library.
type DeleteLibraryInput struct {
	ID string `path:"id" doc:"Library ID (ULID)"`
}

// DeleteLibraryOutput is the output for deleting a library.
type DeleteLibraryOutput struct{}

// Delete deletes a library.
func (h *LibraryHandler) Delete(ctx context.Context, input *DeleteLibraryInput) (*DeleteLibraryOutput, error) {
	library, err := h.getLibrary(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if err := h.libraries.Delete(ctx, library.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete library", err)
	}
	return &DeleteLibraryOutput{}, nil
}

// ScanLibraryInput is the input for triggering a scan.
type ScanLibraryInput struct {
	ID string `path:"id" doc:"Library ID (ULID)"`
}

// ScanLibraryOutput is the output for triggering a scan.
type ScanLibraryOutput struct {
	Body JobResponse
}

// Scan queues an immediate scan job for the library.
func (h *LibraryHandler) Scan(ctx context.Context, input *ScanLibraryInput) (*ScanLibraryOutput, error) {
	library, err := h.getLibrary(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	job, err := h.scheduler.ScheduleImmediate(ctx, models.JobTypeScan, library.ID, library.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to queue scan", err)
	}
	return &ScanLibraryOutput{Body: JobFromModel(job)}, nil
}

// ListSelectionConfigsInput is the input for listing selection configs.
type ListSelectionConfigsInput struct {
	ID string `path:"id" doc:"Library ID (ULID)"`
}

// ListSelectionConfigsOutput is the output for listing selection configs.
type ListSelectionConfigsOutput struct {
	Body struct {
		Configs []SelectionConfigResponse `json:"configs"`
	}
}

// ListSelectionConfigs returns the selection configs for a library.
func (h *LibraryHandler) ListSelectionConfigs(ctx context.Context, input *ListSelectionConfigsInput) (*ListSelectionConfigsOutput, error) {
	library, err := h.getLibrary(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	configs, err := h.configs.GetByLibrary(ctx, library.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list selection configs", err)
	}

	resp := &ListSelectionConfigsOutput{}
	resp.Body.Configs = make([]SelectionConfigResponse, 0, len(configs))
	for _, c := range configs {
		resp.Body.Configs = append(resp.Body.Configs, SelectionConfigFromModel(c))
	}
	return resp, nil
}

// PutSelectionConfigInput is the input for upserting a selection config.
type PutSelectionConfigInput struct {
	ID        string `path:"id" doc:"Library ID (ULID)"`
	AssetType string `path:"asset_type" doc:"Asset type (poster, fanart, banner, thumb, trailer, subtitle)"`
	Body      SelectionConfigRequest
}

// PutSelectionConfigOutput is the output for upserting a selection config.
type PutSelectionConfigOutput struct {
	Body SelectionConfigResponse
}

// PutSelectionConfig creates or replaces the selection config for one asset
// type.
func (h *LibraryHandler) PutSelectionConfig(ctx context.Context, input *PutSelectionConfigInput) (*PutSelectionConfigOutput, error) {
	library, err := h.getLibrary(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	assetType := models.AssetType(input.AssetType)

	cfg, err := h.configs.GetByLibraryAndType(ctx, library.ID, assetType)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get selection config", err)
	}

	create := cfg == nil
	if create {
		cfg = &models.SelectionConfig{LibraryID: library.ID, AssetType: assetType}
	}
	input.Body.ApplyToModel(cfg)

	if create {
		err = h.configs.Create(ctx, cfg)
	} else {
		err = h.configs.Update(ctx, cfg)
	}
	if err != nil {
		if errors.Is(err, models.ErrWeightsMustSumToOne) ||
			errors.Is(err, models.ErrInvalidCountRange) ||
			errors.Is(err, models.ErrInvalidSimilarityThreshold) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to save selection config", err)
	}

	return &PutSelectionConfigOutput{Body: SelectionConfigFromModel(cfg)}, nil
}

// DeleteSelectionConfigInput is the input for deleting a selection config.
type DeleteSelectionConfigInput struct {
	ID        string `path:"id" doc:"Library ID (ULID)"`
	AssetType string `path:"asset_type" doc:"Asset type"`
}

// DeleteSelectionConfigOutput is the output for deleting a selection config.
type DeleteSelectionConfigOutput struct{}

// DeleteSelectionConfig removes the selection config for one asset type.
func (h *LibraryHandler) DeleteSelectionConfig(ctx context.Context, input *DeleteSelectionConfigInput) (*DeleteSelectionConfigOutput, error) {
	library, err := h.getLibrary(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	cfg, err := h.configs.GetByLibraryAndType(ctx, library.ID, models.AssetType(input.AssetType))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get selection config", err)
	}
	if cfg == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("no selection config for asset type %q", input.AssetType))
	}

	if err := h.configs.Delete(ctx, cfg.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete selection config", err)
	}
	return &DeleteSelectionConfigOutput{}, nil
}
