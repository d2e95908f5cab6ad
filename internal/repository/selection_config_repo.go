package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/shelfarr/shelfarr/internal/models"
)

// selectionConfigRepo implements SelectionConfigRepository using GORM.
type selectionConfigRepo struct {
	db *gorm.DB
}

// NewSelectionConfigRepository creates a new SelectionConfigRepository.
func NewSelectionConfigRepository(db *gorm.DB) *selectionConfigRepo {
	return &selectionConfigRepo{db: db}
}

// Create creates a new selection config.
func (r *selectionConfigRepo) Create(ctx context.Context, cfg *models.SelectionConfig) error {
	if err := r.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("creating selection config: %w", err)
	}
	return nil
}

// GetByID retrieves a selection config by ID.
func (r *selectionConfigRepo) GetByID(ctx context.Context, id models.ULID) (*models.SelectionConfig, error) {
	var cfg models.SelectionConfig
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting selection config by ID: %w", err)
	}
	return &cfg, nil
}

// GetByLibrary retrieves all selection configs for a library.
func (r *selectionConfigRepo) GetByLibrary(ctx context.Context, libraryID models.ULID) ([]*models.SelectionConfig, error) {
	var configs []*models.SelectionConfig
	if err := r.db.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Order("asset_type ASC").
		Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("getting selection configs by library: %w", err)
	}
	return configs, nil
}

// GetByLibraryAndType retrieves the config for one asset slot of a library.
func (r *selectionConfigRepo) GetByLibraryAndType(ctx context.Context, libraryID models.ULID, assetType models.AssetType) (*models.SelectionConfig, error) {
	var cfg models.SelectionConfig
	if err := r.db.WithContext(ctx).
		Where("library_id = ? AND asset_type = ?", libraryID, assetType).
		First(&cfg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting selection config by library and type: %w", err)
	}
	return &cfg, nil
}

// Update updates an existing selection config.
func (r *selectionConfigRepo) Update(ctx context.Context, cfg *models.SelectionConfig) error {
	if err := r.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("updating selection config: %w", err)
	}
	return nil
}

// Delete deletes a selection config by ID.
func (r *selectionConfigRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.SelectionConfig{}).Error; err != nil {
		return fmt.Errorf("deleting selection config: %w", err)
	}
	return nil
}

// Ensure selectionConfigRepo implements SelectionConfigRepository at compile time.
var _ SelectionConfigRepository = (*selectionConfigRepo)(nil)
