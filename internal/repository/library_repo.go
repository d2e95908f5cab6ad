package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/shelfarr/shelfarr/internal/models"
)

// libraryRepo implements LibraryRepository using GORM.
type libraryRepo struct {
	db *gorm.DB
}

// NewLibraryRepository creates a new LibraryRepository.
func NewLibraryRepository(db *gorm.DB) *libraryRepo {
	return &libraryRepo{db: db}
}

// Create creates a new library.
func (r *libraryRepo) Create(ctx context.Context, library *models.Library) error {
	if err := r.db.WithContext(ctx).Create(library).Error; err != nil {
		return fmt.Errorf("creating library: %w", err)
	}
	return nil
}

// GetByID retrieves a library by ID.
func (r *libraryRepo) GetByID(ctx context.Context, id models.ULID) (*models.Library, error) {
	var library models.Library
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&library).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting library by ID: %w", err)
	}
	return &library, nil
}

// GetByName retrieves a library by its unique name.
func (r *libraryRepo) GetByName(ctx context.Context, name string) (*models.Library, error) {
	var library models.Library
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&library).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting library by name: %w", err)
	}
	return &library, nil
}

// GetAll retrieves all libraries.
func (r *libraryRepo) GetAll(ctx context.Context) ([]*models.Library, error) {
	var libraries []*models.Library
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&libraries).Error; err != nil {
		return nil, fmt.Errorf("getting all libraries: %w", err)
	}
	return libraries, nil
}

// GetMonitored retrieves libraries with monitoring enabled.
func (r *libraryRepo) GetMonitored(ctx context.Context) ([]*models.Library, error) {
	var libraries []*models.Library
	if err := r.db.WithContext(ctx).
		Where("monitored IS NULL OR monitored = ?", true).
		Order("name ASC").
		Find(&libraries).Error; err != nil {
		return nil, fmt.Errorf("getting monitored libraries: %w", err)
	}
	return libraries, nil
}

// Update updates an existing library.
func (r *libraryRepo) Update(ctx context.Context, library *models.Library) error {
	if err := r.db.WithContext(ctx).Save(library).Error; err != nil {
		return fmt.Errorf("updating library: %w", err)
	}
	return nil
}

// Delete deletes a library by ID.
func (r *libraryRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Library{}).Error; err != nil {
		return fmt.Errorf("deleting library: %w", err)
	}
	return nil
}

// Ensure libraryRepo implements LibraryRepository at compile time.
var _ LibraryRepository = (*libraryRepo)(nil)
