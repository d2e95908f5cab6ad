package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/shelfarr/shelfarr/internal/models"
)

// entityRepo implements EntityRepository using GORM.
type entityRepo struct {
	db *gorm.DB
}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository(db *gorm.DB) *entityRepo {
	return &entityRepo{db: db}
}

// Create creates a new entity.
func (r *entityRepo) Create(ctx context.Context, entity *models.Entity) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("creating entity: %w", err)
	}
	return nil
}

// GetByID retrieves an entity by ID.
func (r *entityRepo) GetByID(ctx context.Context, id models.ULID) (*models.Entity, error) {
	var entity models.Entity
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting entity by ID: %w", err)
	}
	return &entity, nil
}

// GetBySourcePath retrieves an entity by its discovered file path.
func (r *entityRepo) GetBySourcePath(ctx context.Context, libraryID models.ULID, sourcePath string) (*models.Entity, error) {
	var entity models.Entity
	if err := r.db.WithContext(ctx).
		Where("library_id = ? AND source_path = ?", libraryID, sourcePath).
		First(&entity).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting entity by source path: %w", err)
	}
	return &entity, nil
}

// GetByLibrary retrieves all entities in a library.
func (r *entityRepo) GetByLibrary(ctx context.Context, libraryID models.ULID) ([]*models.Entity, error) {
	var entities []*models.Entity
	if err := r.db.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Order("sort_title ASC, title ASC").
		Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("getting entities by library: %w", err)
	}
	return entities, nil
}

// GetAll retrieves all entities.
func (r *entityRepo) GetAll(ctx context.Context) ([]*models.Entity, error) {
	var entities []*models.Entity
	if err := r.db.WithContext(ctx).
		Order("sort_title ASC, title ASC").
		Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("getting all entities: %w", err)
	}
	return entities, nil
}

// GetByState retrieves all entities in a lifecycle state.
func (r *entityRepo) GetByState(ctx context.Context, state models.EntityState) ([]*models.Entity, error) {
	var entities []*models.Entity
	if err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("created_at ASC").
		Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("getting entities by state: %w", err)
	}
	return entities, nil
}

// GetMonitoredInState retrieves monitored entities in the given state whose
// library is also monitored.
func (r *entityRepo) GetMonitoredInState(ctx context.Context, state models.EntityState) ([]*models.Entity, error) {
	var entities []*models.Entity
	if err := r.db.WithContext(ctx).
		Joins("JOIN libraries ON libraries.id = entities.library_id").
		Where("entities.state = ?", state).
		Where("entities.monitored IS NULL OR entities.monitored = ?", true).
		Where("libraries.monitored IS NULL OR libraries.monitored = ?", true).
		Where("libraries.deleted_at IS NULL").
		Order("entities.created_at ASC").
		Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("getting monitored entities by state: %w", err)
	}
	return entities, nil
}

// GetPendingRepublish retrieves monitored published entities flagged with
// unpublished changes.
func (r *entityRepo) GetPendingRepublish(ctx context.Context) ([]*models.Entity, error) {
	var entities []*models.Entity
	if err := r.db.WithContext(ctx).
		Joins("JOIN libraries ON libraries.id = entities.library_id").
		Where("entities.state = ? AND entities.has_unpublished_changes = ?", models.StatePublished, true).
		Where("entities.monitored IS NULL OR entities.monitored = ?", true).
		Where("libraries.monitored IS NULL OR libraries.monitored = ?", true).
		Where("libraries.deleted_at IS NULL").
		Order("entities.updated_at ASC").
		Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("getting entities pending republish: %w", err)
	}
	return entities, nil
}

// Update updates an existing entity.
func (r *entityRepo) Update(ctx context.Context, entity *models.Entity) error {
	if err := r.db.WithContext(ctx).Save(entity).Error; err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	return nil
}

// Delete deletes an entity by ID.
func (r *entityRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Entity{}).Error; err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	return nil
}

// Ensure entityRepo implements EntityRepository at compile time.
var _ EntityRepository = (*entityRepo)(nil)
