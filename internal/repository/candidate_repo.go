package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/shelfarr/shelfarr/internal/models"
)

// candidateRepo implements CandidateRepository using GORM.
type candidateRepo struct {
	db *gorm.DB
}

// NewCandidateRepository creates a new CandidateRepository.
func NewCandidateRepository(db *gorm.DB) *candidateRepo {
	return &candidateRepo{db: db}
}

// Create creates a new asset candidate.
func (r *candidateRepo) Create(ctx context.Context, candidate *models.AssetCandidate) error {
	if err := r.db.WithContext(ctx).Create(candidate).Error; err != nil {
		return fmt.Errorf("creating candidate: %w", err)
	}
	return nil
}

// GetByID retrieves a candidate by ID.
func (r *candidateRepo) GetByID(ctx context.Context, id models.ULID) (*models.AssetCandidate, error) {
	var candidate models.AssetCandidate
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&candidate).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting candidate by ID: %w", err)
	}
	return &candidate, nil
}

// GetByProviderURL finds an existing candidate row for the same remote asset.
func (r *candidateRepo) GetByProviderURL(ctx context.Context, entityID models.ULID, assetType models.AssetType, providerURL string) (*models.AssetCandidate, error) {
	var candidate models.AssetCandidate
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND asset_type = ? AND provider_url = ?", entityID, assetType, providerURL).
		First(&candidate).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting candidate by provider URL: %w", err)
	}
	return &candidate, nil
}

// GetByEntity retrieves all candidates for an entity.
func (r *candidateRepo) GetByEntity(ctx context.Context, entityID models.ULID) ([]*models.AssetCandidate, error) {
	var candidates []*models.AssetCandidate
	if err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("asset_type ASC, auto_score DESC, discovery_order ASC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("getting candidates by entity: %w", err)
	}
	return candidates, nil
}

// GetByEntityAndType retrieves candidates for one asset slot of an entity.
func (r *candidateRepo) GetByEntityAndType(ctx context.Context, entityID models.ULID, assetType models.AssetType) ([]*models.AssetCandidate, error) {
	var candidates []*models.AssetCandidate
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND asset_type = ?", entityID, assetType).
		Order("auto_score DESC, discovery_order ASC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("getting candidates by entity and type: %w", err)
	}
	return candidates, nil
}

// GetSelected retrieves all selected candidates for an entity.
func (r *candidateRepo) GetSelected(ctx context.Context, entityID models.ULID) ([]*models.AssetCandidate, error) {
	var candidates []*models.AssetCandidate
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND is_selected = ?", entityID, true).
		Order("asset_type ASC, auto_score DESC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("getting selected candidates: %w", err)
	}
	return candidates, nil
}

// CountByContentHash returns how many candidates reference a cached blob.
func (r *candidateRepo) CountByContentHash(ctx context.Context, contentHash string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.AssetCandidate{}).
		Where("content_hash = ?", contentHash).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting candidates by content hash: %w", err)
	}
	return count, nil
}

// Update updates an existing candidate.
func (r *candidateRepo) Update(ctx context.Context, candidate *models.AssetCandidate) error {
	if err := r.db.WithContext(ctx).Save(candidate).Error; err != nil {
		return fmt.Errorf("updating candidate: %w", err)
	}
	return nil
}

// Delete deletes a candidate by ID.
func (r *candidateRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.AssetCandidate{}).Error; err != nil {
		return fmt.Errorf("deleting candidate: %w", err)
	}
	return nil
}

// Ensure candidateRepo implements CandidateRepository at compile time.
var _ CandidateRepository = (*candidateRepo)(nil)
