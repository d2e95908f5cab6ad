package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shelfarr/shelfarr/internal/models"
)

// publishAuditRepo implements PublishAuditRepository using GORM.
type publishAuditRepo struct {
	db *gorm.DB
}

// NewPublishAuditRepository creates a new PublishAuditRepository.
func NewPublishAuditRepository(db *gorm.DB) *publishAuditRepo {
	return &publishAuditRepo{db: db}
}

// Create creates a new publish audit record.
func (r *publishAuditRepo) Create(ctx context.Context, audit *models.PublishAudit) error {
	if err := r.db.WithContext(ctx).Create(audit).Error; err != nil {
		return fmt.Errorf("creating publish audit: %w", err)
	}
	return nil
}

// GetByEntity retrieves the most recent publish attempts for an entity.
func (r *publishAuditRepo) GetByEntity(ctx context.Context, entityID models.ULID, limit int) ([]*models.PublishAudit, error) {
	var audits []*models.PublishAudit
	query := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&audits).Error; err != nil {
		return nil, fmt.Errorf("getting publish audits by entity: %w", err)
	}
	return audits, nil
}

// DeleteBefore deletes audit records older than the specified time.
func (r *publishAuditRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.PublishAudit{})

	if result.Error != nil {
		return 0, fmt.Errorf("deleting publish audits: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure publishAuditRepo implements PublishAuditRepository at compile time.
var _ PublishAuditRepository = (*publishAuditRepo)(nil)
