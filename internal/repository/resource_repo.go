package repository

import (
	"context"
	"fmt"

	"github.com/castwell/mediaflow/internal/models"
	"gorm.io/gorm"
)

// resourceRepo implements ResourceRepository using GORM.
type resourceRepo struct {
	db *gorm.DB
}

// NewResourceRepository creates a new ResourceRepository.
func NewResourceRepository(db *gorm.DB) *resourceRepo {
	return &resourceRepo{db: db}
}

// Create commits a new resource.
func (r *resourceRepo) Create(ctx context.Context, file *models.UploadedFile) error {
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		return fmt.Errorf("creating uploaded file: %w", err)
	}
	return nil
}

// GetByResourceID retrieves a resource by its ULID.
func (r *resourceRepo) GetByResourceID(ctx context.Context, resourceID models.ULID) (*models.UploadedFile, error) {
	var file models.UploadedFile
	err := r.db.WithContext(ctx).Where("resource_id = ?", resourceID).First(&file).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting uploaded file: %w", err)
	}
	return &file, nil
}

// GetByOwnerAndRequest retrieves the resource committed for a given
// (owner, req_seq) pair, if any.
func (r *resourceRepo) GetByOwnerAndRequest(ctx context.Context, ownerUsrID uint64, reqSeq uint32) (*models.UploadedFile, error) {
	var file models.UploadedFile
	err := r.db.WithContext(ctx).
		Where("owner_usr_id = ? AND req_seq = ?", ownerUsrID, reqSeq).
		First(&file).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting uploaded file by owner/request: %w", err)
	}
	return &file, nil
}

// ListByOwner lists all resources owned by a user.
func (r *resourceRepo) ListByOwner(ctx context.Context, ownerUsrID uint64) ([]*models.UploadedFile, error) {
	var files []*models.UploadedFile
	if err := r.db.WithContext(ctx).
		Where("owner_usr_id = ?", ownerUsrID).
		Order("committed_at DESC").
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("listing uploaded files: %w", err)
	}
	return files, nil
}

// Delete removes a resource row.
func (r *resourceRepo) Delete(ctx context.Context, resourceID models.ULID) error {
	if err := r.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Delete(&models.UploadedFile{}).Error; err != nil {
		return fmt.Errorf("deleting uploaded file: %w", err)
	}
	return nil
}

var _ ResourceRepository = (*resourceRepo)(nil)
