package repository

import (
	"context"
	"fmt"

	"github.com/castwell/mediaflow/internal/models"
	"gorm.io/gorm"
)

// uploadRequestRepo implements UploadRequestRepository using GORM.
type uploadRequestRepo struct {
	db *gorm.DB
}

// NewUploadRequestRepository creates a new UploadRequestRepository.
func NewUploadRequestRepository(db *gorm.DB) *uploadRequestRepo {
	return &uploadRequestRepo{db: db}
}

// Create creates a new upload request.
func (r *uploadRequestRepo) Create(ctx context.Context, req *models.UploadRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	return nil
}

// Get retrieves an upload request by its (usr_id, req_seq) key.
func (r *uploadRequestRepo) Get(ctx context.Context, usrID uint64, reqSeq uint32) (*models.UploadRequest, error) {
	var req models.UploadRequest
	err := r.db.WithContext(ctx).
		Where("usr_id = ? AND req_seq = ?", usrID, reqSeq).
		First(&req).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting upload request: %w", err)
	}
	return &req, nil
}

// CountActive returns the number of uncommitted upload requests for a user.
func (r *uploadRequestRepo) CountActive(ctx context.Context, usrID uint64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.UploadRequest{}).
		Where("usr_id = ?", usrID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting active upload requests: %w", err)
	}
	return count, nil
}

// Touch updates LastUpdate to now for an existing request.
func (r *uploadRequestRepo) Touch(ctx context.Context, usrID uint64, reqSeq uint32) error {
	result := r.db.WithContext(ctx).
		Model(&models.UploadRequest{}).
		Where("usr_id = ? AND req_seq = ?", usrID, reqSeq).
		Update("last_update", models.Now())
	if result.Error != nil {
		return fmt.Errorf("touching upload request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrUploadRequestNotFound
	}
	return nil
}

// Delete removes an upload request (on commit or abort).
func (r *uploadRequestRepo) Delete(ctx context.Context, usrID uint64, reqSeq uint32) error {
	if err := r.db.WithContext(ctx).
		Where("usr_id = ? AND req_seq = ?", usrID, reqSeq).
		Delete(&models.UploadRequest{}).Error; err != nil {
		return fmt.Errorf("deleting upload request: %w", err)
	}
	return nil
}

// Transaction executes fn within a database transaction, passing a
// transactional repository.
func (r *uploadRequestRepo) Transaction(ctx context.Context, fn func(UploadRequestRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &uploadRequestRepo{db: tx}
		return fn(txRepo)
	})
}

var _ UploadRequestRepository = (*uploadRequestRepo)(nil)
