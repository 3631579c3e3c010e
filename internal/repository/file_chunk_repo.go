package repository

import (
	"context"
	"fmt"

	"github.com/castwell/mediaflow/internal/models"
	"gorm.io/gorm"
)

// fileChunkRepo implements FileChunkRepository using GORM.
type fileChunkRepo struct {
	db *gorm.DB
}

// NewFileChunkRepository creates a new FileChunkRepository.
func NewFileChunkRepository(db *gorm.DB) *fileChunkRepo {
	return &fileChunkRepo{db: db}
}

// Create records one received chunk.
func (r *fileChunkRepo) Create(ctx context.Context, chunk *models.FileChunk) error {
	if err := r.db.WithContext(ctx).Create(chunk).Error; err != nil {
		return fmt.Errorf("creating file chunk: %w", err)
	}
	return nil
}

// ListByRequest returns all chunks for a request ordered by part number.
func (r *fileChunkRepo) ListByRequest(ctx context.Context, usrID uint64, reqSeq uint32) ([]*models.FileChunk, error) {
	var chunks []*models.FileChunk
	if err := r.db.WithContext(ctx).
		Where("usr_id = ? AND req_seq = ?", usrID, reqSeq).
		Order("part_num ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("listing file chunks: %w", err)
	}
	return chunks, nil
}

// CountByRequest returns the number of chunks received for a request.
func (r *fileChunkRepo) CountByRequest(ctx context.Context, usrID uint64, reqSeq uint32) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.FileChunk{}).
		Where("usr_id = ? AND req_seq = ?", usrID, reqSeq).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting file chunks: %w", err)
	}
	return count, nil
}

// SumSizeByUser returns the total bytes across every chunk currently
// recorded for a user, spanning all of that user's in-flight requests.
func (r *fileChunkRepo) SumSizeByUser(ctx context.Context, usrID uint64) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.FileChunk{}).
		Where("usr_id = ?", usrID).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("summing file chunk sizes: %w", err)
	}
	return total, nil
}

// DeleteByRequest removes all chunks for a request (on commit or abort).
func (r *fileChunkRepo) DeleteByRequest(ctx context.Context, usrID uint64, reqSeq uint32) error {
	if err := r.db.WithContext(ctx).
		Where("usr_id = ? AND req_seq = ?", usrID, reqSeq).
		Delete(&models.FileChunk{}).Error; err != nil {
		return fmt.Errorf("deleting file chunks: %w", err)
	}
	return nil
}

var _ FileChunkRepository = (*fileChunkRepo)(nil)
