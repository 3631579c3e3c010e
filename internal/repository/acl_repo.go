package repository

import (
	"context"
	"fmt"

	"github.com/castwell/mediaflow/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// aclRepo implements ACLRepository using GORM.
type aclRepo struct {
	db *gorm.DB
}

// NewACLRepository creates a new ACLRepository.
func NewACLRepository(db *gorm.DB) *aclRepo {
	return &aclRepo{db: db}
}

// GetFileLevel retrieves the file-level ACL row for a resource, if any.
func (r *aclRepo) GetFileLevel(ctx context.Context, resourceID models.ULID) (*models.FileLevelACL, error) {
	var acl models.FileLevelACL
	err := r.db.WithContext(ctx).Where("resource_id = ?", resourceID).First(&acl).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting file-level ACL: %w", err)
	}
	return &acl, nil
}

// UpsertFileLevel creates or updates the file-level ACL row for a resource.
func (r *aclRepo) UpsertFileLevel(ctx context.Context, acl *models.FileLevelACL) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"visible"}),
	}).Create(acl).Error; err != nil {
		return fmt.Errorf("upserting file-level ACL: %w", err)
	}
	return nil
}

// ListUserLevel lists every user-level ACL row for a resource.
func (r *aclRepo) ListUserLevel(ctx context.Context, resourceID models.ULID) ([]*models.UserLevelACL, error) {
	var rows []*models.UserLevelACL
	if err := r.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing user-level ACL: %w", err)
	}
	return rows, nil
}

// GetUserLevel retrieves the user-level ACL row for (resource, usr), if any.
func (r *aclRepo) GetUserLevel(ctx context.Context, resourceID models.ULID, usrID uint64) (*models.UserLevelACL, error) {
	var row models.UserLevelACL
	err := r.db.WithContext(ctx).
		Where("resource_id = ? AND usr_id = ?", resourceID, usrID).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user-level ACL: %w", err)
	}
	return &row, nil
}

// ReplaceUserLevel atomically replaces the user-level ACL rows for a
// resource with the given set: existing rows not present in rows are
// deleted, rows present in both are updated, and new rows are inserted.
// All three steps run in one transaction so readers never observe a
// partially-applied ACL edit.
func (r *aclRepo) ReplaceUserLevel(ctx context.Context, resourceID models.ULID, rows []*models.UserLevelACL) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []*models.UserLevelACL
		if err := tx.Where("resource_id = ?", resourceID).Find(&existing).Error; err != nil {
			return fmt.Errorf("loading existing user-level ACL: %w", err)
		}

		keep := make(map[uint64]bool, len(rows))
		for _, row := range rows {
			row.ResourceID = resourceID
			keep[row.UsrID] = true
		}

		for _, row := range existing {
			if !keep[row.UsrID] {
				if err := tx.Where("resource_id = ? AND usr_id = ?", resourceID, row.UsrID).
					Delete(&models.UserLevelACL{}).Error; err != nil {
					return fmt.Errorf("deleting stale user-level ACL: %w", err)
				}
			}
		}

		if len(rows) == 0 {
			return nil
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_id"}, {Name: "usr_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"transcode", "edit_acl"}),
		}).Create(rows).Error; err != nil {
			return fmt.Errorf("upserting user-level ACL: %w", err)
		}

		return nil
	})
}

var _ ACLRepository = (*aclRepo)(nil)
