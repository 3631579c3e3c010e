// Package repository defines data access interfaces for mediaflow entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"

	"github.com/castwell/mediaflow/internal/models"
)

// UploadRequestRepository defines operations for upload-request persistence.
// An upload request tracks one in-progress chunked upload until it is
// committed into an UploadedFile or explicitly aborted.
type UploadRequestRepository interface {
	// Create creates a new upload request.
	Create(ctx context.Context, req *models.UploadRequest) error
	// Get retrieves an upload request by its (usr_id, req_seq) key.
	Get(ctx context.Context, usrID uint64, reqSeq uint32) (*models.UploadRequest, error)
	// CountActive returns the number of uncommitted upload requests for a user.
	CountActive(ctx context.Context, usrID uint64) (int64, error)
	// Touch updates LastUpdate to now for an existing request.
	Touch(ctx context.Context, usrID uint64, reqSeq uint32) error
	// Delete removes an upload request (on commit or abort).
	Delete(ctx context.Context, usrID uint64, reqSeq uint32) error
	// Transaction executes fn within a database transaction, passing a
	// transactional repository.
	Transaction(ctx context.Context, fn func(UploadRequestRepository) error) error
}

// FileChunkRepository defines operations for chunk persistence.
type FileChunkRepository interface {
	// Create records one received chunk.
	Create(ctx context.Context, chunk *models.FileChunk) error
	// ListByRequest returns all chunks for a request ordered by part number.
	ListByRequest(ctx context.Context, usrID uint64, reqSeq uint32) ([]*models.FileChunk, error)
	// CountByRequest returns the number of chunks received for a request.
	CountByRequest(ctx context.Context, usrID uint64, reqSeq uint32) (int64, error)
	// SumSizeByUser returns the total bytes across every chunk currently
	// recorded for a user, spanning all of that user's in-flight requests.
	// The upload-part handler checks this against UploadConfig.MaxUserQuotaBytes.
	SumSizeByUser(ctx context.Context, usrID uint64) (int64, error)
	// DeleteByRequest removes all chunks for a request (on commit or abort).
	DeleteByRequest(ctx context.Context, usrID uint64, reqSeq uint32) error
}

// ResourceRepository defines operations for committed-file (UploadedFile)
// persistence. This is the table verify_resource_id reads.
type ResourceRepository interface {
	// Create commits a new resource.
	Create(ctx context.Context, file *models.UploadedFile) error
	// GetByResourceID retrieves a resource by its ULID.
	GetByResourceID(ctx context.Context, resourceID models.ULID) (*models.UploadedFile, error)
	// GetByOwnerAndRequest retrieves the resource committed for a given
	// (owner, req_seq) pair, if any.
	GetByOwnerAndRequest(ctx context.Context, ownerUsrID uint64, reqSeq uint32) (*models.UploadedFile, error)
	// ListByOwner lists all resources owned by a user.
	ListByOwner(ctx context.Context, ownerUsrID uint64) ([]*models.UploadedFile, error)
	// Delete removes a resource row.
	Delete(ctx context.Context, resourceID models.ULID) error
}

// ACLRepository defines operations for the file-level and user-level ACL
// tables that gate resource visibility and per-user capabilities.
type ACLRepository interface {
	// GetFileLevel retrieves the file-level ACL row for a resource, if any.
	GetFileLevel(ctx context.Context, resourceID models.ULID) (*models.FileLevelACL, error)
	// UpsertFileLevel creates or updates the file-level ACL row for a resource.
	UpsertFileLevel(ctx context.Context, acl *models.FileLevelACL) error
	// ListUserLevel lists every user-level ACL row for a resource.
	ListUserLevel(ctx context.Context, resourceID models.ULID) ([]*models.UserLevelACL, error)
	// GetUserLevel retrieves the user-level ACL row for (resource, usr), if any.
	GetUserLevel(ctx context.Context, resourceID models.ULID, usrID uint64) (*models.UserLevelACL, error)
	// ReplaceUserLevel atomically replaces the user-level ACL rows for a
	// resource with the given set, inserting new rows, updating changed
	// rows, and deleting rows no longer present — all within one
	// transaction (spec.md edit_filelvl_access_ctrl semantics).
	ReplaceUserLevel(ctx context.Context, resourceID models.ULID, rows []*models.UserLevelACL) error
}
