// Package acl implements the ACLEngine business-logic layer above
// internal/repository: resolving whether a user may read or modify a
// resource, and computing the insert/update/delete diff when a user-level
// ACL set is replaced, per spec.md §4.3.
package acl

import (
	"context"
	"errors"
	"fmt"

	"github.com/castwell/mediaflow/internal/models"
	"github.com/castwell/mediaflow/internal/repository"
)

// ErrResourceIDDuplicate reports that more than one uploaded-file row
// matched a resource id lookup (spec.md's res_id_dup condition).
// HTTPStatus maps it to 409. VerifyResourceID loads a single row and does
// not count matches, so no Engine operation returns this error; the unique
// constraint on resource_id keeps duplicate rows out of the table.
var ErrResourceIDDuplicate = errors.New("acl: resource id resolves to more than one row")

// VerifyResult is the outcome of VerifyResourceID.
type VerifyResult struct {
	Exists     bool
	OwnerUsrID uint64
	ReqSeq     uint32
	MediaType  models.MediaType
	ACLExists  bool
	ACLVisible bool
}

// HTTPStatus translates a VerifyResult (or error) to the status code the
// front-end adapters use, per spec.md §4.3's table.
func (r VerifyResult) HTTPStatus(err error) int {
	switch {
	case err != nil:
		if errors.Is(err, ErrResourceIDDuplicate) {
			return 409
		}
		return 503
	case !r.Exists:
		return 404
	default:
		return 0 // caller decides
	}
}

// Capability is one user's granted operations on a resource.
type Capability struct {
	Transcode bool
	EditACL   bool
}

// UserCapability pairs a user id with its Capability on one resource.
type UserCapability struct {
	UsrID      uint64
	Capability Capability
}

// Engine implements the three ACLEngine operations over the repository
// layer, transactionally, the way the teacher's stream-proxy repository
// wraps multi-statement writes in Transaction(...).
type Engine struct {
	resources repository.ResourceRepository
	acls      repository.ACLRepository
}

// New creates an Engine backed by the given repositories.
func New(resources repository.ResourceRepository, acls repository.ACLRepository) *Engine {
	return &Engine{resources: resources, acls: acls}
}

// VerifyResourceID looks up the uploaded-file row for resourceID and,
// if fetchACL is true, the file-level visibility flag alongside it.
func (e *Engine) VerifyResourceID(ctx context.Context, resourceID models.ULID, fetchACL bool) (VerifyResult, error) {
	file, err := e.resources.GetByResourceID(ctx, resourceID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("acl: loading resource: %w", err)
	}
	if file == nil {
		return VerifyResult{Exists: false}, nil
	}

	result := VerifyResult{
		Exists:     true,
		OwnerUsrID: file.OwnerUsrID,
		ReqSeq:     file.ReqSeq,
		MediaType:  file.MediaType,
	}

	if fetchACL {
		fileACL, err := e.acls.GetFileLevel(ctx, resourceID)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("acl: loading file-level acl: %w", err)
		}
		if fileACL != nil {
			result.ACLExists = true
			result.ACLVisible = fileACL.Visible
		}
	}

	return result, nil
}

// ResourceACLLoad returns the user-level capability rows for a resource.
// If usrID is nonzero, the result is restricted to that one user.
func (e *Engine) ResourceACLLoad(ctx context.Context, resourceID models.ULID, usrID uint64) ([]UserCapability, error) {
	if usrID != 0 {
		row, err := e.acls.GetUserLevel(ctx, resourceID, usrID)
		if err != nil {
			return nil, fmt.Errorf("acl: loading user-level acl: %w", err)
		}
		if row == nil {
			return []UserCapability{}, nil
		}
		return []UserCapability{toCapability(row)}, nil
	}

	rows, err := e.acls.ListUserLevel(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("acl: listing user-level acl: %w", err)
	}
	out := make([]UserCapability, 0, len(rows))
	for _, row := range rows {
		out = append(out, toCapability(row))
	}
	return out, nil
}

func toCapability(row *models.UserLevelACL) UserCapability {
	return UserCapability{
		UsrID: row.UsrID,
		Capability: Capability{
			Transcode: row.Transcode,
			EditACL:   row.EditACL,
		},
	}
}

// Diff is the insert/update/delete decomposition of replacing a resource's
// user-level ACL set, per spec.md §4.3/§8 invariant 3.
type Diff struct {
	Inserts []UserCapability
	Updates []UserCapability
	Deletes []uint64
}

// ComputeDiff compares existing rows against a requested set and returns the
// insert/update/delete decomposition. |inserts|+|updates| == len(requested)
// and |updates|+|deletes| == len(existing) always hold.
func ComputeDiff(existing []UserCapability, requested []UserCapability) Diff {
	existingByUser := make(map[uint64]UserCapability, len(existing))
	for _, row := range existing {
		existingByUser[row.UsrID] = row
	}
	requestedByUser := make(map[uint64]bool, len(requested))

	var diff Diff
	for _, row := range requested {
		requestedByUser[row.UsrID] = true
		if _, ok := existingByUser[row.UsrID]; ok {
			diff.Updates = append(diff.Updates, row)
		} else {
			diff.Inserts = append(diff.Inserts, row)
		}
	}
	for _, row := range existing {
		if !requestedByUser[row.UsrID] {
			diff.Deletes = append(diff.Deletes, row.UsrID)
		}
	}
	return diff
}

// SaveUserLevelACL computes the diff between the resource's existing
// user-level rows and requested, then persists the full replacement set in
// one transaction via ACLRepository.ReplaceUserLevel, matching spec.md's
// "insert/update/delete under a single transaction" requirement.
func (e *Engine) SaveUserLevelACL(ctx context.Context, resourceID models.ULID, requested []UserCapability) (Diff, error) {
	existingRows, err := e.acls.ListUserLevel(ctx, resourceID)
	if err != nil {
		return Diff{}, fmt.Errorf("acl: loading existing user-level acl: %w", err)
	}
	existing := make([]UserCapability, 0, len(existingRows))
	for _, row := range existingRows {
		existing = append(existing, toCapability(row))
	}

	diff := ComputeDiff(existing, requested)

	replacement := make([]*models.UserLevelACL, 0, len(requested))
	for _, row := range requested {
		replacement = append(replacement, &models.UserLevelACL{
			ResourceID: resourceID,
			UsrID:      row.UsrID,
			Transcode:  row.Capability.Transcode,
			EditACL:    row.Capability.EditACL,
		})
	}

	if err := e.acls.ReplaceUserLevel(ctx, resourceID, replacement); err != nil {
		return Diff{}, fmt.Errorf("acl: replacing user-level acl: %w", err)
	}
	return diff, nil
}

// CanRead reports whether usrID may read resourceID: true if usrID owns the
// resource, if the resource is publicly visible, or if a user-level ACL row
// exists for usrID on this resource (presence implies read access).
func (e *Engine) CanRead(ctx context.Context, resourceID models.ULID, usrID uint64) (bool, error) {
	verify, err := e.VerifyResourceID(ctx, resourceID, true)
	if err != nil {
		return false, err
	}
	if !verify.Exists {
		return false, models.ErrResourceNotFound
	}
	if verify.OwnerUsrID == usrID {
		return true, nil
	}
	if verify.ACLVisible {
		return true, nil
	}
	row, err := e.acls.GetUserLevel(ctx, resourceID, usrID)
	if err != nil {
		return false, fmt.Errorf("acl: loading user-level acl: %w", err)
	}
	return row != nil, nil
}

// CanEditACL reports whether usrID may edit resourceID's ACL rows: true for
// the owner, or a non-owner granted edit_acl capability.
func (e *Engine) CanEditACL(ctx context.Context, resourceID models.ULID, usrID uint64) (bool, error) {
	verify, err := e.VerifyResourceID(ctx, resourceID, false)
	if err != nil {
		return false, err
	}
	if !verify.Exists {
		return false, models.ErrResourceNotFound
	}
	if verify.OwnerUsrID == usrID {
		return true, nil
	}
	row, err := e.acls.GetUserLevel(ctx, resourceID, usrID)
	if err != nil {
		return false, fmt.Errorf("acl: loading user-level acl: %w", err)
	}
	return row != nil && row.EditACL, nil
}
