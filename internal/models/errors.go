package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Sentinel errors returned by the upload/chunk/resource/ACL models and their
// repositories. Handlers translate these to HTTP status codes.
var (
	// ErrOwnerRequired indicates a resource row is missing its owner.
	ErrOwnerRequired = errors.New("owner_usr_id is required")

	// ErrResourceIDRequired indicates a resource id field is empty.
	ErrResourceIDRequired = errors.New("resource_id is required")

	// ErrInvalidMediaType indicates a media type outside {video, image}.
	ErrInvalidMediaType = errors.New("media_type must be 'video' or 'image'")

	// ErrReqSeqRequired indicates a missing upload-request sequence.
	ErrReqSeqRequired = errors.New("req_seq is required")

	// ErrPartNumRequired indicates a missing or zero chunk part number.
	ErrPartNumRequired = errors.New("part_num must be >= 1")

	// ErrChecksumRequired indicates a missing chunk checksum.
	ErrChecksumRequired = errors.New("checksum is required")

	// ErrResourceNotFound indicates the uploaded-file row does not exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrUploadRequestLimitExceeded indicates a user already has the maximum
	// number of uncommitted upload requests.
	ErrUploadRequestLimitExceeded = errors.New("active upload request limit exceeded")

	// ErrUploadRequestNotFound indicates the (usr_id, req_seq) pair has no row.
	ErrUploadRequestNotFound = errors.New("upload request not found")

	// ErrUploadRequestAlreadyCommitted indicates a commit/abort was attempted
	// on a request that already has an uploaded_file row.
	ErrUploadRequestAlreadyCommitted = errors.New("upload request already committed")

	// ErrChunkGap indicates a commit was attempted with non-contiguous parts.
	ErrChunkGap = errors.New("chunk part numbers are not contiguous from 1..N")

	// ErrChunkDuplicate indicates the same part number was uploaded twice.
	ErrChunkDuplicate = errors.New("duplicate chunk part number")

	// ErrNotOwner indicates the caller does not own the resource/request.
	ErrNotOwner = errors.New("caller is not the owner of this resource")

	// ErrACLNotVisible indicates a FileLevelACL row marks the resource hidden.
	ErrACLNotVisible = errors.New("resource is not visible")

	// ErrACLCapabilityDenied indicates a UserLevelACL row exists but lacks the
	// requested capability (transcode, edit_acl).
	ErrACLCapabilityDenied = errors.New("capability denied for this user")
)
