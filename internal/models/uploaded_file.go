package models

import "gorm.io/gorm"

// MediaType enumerates the two resource kinds mediaflow accepts.
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeImage MediaType = "image"
)

// Valid reports whether m is one of the recognized media types.
func (m MediaType) Valid() bool {
	return m == MediaTypeVideo || m == MediaTypeImage
}

// UploadedFile is the commit pointer created once an UploadRequest's chunks
// have all arrived and passed validation. Its ResourceID is what callers
// reference to stream or re-ACL the asset afterward; this is the row
// verify_resource_id reads.
type UploadedFile struct {
	ResourceID  ULID      `gorm:"primarykey;column:resource_id;type:varchar(26)" json:"resource_id"`
	OwnerUsrID  uint64    `gorm:"column:owner_usr_id;index" json:"owner_usr_id"`
	ReqSeq      uint32    `gorm:"column:req_seq" json:"req_seq"`
	MediaType   MediaType `gorm:"size:16" json:"media_type"`
	CommittedAt Time      `json:"committed_at"`
}

// BeforeCreate generates a ResourceID if not already set.
func (f *UploadedFile) BeforeCreate(tx *gorm.DB) error {
	if f.ResourceID.IsZero() {
		f.ResourceID = NewULID()
	}
	return nil
}

// TableName overrides the default pluralized table name.
func (UploadedFile) TableName() string {
	return "uploaded_files"
}

// Validate checks required fields before insert.
func (f *UploadedFile) Validate() error {
	if f.OwnerUsrID == 0 {
		return ErrOwnerRequired
	}
	if f.ReqSeq == 0 {
		return ErrReqSeqRequired
	}
	if !f.MediaType.Valid() {
		return ErrInvalidMediaType
	}
	return nil
}
