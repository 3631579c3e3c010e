package models

// UploadRequest tracks one in-progress chunked upload. It is keyed by the
// natural composite (usr_id, req_seq) rather than a BaseModel ULID: req_seq
// is generated by the caller-facing service as a 32-bit hex token unique
// per user, matching spec.md's upload-request identifier.
type UploadRequest struct {
	UsrID      uint64 `gorm:"primarykey;column:usr_id" json:"usr_id"`
	ReqSeq     uint32 `gorm:"primarykey;column:req_seq" json:"req_seq"`
	TimeCreated Time  `json:"time_created"`
	LastUpdate  Time  `json:"last_update"`
}

// TableName overrides the default pluralized table name.
func (UploadRequest) TableName() string {
	return "upload_requests"
}

// Validate checks required fields before insert.
func (r *UploadRequest) Validate() error {
	if r.UsrID == 0 {
		return ErrOwnerRequired
	}
	if r.ReqSeq == 0 {
		return ErrReqSeqRequired
	}
	return nil
}
