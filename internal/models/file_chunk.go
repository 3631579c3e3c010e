package models

// FileChunk records one received multipart-uploaded part of an in-progress
// upload request. Part numbers must be contiguous from 1..N before a
// request can be committed; see ErrChunkGap.
type FileChunk struct {
	UsrID     uint64 `gorm:"primarykey;column:usr_id" json:"usr_id"`
	ReqSeq    uint32 `gorm:"primarykey;column:req_seq" json:"req_seq"`
	PartNum   uint16 `gorm:"primarykey;column:part_num" json:"part_num"`
	Checksum  string `gorm:"size:40" json:"checksum"`
	SizeBytes int64  `json:"size_bytes"`
}

// TableName overrides the default pluralized table name.
func (FileChunk) TableName() string {
	return "file_chunks"
}

// Validate checks required fields before insert.
func (c *FileChunk) Validate() error {
	if c.UsrID == 0 {
		return ErrOwnerRequired
	}
	if c.ReqSeq == 0 {
		return ErrReqSeqRequired
	}
	if c.PartNum == 0 {
		return ErrPartNumRequired
	}
	if c.Checksum == "" {
		return ErrChecksumRequired
	}
	return nil
}
