package models

// FileLevelACL gates whether a resource is visible to anyone other than its
// owner. One row per resource.
type FileLevelACL struct {
	ResourceID ULID `gorm:"primarykey;column:resource_id;type:varchar(26)" json:"resource_id"`
	Visible    bool `gorm:"column:visible" json:"visible"`
}

// TableName overrides the default pluralized table name.
func (FileLevelACL) TableName() string {
	return "file_level_acls"
}

// UserLevelACL grants a specific user capabilities on a resource beyond
// plain visibility: transcoding it and editing its ACL rows. Unique on
// (resource_id, usr_id).
type UserLevelACL struct {
	ResourceID ULID   `gorm:"primarykey;column:resource_id;type:varchar(26)" json:"resource_id"`
	UsrID      uint64 `gorm:"primarykey;column:usr_id" json:"usr_id"`
	Transcode  bool   `gorm:"column:transcode" json:"transcode"`
	EditACL    bool   `gorm:"column:edit_acl" json:"edit_acl"`
}

// TableName overrides the default pluralized table name.
func (UserLevelACL) TableName() string {
	return "user_level_acls"
}

// Validate checks required fields before insert.
func (a *UserLevelACL) Validate() error {
	if a.ResourceID.IsZero() {
		return ErrResourceIDRequired
	}
	if a.UsrID == 0 {
		return ErrOwnerRequired
	}
	return nil
}
