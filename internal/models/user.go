package models

// User is a minimal stub of an authenticated principal. Credential
// verification happens upstream of mediaflow; every request arrives with a
// usr_id that mediaflow trusts as already authenticated.
type User struct {
	UsrID uint64 `gorm:"primarykey;column:usr_id" json:"usr_id"`
}

// TableName overrides the default pluralized table name.
func (User) TableName() string {
	return "users"
}
