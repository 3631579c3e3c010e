package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserLevelACL_Validate(t *testing.T) {
	resourceID := NewULID()

	tests := []struct {
		name    string
		acl     UserLevelACL
		wantErr error
	}{
		{"missing resource id", UserLevelACL{UsrID: 1}, ErrResourceIDRequired},
		{"missing usr id", UserLevelACL{ResourceID: resourceID}, ErrOwnerRequired},
		{"valid", UserLevelACL{ResourceID: resourceID, UsrID: 1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.acl.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestACL_TableNames(t *testing.T) {
	assert.Equal(t, "file_level_acls", FileLevelACL{}.TableName())
	assert.Equal(t, "user_level_acls", UserLevelACL{}.TableName())
}
