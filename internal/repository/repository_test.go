package repository

import (
	"testing"

	"github.com/castwell/mediaflow/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDB creates an in-memory SQLite database migrated with every
// model these repositories operate on.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.User{},
		&models.UploadRequest{},
		&models.FileChunk{},
		&models.UploadedFile{},
		&models.FileLevelACL{},
		&models.UserLevelACL{},
	)
	require.NoError(t, err)

	return db
}
