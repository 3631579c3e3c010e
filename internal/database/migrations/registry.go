// Package migrations provides database migration management for mediaflow.
package migrations

import (
	"github.com/castwell/mediaflow/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.User{},
				&models.UploadRequest{},
				&models.FileChunk{},
				&models.UploadedFile{},
				&models.FileLevelACL{},
				&models.UserLevelACL{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"user_level_acls",
				"file_level_acls",
				"uploaded_files",
				"file_chunks",
				"upload_requests",
				"users",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
