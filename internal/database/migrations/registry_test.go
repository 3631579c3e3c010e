package migrations

import (
	"context"
	"testing"

	"github.com/castwell/mediaflow/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db
}

func TestAllMigrations_ReturnsExpectedCount(t *testing.T) {
	migrations := AllMigrations()

	// 001: Create all database tables (schema)
	assert.Len(t, migrations, 1)
}

func TestAllMigrations_VersionsAreUnique(t *testing.T) {
	migrations := AllMigrations()
	versions := make(map[string]bool)

	for _, m := range migrations {
		assert.False(t, versions[m.Version], "duplicate version: %s", m.Version)
		versions[m.Version] = true
	}
}

func TestAllMigrations_VersionsAreOrdered(t *testing.T) {
	migrations := AllMigrations()

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version,
			"migrations should be in ascending version order")
	}
}

func TestMigrator_Up_AllMigrations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	err := migrator.Up(ctx)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("users"))
	assert.True(t, db.Migrator().HasTable("upload_requests"))
	assert.True(t, db.Migrator().HasTable("file_chunks"))
	assert.True(t, db.Migrator().HasTable("uploaded_files"))
	assert.True(t, db.Migrator().HasTable("file_level_acls"))
	assert.True(t, db.Migrator().HasTable("user_level_acls"))
}

func TestMigrator_Up_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	err := migrator.Up(ctx)
	require.NoError(t, err)

	err = migrator.Up(ctx)
	require.NoError(t, err)
}

func TestMigrator_Status(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, statuses, 1)

	for _, s := range statuses {
		assert.False(t, s.Applied)
		assert.Nil(t, s.AppliedAt)
	}

	err = migrator.Up(ctx)
	require.NoError(t, err)

	statuses, err = migrator.Status(ctx)
	require.NoError(t, err)

	for _, s := range statuses {
		assert.True(t, s.Applied)
		assert.NotNil(t, s.AppliedAt)
	}
}

func TestMigrator_Down_RollsBackLastMigration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	err := migrator.Up(ctx)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("users"))
	assert.True(t, db.Migrator().HasTable("user_level_acls"))

	err = migrator.Down(ctx)
	require.NoError(t, err)

	assert.False(t, db.Migrator().HasTable("users"))
	assert.False(t, db.Migrator().HasTable("user_level_acls"))
}

func TestMigrator_Pending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	pending, err := migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	err = migrator.Up(ctx)
	require.NoError(t, err)

	pending, err = migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 0)
}

func TestMigrations_CanInsertData(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	err := migrator.Up(ctx)
	require.NoError(t, err)

	user := &models.User{UsrID: 1}
	require.NoError(t, db.Create(user).Error)

	req := &models.UploadRequest{UsrID: 1, ReqSeq: 1, TimeCreated: models.Now(), LastUpdate: models.Now()}
	require.NoError(t, db.Create(req).Error)

	chunk := &models.FileChunk{UsrID: 1, ReqSeq: 1, PartNum: 1, Checksum: "abc", SizeBytes: 1024}
	require.NoError(t, db.Create(chunk).Error)

	file := &models.UploadedFile{OwnerUsrID: 1, ReqSeq: 1, MediaType: models.MediaTypeVideo, CommittedAt: models.Now()}
	require.NoError(t, db.Create(file).Error)
	assert.False(t, file.ResourceID.IsZero())

	fileACL := &models.FileLevelACL{ResourceID: file.ResourceID, Visible: true}
	require.NoError(t, db.Create(fileACL).Error)

	userACL := &models.UserLevelACL{ResourceID: file.ResourceID, UsrID: 1, Transcode: true, EditACL: true}
	require.NoError(t, db.Create(userACL).Error)
}
