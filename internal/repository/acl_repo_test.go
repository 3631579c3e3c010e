package repository

import (
	"context"
	"testing"

	"github.com/castwell/mediaflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestACLRepo_FileLevel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewACLRepository(db)
	ctx := context.Background()
	resourceID := models.NewULID()

	missing, err := repo.GetFileLevel(ctx, resourceID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.UpsertFileLevel(ctx, &models.FileLevelACL{ResourceID: resourceID, Visible: true}))

	got, err := repo.GetFileLevel(ctx, resourceID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Visible)

	require.NoError(t, repo.UpsertFileLevel(ctx, &models.FileLevelACL{ResourceID: resourceID, Visible: false}))
	got, err = repo.GetFileLevel(ctx, resourceID)
	require.NoError(t, err)
	assert.False(t, got.Visible)
}

func TestACLRepo_ReplaceUserLevel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewACLRepository(db)
	ctx := context.Background()
	resourceID := models.NewULID()

	require.NoError(t, repo.ReplaceUserLevel(ctx, resourceID, []*models.UserLevelACL{
		{UsrID: 1, Transcode: true, EditACL: false},
		{UsrID: 2, Transcode: false, EditACL: true},
	}))

	rows, err := repo.ListUserLevel(ctx, resourceID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Replace: drop usr 2, update usr 1, add usr 3.
	require.NoError(t, repo.ReplaceUserLevel(ctx, resourceID, []*models.UserLevelACL{
		{UsrID: 1, Transcode: false, EditACL: true},
		{UsrID: 3, Transcode: true, EditACL: true},
	}))

	rows, err = repo.ListUserLevel(ctx, resourceID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byUser := make(map[uint64]*models.UserLevelACL, len(rows))
	for _, row := range rows {
		byUser[row.UsrID] = row
	}
	require.Contains(t, byUser, uint64(1))
	require.Contains(t, byUser, uint64(3))
	assert.NotContains(t, byUser, uint64(2))
	assert.True(t, byUser[1].EditACL)
	assert.False(t, byUser[1].Transcode)
}

func TestACLRepo_ReplaceUserLevel_Empty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewACLRepository(db)
	ctx := context.Background()
	resourceID := models.NewULID()

	require.NoError(t, repo.ReplaceUserLevel(ctx, resourceID, []*models.UserLevelACL{
		{UsrID: 1, Transcode: true},
	}))
	require.NoError(t, repo.ReplaceUserLevel(ctx, resourceID, nil))

	rows, err := repo.ListUserLevel(ctx, resourceID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestACLRepo_GetUserLevel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewACLRepository(db)
	ctx := context.Background()
	resourceID := models.NewULID()

	missing, err := repo.GetUserLevel(ctx, resourceID, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.ReplaceUserLevel(ctx, resourceID, []*models.UserLevelACL{
		{UsrID: 1, Transcode: true, EditACL: true},
	}))

	got, err := repo.GetUserLevel(ctx, resourceID, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Transcode)
}
