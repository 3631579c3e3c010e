package repository

import (
	"context"
	"testing"

	"github.com/castwell/mediaflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewResourceRepository(db)
	ctx := context.Background()

	file := &models.UploadedFile{OwnerUsrID: 1, ReqSeq: 1, MediaType: models.MediaTypeVideo, CommittedAt: models.Now()}
	require.NoError(t, repo.Create(ctx, file))
	assert.False(t, file.ResourceID.IsZero())

	got, err := repo.GetByResourceID(ctx, file.ResourceID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(1), got.OwnerUsrID)
}

func TestResourceRepo_GetByOwnerAndRequest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewResourceRepository(db)
	ctx := context.Background()

	file := &models.UploadedFile{OwnerUsrID: 7, ReqSeq: 3, MediaType: models.MediaTypeImage, CommittedAt: models.Now()}
	require.NoError(t, repo.Create(ctx, file))

	got, err := repo.GetByOwnerAndRequest(ctx, 7, 3)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, file.ResourceID, got.ResourceID)

	missing, err := repo.GetByOwnerAndRequest(ctx, 7, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestResourceRepo_ListByOwner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewResourceRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.UploadedFile{OwnerUsrID: 1, ReqSeq: 1, MediaType: models.MediaTypeVideo, CommittedAt: models.Now()}))
	require.NoError(t, repo.Create(ctx, &models.UploadedFile{OwnerUsrID: 1, ReqSeq: 2, MediaType: models.MediaTypeImage, CommittedAt: models.Now()}))
	require.NoError(t, repo.Create(ctx, &models.UploadedFile{OwnerUsrID: 2, ReqSeq: 1, MediaType: models.MediaTypeVideo, CommittedAt: models.Now()}))

	files, err := repo.ListByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestResourceRepo_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewResourceRepository(db)
	ctx := context.Background()

	file := &models.UploadedFile{OwnerUsrID: 1, ReqSeq: 1, MediaType: models.MediaTypeVideo, CommittedAt: models.Now()}
	require.NoError(t, repo.Create(ctx, file))
	require.NoError(t, repo.Delete(ctx, file.ResourceID))

	got, err := repo.GetByResourceID(ctx, file.ResourceID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
