package repository

import (
	"context"
	"testing"

	"github.com/castwell/mediaflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileChunkRepo_CreateAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFileChunkRepository(db)
	ctx := context.Background()

	for i := uint16(1); i <= 3; i++ {
		chunk := &models.FileChunk{UsrID: 1, ReqSeq: 1, PartNum: i, Checksum: "abc", SizeBytes: 100}
		require.NoError(t, repo.Create(ctx, chunk))
	}

	chunks, err := repo.ListByRequest(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, uint16(1), chunks[0].PartNum)
	assert.Equal(t, uint16(3), chunks[2].PartNum)
}

func TestFileChunkRepo_CountByRequest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFileChunkRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.FileChunk{UsrID: 1, ReqSeq: 1, PartNum: 1, Checksum: "abc"}))

	count, err := repo.CountByRequest(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestFileChunkRepo_DeleteByRequest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFileChunkRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.FileChunk{UsrID: 1, ReqSeq: 1, PartNum: 1, Checksum: "abc"}))
	require.NoError(t, repo.DeleteByRequest(ctx, 1, 1))

	chunks, err := repo.ListByRequest(ctx, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
