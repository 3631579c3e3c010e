package atfp

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castwell/mediaflow/internal/asyncstore"
	"github.com/castwell/mediaflow/internal/models"
)

func newTestJob(t *testing.T, partSizes []int64) *Job {
	t.Helper()
	backend, err := asyncstore.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	store := asyncstore.NewStore(backend)
	t.Cleanup(store.Close)
	return NewJob(models.NewULID(), 1, 1, "v1", partSizes, store)
}

func TestJob_EstimateSrcFileChunkIdx(t *testing.T) {
	job := newTestJob(t, []int64{10, 20, 5})

	idx, within := job.EstimateSrcFileChunkIdx(0)
	require.Equal(t, 1, idx)
	require.Equal(t, int64(0), within)

	idx, within = job.EstimateSrcFileChunkIdx(9)
	require.Equal(t, 1, idx)
	require.Equal(t, int64(9), within)

	idx, within = job.EstimateSrcFileChunkIdx(10)
	require.Equal(t, 2, idx)
	require.Equal(t, int64(0), within)

	idx, within = job.EstimateSrcFileChunkIdx(29)
	require.Equal(t, 2, idx)
	require.Equal(t, int64(19), within)

	idx, within = job.EstimateSrcFileChunkIdx(30)
	require.Equal(t, 3, idx)
	require.Equal(t, int64(0), within)

	idx, _ = job.EstimateSrcFileChunkIdx(35)
	require.Equal(t, -1, idx)

	idx, _ = job.EstimateSrcFileChunkIdx(-1)
	require.Equal(t, -1, idx)
}

func openForWrite(t *testing.T, store *asyncstore.Store, path string) *asyncstore.Handle {
	t.Helper()
	h := store.NewHandle(path)
	done := make(chan error, 1)
	require.NoError(t, h.Open(os.O_CREATE|os.O_RDWR, 0o640, func(r asyncstore.Result) { done <- r.Err }))
	require.NoError(t, <-done)
	return h
}

func TestJob_SwitchToSrcFileChunkOpensAndClosesSequentially(t *testing.T) {
	job := newTestJob(t, []int64{3, 3})

	open := func(partNum int) (*asyncstore.Handle, error) {
		return openForWrite(t, job.Store, chunkPath(partNum)), nil
	}

	require.NoError(t, job.SwitchToSrcFileChunk(1, open))
	require.Equal(t, 1, job.CurrentSrcChunk())
	require.NotNil(t, job.CurrentSrcHandle())

	first := job.CurrentSrcHandle()
	require.NoError(t, job.SwitchToSrcFileChunk(2, open))
	require.Equal(t, 2, job.CurrentSrcChunk())
	require.NotSame(t, first, job.CurrentSrcHandle())
}

func TestJob_SwitchToSrcFileChunkRejectsOutOfRange(t *testing.T) {
	job := newTestJob(t, []int64{3})
	open := func(partNum int) (*asyncstore.Handle, error) {
		return openForWrite(t, job.Store, chunkPath(partNum)), nil
	}
	require.Error(t, job.SwitchToSrcFileChunk(2, open))
}

func TestJob_WakeIsNonBlockingAndCoalesces(t *testing.T) {
	job := newTestJob(t, nil)
	job.Wake()
	job.Wake() // must not block even though the buffered channel already holds one signal

	select {
	case <-job.wake:
	default:
		t.Fatal("expected a pending wake signal")
	}
}
