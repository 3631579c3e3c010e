package asyncstore

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncWriter_WritesSequentiallyFromCurrentPosition(t *testing.T) {
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	store := NewStore(backend)
	defer store.Close()

	handle := store.NewHandle("chunk")
	defer func() { _ = handle.Close(nil) }()

	opened := make(chan error, 1)
	require.NoError(t, handle.Open(os.O_CREATE|os.O_WRONLY, 0o640, func(r Result) { opened <- r.Err }))
	require.NoError(t, <-opened)

	w := NewSyncWriter(handle)
	n, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	require.Equal(t, 6, n)

	n, err = w.Write([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	n, err = w.Write(nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	closed := make(chan error, 1)
	require.NoError(t, handle.Close(func(r Result) { closed <- r.Err }))
	require.NoError(t, <-closed)

	data, err := os.ReadFile(backend.BaseDir() + "/chunk")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestSyncReader_ReadsSequentiallyFromCurrentPosition(t *testing.T) {
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(backend.BaseDir()+"/seg", []byte("hello world"), 0o640))

	store := NewStore(backend)
	defer store.Close()

	handle := store.NewHandle("seg")
	defer func() { _ = handle.Close(nil) }()

	opened := make(chan error, 1)
	require.NoError(t, handle.Open(os.O_RDONLY, 0o640, func(r Result) { opened <- r.Err }))
	require.NoError(t, <-opened)

	r := NewSyncReader(handle)
	buf := make([]byte, 5)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf[:n]))

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, " world", string(rest))

	closed := make(chan error, 1)
	require.NoError(t, handle.Close(func(r Result) { closed <- r.Err }))
	require.NoError(t, <-closed)
}
