package asyncstore

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *LocalBackend) {
	t.Helper()
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	store := NewStore(backend)
	t.Cleanup(store.Close)
	return store, backend
}

func await(t *testing.T, fn func(Callback) error) Result {
	t.Helper()
	done := make(chan Result, 1)
	err := fn(func(r Result) { done <- r })
	require.NoError(t, err)
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not complete")
		return Result{}
	}
}

func TestHandle_WriteThenReadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	h := store.NewHandle("a/b/file.bin")

	openRes := await(t, func(cb Callback) error {
		return h.Open(os.O_CREATE|os.O_RDWR, 0o640, cb)
	})
	require.NoError(t, openRes.Err)

	payload := []byte("hello world")
	writeRes := await(t, func(cb Callback) error {
		return h.Write(0, payload, cb)
	})
	require.NoError(t, writeRes.Err)
	require.EqualValues(t, len(payload), writeRes.N)

	dst := make([]byte, len(payload))
	readRes := await(t, func(cb Callback) error {
		return h.Read(0, dst, cb)
	})
	require.NoError(t, readRes.Err)
	require.EqualValues(t, len(payload), readRes.N)
	require.Equal(t, payload, dst)

	closeRes := await(t, h.Close)
	require.NoError(t, closeRes.Err)
}

func TestHandle_UseCurrentPositionAdvances(t *testing.T) {
	store, _ := newTestStore(t)
	h := store.NewHandle("seq.bin")
	require.NoError(t, await(t, func(cb Callback) error {
		return h.Open(os.O_CREATE|os.O_RDWR, 0o640, cb)
	}).Err)

	require.NoError(t, await(t, func(cb Callback) error {
		return h.Write(UseCurrent, []byte("AAA"), cb)
	}).Err)
	require.NoError(t, await(t, func(cb Callback) error {
		return h.Write(UseCurrent, []byte("BBB"), cb)
	}).Err)

	dst := make([]byte, 6)
	res := await(t, func(cb Callback) error {
		return h.Read(0, dst, cb)
	})
	require.NoError(t, res.Err)
	require.Equal(t, "AAABBB", string(dst))
}

func TestHandle_SecondSubmitWhileBusyReturnsErrBusy(t *testing.T) {
	store, _ := newTestStore(t)
	h := store.NewHandle("busy.bin")
	require.NoError(t, h.Open(os.O_CREATE|os.O_RDWR, 0o640, func(Result) {}))

	// The channel buffer is 1 and the worker goroutine may not have drained
	// the open task yet; submitting repeatedly until we observe ErrBusy
	// demonstrates the single-outstanding-operation contract is enforced.
	sawBusy := false
	for i := 0; i < 1000 && !sawBusy; i++ {
		err := h.Write(0, []byte("x"), func(Result) {})
		if err == ErrBusy {
			sawBusy = true
		}
	}
	require.True(t, sawBusy, "expected ErrBusy when flooding a single handle")
}

func TestHandle_MkdirRejectsDotDot(t *testing.T) {
	store, _ := newTestStore(t)
	h := store.NewHandle("a/../../escape")
	err := h.Mkdir(0o750, true, func(Result) {})
	require.ErrorIs(t, err, ErrArgument)
}

func TestHandle_ScandirThenScandirNext(t *testing.T) {
	store, backend := newTestStore(t)
	require.NoError(t, os.MkdirAll(backend.BaseDir()+"/listing", 0o750))
	require.NoError(t, os.WriteFile(backend.BaseDir()+"/listing/one.txt", []byte("1"), 0o640))
	require.NoError(t, os.WriteFile(backend.BaseDir()+"/listing/two.txt", []byte("2"), 0o640))

	h := store.NewHandle("listing")
	res := await(t, h.Scandir)
	require.NoError(t, res.Err)
	require.Len(t, res.Entries, 2)

	names := map[string]bool{}
	for {
		e, err := h.ScandirNext()
		if err == ErrEOFScan {
			break
		}
		require.NoError(t, err)
		names[e.Name] = true
	}
	require.True(t, names["one.txt"])
	require.True(t, names["two.txt"])
}

func TestHandle_ScandirNext_EmptyDirectoryIsImmediateEOF(t *testing.T) {
	store, backend := newTestStore(t)
	require.NoError(t, os.MkdirAll(backend.BaseDir()+"/empty", 0o750))

	h := store.NewHandle("empty")
	res := await(t, h.Scandir)
	require.NoError(t, res.Err)
	require.Empty(t, res.Entries)

	_, err := h.ScandirNext()
	require.ErrorIs(t, err, ErrEOFScan)
}

func TestHandle_RenameMovesFile(t *testing.T) {
	store, _ := newTestStore(t)
	h := store.NewHandle("src.bin")
	require.NoError(t, await(t, func(cb Callback) error {
		return h.Open(os.O_CREATE|os.O_RDWR, 0o640, cb)
	}).Err)
	require.NoError(t, await(t, func(cb Callback) error {
		return h.Write(0, []byte("data"), cb)
	}).Err)
	require.NoError(t, await(t, h.Close).Err)

	res := await(t, func(cb Callback) error {
		return h.Rename("dst.bin", cb)
	})
	require.NoError(t, res.Err)

	dst := store.NewHandle("dst.bin")
	openRes := await(t, func(cb Callback) error {
		return dst.Open(os.O_RDONLY, 0, cb)
	})
	require.NoError(t, openRes.Err)
}

func TestLocalBackend_RejectsPathEscape(t *testing.T) {
	_, backend := newTestStore(t)
	_, err := backend.Open(nil, "../escape.txt", os.O_CREATE|os.O_RDWR, 0o640)
	require.ErrorIs(t, err, ErrArgument)
}
