package asyncstore

import (
	"bytes"
	"io"
	"os"
)

// ReadFile opens path read-only on store and returns its full contents. It
// is a convenience over NewHandle/NewSyncReader for callers (stream-element
// serving) that want an entire small-to-moderate committed file — a
// playlist, a crypto key document, one HLS segment — rather than a
// streaming reader.
func ReadFile(store *Store, path string) ([]byte, error) {
	handle := store.NewHandle(path)
	defer func() { _ = handle.Close(nil) }()

	opened := make(chan error, 1)
	if err := handle.Open(os.O_RDONLY, 0, func(r Result) { opened <- r.Err }); err != nil {
		return nil, err
	}
	if err := <-opened; err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, NewSyncReader(handle)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadDir lists the entries at path on store, matching the teacher-adjacent
// atfp.Sweep's own scandir helper but exported for callers outside this
// package that only need a synchronous directory listing.
func ReadDir(store *Store, path string) ([]DirEntry, error) {
	handle := store.NewHandle(path)
	defer func() { _ = handle.Close(nil) }()

	done := make(chan Result, 1)
	if err := handle.Scandir(func(r Result) { done <- r }); err != nil {
		return nil, err
	}
	res := <-done
	return res.Entries, res.Err
}
