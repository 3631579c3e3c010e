package asyncstore

import "io"

// SyncWriter adapts a Handle to io.Writer for callers (the HTTP upload-part
// handler streaming a multipart body) that need ordinary blocking writes
// rather than a callback. Each Write blocks until its op's callback fires,
// so callers effectively get synchronous semantics on top of the Handle's
// async plumbing; writes land at the handle's current position, advancing
// it the way a plain *os.File would.
type SyncWriter struct {
	handle *Handle
}

// NewSyncWriter wraps handle, which must already be open for writing.
func NewSyncWriter(handle *Handle) *SyncWriter {
	return &SyncWriter{handle: handle}
}

// Write implements io.Writer. A zero-length p is a no-op, matching
// io.Writer's contract rather than asyncstore.Handle.Write's ErrArgument on
// empty buffers.
func (w *SyncWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	done := make(chan Result, 1)
	if err := w.handle.Write(UseCurrent, p, func(r Result) { done <- r }); err != nil {
		return 0, err
	}
	res := <-done
	if res.Err != nil {
		return int(res.N), res.Err
	}
	if res.N != int64(len(p)) {
		return int(res.N), io.ErrShortWrite
	}
	return int(res.N), nil
}

// SyncReader adapts a Handle to io.Reader for callers (the fetch-streaming-
// element HTTP handler serving committed playlists and segments) that need
// ordinary blocking reads. Reads advance sequentially from the handle's
// current position, like SyncWriter's writes.
type SyncReader struct {
	handle *Handle
}

// NewSyncReader wraps handle, which must already be open for reading.
func NewSyncReader(handle *Handle) *SyncReader {
	return &SyncReader{handle: handle}
}

// Read implements io.Reader. A zero-length p is a no-op, matching
// io.Reader's contract rather than asyncstore.Handle.Read's ErrArgument on
// empty buffers.
func (r *SyncReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	done := make(chan Result, 1)
	if err := r.handle.Read(UseCurrent, p, func(res Result) { done <- res }); err != nil {
		return 0, err
	}
	res := <-done
	return int(res.N), res.Err
}
