// Package asyncstore provides a non-blocking, filesystem-like storage
// abstraction. Every operation returns immediately: either a synchronous
// ArgError, or it is scheduled on the handle's single worker goroutine and
// reported later through a caller-supplied callback, preserving "at most one
// outstanding operation per handle" and "callbacks fire in submission
// order" without the caller ever blocking on I/O.
package asyncstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrArgument is returned synchronously for a malformed call (bad path,
// oversized buffer, forbidden path segment) before any work is scheduled.
var ErrArgument = errors.New("asyncstore: argument error")

// ErrBusy is returned synchronously when a second operation is submitted on
// a handle that already has one outstanding. This is a caller contract bug.
var ErrBusy = errors.New("asyncstore: handle busy")

// ErrClosed is returned synchronously when an operation is submitted on a
// handle whose Close has already run. Closing the owning Store does not
// produce it.
var ErrClosed = errors.New("asyncstore: handle closed")

// EntryType classifies a directory entry returned by Scandir/ScandirNext.
type EntryType int

const (
	EntryUnknown EntryType = iota
	EntryFile
	EntryDir
	EntryLink
)

// DirEntry is one entry returned by scandir.
type DirEntry struct {
	Name string
	Type EntryType
}

// Result is the outcome delivered to a callback once a scheduled operation
// completes. Only the fields relevant to the operation kind are populated.
type Result struct {
	N       int64      // bytes read/written, for Read/Write
	Entries []DirEntry // populated by Scandir
	Err     error      // non-nil on OS_ERROR-equivalent failure
}

// Callback receives the outcome of one scheduled operation. It runs on the
// handle's worker goroutine; the same goroutine processes the handle's next
// queued operation only after Callback returns.
type Callback func(Result)

// Backend is the pluggable vtable a Store drives. The local filesystem is
// the only backend mediaflow ships; the interface exists so a future
// non-local backend (object store) can be substituted without touching call
// sites, per the REDESIGN FLAGS note on backend-agnostic storage.
type Backend interface {
	Open(ctx context.Context, path string, flags int, mode uint32) (BackendFile, error)
	Mkdir(ctx context.Context, path string, mode uint32, allowExists bool) error
	Rmdir(ctx context.Context, path string) error
	Scandir(ctx context.Context, path string) ([]DirEntry, error)
	Rename(ctx context.Context, oldPath, newPath string) error
	Unlink(ctx context.Context, path string) error
}

// PathResolver is implemented by backends that can expose a real
// filesystem path for a given logical path, for callers that must hand a
// path to an external process (ffmpeg) instead of going through a Handle.
// Only LocalBackend satisfies it; a future object-store backend would not.
type PathResolver interface {
	ResolvePath(path string) (string, error)
}

// BackendFile is an open file handle on a Backend.
type BackendFile interface {
	ReadAt(dst []byte, offset int64) (int, error)
	WriteAt(src []byte, offset int64) (int, error)
	Close() error
}

// task is one queued operation on a Handle's worker goroutine.
type task func(ctx context.Context) Result

// Handle is a single addressable storage object: an open file, or the
// target of a directory/scan operation. A Handle serializes its own
// operations on a dedicated worker goroutine so callers never block.
type Handle struct {
	store   *Store
	backend Backend
	path    string
	file    BackendFile

	scanEntries []DirEntry
	scanIdx     int
	pos         int64

	tasks  chan task
	done   chan struct{}
	closed bool
}

// Store owns a Backend and issues Handles against it. All Handles created by
// one Store share its context; cancelling that context stops every Handle's
// worker goroutine (see Close).
type Store struct {
	backend Backend
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewStore creates a Store bound to backend. The returned Store must be
// closed with Close to stop its Handles' worker goroutines.
func NewStore(backend Backend) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{backend: backend, ctx: ctx, cancel: cancel}
}

// Close cancels the Store's context, which stops the worker goroutine of
// every Handle it issued. An operation still queued on a Handle at that
// point may never run, and its callback then never fires; it is not
// completed with ErrClosed.
func (s *Store) Close() {
	s.cancel()
}

// Backend returns the Store's underlying Backend, for callers that need to
// type-assert it to PathResolver (an ATFP processor driving ffmpeg against
// a real filesystem path) without going through a Handle.
func (s *Store) Backend() Backend {
	return s.backend
}

// NewHandle allocates a Handle against path. The Handle is not yet backed by
// an open file; Open must be called before Read/Write.
func (s *Store) NewHandle(path string) *Handle {
	h := &Handle{
		store:   s,
		backend: s.backend,
		path:    path,
		tasks:   make(chan task, 1),
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

// loop is the Handle's single worker goroutine: it drains tasks in
// submission order, guaranteeing callbacks fire in the order operations
// were submitted.
func (h *Handle) loop() {
	defer close(h.done)
	for {
		select {
		case t, ok := <-h.tasks:
			if !ok {
				return
			}
			t(h.store.ctx)
		case <-h.store.ctx.Done():
			return
		}
	}
}

// submit enqueues t and, once it runs, passes its Result to cb. It returns
// ErrBusy synchronously if a prior operation on this Handle has not yet been
// accepted by the worker goroutine.
func (h *Handle) submit(t task, cb Callback) error {
	if h.closed {
		return ErrClosed
	}
	wrapped := func(ctx context.Context) Result {
		r := t(ctx)
		if cb != nil {
			cb(r)
		}
		return r
	}
	select {
	case h.tasks <- wrapped:
		return nil
	default:
		return ErrBusy
	}
}

// Open opens the Handle's path through the backend and fires cb on
// completion. flags/mode follow os.OpenFile conventions.
func (h *Handle) Open(flags int, mode uint32, cb Callback) error {
	if h.path == "" {
		return fmt.Errorf("%w: empty path", ErrArgument)
	}
	return h.submit(func(ctx context.Context) Result {
		f, err := h.backend.Open(ctx, h.path, flags, mode)
		if err != nil {
			return Result{Err: err}
		}
		h.file = f
		return Result{}
	}, cb)
}

// Close closes the Handle's open file, if any, and fires cb on completion.
func (h *Handle) Close(cb Callback) error {
	return h.submit(func(ctx context.Context) Result {
		h.closed = true
		if h.file == nil {
			return Result{}
		}
		err := h.file.Close()
		h.file = nil
		return Result{Err: err}
	}, cb)
}

// UseCurrent requests Read/Write continue from the handle's current
// position rather than an explicit offset.
const UseCurrent int64 = -1

// Read reads up to len(dst) bytes at offset (or from the current position
// if offset==UseCurrent) and fires cb with the number of bytes read.
func (h *Handle) Read(offset int64, dst []byte, cb Callback) error {
	if len(dst) == 0 {
		return fmt.Errorf("%w: zero-length read buffer", ErrArgument)
	}
	return h.submit(func(ctx context.Context) Result {
		if h.file == nil {
			return Result{Err: fmt.Errorf("asyncstore: read on unopened handle")}
		}
		at := offset
		if at == UseCurrent {
			at = h.pos
		}
		n, err := h.file.ReadAt(dst, at)
		if n > 0 {
			h.pos = at + int64(n)
		}
		return Result{N: int64(n), Err: err}
	}, cb)
}

// Write writes src at offset (or the current position if
// offset==UseCurrent) and fires cb with the number of bytes written.
func (h *Handle) Write(offset int64, src []byte, cb Callback) error {
	if len(src) == 0 {
		return fmt.Errorf("%w: zero-length write buffer", ErrArgument)
	}
	return h.submit(func(ctx context.Context) Result {
		if h.file == nil {
			return Result{Err: fmt.Errorf("asyncstore: write on unopened handle")}
		}
		at := offset
		if at == UseCurrent {
			at = h.pos
		}
		n, err := h.file.WriteAt(src, at)
		if n > 0 {
			h.pos = at + int64(n)
		}
		return Result{N: int64(n), Err: err}
	}, cb)
}

// Mkdir recursively creates the Handle's path, rejecting "."/".." segments,
// and fires cb on completion.
func (h *Handle) Mkdir(mode uint32, allowExists bool, cb Callback) error {
	if err := validatePathSegments(h.path); err != nil {
		return err
	}
	return h.submit(func(ctx context.Context) Result {
		return Result{Err: h.backend.Mkdir(ctx, h.path, mode, allowExists)}
	}, cb)
}

// Rmdir non-recursively removes the Handle's path and fires cb.
func (h *Handle) Rmdir(cb Callback) error {
	return h.submit(func(ctx context.Context) Result {
		return Result{Err: h.backend.Rmdir(ctx, h.path)}
	}, cb)
}

// Scandir lists the Handle's path, resetting the scandir cursor so the next
// ScandirNext call starts at the first entry.
func (h *Handle) Scandir(cb Callback) error {
	return h.submit(func(ctx context.Context) Result {
		entries, err := h.backend.Scandir(ctx, h.path)
		if err != nil {
			return Result{Err: err}
		}
		h.scanEntries = entries
		h.scanIdx = 0
		return Result{Entries: entries}
	}, cb)
}

// ErrEOFScan is returned by ScandirNext once every entry from the preceding
// Scandir call has been yielded.
var ErrEOFScan = errors.New("asyncstore: end of scan")

// ScandirNext yields the next entry from a preceding Scandir call. It
// returns ErrEOFScan (not a Backend error) once exhausted, matching the
// spec's scandir_next COMPLETE|EOF_SCAN|ERROR contract.
func (h *Handle) ScandirNext() (DirEntry, error) {
	if h.scanIdx >= len(h.scanEntries) {
		return DirEntry{}, ErrEOFScan
	}
	e := h.scanEntries[h.scanIdx]
	h.scanIdx++
	return e, nil
}

// Rename moves the Handle's path to newPath and fires cb on completion.
func (h *Handle) Rename(newPath string, cb Callback) error {
	return h.submit(func(ctx context.Context) Result {
		return Result{Err: h.backend.Rename(ctx, h.path, newPath)}
	}, cb)
}

// Unlink removes the Handle's path and fires cb (optional) on completion.
func (h *Handle) Unlink(cb Callback) error {
	return h.submit(func(ctx context.Context) Result {
		return Result{Err: h.backend.Unlink(ctx, h.path)}
	}, cb)
}

func validatePathSegments(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrArgument)
	}
	for _, seg := range splitPath(path) {
		if seg == "." || seg == ".." {
			return fmt.Errorf("%w: forbidden path segment %q", ErrArgument, seg)
		}
	}
	return nil
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	return segs
}
