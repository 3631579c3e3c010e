package atfp

import (
	"context"
	"fmt"

	"github.com/castwell/mediaflow/internal/asyncstore"
)

// Sweep implements discard_transcoded (spec.md §4.4 Cancellation,
// SUPPLEMENTED from original_source/test/unit/transcoder/removal.c): it
// removes stale transcoding/ and discarding/ entries, and any committed/
// entry that is not the version a resource should keep, for one
// (usr_id, req_seq) Store.
type Sweep struct {
	store *asyncstore.Store
}

// NewSweep creates a Sweep over store.
func NewSweep(store *asyncstore.Store) *Sweep {
	return &Sweep{store: store}
}

// DiscardVersion removes the scratch tree at relPath (e.g.
// "transcoding/<version>" or "discarding/<version>") entirely.
// transcoder.Runner calls it on a run's transcoding/<version> tree after the
// run's outputs are committed, or straight away when the run failed; the
// tree is not renamed into discarding/ first.
func (s *Sweep) DiscardVersion(ctx context.Context, relPath string) error {
	return s.removeTree(ctx, relPath)
}

// Run scans transcoding/, discarding/, and committed/ for version
// directories and removes every one except keepVersion, matching the
// cancellation note that discard_transcoded "scans transcoding/,
// discarding/, and committed/ and removes entries matching the active
// resource" once a resource's surviving version is known.
func (s *Sweep) Run(ctx context.Context, keepVersion string) error {
	for _, base := range []string{"transcoding", "discarding", "committed"} {
		entries, err := s.scandir(ctx, base)
		if err != nil {
			// A missing top-level directory is not an error: not every
			// resource has produced a discarding/ tree, for instance.
			continue
		}
		for _, e := range entries {
			if e.Type != asyncstore.EntryDir || e.Name == keepVersion {
				continue
			}
			if err := s.removeTree(ctx, base+"/"+e.Name); err != nil {
				return fmt.Errorf("atfp: sweeping %s/%s: %w", base, e.Name, err)
			}
		}
	}
	return nil
}

func (s *Sweep) scandir(ctx context.Context, relPath string) ([]asyncstore.DirEntry, error) {
	handle := s.store.NewHandle(relPath)
	defer func() { _ = handle.Close(nil) }()

	done := make(chan asyncstore.Result, 1)
	if err := handle.Scandir(func(r asyncstore.Result) { done <- r }); err != nil {
		return nil, err
	}
	res := <-done
	if res.Err != nil {
		return nil, res.Err
	}
	_ = ctx
	return res.Entries, nil
}

// removeTree recursively unlinks every file and removes every subdirectory
// under relPath, then relPath itself. Scandir/Rmdir are each non-recursive
// per the Backend contract, so a populated tree is walked bottom-up.
func (s *Sweep) removeTree(ctx context.Context, relPath string) error {
	entries, err := s.scandir(ctx, relPath)
	if err != nil {
		return nil //nolint:nilerr // nothing to sweep if the directory is already gone
	}

	for _, e := range entries {
		child := relPath + "/" + e.Name
		switch e.Type {
		case asyncstore.EntryDir:
			if err := s.removeTree(ctx, child); err != nil {
				return err
			}
		default:
			if err := s.unlink(ctx, child); err != nil {
				return err
			}
		}
	}
	return s.rmdir(ctx, relPath)
}

func (s *Sweep) unlink(_ context.Context, relPath string) error {
	handle := s.store.NewHandle(relPath)
	defer func() { _ = handle.Close(nil) }()
	done := make(chan error, 1)
	if err := handle.Unlink(func(r asyncstore.Result) { done <- r.Err }); err != nil {
		return err
	}
	return <-done
}

func (s *Sweep) rmdir(_ context.Context, relPath string) error {
	handle := s.store.NewHandle(relPath)
	defer func() { _ = handle.Close(nil) }()
	done := make(chan error, 1)
	if err := handle.Rmdir(func(r asyncstore.Result) { done <- r.Err }); err != nil {
		return err
	}
	return <-done
}
