package atfp

import (
	"fmt"

	"github.com/castwell/mediaflow/internal/asyncstore"
	"github.com/castwell/mediaflow/internal/models"
)

// Job is the shared per-request struct every processor in one pipeline run
// reads and writes, corresponding to spec.md's asa_map: an association of a
// source-storage handle, a destination-storage handle, and a local-scratch
// handle for one in-flight job. It replaces the source's callback-argument
// pointer tricks with typed fields owned by the driver (spec.md §9).
type Job struct {
	ResourceID models.ULID
	OwnerUsrID uint64
	ReqSeq     uint32
	Version    string

	// PartSizes holds the byte size of each uploaded chunk, 1-indexed
	// conceptually but stored 0-indexed: PartSizes[0] is part 1.
	PartSizes []int64

	Store *asyncstore.Store

	// srcChunkIdx is the currently open source chunk's 1-based part
	// number, or 0 if none is open.
	srcChunkIdx int
	srcHandle   *asyncstore.Handle

	Error *ErrorSet

	// VersionExists is set by Pipeline.Run once the destination processor
	// reports done; transcoder.Runner reads it to decide whether to commit
	// the run's scratch or discard it.
	VersionExists bool

	// wake is signaled by a processor's storage callback when an
	// outstanding operation completes, letting Pipeline.Run block instead
	// of busy-polling while Processing reports ProgressNeedMoreData.
	wake chan struct{}
}

// Wake signals the Pipeline driver that an outstanding storage callback has
// completed and Processing should be called again. Processors call this
// from inside their asyncstore.Callback.
func (j *Job) Wake() {
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

// NewJob creates a Job for one pipeline run.
func NewJob(resourceID models.ULID, ownerUsrID uint64, reqSeq uint32, version string, partSizes []int64, store *asyncstore.Store) *Job {
	return &Job{
		ResourceID: resourceID,
		OwnerUsrID: ownerUsrID,
		ReqSeq:     reqSeq,
		Version:    version,
		PartSizes:  partSizes,
		Store:      store,
		Error:      NewErrorSet(),
		wake:       make(chan struct{}, 1),
	}
}

// EstimateSrcFileChunkIdx maps a logical byte offset into the concatenated
// original upload to a (1-based chunk index, offset-within-chunk) pair, per
// spec.md §4.4: walk part sizes subtracting each from pos until
// pos < parts_size[i]; past-end returns (-1, 0).
func (j *Job) EstimateSrcFileChunkIdx(offset int64) (int, int64) {
	if offset < 0 {
		return -1, 0
	}
	pos := offset
	for i, size := range j.PartSizes {
		if pos < size {
			return i + 1, pos
		}
		pos -= size
	}
	return -1, 0
}

// SwitchToSrcFileChunk closes the currently open source chunk handle, if
// any, then opens chunk n (or the chunk immediately after the current one
// when n == -1), preserving a single open source handle at a time.
func (j *Job) SwitchToSrcFileChunk(n int, open func(partNum int) (*asyncstore.Handle, error)) error {
	if j.srcHandle != nil {
		closed := make(chan error, 1)
		if err := j.srcHandle.Close(func(r asyncstore.Result) { closed <- r.Err }); err != nil {
			return fmt.Errorf("atfp: closing current source chunk: %w", err)
		}
		if err := <-closed; err != nil {
			return fmt.Errorf("atfp: closing current source chunk: %w", err)
		}
		j.srcHandle = nil
	}

	target := n
	if n == -1 {
		target = j.srcChunkIdx + 1
	}
	if target < 1 || target > len(j.PartSizes) {
		return fmt.Errorf("atfp: chunk %d out of range (1..%d)", target, len(j.PartSizes))
	}

	h, err := open(target)
	if err != nil {
		return fmt.Errorf("atfp: opening source chunk %d: %w", target, err)
	}
	j.srcHandle = h
	j.srcChunkIdx = target
	return nil
}

// CurrentSrcChunk returns the 1-based part number of the currently open
// source chunk, or 0 if none is open.
func (j *Job) CurrentSrcChunk() int {
	return j.srcChunkIdx
}

// CurrentSrcHandle returns the currently open source chunk handle, if any.
func (j *Job) CurrentSrcHandle() *asyncstore.Handle {
	return j.srcHandle
}
