package atfp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/castwell/mediaflow/internal/asyncstore"
)

// chunkReader reassembles a job's ordered, 1-indexed FileChunks into one
// local scratch file, exercising EstimateSrcFileChunkIdx/SwitchToSrcFileChunk
// one chunk at a time. It underlies both the video_hls_stream and
// nonstream_fetch source variants (spec.md §4.4): the two differ only in
// how their destination consumes the resulting scratch file, not in how
// source bytes are gathered.
//
// Concurrency note: readCallback runs on the current chunk Handle's worker
// goroutine, separate from the goroutine driving Processing. It mutates
// cr's fields and then calls job.Wake(); Pipeline.Run only calls Processing
// again after receiving from job.wake, so the channel send/receive pair is
// the happens-before edge that makes this safe without a mutex.
type chunkReader struct {
	job        *Job
	buf        []byte
	scratchOut *os.File

	reading    bool
	done       bool
	err        error
	needSwitch bool // set by onRead, actually switched by step on the next call
}

// newChunkReader creates a chunkReader that writes reassembled bytes into
// scratchOut, using a buf-sized read buffer.
func newChunkReader(job *Job, scratchOut *os.File, bufSize int) *chunkReader {
	if bufSize <= 0 {
		bufSize = 256 * 1024
	}
	return &chunkReader{job: job, buf: make([]byte, bufSize), scratchOut: scratchOut}
}

// sourceScratchFileName is the fixed name a source variant reassembles a
// job's chunks into under its scratch directory; destination variants
// derive the same path independently via sourceScratchPath rather than
// depending on the concrete source type, since Factory builds each
// processor independently from just (key, job).
const sourceScratchFileName = "source.orig"

func sourceScratchPath(scratchDir string) string {
	return scratchDir + string(os.PathSeparator) + sourceScratchFileName
}

// chunkPath is the Store-relative path of a 1-based chunk part number,
// matching spec.md's on-disk layout "<usr_id>/<req_seq>/<part_num>".
func chunkPath(partNum int) string {
	return strconv.Itoa(partNum)
}

func (cr *chunkReader) openChunk(partNum int) (*asyncstore.Handle, error) {
	h := cr.job.Store.NewHandle(chunkPath(partNum))
	done := make(chan error, 1)
	if err := h.Open(os.O_RDONLY, 0, func(r asyncstore.Result) { done <- r.Err }); err != nil {
		return nil, err
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return h, nil
}

// start opens the first chunk. Must be called once from Init.
func (cr *chunkReader) start() error {
	if len(cr.job.PartSizes) == 0 {
		cr.done = true
		return nil
	}
	return cr.job.SwitchToSrcFileChunk(1, cr.openChunk)
}

// step submits one read against the current chunk if none is outstanding,
// or reports ProgressDone once every chunk has been consumed. Callers
// (ProcessorOps.Processing implementations) call step once per invocation.
//
// Switching to the next chunk happens here, not inside onRead: onRead runs
// on the current chunk Handle's own worker goroutine, and
// SwitchToSrcFileChunk blocks waiting for that same handle's Close to
// complete, which would deadlock if invoked from within the handle's own
// callback.
func (cr *chunkReader) step(_ context.Context) (Progress, error) {
	if cr.done {
		return ProgressDone, nil
	}
	if cr.err != nil {
		return ProgressContinue, cr.err
	}
	if cr.needSwitch {
		cr.needSwitch = false
		next := cr.job.CurrentSrcChunk() + 1
		if next > len(cr.job.PartSizes) {
			cr.done = true
			return ProgressDone, nil
		}
		if err := cr.job.SwitchToSrcFileChunk(next, cr.openChunk); err != nil {
			cr.err = fmt.Errorf("atfp: switching to source chunk %d: %w", next, err)
			return ProgressContinue, cr.err
		}
		return ProgressContinue, nil
	}
	if cr.reading {
		return ProgressNeedMoreData, nil
	}

	cr.reading = true
	handle := cr.job.CurrentSrcHandle()
	if handle == nil {
		cr.done = true
		return ProgressDone, nil
	}

	if err := handle.Read(asyncstore.UseCurrent, cr.buf, cr.onRead); err != nil {
		cr.reading = false
		return ProgressContinue, fmt.Errorf("atfp: reading source chunk: %w", err)
	}
	return ProgressNeedMoreData, nil
}

func (cr *chunkReader) onRead(r asyncstore.Result) {
	defer cr.job.Wake()
	cr.reading = false

	if r.Err != nil && !errors.Is(r.Err, io.EOF) {
		cr.err = fmt.Errorf("atfp: reading source chunk %d: %w", cr.job.CurrentSrcChunk(), r.Err)
		return
	}
	if r.N > 0 {
		if _, err := cr.scratchOut.Write(cr.buf[:r.N]); err != nil {
			cr.err = fmt.Errorf("atfp: writing scratch file: %w", err)
			return
		}
	}
	if r.N == int64(len(cr.buf)) {
		// Buffer filled; there may be more of this chunk left to read.
		return
	}

	// Short read: this chunk is exhausted. step() performs the actual
	// switch on its next call, off this handle's own worker goroutine.
	cr.needSwitch = true
}
