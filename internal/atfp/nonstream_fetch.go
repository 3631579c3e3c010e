package atfp

import (
	"context"
	"fmt"
	"os"
)

// nonstreamFetch is the DirectionSource variant for the image pipeline: it
// reassembles a job's ordered FileChunks into one local scratch file, the
// same mechanism videoHLSStream uses, but named separately per spec.md
// §4.4's enumeration since it feeds imageTranscode rather than an HLS
// destination and original_source/ documents it under its own storage
// layout tests (SPEC_FULL.md §7).
type nonstreamFetch struct {
	job        *Job
	bufSize    int
	scratchDir string

	scratchPath string
	scratchFile *os.File
	reader      *chunkReader
}

func newNonstreamFetch(job *Job, scratchDir string, bufSize int) ProcessorOps {
	return &nonstreamFetch{job: job, scratchDir: scratchDir, bufSize: bufSize}
}

// SourceFilePath returns the local path of the reassembled original upload,
// valid once Init has run.
func (n *nonstreamFetch) SourceFilePath() string {
	return n.scratchPath
}

func (n *nonstreamFetch) Init(_ context.Context) error {
	if err := os.MkdirAll(n.scratchDir, 0o750); err != nil {
		return fmt.Errorf("atfp: creating scratch dir: %w", err)
	}
	n.scratchPath = sourceScratchPath(n.scratchDir)
	f, err := os.Create(n.scratchPath)
	if err != nil {
		return fmt.Errorf("atfp: creating scratch source file: %w", err)
	}
	n.scratchFile = f
	n.reader = newChunkReader(n.job, f, n.bufSize)
	return n.reader.start()
}

func (n *nonstreamFetch) Processing(ctx context.Context) (Progress, error) {
	return n.reader.step(ctx)
}

func (n *nonstreamFetch) HasDoneProcessing() bool {
	return n.reader != nil && n.reader.done
}

func (n *nonstreamFetch) Deinit(_ context.Context) error {
	if n.scratchFile != nil {
		return n.scratchFile.Close()
	}
	return nil
}
