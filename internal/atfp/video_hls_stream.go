package atfp

import (
	"context"
	"fmt"
	"os"
)

// videoHLSStream is the DirectionSource variant for the video/HLS-transcode
// pipeline: it reassembles a job's ordered FileChunks into one local
// scratch file the destination (videoHLSTranscode) points ffmpeg at,
// streaming the read in bufSize pieces rather than loading the whole
// upload into memory (spec.md §4.4's "source processor reads original
// bytes").
type videoHLSStream struct {
	job        *Job
	bufSize    int
	scratchDir string

	scratchPath string
	scratchFile *os.File
	reader      *chunkReader
}

// newVideoHLSStream constructs the source variant; scratchDir is the local
// directory (under transcoding/<version>) the reassembled file is written
// into.
func newVideoHLSStream(job *Job, scratchDir string, bufSize int) ProcessorOps {
	return &videoHLSStream{job: job, scratchDir: scratchDir, bufSize: bufSize}
}

// SourceFilePath returns the local path of the reassembled original upload,
// valid once Init has run. The destination variant reads this as ffmpeg's
// input.
func (v *videoHLSStream) SourceFilePath() string {
	return v.scratchPath
}

func (v *videoHLSStream) Init(_ context.Context) error {
	if err := os.MkdirAll(v.scratchDir, 0o750); err != nil {
		return fmt.Errorf("atfp: creating scratch dir: %w", err)
	}
	v.scratchPath = sourceScratchPath(v.scratchDir)
	f, err := os.Create(v.scratchPath)
	if err != nil {
		return fmt.Errorf("atfp: creating scratch source file: %w", err)
	}
	v.scratchFile = f
	v.reader = newChunkReader(v.job, f, v.bufSize)
	return v.reader.start()
}

func (v *videoHLSStream) Processing(ctx context.Context) (Progress, error) {
	return v.reader.step(ctx)
}

func (v *videoHLSStream) HasDoneProcessing() bool {
	return v.reader != nil && v.reader.done
}

func (v *videoHLSStream) Deinit(_ context.Context) error {
	if v.scratchFile != nil {
		return v.scratchFile.Close()
	}
	return nil
}
