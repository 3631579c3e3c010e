package atfp

import (
	"context"
	"fmt"
	"os"

	"github.com/castwell/mediaflow/internal/ffmpeg"
)

// ImageTranscodeOptions configures the image re-encode ffmpeg invocation.
type ImageTranscodeOptions struct {
	FFmpegPath string
	MaxWidth   int
	MaxHeight  int
	Format     string // output container/codec, e.g. "webp", "jpg"
}

// imageTranscode is the DirectionDestination variant for the image
// pipeline: a single ffmpeg invocation re-encoding the reassembled source
// file to a single committed output, no HLS (spec.md §4.4, supplemented
// per SPEC_FULL.md §7 from original_source/'s image storage-layout tests).
type imageTranscode struct {
	job     *Job
	source  ProcessorOps
	opts    ImageTranscodeOptions
	scratch string // local transcoding/<version> directory, absolute

	cmd      *ffmpeg.Command
	started  bool
	runErr   chan error
	finished bool
}

func newImageTranscode(job *Job, scratch string, opts ImageTranscodeOptions) ProcessorOps {
	return &imageTranscode{job: job, opts: opts, scratch: scratch, runErr: make(chan error, 1)}
}

func (i *imageTranscode) SetSource(source ProcessorOps) {
	i.source = source
}

func (i *imageTranscode) Init(_ context.Context) error {
	return os.MkdirAll(i.scratch, 0o750)
}

func (i *imageTranscode) outputPath() string {
	format := i.opts.Format
	if format == "" {
		format = "webp"
	}
	return i.scratch + "/image." + format
}

func (i *imageTranscode) Processing(ctx context.Context) (Progress, error) {
	if i.finished {
		return ProgressDone, nil
	}

	if !i.started {
		if i.source == nil || !i.source.HasDoneProcessing() {
			return ProgressNeedMoreData, nil
		}
		pather, ok := i.source.(sourceFilePather)
		if !ok {
			return ProgressContinue, fmt.Errorf("atfp: source variant has no local scratch file")
		}
		if err := i.start(ctx, pather.SourceFilePath()); err != nil {
			return ProgressContinue, err
		}
		return ProgressContinue, nil
	}

	if i.cmd.IsRunning() {
		return ProgressNeedMoreData, nil
	}

	select {
	case err := <-i.runErr:
		if err != nil {
			return ProgressContinue, fmt.Errorf("atfp: ffmpeg image transcode: %w", err)
		}
	default:
	}
	i.finished = true
	return ProgressDone, nil
}

func (i *imageTranscode) start(ctx context.Context, inputPath string) error {
	const defaultMaxDimension = 1920
	width := i.opts.MaxWidth
	if width <= 0 {
		width = defaultMaxDimension
	}
	height := i.opts.MaxHeight
	if height <= 0 {
		height = -1
	}
	b := ffmpeg.NewCommandBuilder(i.opts.FFmpegPath).
		HideBanner().
		Overwrite().
		Input(inputPath).
		VideoFilter(fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", width, height))
	i.cmd = b.Output(i.outputPath()).Build()

	if err := i.cmd.Start(ctx); err != nil {
		return fmt.Errorf("atfp: starting ffmpeg: %w", err)
	}
	i.started = true
	go func() { i.runErr <- i.cmd.Wait() }()
	return nil
}

func (i *imageTranscode) HasDoneProcessing() bool {
	return i.finished
}

func (i *imageTranscode) Deinit(_ context.Context) error {
	if i.cmd != nil && i.cmd.IsRunning() {
		return i.cmd.Kill()
	}
	return nil
}

// OutputPath exposes the local committed image file path for the caller
// (sweep/commit step) to publish into the Store's committed/<version> tree.
func (i *imageTranscode) OutputPath() string {
	return i.outputPath()
}
