package atfp

import (
	"context"
	"fmt"

	"github.com/castwell/mediaflow/internal/asyncstore"
)

// FactoryConfig configures the four processor variants DefaultFactory
// registers, sourced from internal/config's PipelineConfig, HLSConfig,
// FFmpegConfig, and ImageConfig.
type FactoryConfig struct {
	FFmpegPath string

	ScratchBufferSize int

	HLSSegmentDuration  int
	HLSMaxSegmentDigits int
	HLSKeyBits          int
	HLSFlushBufferSize  int

	ImageMaxWidth  int
	ImageMaxHeight int
	ImageFormat    string
}

// DefaultFactory builds a Factory with the video/HLS and image variants
// registered, the way the teacher's pipeline wires its default Stage
// constructors in internal/pipeline/core's DefaultFactory. Every registered
// Constructor resolves its local transcoding/<version> scratch directory
// from the Job's own Store, so callers only ever construct one Job per run
// and hand it to Factory.Create.
func DefaultFactory(cfg FactoryConfig) *Factory {
	f := NewFactory()

	f.Register(Key{Kind: MediaKindVideo, Direction: DirectionSource}, func(job *Job) ProcessorOps {
		dir, _, err := ScratchDir(job)
		if err != nil {
			return &failingProcessor{err: err}
		}
		return newVideoHLSStream(job, dir, cfg.ScratchBufferSize)
	})

	f.Register(Key{Kind: MediaKindVideo, Direction: DirectionDestination}, func(job *Job) ProcessorOps {
		dir, _, err := ScratchDir(job)
		if err != nil {
			return &failingProcessor{err: err}
		}
		opts := HLSEncodeOptions{
			FFmpegPath:       cfg.FFmpegPath,
			SegmentDuration:  cfg.HLSSegmentDuration,
			MaxSegmentDigits: cfg.HLSMaxSegmentDigits,
			KeyBits:          cfg.HLSKeyBits,
			FlushBufferSize:  cfg.HLSFlushBufferSize,
		}
		return newVideoHLSTranscode(job, dir, CommittedDir(job), opts)
	})

	f.Register(Key{Kind: MediaKindImage, Direction: DirectionSource}, func(job *Job) ProcessorOps {
		dir, _, err := ScratchDir(job)
		if err != nil {
			return &failingProcessor{err: err}
		}
		return newNonstreamFetch(job, dir, cfg.ScratchBufferSize)
	})

	f.Register(Key{Kind: MediaKindImage, Direction: DirectionDestination}, func(job *Job) ProcessorOps {
		dir, _, err := ScratchDir(job)
		if err != nil {
			return &failingProcessor{err: err}
		}
		opts := ImageTranscodeOptions{
			FFmpegPath: cfg.FFmpegPath,
			MaxWidth:   cfg.ImageMaxWidth,
			MaxHeight:  cfg.ImageMaxHeight,
			Format:     cfg.ImageFormat,
		}
		return newImageTranscode(job, dir, opts)
	})

	return f
}

// ScratchDir resolves job's local absolute transcoding/<version> directory
// through its Store's backend, which must implement asyncstore.PathResolver
// (LocalBackend does; a future object-store backend could not host an
// ffmpeg invocation at all, at which point this pipeline stage would need
// to stage input/output through a local cache itself). It also returns the
// Store-relative form of the same path.
func ScratchDir(job *Job) (abs string, rel string, err error) {
	resolver, ok := job.Store.Backend().(asyncstore.PathResolver)
	if !ok {
		return "", "", fmt.Errorf("atfp: store backend does not support local scratch resolution")
	}
	rel = "transcoding/" + job.Version
	abs, err = resolver.ResolvePath(rel)
	if err != nil {
		return "", "", fmt.Errorf("atfp: resolving scratch dir: %w", err)
	}
	return abs, rel, nil
}

// CommittedDir returns job's Store-relative committed/<version> path.
func CommittedDir(job *Job) string {
	return "committed/" + job.Version
}

// failingProcessor is the ProcessorOps a Constructor returns when it cannot
// resolve its scratch directory, since Constructor has no error return of
// its own; Pipeline.Run surfaces the error from the first Init call.
type failingProcessor struct{ err error }

func (f *failingProcessor) Init(_ context.Context) error { return f.err }

func (f *failingProcessor) Processing(_ context.Context) (Progress, error) {
	return ProgressContinue, f.err
}

func (f *failingProcessor) HasDoneProcessing() bool { return true }

func (f *failingProcessor) Deinit(_ context.Context) error { return nil }
