package atfp

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/castwell/mediaflow/internal/ffmpeg"
	"github.com/castwell/mediaflow/internal/hls"
)

// HLSEncodeOptions configures how videoHLSTranscode drives ffmpeg, grounded
// on internal/config.HLSConfig.
type HLSEncodeOptions struct {
	FFmpegPath       string
	SegmentDuration  int // seconds, -hls_time
	MaxSegmentDigits int
	KeyBits          int
	FlushBufferSize  int
}

// videoHLSTranscode is the DirectionDestination variant that drives
// filter→encode→write for a video upload, per spec.md §4.4: it waits for
// the source to finish reassembling the original file, runs ffmpeg once
// against the full input producing numbered HLS segments in local scratch,
// and periodically flushes completed segments to AsyncStorage via
// hls.Flusher while holding back the in-flight one (spec.md §4.5).
type videoHLSTranscode struct {
	job     *Job
	source  ProcessorOps
	opts    HLSEncodeOptions
	scratch string // local transcoding/<version> directory, absolute
	flusher *hls.Flusher

	cmd       *ffmpeg.Command
	started   bool
	runErr    chan error
	finished  bool
	cryptoKey hls.CryptoKey
}

// newVideoHLSTranscode constructs the destination variant. scratch is the
// local absolute transcoding/<version> directory; committedRel is the
// Store-relative committed/<version> path the Flusher streams into.
func newVideoHLSTranscode(job *Job, scratch, committedRel string, opts HLSEncodeOptions) ProcessorOps {
	return &videoHLSTranscode{
		job:     job,
		opts:    opts,
		scratch: scratch,
		flusher: hls.NewFlusher(job.Store, scratch, committedRel, opts.FlushBufferSize),
		runErr:  make(chan error, 1),
	}
}

func (v *videoHLSTranscode) SetSource(source ProcessorOps) {
	v.source = source
}

func (v *videoHLSTranscode) Init(_ context.Context) error {
	if err := os.MkdirAll(v.scratch, 0o750); err != nil {
		return fmt.Errorf("atfp: creating transcode scratch dir: %w", err)
	}
	key, err := hls.GenerateCryptoKey(v.job.Version, v.opts.KeyBits)
	if err != nil {
		return fmt.Errorf("atfp: generating crypto key: %w", err)
	}
	v.cryptoKey = key
	return nil
}

// sourceFilePather is satisfied by the two source scratch-file variants;
// videoHLSTranscode type-asserts to it rather than widening ProcessorOps,
// since only these two source kinds expose a local input file.
type sourceFilePather interface {
	SourceFilePath() string
}

func (v *videoHLSTranscode) Processing(ctx context.Context) (Progress, error) {
	if v.finished {
		return ProgressDone, nil
	}

	if !v.started {
		if v.source == nil || !v.source.HasDoneProcessing() {
			return ProgressNeedMoreData, nil
		}
		pather, ok := v.source.(sourceFilePather)
		if !ok {
			return ProgressContinue, fmt.Errorf("atfp: source variant has no local scratch file")
		}
		if err := v.start(ctx, pather.SourceFilePath()); err != nil {
			return ProgressContinue, err
		}
		return ProgressContinue, nil
	}

	if v.cmd.IsRunning() {
		if err := v.flusher.TryFlushToStorage(ctx); err != nil {
			return ProgressContinue, err
		}
		return ProgressNeedMoreData, nil
	}

	select {
	case err := <-v.runErr:
		if err != nil {
			return ProgressContinue, fmt.Errorf("atfp: ffmpeg hls encode: %w", err)
		}
	default:
	}

	// ffmpeg has exited; flush whatever remains, including the
	// previously-held-back final segment, then publish metadata.
	if err := v.finalFlush(ctx); err != nil {
		return ProgressContinue, err
	}
	v.finished = true
	return ProgressDone, nil
}

func (v *videoHLSTranscode) start(ctx context.Context, inputPath string) error {
	b := ffmpeg.NewCommandBuilder(v.opts.FFmpegPath).
		HideBanner().
		Overwrite().
		Input(inputPath).
		VideoCodec("libx264").
		AudioCodec("aac").
		OutputArgs(
			"-f", "hls",
			"-hls_time", strconv.Itoa(v.opts.SegmentDuration),
			"-hls_list_size", "0",
			"-hls_playlist_type", "vod",
			"-hls_segment_type", "fmp4",
			"-hls_fmp4_init_filename", hls.InitMapName,
			"-hls_segment_filename", v.scratch+"/"+segmentPatternArg(v.opts.MaxSegmentDigits),
		)
	v.cmd = b.Output(v.scratch + "/" + localMediaPlaylistName).Build()

	if err := v.cmd.Start(ctx); err != nil {
		return fmt.Errorf("atfp: starting ffmpeg: %w", err)
	}
	v.started = true
	go func() { v.runErr <- v.cmd.Wait() }()
	return nil
}

func (v *videoHLSTranscode) finalFlush(ctx context.Context) error {
	// One more pass picks up the segment previously held back as in-flight.
	if err := v.flusher.TryFlushToStorage(ctx); err != nil {
		return err
	}
	keys, err := hls.MarshalCryptoKeySet([]hls.CryptoKey{v.cryptoKey})
	if err != nil {
		return err
	}
	if err := os.WriteFile(v.scratch+"/"+localCryptoKeyName, keys, 0o640); err != nil {
		return fmt.Errorf("atfp: writing local crypto key file: %w", err)
	}
	return nil
}

func (v *videoHLSTranscode) HasDoneProcessing() bool {
	return v.finished
}

func (v *videoHLSTranscode) Deinit(_ context.Context) error {
	if v.cmd != nil && v.cmd.IsRunning() {
		return v.cmd.Kill()
	}
	return nil
}

func segmentPatternArg(digits int) string {
	if digits < 1 {
		digits = 7
	}
	return fmt.Sprintf("%s%%0%dd", segmentFilePrefix, digits)
}

const (
	segmentFilePrefix      = "dataseg_"
	localMediaPlaylistName = "mdia_plist.m3u8"
	localCryptoKeyName     = "crypto_key.json"
)
