// Package transcoder orchestrates one ATFP pipeline run end to end: it
// selects the right processor variants for a resource's media type, drives
// atfp.Pipeline to completion, and then closes the gap atfp.Pipeline leaves
// open (see DESIGN.md) by committing the artifacts a served resource
// actually needs — the media playlist, a synthesized master playlist, and
// the merged crypto_key.json for video; the re-encoded file for images —
// into the Job's Store, before sweeping the local scratch tree.
package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/castwell/mediaflow/internal/asyncstore"
	"github.com/castwell/mediaflow/internal/atfp"
	"github.com/castwell/mediaflow/internal/hls"
	"github.com/castwell/mediaflow/internal/models"
	"github.com/castwell/mediaflow/internal/rpc"
)

const (
	localMediaPlaylistName = "mdia_plist.m3u8"
	localCryptoKeyName     = "crypto_key.json"
	storeCryptoKeyPath     = "crypto_key.json"
	committedMediaPlaylist = "mdia_plist.m3u8"
	committedMasterList    = "mst_plist.m3u8"
)

// Runner drives one pipeline run per call to Run, committing durable
// outputs on success and sweeping scratch either way.
type Runner struct {
	factory  *atfp.Factory
	notifier *rpc.Client
	logger   *slog.Logger
}

// NewRunner creates a Runner. notifier may be nil, in which case completion
// events are not reported (the rpc notifier is an optional out-of-scope
// boundary, per spec.md §1).
func NewRunner(factory *atfp.Factory, notifier *rpc.Client, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{factory: factory, notifier: notifier, logger: logger}
}

func mediaKind(mediaType models.MediaType) (atfp.MediaKind, error) {
	switch mediaType {
	case models.MediaTypeVideo:
		return atfp.MediaKindVideo, nil
	case models.MediaTypeImage:
		return atfp.MediaKindImage, nil
	default:
		return 0, fmt.Errorf("transcoder: unsupported media type %q", mediaType)
	}
}

// Run builds the source/destination processors for mediaType, drives the
// pipeline to completion, and commits or discards the run's scratch tree
// depending on outcome. It reports the outcome to the configured notifier
// when present.
func (r *Runner) Run(ctx context.Context, job *atfp.Job, mediaType models.MediaType) error {
	kind, err := mediaKind(mediaType)
	if err != nil {
		return err
	}

	source := r.factory.Create(atfp.Key{Kind: kind, Direction: atfp.DirectionSource}, job)
	destination := r.factory.Create(atfp.Key{Kind: kind, Direction: atfp.DirectionDestination}, job)
	if source == nil || destination == nil {
		return fmt.Errorf("transcoder: no processor registered for media type %q", mediaType)
	}

	pipeline := atfp.New(job, source, destination)
	runErr := pipeline.Run(ctx)

	scratchRel := "transcoding/" + job.Version
	sweep := atfp.NewSweep(job.Store)

	if runErr != nil || !job.VersionExists {
		if err := sweep.DiscardVersion(ctx, scratchRel); err != nil {
			r.logger.Warn("discarding failed transcode scratch",
				slog.String("resource_id", job.ResourceID.String()),
				slog.String("error", err.Error()))
		}
		r.notify(ctx, job, rpc.StatusFailed, failureReason(job, runErr))
		if runErr != nil {
			return fmt.Errorf("transcoder: pipeline run: %w", runErr)
		}
		return fmt.Errorf("transcoder: pipeline completed without producing a version")
	}

	if err := r.commit(ctx, job, kind, destination); err != nil {
		r.notify(ctx, job, rpc.StatusFailed, err.Error())
		return fmt.Errorf("transcoder: committing outputs: %w", err)
	}

	if err := sweep.DiscardVersion(ctx, scratchRel); err != nil {
		r.logger.Warn("discarding committed transcode scratch",
			slog.String("resource_id", job.ResourceID.String()),
			slog.String("error", err.Error()))
	}

	r.notify(ctx, job, rpc.StatusComplete, "")
	return nil
}

func failureReason(job *atfp.Job, runErr error) string {
	if msg, ok := job.Error.Get(atfp.SectionReason); ok {
		return msg
	}
	if runErr != nil {
		return runErr.Error()
	}
	return "transcode produced no version"
}

func (r *Runner) notify(ctx context.Context, job *atfp.Job, status rpc.Status, reason string) {
	if r.notifier == nil {
		return
	}
	event := rpc.TranscodeEvent{
		ResourceID: job.ResourceID.String(),
		Version:    job.Version,
		Status:     status,
		Reason:     reason,
	}
	if err := r.notifier.Notify(ctx, event); err != nil {
		r.logger.Warn("notifying transcode status", slog.String("error", err.Error()))
	}
}

// commit pushes the artifacts a served resource needs into the Store.
func (r *Runner) commit(ctx context.Context, job *atfp.Job, kind atfp.MediaKind, destination atfp.ProcessorOps) error {
	scratchDir, _, err := atfp.ScratchDir(job)
	if err != nil {
		return err
	}
	committedDir := atfp.CommittedDir(job)

	switch kind {
	case atfp.MediaKindVideo:
		return r.commitVideo(ctx, job, scratchDir, committedDir)
	case atfp.MediaKindImage:
		imgOutput, ok := destination.(interface{ OutputPath() string })
		if !ok {
			return fmt.Errorf("transcoder: image destination does not expose an output path")
		}
		return r.commitImage(ctx, job, imgOutput.OutputPath(), committedDir)
	default:
		return fmt.Errorf("transcoder: unsupported media kind %d", kind)
	}
}

func (r *Runner) commitVideo(ctx context.Context, job *atfp.Job, scratchDir, committedDir string) error {
	mediaPlaylist, err := os.ReadFile(filepath.Join(scratchDir, localMediaPlaylistName))
	if err != nil {
		return fmt.Errorf("transcoder: reading local media playlist: %w", err)
	}
	if err := writeStoreFile(ctx, job.Store, committedDir+"/"+committedMediaPlaylist, mediaPlaylist); err != nil {
		return fmt.Errorf("transcoder: committing media playlist: %w", err)
	}

	initMap, err := os.ReadFile(filepath.Join(scratchDir, hls.InitMapName))
	if err != nil {
		return fmt.Errorf("transcoder: reading local init map: %w", err)
	}
	if err := writeStoreFile(ctx, job.Store, committedDir+"/"+hls.InitMapName, initMap); err != nil {
		return fmt.Errorf("transcoder: committing init map: %w", err)
	}

	master, err := buildMasterPlaylist(job.Version, scratchDir)
	if err != nil {
		return fmt.Errorf("transcoder: building master playlist: %w", err)
	}
	if err := writeStoreFile(ctx, job.Store, committedDir+"/"+committedMasterList, master); err != nil {
		return fmt.Errorf("transcoder: committing master playlist: %w", err)
	}

	localKeys, err := os.ReadFile(filepath.Join(scratchDir, localCryptoKeyName))
	if err != nil {
		return fmt.Errorf("transcoder: reading local crypto key file: %w", err)
	}
	newKeys, err := hls.UnmarshalCryptoKeySet(localKeys)
	if err != nil {
		return fmt.Errorf("transcoder: parsing local crypto key file: %w", err)
	}
	if err := mergeCryptoKeys(ctx, job.Store, newKeys); err != nil {
		return fmt.Errorf("transcoder: merging crypto keys: %w", err)
	}
	return nil
}

func (r *Runner) commitImage(ctx context.Context, job *atfp.Job, outputPath, committedDir string) error {
	data, err := os.ReadFile(outputPath)
	if err != nil {
		return fmt.Errorf("transcoder: reading local image output: %w", err)
	}
	name := filepath.Base(outputPath)
	if err := writeStoreFile(ctx, job.Store, committedDir+"/"+name, data); err != nil {
		return fmt.Errorf("transcoder: committing image output: %w", err)
	}
	return nil
}

// buildMasterPlaylist synthesizes a single-variant master playlist for one
// committed version: videoHLSTranscode's ffmpeg invocation only ever
// produces one rendition, so the bandwidth attribute is estimated from the
// segments' total size rather than parsed from ffprobe output.
func buildMasterPlaylist(version, scratchDir string) ([]byte, error) {
	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		return nil, fmt.Errorf("listing scratch directory: %w", err)
	}
	var totalBytes int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		totalBytes += info.Size()
	}
	const approxBitrate = 1_500_000 // bits/sec fallback when scratch is empty
	bandwidth := approxBitrate
	if totalBytes > 0 {
		bandwidth = int(totalBytes * 8)
	}

	var buf bytes.Buffer
	variant := hls.StreamVariant{
		Version:    version,
		Attributes: fmt.Sprintf("BANDWIDTH=%d", bandwidth),
	}
	rewrite := func(detail string) string { return detail }
	if err := hls.WriteMasterPlaylist(&buf, []hls.StreamVariant{variant}, rewrite); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mergeCryptoKeys reads the per-upload-request crypto_key.json from the
// Store, if present, appends newKeys (replacing any entry with a matching
// key id), and writes the result back. This lets multiple variants of the
// same resource, transcoded in separate pipeline runs, accumulate into one
// shared key document, per spec.md §4's "crypto_key.json at the
// per-upload-request level" layout.
func mergeCryptoKeys(ctx context.Context, store *asyncstore.Store, newKeys []hls.CryptoKey) error {
	existing, err := readStoreFile(ctx, store, storeCryptoKeyPath)
	var keys []hls.CryptoKey
	if err == nil {
		keys, err = hls.UnmarshalCryptoKeySet(existing)
		if err != nil {
			return fmt.Errorf("parsing existing crypto key set: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading existing crypto key set: %w", err)
	}

	byID := make(map[string]hls.CryptoKey, len(keys)+len(newKeys))
	var order []string
	for _, k := range keys {
		if _, ok := byID[k.KeyID]; !ok {
			order = append(order, k.KeyID)
		}
		byID[k.KeyID] = k
	}
	for _, k := range newKeys {
		if _, ok := byID[k.KeyID]; !ok {
			order = append(order, k.KeyID)
		}
		byID[k.KeyID] = k
	}
	merged := make([]hls.CryptoKey, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}

	data, err := hls.MarshalCryptoKeySet(merged)
	if err != nil {
		return fmt.Errorf("marshaling merged crypto key set: %w", err)
	}
	return writeStoreFile(ctx, store, storeCryptoKeyPath, data)
}

// writeStoreFile creates (or truncates) path on store and writes data to
// it synchronously from the caller's point of view, mirroring the
// open/write/close sequencing hls.Flusher.flushOne uses.
func writeStoreFile(_ context.Context, store *asyncstore.Store, path string, data []byte) error {
	handle := store.NewHandle(path)
	defer func() { _ = handle.Close(nil) }()

	openDone := make(chan error, 1)
	if err := handle.Open(os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640, func(r asyncstore.Result) {
		openDone <- r.Err
	}); err != nil {
		return err
	}
	if err := <-openDone; err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}
	writeDone := make(chan asyncstore.Result, 1)
	if err := handle.Write(0, data, func(r asyncstore.Result) { writeDone <- r }); err != nil {
		return err
	}
	res := <-writeDone
	if res.Err != nil {
		return res.Err
	}
	if res.N != int64(len(data)) {
		return fmt.Errorf("short write: wrote %d of %d bytes", res.N, len(data))
	}
	return nil
}

// readStoreFile reads path on store fully into memory. It returns an error
// wrapping os.ErrNotExist when path does not exist, so callers can treat a
// first-variant commit (no crypto_key.json yet) as the empty set.
func readStoreFile(_ context.Context, store *asyncstore.Store, path string) ([]byte, error) {
	handle := store.NewHandle(path)
	defer func() { _ = handle.Close(nil) }()

	openDone := make(chan error, 1)
	if err := handle.Open(os.O_RDONLY, 0, func(r asyncstore.Result) { openDone <- r.Err }); err != nil {
		return nil, err
	}
	if err := <-openDone; err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
		}
		return nil, err
	}

	var out bytes.Buffer
	buf := make([]byte, 64*1024)
	var offset int64
	for {
		readDone := make(chan asyncstore.Result, 1)
		if err := handle.Read(offset, buf, func(r asyncstore.Result) { readDone <- r }); err != nil {
			return nil, err
		}
		res := <-readDone
		if res.Err != nil && !errors.Is(res.Err, io.EOF) {
			return nil, res.Err
		}
		if res.N > 0 {
			out.Write(buf[:res.N])
			offset += res.N
		}
		if res.N < int64(len(buf)) {
			break
		}
	}
	return out.Bytes(), nil
}
