package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/castwell/mediaflow/internal/acl"
	"github.com/castwell/mediaflow/internal/asyncstore"
	"github.com/castwell/mediaflow/internal/hls"
	"github.com/castwell/mediaflow/internal/http/middleware"
	"github.com/castwell/mediaflow/internal/models"
)

// StreamHandler implements the HLSEngine read side: handing out a
// descriptor for a committed resource's master playlist, then serving
// every playlist, crypto-key, and segment fetch that descriptor's
// rewritten URLs point back at. FetchStreamingElement is mounted directly
// on chi, the same way UploadPart is, since it writes raw bytes rather
// than a huma-decodable JSON body.
type StreamHandler struct {
	engine       *acl.Engine
	backend      asyncstore.Backend
	elementPath  string
	docIDParam   string
	detailParam  string
	cacheMaxAge  int
	logger       *slog.Logger
}

// NewStreamHandler creates a StreamHandler. docIDParam and detailParam name
// the query parameters fetch-streaming-element reads, per spec.md §6's
// query_param_label configuration; cacheMaxAgeSeconds is the Cache-Control
// lifetime applied when a resource's file-level ACL marks it visible.
func NewStreamHandler(engine *acl.Engine, backend asyncstore.Backend, docIDParam, detailParam string, cacheMaxAgeSeconds int, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		engine:      engine,
		backend:     backend,
		elementPath: "/api/v1/stream/element",
		docIDParam:  docIDParam,
		detailParam: detailParam,
		cacheMaxAge: cacheMaxAgeSeconds,
		logger:      logger,
	}
}

// Register registers InitiateStream with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "initiateStream",
		Method:      "POST",
		Path:        "/api/v1/stream",
		Summary:     "Initiate an HLS stream",
		Description: "Returns a descriptor pointing at a committed resource's master playlist",
		Tags:        []string{"Stream"},
	}, h.InitiateStream)
}

// RegisterChiRoutes mounts FetchStreamingElement, which writes a raw
// octet-stream or playlist body directly to the response writer.
func (h *StreamHandler) RegisterChiRoutes(router chi.Router) {
	router.With(middleware.ABAC).Get(h.elementPath, h.FetchStreamingElement)
}

// InitiateStreamInput is the request for InitiateStream.
type InitiateStreamInput struct {
	UsrID      uint64 `header:"X-Usr-Id" required:"true" doc:"Caller's verified user id"`
	ResourceID string `query:"id" required:"true"`
}

type initiateStreamBody struct {
	DocID  string `json:"doc_id"`
	Detail string `json:"detail"`
	URL    string `json:"url"`
}

// InitiateStreamOutput is the response for InitiateStream.
type InitiateStreamOutput struct {
	Body initiateStreamBody
}

// InitiateStream gates read access to resourceID and hands back a
// descriptor pointing fetch-streaming-element at its master playlist,
// already encoded as a doc_id the caller treats opaquely.
func (h *StreamHandler) InitiateStream(ctx context.Context, input *InitiateStreamInput) (*InitiateStreamOutput, error) {
	resourceID, err := models.ParseULID(input.ResourceID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid resource id", err)
	}

	canRead, err := h.engine.CanRead(ctx, resourceID, input.UsrID)
	if err != nil {
		if errors.Is(err, models.ErrResourceNotFound) {
			return nil, huma.Error404NotFound("unknown resource")
		}
		return nil, huma.Error500InternalServerError("checking read access", err)
	}
	if !canRead {
		return nil, huma.Error403Forbidden("not permitted to read this resource")
	}

	docID := encodeDocID(resourceID)
	detail := hls.MasterPlaylistName

	return &InitiateStreamOutput{Body: initiateStreamBody{
		DocID:  docID,
		Detail: detail,
		URL:    h.elementURL(docID, detail),
	}}, nil
}

// FetchStreamingElement serves one committed playlist, crypto key, or
// segment, dispatching on the detail query parameter's shape. Every branch
// shares the same doc_id decode and ACL gate; only the storage path and
// content type differ.
func (h *StreamHandler) FetchStreamingElement(w http.ResponseWriter, r *http.Request) {
	usrID, ok := middleware.GetUsrID(r.Context())
	if !ok {
		http.Error(w, "missing usr id", http.StatusUnauthorized)
		return
	}

	docID := r.URL.Query().Get(h.docIDParam)
	detail := r.URL.Query().Get(h.detailParam)
	if docID == "" || detail == "" {
		http.Error(w, fmt.Sprintf("%s and %s query parameters are required", h.docIDParam, h.detailParam), http.StatusBadRequest)
		return
	}

	resourceID, err := decodeDocID(docID)
	if err != nil {
		http.Error(w, "invalid "+h.docIDParam, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	verify, err := h.engine.VerifyResourceID(ctx, resourceID, true)
	if err != nil {
		http.Error(w, "verifying resource", http.StatusInternalServerError)
		return
	}
	if !verify.Exists {
		http.Error(w, "unknown resource", http.StatusNotFound)
		return
	}

	canRead, err := h.engine.CanRead(ctx, resourceID, usrID)
	if err != nil {
		http.Error(w, "checking read access", http.StatusInternalServerError)
		return
	}
	if !canRead {
		http.Error(w, "not permitted to read this resource", http.StatusForbidden)
		return
	}

	cacheControl := "private, no-cache"
	if verify.ACLVisible {
		cacheControl = fmt.Sprintf("public, max-age=%d", h.cacheMaxAge)
	}

	store, closeStore, err := h.openResourceStore(verify.OwnerUsrID, verify.ReqSeq)
	if err != nil {
		http.Error(w, "opening storage", http.StatusInternalServerError)
		return
	}
	defer closeStore()

	switch {
	case detail == hls.MasterPlaylistName:
		h.serveMasterPlaylist(w, store, docID, cacheControl)
	case strings.HasSuffix(detail, "/"+hls.MediaPlaylistName):
		version := strings.TrimSuffix(detail, "/"+hls.MediaPlaylistName)
		h.serveMediaPlaylist(w, store, version, docID, cacheControl)
	case strings.HasSuffix(detail, "/"+hls.CryptoKeyFileName):
		version := strings.TrimSuffix(detail, "/"+hls.CryptoKeyFileName)
		h.serveCryptoKey(w, store, version, cacheControl)
	case strings.HasSuffix(detail, "/"+hls.InitMapName):
		version := strings.TrimSuffix(detail, "/"+hls.InitMapName)
		h.serveInitMap(w, store, version, cacheControl)
	default:
		idx := strings.LastIndex(detail, "/")
		if idx < 0 {
			http.Error(w, "invalid detail", http.StatusBadRequest)
			return
		}
		version, name := detail[:idx], detail[idx+1:]
		if _, ok := hls.ParseSegmentIndex(name); !ok {
			http.Error(w, "invalid detail", http.StatusBadRequest)
			return
		}
		h.serveSegment(w, store, version, name, cacheControl)
	}
}

// serveMasterPlaylist scans committed/ for every version directory, reads
// each one's own single-variant master playlist for its #EXT-X-STREAM-INF
// attributes, and re-emits them as one aggregate master playlist whose
// inner URLs point back at this handler, per spec.md §4.5 S1/S3.
func (h *StreamHandler) serveMasterPlaylist(w http.ResponseWriter, store *asyncstore.Store, docID, cacheControl string) {
	entries, err := asyncstore.ReadDir(store, "committed")
	if err != nil {
		http.Error(w, "listing committed versions", http.StatusNotFound)
		return
	}

	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type == asyncstore.EntryDir {
			versions = append(versions, e.Name)
		}
	}
	sort.Strings(versions)

	variants := make([]hls.StreamVariant, 0, len(versions))
	for _, ver := range versions {
		body, err := asyncstore.ReadFile(store, "committed/"+ver+"/"+hls.MasterPlaylistName)
		if err != nil {
			h.logger.Warn("reading variant master playlist", slog.String("version", ver), slog.String("error", err.Error()))
			continue
		}
		attrs, ok := parseStreamInfAttributes(string(body))
		if !ok {
			continue
		}
		variants = append(variants, hls.StreamVariant{Version: ver, Attributes: attrs})
	}

	rewrite := func(detail string) string { return h.elementURL(docID, detail) }

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	if err := hls.WriteMasterPlaylist(w, variants, rewrite); err != nil {
		h.logger.Error("writing master playlist", slog.String("error", err.Error()))
	}
}

// serveMediaPlaylist rewrites one version's media playlist, inserting the
// AES key line and rewriting the map/key/segment URLs, per spec.md §4.5 S2.
func (h *StreamHandler) serveMediaPlaylist(w http.ResponseWriter, store *asyncstore.Store, version, docID, cacheControl string) {
	body, err := asyncstore.ReadFile(store, "committed/"+version+"/"+hls.MediaPlaylistName)
	if err != nil {
		http.Error(w, "unknown version", http.StatusNotFound)
		return
	}

	key, ok, err := h.lookupCryptoKey(store, version)
	if err != nil {
		http.Error(w, "reading crypto key", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "unknown key id", http.StatusNotFound)
		return
	}

	rewrite := func(detail string) string { return h.elementURL(docID, detail) }

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	if err := hls.WriteMediaPlaylist(w, version, string(body), key, rewrite, rewrite, rewrite); err != nil {
		h.logger.Error("writing media playlist", slog.String("error", err.Error()))
	}
}

// serveCryptoKey writes a variant's raw AES key bytes, per spec.md §4.5's
// "returns the raw key bytes, not the hex" crypto key request.
func (h *StreamHandler) serveCryptoKey(w http.ResponseWriter, store *asyncstore.Store, version, cacheControl string) {
	key, ok, err := h.lookupCryptoKey(store, version)
	if err != nil {
		http.Error(w, "reading crypto key", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "unknown key id", http.StatusNotFound)
		return
	}

	keyBytes, _, err := key.Bytes()
	if err != nil {
		http.Error(w, "decoding crypto key", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(keyBytes)
}

// serveInitMap writes a variant's fMP4 init segment unencrypted: it carries
// only moov/track structure, not media samples, so it is served as-is rather
// than through serveSegment's AES-CBC path.
func (h *StreamHandler) serveInitMap(w http.ResponseWriter, store *asyncstore.Store, version, cacheControl string) {
	body, err := asyncstore.ReadFile(store, "committed/"+version+"/"+hls.InitMapName)
	if err != nil {
		http.Error(w, "unknown version", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// serveSegment AES-CBC encrypts one committed segment under its variant's
// key and writes the ciphertext, per spec.md §4.5 S3/S5.
func (h *StreamHandler) serveSegment(w http.ResponseWriter, store *asyncstore.Store, version, name, cacheControl string) {
	plaintext, err := asyncstore.ReadFile(store, "committed/"+version+"/"+name)
	if err != nil {
		http.Error(w, "unknown segment", http.StatusNotFound)
		return
	}

	key, ok, err := h.lookupCryptoKey(store, version)
	if err != nil {
		http.Error(w, "reading crypto key", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "unknown key id", http.StatusNotFound)
		return
	}

	keyBytes, iv, err := key.Bytes()
	if err != nil {
		http.Error(w, "decoding crypto key", http.StatusInternalServerError)
		return
	}

	encrypted, err := hls.EncryptSegment(plaintext, keyBytes, iv)
	if err != nil {
		http.Error(w, "encrypting segment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encrypted)
}

// lookupCryptoKey reads the per-upload-request crypto_key.json and finds
// the entry for version, whose key_id equals the version string itself
// (the convention the transcoder's video_hls_transcode step establishes
// when it generates a variant's key).
func (h *StreamHandler) lookupCryptoKey(store *asyncstore.Store, version string) (hls.CryptoKey, bool, error) {
	data, err := asyncstore.ReadFile(store, "crypto_key.json")
	if err != nil {
		return hls.CryptoKey{}, false, err
	}
	keys, err := hls.UnmarshalCryptoKeySet(data)
	if err != nil {
		return hls.CryptoKey{}, false, err
	}
	key, ok := hls.LookupCryptoKey(keys, version)
	return key, ok, nil
}

// openResourceStore builds the per-(usr_id, req_seq) scoped Store a
// committed resource's playlists and segments live under, the same prefix
// convention UploadHandler.openRequestStore uses for the in-flight side.
func (h *StreamHandler) openResourceStore(ownerUsrID uint64, reqSeq uint32) (*asyncstore.Store, func(), error) {
	prefixed, err := asyncstore.NewPrefixBackend(h.backend, fmt.Sprintf("%d/%d", ownerUsrID, reqSeq))
	if err != nil {
		return nil, nil, err
	}
	store := asyncstore.NewStore(prefixed)
	return store, func() { store.Close() }, nil
}

// elementURL builds the externally visible fetch-streaming-element URL for
// one doc_id/detail pair, using the handler's configured query-parameter
// labels (spec.md §6's query_param_label map).
func (h *StreamHandler) elementURL(docID, detail string) string {
	v := url.Values{}
	v.Set(h.docIDParam, docID)
	v.Set(h.detailParam, detail)
	return h.elementPath + "?" + v.Encode()
}

// encodeDocID opaquely encodes a resource id as the doc_id query parameter
// value, per spec.md §6's "?doc_id=<base64>".
func encodeDocID(resourceID models.ULID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(resourceID.String()))
}

// decodeDocID reverses encodeDocID.
func decodeDocID(docID string) (models.ULID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(docID)
	if err != nil {
		return models.ULID{}, fmt.Errorf("stream: decoding doc id: %w", err)
	}
	return models.ParseULID(string(raw))
}

// parseStreamInfAttributes extracts the attribute list following the first
// #EXT-X-STREAM-INF: tag in a variant's own master playlist body. Mirrors
// parseMediaPlaylist's tag-scanning approach in internal/hls/playlist.go,
// but this package has no exported equivalent since a single committed
// variant's master playlist never needs re-parsing from within hls itself.
func parseStreamInfAttributes(body string) (string, bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if attrs, ok := strings.CutPrefix(line, "#EXT-X-STREAM-INF:"); ok {
			return attrs, true
		}
	}
	return "", false
}
