package handlers

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/castwell/mediaflow/internal/asyncstore"
	"github.com/castwell/mediaflow/internal/atfp"
	"github.com/castwell/mediaflow/internal/http/middleware"
	"github.com/castwell/mediaflow/internal/models"
	"github.com/castwell/mediaflow/internal/multipart"
	"github.com/castwell/mediaflow/internal/repository"
	"github.com/castwell/mediaflow/internal/transcoder"
)

// errUploadLimitExceeded carries the counters spec.md's upload-limit error
// case names so InitiateUpload can fold them into one descriptive message,
// the way every other handler in this package reports rejections.
type errUploadLimitExceeded struct {
	numActive int64
	maxLimit  int
}

func (e *errUploadLimitExceeded) Error() string {
	return fmt.Sprintf("active upload request limit exceeded (num_active=%d, max_limit=%d)", e.numActive, e.maxLimit)
}

// UploadHandler implements the chunked-upload surface: initiate, stream one
// part, commit, and abort. UploadPart is registered directly on the chi
// router rather than through huma, since it reads a raw multipart/form-data
// body streamed straight to storage instead of a JSON-decodable struct.
type UploadHandler struct {
	uploadRequests    repository.UploadRequestRepository
	chunks            repository.FileChunkRepository
	resources         repository.ResourceRepository
	backend           asyncstore.Backend
	runner            *transcoder.Runner
	maxActiveRequests int
	maxChunkSize      int64
	maxUserQuotaBytes int64
	logger            *slog.Logger
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(
	uploadRequests repository.UploadRequestRepository,
	chunks repository.FileChunkRepository,
	resources repository.ResourceRepository,
	backend asyncstore.Backend,
	runner *transcoder.Runner,
	maxActiveRequests int,
	maxChunkSize int64,
	maxUserQuotaBytes int64,
	logger *slog.Logger,
) *UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{
		uploadRequests:    uploadRequests,
		chunks:            chunks,
		resources:         resources,
		backend:           backend,
		runner:            runner,
		maxActiveRequests: maxActiveRequests,
		maxChunkSize:      maxChunkSize,
		maxUserQuotaBytes: maxUserQuotaBytes,
		logger:            logger,
	}
}

// Register registers the Huma-backed upload operations.
func (h *UploadHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "initiateUpload",
		Method:      "POST",
		Path:        "/api/v1/uploads",
		Summary:     "Initiate a chunked upload",
		Description: "Creates a new upload request the caller streams parts into",
		Tags:        []string{"Upload"},
	}, h.InitiateUpload)

	huma.Register(api, huma.Operation{
		OperationID: "completeUpload",
		Method:      "PATCH",
		Path:        "/api/v1/uploads/complete",
		Summary:     "Commit a completed upload",
		Description: "Validates the received chunks are contiguous and commits the asset for transcoding",
		Tags:        []string{"Upload"},
	}, h.CompleteUpload)

	huma.Register(api, huma.Operation{
		OperationID: "abortUpload",
		Method:      "DELETE",
		Path:        "/api/v1/uploads",
		Summary:     "Abort an in-progress upload",
		Description: "Discards an upload request and its received chunks",
		Tags:        []string{"Upload"},
	}, h.AbortUpload)
}

// RegisterChiRoutes mounts UploadPart, which streams a raw multipart body
// and therefore bypasses huma's JSON-oriented request binding entirely.
func (h *UploadHandler) RegisterChiRoutes(router chi.Router) {
	router.With(middleware.ABAC).Post("/api/v1/uploads/part", h.UploadPart)
}

// InitiateUploadInput is the request for InitiateUpload.
type InitiateUploadInput struct {
	UsrID uint64 `header:"X-Usr-Id" required:"true" doc:"Caller's verified user id"`
}

type initiateUploadBody struct {
	UsrID  uint64 `json:"usr_id"`
	ReqSeq uint32 `json:"req_seq"`
}

// InitiateUploadOutput is the response for InitiateUpload.
type InitiateUploadOutput struct {
	Body initiateUploadBody
}

// InitiateUpload creates a new UploadRequest, enforcing
// MAX_NUM_ACTIVE_UPLOAD_REQUESTS under a transaction so two concurrent
// requests from the same user cannot both observe room under the limit.
func (h *UploadHandler) InitiateUpload(ctx context.Context, input *InitiateUploadInput) (*InitiateUploadOutput, error) {
	var reqSeq uint32
	err := h.uploadRequests.Transaction(ctx, func(repo repository.UploadRequestRepository) error {
		active, err := repo.CountActive(ctx, input.UsrID)
		if err != nil {
			return err
		}
		if int(active) >= h.maxActiveRequests {
			return &errUploadLimitExceeded{numActive: active, maxLimit: h.maxActiveRequests}
		}

		seq, err := newReqSeq()
		if err != nil {
			return err
		}
		reqSeq = seq

		now := models.Now()
		return repo.Create(ctx, &models.UploadRequest{
			UsrID:       input.UsrID,
			ReqSeq:      reqSeq,
			TimeCreated: now,
			LastUpdate:  now,
		})
	})
	if err != nil {
		var limitErr *errUploadLimitExceeded
		if errors.As(err, &limitErr) {
			return nil, huma.Error400BadRequest(limitErr.Error())
		}
		return nil, huma.Error500InternalServerError("creating upload request", err)
	}

	return &InitiateUploadOutput{
		Body: initiateUploadBody{UsrID: input.UsrID, ReqSeq: reqSeq},
	}, nil
}

// UploadPart streams one multipart-encoded chunk into storage and records
// its checksum. It is mounted behind middleware.ABAC rather than huma since
// the body is a raw, unbounded byte stream rather than a decodable struct.
func (h *UploadHandler) UploadPart(w http.ResponseWriter, r *http.Request) {
	usrID, ok := middleware.GetUsrID(r.Context())
	if !ok {
		http.Error(w, "missing usr id", http.StatusUnauthorized)
		return
	}

	reqSeq64, err := strconv.ParseUint(r.URL.Query().Get("req_seq"), 10, 32)
	if err != nil {
		http.Error(w, "invalid or missing req_seq query parameter", http.StatusBadRequest)
		return
	}
	part64, err := strconv.ParseUint(r.URL.Query().Get("part"), 10, 16)
	if err != nil || part64 == 0 {
		http.Error(w, "invalid or missing part query parameter", http.StatusBadRequest)
		return
	}
	reqSeq := uint32(reqSeq64)
	partNum := uint16(part64)

	ctx := r.Context()
	req, err := h.uploadRequests.Get(ctx, usrID, reqSeq)
	if err != nil {
		http.Error(w, "loading upload request", http.StatusInternalServerError)
		return
	}
	if req == nil {
		http.Error(w, "upload request not found", http.StatusNotFound)
		return
	}

	if r.ContentLength > 0 && h.maxChunkSize > 0 && r.ContentLength > h.maxChunkSize {
		http.Error(w, "chunk exceeds max_chunk_size", http.StatusRequestEntityTooLarge)
		return
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		http.Error(w, "Content-Type must be multipart/form-data with a boundary", http.StatusBadRequest)
		return
	}

	store, closeStore, err := h.openRequestStore(usrID, reqSeq)
	if err != nil {
		http.Error(w, "opening storage", http.StatusInternalServerError)
		return
	}
	defer closeStore()

	chunkPath := strconv.Itoa(int(partNum))
	handle := store.NewHandle(chunkPath)
	openDone := make(chan error, 1)
	if err := handle.Open(os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640, func(res asyncstore.Result) { openDone <- res.Err }); err != nil {
		http.Error(w, "opening chunk file", http.StatusInternalServerError)
		return
	}
	if err := <-openDone; err != nil {
		http.Error(w, "opening chunk file", http.StatusInternalServerError)
		return
	}

	upload := multipart.NewChunkUpload(params["boundary"], asyncstore.NewSyncWriter(handle))
	buf := make([]byte, 64*1024)
	var writeErr error
readLoop:
	for {
		n, rerr := r.Body.Read(buf)
		if n > 0 {
			if _, werr := upload.Write(buf[:n]); werr != nil {
				writeErr = werr
				break readLoop
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			writeErr = rerr
			break
		}
	}

	closeDone := make(chan error, 1)
	_ = handle.Close(func(res asyncstore.Result) { closeDone <- res.Err })
	<-closeDone

	if writeErr != nil {
		status := http.StatusInternalServerError
		if errors.Is(writeErr, multipart.ErrMultiplePartsNotAllowed) {
			status = http.StatusBadRequest
		}
		http.Error(w, writeErr.Error(), status)
		return
	}

	result := upload.Result()

	total, err := h.chunks.SumSizeByUser(ctx, usrID)
	if err != nil {
		http.Error(w, "checking user quota", http.StatusInternalServerError)
		return
	}
	if h.maxUserQuotaBytes > 0 && total+result.SizeBytes > h.maxUserQuotaBytes {
		unlinkDone := make(chan error, 1)
		_ = store.NewHandle(chunkPath).Unlink(func(res asyncstore.Result) { unlinkDone <- res.Err })
		<-unlinkDone
		http.Error(w, "upload exceeds user quota", http.StatusForbidden)
		return
	}

	chunk := &models.FileChunk{
		UsrID:     usrID,
		ReqSeq:    reqSeq,
		PartNum:   partNum,
		Checksum:  result.SHA1,
		SizeBytes: result.SizeBytes,
	}
	if err := h.chunks.Create(ctx, chunk); err != nil {
		http.Error(w, "recording chunk", http.StatusInternalServerError)
		return
	}

	_ = h.uploadRequests.Touch(ctx, usrID, reqSeq)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"checksum":%q,"alg":"sha1","part":%d}`, result.SHA1, partNum)
}

// CompleteUploadInput is the request for CompleteUpload.
type CompleteUploadInput struct {
	UsrID uint64 `header:"X-Usr-Id" required:"true" doc:"Caller's verified user id"`
	Body  struct {
		ResourceID string `json:"resource_id,omitempty" doc:"Existing resource id to add a version to, omitted for a brand new asset"`
		ReqSeq     uint32 `json:"req_seq"`
		Type       string `json:"type" doc:"video or image"`
	}
}

type completeUploadBody struct {
	ResourceID string `json:"resource_id"`
	ReqSeq     uint32 `json:"req_seq"`
	UsrID      uint64 `json:"usr_id"`
}

// CompleteUploadOutput is the response for CompleteUpload.
type CompleteUploadOutput struct {
	Body completeUploadBody
}

// CompleteUpload validates that a request's chunks are contiguous from
// 1..N, commits an UploadedFile row, and kicks off transcoding
// asynchronously so the caller does not wait on ffmpeg to respond.
func (h *UploadHandler) CompleteUpload(ctx context.Context, input *CompleteUploadInput) (*CompleteUploadOutput, error) {
	mediaType := models.MediaType(input.Body.Type)
	if !mediaType.Valid() {
		return nil, huma.Error400BadRequest("type must be 'video' or 'image'")
	}

	req, err := h.uploadRequests.Get(ctx, input.UsrID, input.Body.ReqSeq)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading upload request", err)
	}
	if req == nil {
		return nil, huma.Error404NotFound("upload request not found")
	}

	chunks, err := h.chunks.ListByRequest(ctx, input.UsrID, input.Body.ReqSeq)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing chunks", err)
	}
	if err := validateContiguous(chunks); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	var resourceID models.ULID
	if input.Body.ResourceID != "" {
		parsed, err := models.ParseULID(input.Body.ResourceID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid resource_id")
		}
		existing, err := h.resources.GetByResourceID(ctx, parsed)
		if err != nil {
			return nil, huma.Error500InternalServerError("loading resource", err)
		}
		if existing != nil && existing.OwnerUsrID != input.UsrID {
			return nil, huma.Error403Forbidden("resource_id is owned by another user")
		}
		resourceID = parsed
	}

	file := &models.UploadedFile{
		ResourceID:  resourceID,
		OwnerUsrID:  input.UsrID,
		ReqSeq:      input.Body.ReqSeq,
		MediaType:   mediaType,
		CommittedAt: models.Now(),
	}
	if err := h.resources.Create(ctx, file); err != nil {
		return nil, huma.Error500InternalServerError("committing resource", err)
	}

	version, err := newVersionID()
	if err != nil {
		return nil, huma.Error500InternalServerError("generating version id", err)
	}

	partSizes := make([]int64, len(chunks))
	for i, c := range chunks {
		partSizes[i] = c.SizeBytes
	}

	h.runTranscode(file.ResourceID, input.UsrID, input.Body.ReqSeq, version, partSizes, mediaType)

	return &CompleteUploadOutput{
		Body: completeUploadBody{
			ResourceID: file.ResourceID.String(),
			ReqSeq:     input.Body.ReqSeq,
			UsrID:      input.UsrID,
		},
	}, nil
}

// runTranscode drives one pipeline run detached from the HTTP request's own
// context, so the transcode keeps running after CompleteUpload has already
// responded. Chunk rows and the upload-request row are only cleaned up once
// the pipeline has either consumed them or definitively failed to.
func (h *UploadHandler) runTranscode(resourceID models.ULID, usrID uint64, reqSeq uint32, version string, partSizes []int64, mediaType models.MediaType) {
	go func() {
		ctx := context.Background()
		store, closeStore, err := h.openRequestStore(usrID, reqSeq)
		if err != nil {
			h.logger.Error("opening request storage for transcode", slog.String("error", err.Error()))
			return
		}
		defer closeStore()

		job := atfp.NewJob(resourceID, usrID, reqSeq, version, partSizes, store)
		if err := h.runner.Run(ctx, job, mediaType); err != nil {
			h.logger.Error("transcode run failed",
				slog.String("resource_id", resourceID.String()),
				slog.String("error", err.Error()))
		}

		if err := h.chunks.DeleteByRequest(ctx, usrID, reqSeq); err != nil {
			h.logger.Warn("cleaning up file chunks", slog.String("error", err.Error()))
		}
		if err := h.uploadRequests.Delete(ctx, usrID, reqSeq); err != nil {
			h.logger.Warn("cleaning up upload request", slog.String("error", err.Error()))
		}
	}()
}

// AbortUploadInput is the request for AbortUpload.
type AbortUploadInput struct {
	UsrID  uint64 `header:"X-Usr-Id" required:"true" doc:"Caller's verified user id"`
	ReqSeq uint32 `query:"req_seq" required:"true"`
}

// AbortUploadOutput is the response for AbortUpload.
type AbortUploadOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// AbortUpload discards an in-progress upload request and its chunks.
func (h *UploadHandler) AbortUpload(ctx context.Context, input *AbortUploadInput) (*AbortUploadOutput, error) {
	req, err := h.uploadRequests.Get(ctx, input.UsrID, input.ReqSeq)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading upload request", err)
	}
	if req == nil {
		return nil, huma.Error404NotFound("upload request not found")
	}

	if err := h.chunks.DeleteByRequest(ctx, input.UsrID, input.ReqSeq); err != nil {
		return nil, huma.Error500InternalServerError("deleting chunks", err)
	}
	if err := h.uploadRequests.Delete(ctx, input.UsrID, input.ReqSeq); err != nil {
		return nil, huma.Error500InternalServerError("deleting upload request", err)
	}

	out := &AbortUploadOutput{}
	out.Body.Message = "upload request aborted"
	return out, nil
}

// openRequestStore builds the per-(usr_id, req_seq) scoped Store that both
// UploadPart's chunk writes and the transcoder's source reads and
// committed-output writes share, per spec.md's "<usr_id>/<req_seq>/" layout.
func (h *UploadHandler) openRequestStore(usrID uint64, reqSeq uint32) (*asyncstore.Store, func(), error) {
	prefixed, err := asyncstore.NewPrefixBackend(h.backend, fmt.Sprintf("%d/%d", usrID, reqSeq))
	if err != nil {
		return nil, nil, err
	}
	store := asyncstore.NewStore(prefixed)
	return store, func() { store.Close() }, nil
}

// validateContiguous checks that chunks, already ordered by part number,
// cover exactly 1..len(chunks) with no gaps.
func validateContiguous(chunks []*models.FileChunk) error {
	if len(chunks) == 0 {
		return models.ErrChunkGap
	}
	for i, c := range chunks {
		if int(c.PartNum) != i+1 {
			return models.ErrChunkGap
		}
	}
	return nil
}

// newReqSeq generates a random non-zero 32-bit upload-request sequence.
func newReqSeq() (uint32, error) {
	for {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("generating req_seq: %w", err)
		}
		seq := binary.BigEndian.Uint32(b[:])
		if seq != 0 {
			return seq, nil
		}
	}
}

// newVersionID generates the random code a committed variant is named by:
// two random bytes rendered as four lowercase hex digits.
func newVersionID() (string, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating version id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
