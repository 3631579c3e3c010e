package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/castwell/mediaflow/internal/acl"
	"github.com/castwell/mediaflow/internal/asyncstore"
	"github.com/castwell/mediaflow/internal/hls"
	"github.com/castwell/mediaflow/internal/http/middleware"
	"github.com/castwell/mediaflow/internal/models"
	"github.com/castwell/mediaflow/internal/repository"
)

func setupStreamHandler(t *testing.T) (*StreamHandler, repository.ResourceRepository, repository.ACLRepository, *asyncstore.LocalBackend) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.UploadedFile{}, &models.FileLevelACL{}, &models.UserLevelACL{}))

	resources := repository.NewResourceRepository(db)
	acls := repository.NewACLRepository(db)
	engine := acl.New(resources, acls)

	backend, err := asyncstore.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	h := NewStreamHandler(engine, backend, "doc_id", "detail", 300, slog.Default())
	return h, resources, acls, backend
}

func mustCreateStreamResource(t *testing.T, resources repository.ResourceRepository, ownerUsrID uint64, reqSeq uint32) models.ULID {
	t.Helper()
	file := &models.UploadedFile{
		OwnerUsrID:  ownerUsrID,
		ReqSeq:      reqSeq,
		MediaType:   models.MediaTypeVideo,
		CommittedAt: models.Now(),
	}
	require.NoError(t, resources.Create(context.Background(), file))
	return file.ResourceID
}

// writeCommittedVariant creates committed/<ver>/mst_plist.m3u8 +
// mdia_plist.m3u8 + one segment under the resource's owner/req_seq prefix,
// plus a crypto_key.json entry keyed by ver, matching the layout
// internal/transcoder's commit path produces.
func writeCommittedVariant(t *testing.T, baseDir string, ownerUsrID uint64, reqSeq uint32, ver string, key hls.CryptoKey) {
	t.Helper()
	dir := filepath.Join(baseDir, strconv.FormatUint(ownerUsrID, 10), strconv.FormatUint(uint64(reqSeq), 10), "committed", ver)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	master := "#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-STREAM-INF:BANDWIDTH=800000\n" + ver + "/mdia_plist.m3u8\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, hls.MasterPlaylistName), []byte(master), 0o640))

	media := "#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXT-X-PLAYLIST-TYPE:VOD\n#EXT-X-MAP:URI=\"init_map.mp4\"\n#EXTINF:6.0,\ndataseg_0000001\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, hls.MediaPlaylistName), []byte(media), 0o640))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dataseg_0000001"), []byte("segment-plaintext"), 0o640))

	keySetPath := filepath.Join(baseDir, strconv.FormatUint(ownerUsrID, 10), strconv.FormatUint(uint64(reqSeq), 10), "crypto_key.json")
	var keys []hls.CryptoKey
	if existing, err := os.ReadFile(keySetPath); err == nil {
		keys, _ = hls.UnmarshalCryptoKeySet(existing)
	}
	keys = append(keys, key)
	data, err := hls.MarshalCryptoKeySet(keys)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keySetPath, data, 0o640))
}

func TestInitiateStream_ReturnsDescriptorForOwner(t *testing.T) {
	h, resources, _, _ := setupStreamHandler(t)
	resourceID := mustCreateStreamResource(t, resources, 1, 1)

	out, err := h.InitiateStream(context.Background(), &InitiateStreamInput{UsrID: 1, ResourceID: resourceID.String()})
	require.NoError(t, err)
	require.Equal(t, hls.MasterPlaylistName, out.Body.Detail)
	require.NotEmpty(t, out.Body.DocID)
	require.Contains(t, out.Body.URL, "doc_id=")
}

func TestInitiateStream_ForbiddenForStranger(t *testing.T) {
	h, resources, _, _ := setupStreamHandler(t)
	resourceID := mustCreateStreamResource(t, resources, 1, 1)

	_, err := h.InitiateStream(context.Background(), &InitiateStreamInput{UsrID: 99, ResourceID: resourceID.String()})
	require.Error(t, err)
}

func TestInitiateStream_UnknownResourceReturns404(t *testing.T) {
	h, _, _, _ := setupStreamHandler(t)

	_, err := h.InitiateStream(context.Background(), &InitiateStreamInput{UsrID: 1, ResourceID: models.NewULID().String()})
	require.Error(t, err)
}

func fetchElement(t *testing.T, h *StreamHandler, usrID uint64, docID, detail string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/element?doc_id="+docID+"&detail="+detail, nil)
	req.Header.Set(middleware.UsrIDHeader, strconv.FormatUint(usrID, 10))
	rec := httptest.NewRecorder()
	middleware.ABAC(http.HandlerFunc(h.FetchStreamingElement)).ServeHTTP(rec, req)
	return rec
}

func TestFetchStreamingElement_MasterPlaylist(t *testing.T) {
	h, resources, _, backend := setupStreamHandler(t)
	resourceID := mustCreateStreamResource(t, resources, 1, 1)

	keyA, err := hls.GenerateCryptoKey("Id", 128)
	require.NoError(t, err)
	keyB, err := hls.GenerateCryptoKey("De", 128)
	require.NoError(t, err)
	writeCommittedVariant(t, backend.BaseDir(), 1, 1, "Id", keyA)
	writeCommittedVariant(t, backend.BaseDir(), 1, 1, "De", keyB)

	docID := encodeDocID(resourceID)
	rec := fetchElement(t, h, 1, docID, hls.MasterPlaylistName)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "#EXTM3U")
	require.Contains(t, body, "Id/mdia_plist.m3u8")
	require.Contains(t, body, "De/mdia_plist.m3u8")
	require.Equal(t, "private, no-cache", rec.Header().Get("Cache-Control"))
}

func TestFetchStreamingElement_MediaPlaylist(t *testing.T) {
	h, resources, _, backend := setupStreamHandler(t)
	resourceID := mustCreateStreamResource(t, resources, 2, 1)

	key, err := hls.GenerateCryptoKey("Id", 128)
	require.NoError(t, err)
	writeCommittedVariant(t, backend.BaseDir(), 2, 1, "Id", key)

	docID := encodeDocID(resourceID)
	rec := fetchElement(t, h, 2, docID, "Id/"+hls.MediaPlaylistName)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "#EXT-X-KEY:METHOD=AES-128")
	require.Contains(t, body, "doc_id=")
}

func TestFetchStreamingElement_CryptoKey(t *testing.T) {
	h, resources, _, backend := setupStreamHandler(t)
	resourceID := mustCreateStreamResource(t, resources, 3, 1)

	key, err := hls.GenerateCryptoKey("Id", 128)
	require.NoError(t, err)
	writeCommittedVariant(t, backend.BaseDir(), 3, 1, "Id", key)

	docID := encodeDocID(resourceID)
	rec := fetchElement(t, h, 3, docID, "Id/"+hls.CryptoKeyFileName)

	require.Equal(t, http.StatusOK, rec.Code)
	keyBytes, _, err := key.Bytes()
	require.NoError(t, err)
	require.Equal(t, keyBytes, rec.Body.Bytes())
	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}

func TestFetchStreamingElement_Segment(t *testing.T) {
	h, resources, _, backend := setupStreamHandler(t)
	resourceID := mustCreateStreamResource(t, resources, 4, 1)

	key, err := hls.GenerateCryptoKey("Id", 128)
	require.NoError(t, err)
	writeCommittedVariant(t, backend.BaseDir(), 4, 1, "Id", key)

	docID := encodeDocID(resourceID)
	rec := fetchElement(t, h, 4, docID, "Id/dataseg_0000001")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 32, rec.Body.Len()) // "segment-plaintext" is 17 bytes, rounds up to 32
}

func TestFetchStreamingElement_StrangerForbidden(t *testing.T) {
	h, resources, _, backend := setupStreamHandler(t)
	resourceID := mustCreateStreamResource(t, resources, 5, 1)
	key, err := hls.GenerateCryptoKey("Id", 128)
	require.NoError(t, err)
	writeCommittedVariant(t, backend.BaseDir(), 5, 1, "Id", key)

	docID := encodeDocID(resourceID)
	rec := fetchElement(t, h, 99, docID, hls.MasterPlaylistName)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFetchStreamingElement_VisibleResourceGetsPublicCacheControl(t *testing.T) {
	h, resources, acls, backend := setupStreamHandler(t)
	resourceID := mustCreateStreamResource(t, resources, 6, 1)
	require.NoError(t, acls.UpsertFileLevel(context.Background(), &models.FileLevelACL{ResourceID: resourceID, Visible: true}))

	key, err := hls.GenerateCryptoKey("Id", 128)
	require.NoError(t, err)
	writeCommittedVariant(t, backend.BaseDir(), 6, 1, "Id", key)

	docID := encodeDocID(resourceID)
	rec := fetchElement(t, h, 99, docID, hls.MasterPlaylistName)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
}

func TestFetchStreamingElement_UnknownResourceReturns404(t *testing.T) {
	h, _, _, _ := setupStreamHandler(t)

	rec := fetchElement(t, h, 1, encodeDocID(models.NewULID()), hls.MasterPlaylistName)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFetchStreamingElement_InvalidDocID(t *testing.T) {
	h, _, _, _ := setupStreamHandler(t)

	rec := fetchElement(t, h, 1, "not-valid-base64!!", hls.MasterPlaylistName)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
