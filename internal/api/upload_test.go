package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anurag-kawade/projecthub-chat/internal/chat"
	"github.com/anurag-kawade/projecthub-chat/internal/models"
)

// stubBlobs records saves and removals instead of touching disk.
type stubBlobs struct {
	mu      sync.Mutex
	saveErr error
	saved   []string
	removed []string
	counter int
}

func (b *stubBlobs) Save(r io.Reader, _ string) (string, error) {
	if b.saveErr != nil {
		return "", b.saveErr
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counter++
	path := "blobdir/blob-" + string(rune('0'+b.counter)) + ".pdf"
	b.saved = append(b.saved, path)
	return path, nil
}

func (b *stubBlobs) Remove(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, path)
	return nil
}

// captureSub implements chat.Subscriber and records broadcasts.
type captureSub struct {
	mu  sync.Mutex
	got []chat.Event
}

func (s *captureSub) ID() uint64 { return 1 }

func (s *captureSub) Deliver(ev chat.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ev)
	return true
}

func (s *captureSub) events() []chat.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Event, len(s.got))
	copy(out, s.got)
	return out
}

type uploadFixture struct {
	store  *stubStore
	blobs  *stubBlobs
	router *gin.Engine
	member *captureSub
}

func newUploadFixture(t *testing.T, allow bool) *uploadFixture {
	t.Helper()
	store := &stubStore{}
	blobs := &stubBlobs{}
	authz := testAuthorizer(allow)
	broker := chat.NewBroker(zap.NewNop())

	member := &captureSub{}
	broker.Subscribe(member, 42)

	protocol := chat.NewHandler(store, authz, broker, nil, chat.HandlerConfig{
		EditWindow:      5 * time.Minute,
		MaxMessageChars: 4000,
		StoreTimeout:    time.Second,
	}, zap.NewNop())

	h := NewUploadHandler(store, blobs, authz, protocol, publicPath, 1<<20, zap.NewNop())
	r := gin.New()
	r.POST("/rooms/:roomId/attachments", principalMiddleware(requester), h.Upload)

	return &uploadFixture{store: store, blobs: blobs, router: r, member: member}
}

func multipartBody(t *testing.T, fieldName, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = io.Copy(part, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (f *uploadFixture) post(t *testing.T, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestUploadPersistsAndBroadcasts(t *testing.T) {
	f := newUploadFixture(t, true)
	body, contentType := multipartBody(t, "chatFile", "report.pdf", "pdf bytes")

	w := f.post(t, "/rooms/42/attachments", body, contentType)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["message_id"])
	assert.Equal(t, "/uploads/blob-1.pdf", resp["file_path"])
	assert.Equal(t, "report.pdf", resp["file_original_name"])

	// The draft that hit the store is an attachment with no text.
	require.Len(t, f.store.appended, 1)
	draft := f.store.appended[0]
	assert.Equal(t, int64(42), draft.RoomID)
	assert.Equal(t, models.KindStudent, draft.SenderKind)
	assert.Empty(t, draft.Text)
	require.NotNil(t, draft.FilePath)
	assert.Equal(t, "blobdir/blob-1.pdf", *draft.FilePath)
	require.NotNil(t, draft.FileName)
	assert.Equal(t, "report.pdf", *draft.FileName)

	// Room members got a regular newMessage carrying the public URL.
	events := f.member.events()
	require.Len(t, events, 1)
	msg := events[0].Data.(*models.Message)
	require.NotNil(t, msg.FilePath)
	assert.Equal(t, "/uploads/blob-1.pdf", *msg.FilePath)
}

func TestUploadForbiddenForNonMembers(t *testing.T) {
	f := newUploadFixture(t, false)
	body, contentType := multipartBody(t, "chatFile", "report.pdf", "pdf bytes")

	w := f.post(t, "/rooms/42/attachments", body, contentType)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.blobs.saved)
	assert.Empty(t, f.store.appended)
}

func TestUploadRejectsMissingFile(t *testing.T) {
	f := newUploadFixture(t, true)
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.Close())

	w := f.post(t, "/rooms/42/attachments", body, writer.FormDataContentType())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.blobs.saved)
}

func TestUploadRejectsOversizeFileBeforeStorage(t *testing.T) {
	f := newUploadFixture(t, true)
	body, contentType := multipartBody(t, "chatFile", "big.bin", strings.Repeat("x", (1<<20)+1))

	w := f.post(t, "/rooms/42/attachments", body, contentType)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.blobs.saved)
	assert.Empty(t, f.store.appended)
}

func TestUploadRemovesOrphanedBlobWhenAppendFails(t *testing.T) {
	f := newUploadFixture(t, true)
	f.store.appendErr = assert.AnError
	body, contentType := multipartBody(t, "chatFile", "report.pdf", "pdf bytes")

	w := f.post(t, "/rooms/42/attachments", body, contentType)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, f.blobs.saved, 1)
	assert.Equal(t, f.blobs.saved, f.blobs.removed)
	assert.Empty(t, f.member.events())
}

func TestUploadBlobFailureIs500WithoutAppend(t *testing.T) {
	f := newUploadFixture(t, true)
	f.blobs.saveErr = assert.AnError
	body, contentType := multipartBody(t, "chatFile", "report.pdf", "pdf bytes")

	w := f.post(t, "/rooms/42/attachments", body, contentType)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, f.store.appended)
	assert.Empty(t, f.member.events())
}
