package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anurag-kawade/projecthub-chat/internal/chat"
	"github.com/anurag-kawade/projecthub-chat/internal/middleware"
	"github.com/anurag-kawade/projecthub-chat/internal/models"
	"github.com/anurag-kawade/projecthub-chat/internal/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubStore serves canned history rows and records appended drafts.
type stubStore struct {
	mu       sync.Mutex
	history  []models.Message
	pinned   []models.Message
	readErr  error
	appendErr error
	appended []models.MessageDraft
	nextID   int64
}

func (s *stubStore) Append(_ context.Context, draft models.MessageDraft) (*models.Message, error) {
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, draft)
	s.nextID++
	return &models.Message{
		ID:         s.nextID,
		RoomID:     draft.RoomID,
		SenderKind: draft.SenderKind,
		SenderID:   draft.SenderID,
		SenderName: draft.SenderName,
		Text:       draft.Text,
		FilePath:   draft.FilePath,
		FileName:   draft.FileName,
		ReplyTo:    draft.ReplyTo,
		CreatedAt:  time.Now(),
	}, nil
}

func (s *stubStore) History(context.Context, int64) ([]models.Message, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.history, nil
}

func (s *stubStore) Pinned(context.Context, int64) ([]models.Message, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.pinned, nil
}

func (s *stubStore) GetByID(context.Context, int64) (*models.Message, error) { return nil, nil }

func (s *stubStore) SetText(context.Context, int64, string) (time.Time, error) {
	return time.Time{}, repository.ErrNotFound
}

func (s *stubStore) TogglePin(context.Context, int64) (bool, error) {
	return false, repository.ErrNotFound
}

func (s *stubStore) ExistsInRoom(context.Context, int64, int64) (bool, error) { return false, nil }

// stubRoster grants or denies everyone uniformly.
type stubRoster struct {
	allow bool
}

func (r *stubRoster) IsMember(context.Context, models.PrincipalKind, int64, int64) (bool, error) {
	return r.allow, nil
}

func testAuthorizer(allow bool) *chat.Authorizer {
	return chat.NewAuthorizer(&stubRoster{allow: allow}, time.Second, zap.NewNop())
}

// principalMiddleware injects an already-authenticated principal, standing in
// for the session-token middleware.
func principalMiddleware(p models.Principal) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyPrincipal, p)
		c.Next()
	}
}

func publicPath(storagePath string) string {
	return "/uploads/" + storagePath[len("blobdir/"):]
}

var requester = models.Principal{Kind: models.KindStudent, ID: 5, DisplayName: "Asha Rao"}

func historyRouter(store *stubStore, allow bool, p models.Principal) *gin.Engine {
	h := NewChatHandler(store, testAuthorizer(allow), publicPath, zap.NewNop())
	r := gin.New()
	r.GET("/rooms/:roomId/messages", principalMiddleware(p), h.History)
	r.GET("/rooms/:roomId/messages/pinned", principalMiddleware(p), h.Pinned)
	return r
}

func doGet(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHistoryMarksOwnershipAndRewritesFilePaths(t *testing.T) {
	storagePath := "blobdir/abc.pdf"
	name := "report.pdf"
	store := &stubStore{history: []models.Message{
		{ID: 1, RoomID: 42, SenderKind: models.KindStudent, SenderID: 5, Text: "mine"},
		{ID: 2, RoomID: 42, SenderKind: models.KindFaculty, SenderID: 9, Text: "theirs"},
		{ID: 3, RoomID: 42, SenderKind: models.KindStudent, SenderID: 5, FilePath: &storagePath, FileName: &name},
	}}

	w := doGet(t, historyRouter(store, true, requester), "/rooms/42/messages")

	require.Equal(t, http.StatusOK, w.Code)
	var got []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 3)

	assert.True(t, got[0].IsOwner)
	assert.False(t, got[1].IsOwner)
	assert.True(t, got[2].IsOwner)

	// Clients see the public URL, never the storage path.
	require.NotNil(t, got[2].FilePath)
	assert.Equal(t, "/uploads/abc.pdf", *got[2].FilePath)
}

func TestHistoryForbiddenForNonMembers(t *testing.T) {
	store := &stubStore{history: []models.Message{{ID: 1, RoomID: 42}}}

	w := doGet(t, historyRouter(store, false, requester), "/rooms/42/messages")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "message_id")
}

func TestHistoryRejectsBadRoomParam(t *testing.T) {
	store := &stubStore{}
	r := historyRouter(store, true, requester)

	for _, path := range []string{"/rooms/abc/messages", "/rooms/0/messages", "/rooms/-1/messages"} {
		w := doGet(t, r, path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestHistoryStoreFailureIs500(t *testing.T) {
	store := &stubStore{readErr: assert.AnError}

	w := doGet(t, historyRouter(store, true, requester), "/rooms/42/messages")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPinnedServesPinnedList(t *testing.T) {
	store := &stubStore{pinned: []models.Message{
		{ID: 9, RoomID: 42, SenderKind: models.KindFaculty, SenderID: 9, Text: "pinned note", Pinned: true},
	}}

	w := doGet(t, historyRouter(store, true, requester), "/rooms/42/messages/pinned")

	require.Equal(t, http.StatusOK, w.Code)
	var got []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.True(t, got[0].Pinned)
	assert.False(t, got[0].IsOwner)
}

func TestPinnedForbiddenForNonMembers(t *testing.T) {
	w := doGet(t, historyRouter(&stubStore{}, false, requester), "/rooms/42/messages/pinned")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
