package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/anurag-kawade/projecthub-chat/internal/chat"
	"github.com/anurag-kawade/projecthub-chat/internal/middleware"
	"github.com/anurag-kawade/projecthub-chat/internal/models"
	"github.com/anurag-kawade/projecthub-chat/internal/repository"
)

// ChatHandler serves the request/response read surface of the chat:
// full room history and the pinned list. Writes go through the websocket
// protocol (and the upload endpoint for attachments); these endpoints are
// what a client loads when it opens or re-opens a room.
type ChatHandler struct {
	store repository.MessageRepository
	authz *chat.Authorizer

	// publicPath maps a stored attachment path to its client-facing URL.
	publicPath func(string) string
	logger     *zap.Logger
}

func NewChatHandler(store repository.MessageRepository, authz *chat.Authorizer, publicPath func(string) string, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{store: store, authz: authz, publicPath: publicPath, logger: logger}
}

// History handles GET /v1/chat/rooms/:roomId/messages
func (h *ChatHandler) History(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	p, ok := h.authorize(c, roomID)
	if !ok {
		return
	}

	messages, err := h.store.History(c.Request.Context(), roomID)
	if err != nil {
		h.logger.Error("failed to load history", zap.Int64("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}

	h.present(messages, p)
	c.JSON(http.StatusOK, messages)
}

// Pinned handles GET /v1/chat/rooms/:roomId/messages/pinned
func (h *ChatHandler) Pinned(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	p, ok := h.authorize(c, roomID)
	if !ok {
		return
	}

	messages, err := h.store.Pinned(c.Request.Context(), roomID)
	if err != nil {
		h.logger.Error("failed to load pinned messages", zap.Int64("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch pinned messages"})
		return
	}

	h.present(messages, p)
	c.JSON(http.StatusOK, messages)
}

// present finalizes the read model for one requesting principal: ownership
// flags and public attachment URLs. Storage paths never reach clients.
func (h *ChatHandler) present(messages []models.Message, p models.Principal) {
	for i := range messages {
		msg := &messages[i]
		msg.IsOwner = msg.Sender().Equals(p)
		if msg.FilePath != nil {
			public := h.publicPath(*msg.FilePath)
			msg.FilePath = &public
		}
	}
}

func (h *ChatHandler) authorize(c *gin.Context, roomID int64) (models.Principal, bool) {
	p := middleware.GetPrincipal(c)
	if !h.authz.IsAuthorized(c.Request.Context(), p, roomID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this group"})
		return p, false
	}
	return p, true
}

func roomParam(c *gin.Context) (int64, bool) {
	roomID, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return 0, false
	}
	return roomID, true
}
