package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/anurag-kawade/projecthub-chat/internal/blob"
	"github.com/anurag-kawade/projecthub-chat/internal/chat"
	"github.com/anurag-kawade/projecthub-chat/internal/middleware"
	"github.com/anurag-kawade/projecthub-chat/internal/models"
	"github.com/anurag-kawade/projecthub-chat/internal/repository"
)

// UploadHandler is attachment ingestion: validate, persist the blob, then
// inject a synthetic attachment message into the same log and broadcast
// path a regular send uses. Attachments never carry a reply reference —
// the endpoint does not accept one.
type UploadHandler struct {
	store    repository.MessageRepository
	blobs    blob.Store
	authz    *chat.Authorizer
	protocol *chat.Handler

	publicPath func(string) string
	maxBytes   int64
	logger     *zap.Logger
}

func NewUploadHandler(
	store repository.MessageRepository,
	blobs blob.Store,
	authz *chat.Authorizer,
	protocol *chat.Handler,
	publicPath func(string) string,
	maxBytes int64,
	logger *zap.Logger,
) *UploadHandler {
	return &UploadHandler{
		store:      store,
		blobs:      blobs,
		authz:      authz,
		protocol:   protocol,
		publicPath: publicPath,
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// Upload handles POST /v1/chat/rooms/:roomId/attachments with a multipart
// "chatFile" part.
func (h *UploadHandler) Upload(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	p := middleware.GetPrincipal(c)
	if !h.authz.IsAuthorized(c.Request.Context(), p, roomID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this group"})
		return
	}

	fileHeader, err := c.FormFile("chatFile")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}
	// Oversize uploads are rejected before any byte hits blob storage.
	if fileHeader.Size > h.maxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds maximum size"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file upload failed"})
		return
	}
	defer f.Close()

	storagePath, err := h.blobs.Save(f, fileHeader.Filename)
	if err != nil {
		h.logger.Error("failed to store attachment blob", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file upload failed"})
		return
	}

	originalName := fileHeader.Filename
	draft := models.MessageDraft{
		RoomID:     roomID,
		SenderKind: p.Kind,
		SenderID:   p.ID,
		SenderName: models.FormatDisplayName(p.Kind, p.DisplayName),
		FilePath:   &storagePath,
		FileName:   &originalName,
	}

	msg, err := h.store.Append(c.Request.Context(), draft)
	if err != nil {
		// The blob landed but the log row didn't: delete the orphaned
		// blob before surfacing the error to the uploader.
		if rmErr := h.blobs.Remove(storagePath); rmErr != nil {
			h.logger.Error("failed to remove orphaned blob", zap.String("path", storagePath), zap.Error(rmErr))
		}
		h.logger.Error("failed to record attachment message", zap.Int64("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record file message"})
		return
	}

	// Broadcast carries the public URL, never the storage path.
	public := h.publicPath(storagePath)
	msg.FilePath = &public
	h.protocol.PublishMessage(msg)

	c.JSON(http.StatusCreated, gin.H{
		"message_id":         msg.ID,
		"file_path":          public,
		"file_original_name": originalName,
		"timestamp":          msg.CreatedAt,
	})
}
