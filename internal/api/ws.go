package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/anurag-kawade/projecthub-chat/internal/chat"
	"github.com/anurag-kawade/projecthub-chat/internal/middleware"
)

// WSHandler upgrades authenticated requests to persistent chat
// connections. AuthMiddleware runs before this handler, so a request with
// no derivable principal is rejected with a 401 before the upgrade is ever
// attempted — authentication failure is fatal to the connection, not an
// in-band error.
type WSHandler struct {
	protocol *chat.Handler
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewWSHandler(protocol *chat.Handler, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		protocol: protocol,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The portal serves the chat page and this endpoint from the
			// same origin behind one reverse proxy; the session token is
			// the access control, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Connect handles GET /v1/chat/ws
func (h *WSHandler) Connect(c *gin.Context) {
	p := middleware.GetPrincipal(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := chat.NewClient(conn, p, h.protocol, h.logger)
	h.logger.Info("websocket client connected",
		zap.Uint64("conn_id", client.ID()),
		zap.String("kind", string(p.Kind)),
		zap.Int64("principal_id", p.ID),
	)
	client.Start()
}
