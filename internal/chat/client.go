package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/anurag-kawade/projecthub-chat/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Large enough for a max-length message plus JSON envelope, small
	// enough that a misbehaving client can't buffer megabytes server-side.
	maxInboundBytes = 64 * 1024

	sendBuffer = 256
)

// clientIDCounter hands out unique connection ids for logging and for the
// broker's bookkeeping.
var clientIDCounter atomic.Uint64

// Command is a decoded client-to-server action. One struct covers all five
// actions; Action discriminates and unused fields stay zero.
type Command struct {
	Action string `json:"action"`

	RoomID  int64  `json:"group_id,omitempty"`
	Text    string `json:"message_content,omitempty"`
	ReplyTo *int64 `json:"reply_to_message_id,omitempty"`

	MessageID int64  `json:"message_id,omitempty"`
	NewText   string `json:"new_content,omitempty"`
}

const (
	ActionJoin      = "join"
	ActionLeave     = "leave"
	ActionSend      = "send"
	ActionEdit      = "edit"
	ActionTogglePin = "togglePin"
)

// Client pumps one websocket connection: a read goroutine decoding commands
// and running them through the protocol handler, a write goroutine draining
// the buffered event channel. The connection is bound to exactly one
// authenticated principal for its whole lifetime.
type Client struct {
	id        uint64
	principal models.Principal
	conn      *websocket.Conn
	handler   *Handler
	logger    *zap.Logger

	send      chan Event
	closeOnce sync.Once
}

// NewClient wraps an already-upgraded, already-authenticated connection.
func NewClient(conn *websocket.Conn, principal models.Principal, handler *Handler, logger *zap.Logger) *Client {
	id := clientIDCounter.Add(1)
	return &Client{
		id:        id,
		principal: principal,
		conn:      conn,
		handler:   handler,
		logger: logger.With(
			zap.Uint64("conn_id", id),
			zap.String("kind", string(principal.Kind)),
			zap.Int64("principal_id", principal.ID),
		),
		send: make(chan Event, sendBuffer),
	}
}

func (c *Client) ID() uint64 {
	return c.id
}

// Deliver implements Subscriber with a non-blocking push. A full buffer
// means the client can't keep up; the connection is closed so the read
// pump unwinds through the normal disconnect path, and false tells the
// broker to drop the subscriptions immediately.
func (c *Client) Deliver(ev Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		c.closeOnce.Do(func() {
			_ = c.conn.Close()
		})
		return false
	}
}

// Start launches both pumps. It returns immediately; cleanup happens when
// the read pump exits.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		// Order matters: release broker state first (after which no new
		// events can target this client), then close the send channel so
		// the write pump drains and exits.
		c.handler.Disconnect(c)
		close(c.send)
		c.closeOnce.Do(func() {
			_ = c.conn.Close()
		})
		c.logger.Info("websocket client disconnected")
	}()

	c.conn.SetReadLimit(maxInboundBytes)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// One command at a time per connection: store round trips block this
	// connection's loop only, never another client's.
	ctx := context.Background()
	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected websocket close", zap.Error(err))
			}
			return
		}
		c.dispatch(ctx, cmd)
	}
}

func (c *Client) dispatch(ctx context.Context, cmd Command) {
	switch cmd.Action {
	case ActionJoin:
		c.handler.Join(ctx, c, c.principal, cmd.RoomID)
	case ActionLeave:
		c.handler.Leave(c, cmd.RoomID)
	case ActionSend:
		c.handler.Send(ctx, c, c.principal, SendRequest{
			RoomID:  cmd.RoomID,
			Text:    cmd.Text,
			ReplyTo: cmd.ReplyTo,
		})
	case ActionEdit:
		c.handler.Edit(ctx, c, c.principal, EditRequest{
			MessageID: cmd.MessageID,
			NewText:   cmd.NewText,
		})
	case ActionTogglePin:
		c.handler.TogglePin(ctx, c, c.principal, cmd.MessageID)
	default:
		c.logger.Debug("ignoring unknown action", zap.String("action", cmd.Action))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeOnce.Do(func() {
			_ = c.conn.Close()
		})
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Warn("failed to write event", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
