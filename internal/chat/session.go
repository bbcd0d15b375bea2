package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/anurag-kawade/projecthub-chat/internal/models"
	"github.com/anurag-kawade/projecthub-chat/internal/repository"
)

// Publisher is where room events go after a successful mutation. The
// in-memory Broker satisfies it directly; when a Redis backplane is
// configured, a fan-out wrapper satisfies it instead and the broker sits
// behind that.
type Publisher interface {
	Publish(roomID int64, ev Event)
}

// HandlerConfig carries the product constants the protocol enforces.
type HandlerConfig struct {
	// EditWindow is how long after creation the sender may edit a text
	// message. The portal shipped with 5 minutes.
	EditWindow time.Duration

	// MaxMessageChars caps message length after trimming, in runes.
	MaxMessageChars int

	// StoreTimeout bounds each message-store round trip. A timeout is an
	// error surfaced to the requester, never treated as success.
	StoreTimeout time.Duration
}

// Handler is the chat session protocol: it owns every rule between a
// decoded client action and the store/broker, for all connections.
//
// Per-connection state (the principal, the transport) is passed in by the
// caller; the handler itself is stateless and safe for concurrent use.
// The invariant throughout is authorize, then mutate, then broadcast — a
// rejected action never touches the store, and a store failure never
// broadcasts.
type Handler struct {
	store     repository.MessageRepository
	authz     *Authorizer
	broker    *Broker
	publisher Publisher
	cfg       HandlerConfig
	logger    *zap.Logger

	// now is injectable so edit-window behavior is testable to the
	// millisecond.
	now func() time.Time
}

func NewHandler(
	store repository.MessageRepository,
	authz *Authorizer,
	broker *Broker,
	publisher Publisher,
	cfg HandlerConfig,
	logger *zap.Logger,
) *Handler {
	if publisher == nil {
		publisher = broker
	}
	return &Handler{
		store:     store,
		authz:     authz,
		broker:    broker,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SendRequest is a decoded send action.
type SendRequest struct {
	RoomID  int64
	Text    string
	ReplyTo *int64
}

// EditRequest is a decoded edit action.
type EditRequest struct {
	MessageID int64
	NewText   string
}

// Join subscribes the connection to a room after an authorization check.
// A rejection goes to the requester only and leaves the connection in
// whatever rooms it already has; an unauthorized join never reaches the
// broker at all.
func (h *Handler) Join(ctx context.Context, sub Subscriber, p models.Principal, roomID int64) {
	if !h.authz.IsAuthorized(ctx, p, roomID) {
		h.logger.Warn("join rejected",
			zap.String("kind", string(p.Kind)),
			zap.Int64("principal_id", p.ID),
			zap.Int64("room_id", roomID),
		)
		sub.Deliver(Event{Type: EventJoinRejected, Data: JoinRejectedData{RoomID: roomID, Reason: ReasonNotAuthorized}})
		return
	}

	h.broker.Subscribe(sub, roomID)
	sub.Deliver(Event{Type: EventJoined, Data: JoinedData{RoomID: roomID}})
}

// Leave drops the room subscription. Leaving a room the connection never
// joined is a no-op.
func (h *Handler) Leave(sub Subscriber, roomID int64) {
	h.broker.Unsubscribe(sub, roomID)
}

// Disconnect releases everything the connection holds. Called by the
// transport on close; no events are processed for the connection after it.
func (h *Handler) Disconnect(sub Subscriber) {
	h.broker.Disconnect(sub)
}

// Send validates, persists and broadcasts a text message.
func (h *Handler) Send(ctx context.Context, sub Subscriber, p models.Principal, req SendRequest) {
	reject := func(reason string) {
		sub.Deliver(Event{Type: EventSendRejected, Data: SendRejectedData{RoomID: req.RoomID, Reason: reason}})
	}

	text := strings.TrimSpace(req.Text)
	if req.RoomID <= 0 {
		reject(ReasonInvalidMessage)
		return
	}
	if text == "" {
		reject(ReasonEmptyMessage)
		return
	}
	if utf8.RuneCountInString(text) > h.cfg.MaxMessageChars {
		reject(ReasonMessageTooLong)
		return
	}

	// Membership is re-checked at the broker per action, not just at join
	// time: a connection that left the room mid-session can't keep
	// writing into it.
	if !h.broker.IsSubscribed(sub, req.RoomID) {
		reject(ReasonNotJoined)
		return
	}

	// A reply that doesn't resolve to a message in the same room loses
	// the link; it never fails the whole send.
	replyTo := req.ReplyTo
	if replyTo != nil {
		sctx, cancel := h.storeCtx(ctx)
		ok, err := h.store.ExistsInRoom(sctx, *replyTo, req.RoomID)
		cancel()
		if err != nil {
			h.logger.Error("reply validation failed", zap.Int64("reply_to", *replyTo), zap.Error(err))
			reject(ReasonInternalError)
			return
		}
		if !ok {
			h.logger.Debug("dropping cross-room or dangling reply link",
				zap.Int64("reply_to", *replyTo),
				zap.Int64("room_id", req.RoomID),
			)
			replyTo = nil
		}
	}

	draft := models.MessageDraft{
		RoomID:     req.RoomID,
		SenderKind: p.Kind,
		SenderID:   p.ID,
		SenderName: models.FormatDisplayName(p.Kind, p.DisplayName),
		Text:       text,
		ReplyTo:    replyTo,
	}

	sctx, cancel := h.storeCtx(ctx)
	msg, err := h.store.Append(sctx, draft)
	cancel()
	if err != nil {
		h.logger.Error("failed to append message",
			zap.Int64("room_id", req.RoomID),
			zap.Error(err),
		)
		reject(ReasonInternalError)
		return
	}

	h.publisher.Publish(req.RoomID, newMessageEvent(msg))
}

// Edit rewrites a text message's content within the edit window. Every
// failure is unicast with a reason code and leaves the message untouched.
func (h *Handler) Edit(ctx context.Context, sub Subscriber, p models.Principal, req EditRequest) {
	reject := func(reason string) {
		sub.Deliver(Event{Type: EventEditRejected, Data: EditRejectedData{MessageID: req.MessageID, Reason: reason}})
	}

	text := strings.TrimSpace(req.NewText)
	if req.MessageID <= 0 {
		reject(ReasonInvalidMessage)
		return
	}
	if text == "" {
		reject(ReasonEmptyMessage)
		return
	}
	if utf8.RuneCountInString(text) > h.cfg.MaxMessageChars {
		reject(ReasonMessageTooLong)
		return
	}

	sctx, cancel := h.storeCtx(ctx)
	msg, err := h.store.GetByID(sctx, req.MessageID)
	cancel()
	if err != nil {
		h.logger.Error("failed to load message for edit", zap.Int64("message_id", req.MessageID), zap.Error(err))
		reject(ReasonInternalError)
		return
	}
	if msg == nil {
		reject(ReasonNotFound)
		return
	}

	if !h.broker.IsSubscribed(sub, msg.RoomID) {
		reject(ReasonNotJoined)
		return
	}
	// Ownership is exact: same kind and same id. A faculty member cannot
	// edit a student's message even with the same numeric id.
	if !msg.Sender().Equals(p) {
		reject(ReasonNotOwner)
		return
	}
	if msg.IsAttachment() {
		reject(ReasonNotEditable)
		return
	}
	if h.now().Sub(msg.CreatedAt) > h.cfg.EditWindow {
		reject(ReasonEditWindowExpired)
		return
	}

	sctx, cancel = h.storeCtx(ctx)
	editedAt, err := h.store.SetText(sctx, req.MessageID, text)
	cancel()
	if errors.Is(err, repository.ErrNotFound) {
		reject(ReasonNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to edit message", zap.Int64("message_id", req.MessageID), zap.Error(err))
		reject(ReasonInternalError)
		return
	}

	h.publisher.Publish(msg.RoomID, Event{Type: EventMessageEdited, Data: MessageEditedData{
		MessageID:  req.MessageID,
		NewContent: text,
		EditedAt:   editedAt,
	}})
}

// TogglePin flips a message's pinned flag. Supervisors (faculty) only, and
// only for rooms they are allocated to; everyone in the room sees the
// resulting state change, only the requester sees a rejection.
func (h *Handler) TogglePin(ctx context.Context, sub Subscriber, p models.Principal, messageID int64) {
	reject := func(reason string) {
		sub.Deliver(Event{Type: EventPinRejected, Data: PinRejectedData{MessageID: messageID, Reason: reason}})
	}

	if messageID <= 0 {
		reject(ReasonInvalidMessage)
		return
	}
	if p.Kind != models.KindFaculty {
		reject(ReasonSupervisorOnly)
		return
	}

	sctx, cancel := h.storeCtx(ctx)
	msg, err := h.store.GetByID(sctx, messageID)
	cancel()
	if err != nil {
		h.logger.Error("failed to load message for pin", zap.Int64("message_id", messageID), zap.Error(err))
		reject(ReasonInternalError)
		return
	}
	if msg == nil {
		reject(ReasonNotFound)
		return
	}

	if !h.authz.IsAuthorized(ctx, p, msg.RoomID) {
		reject(ReasonNotAuthorized)
		return
	}

	sctx, cancel = h.storeCtx(ctx)
	pinned, err := h.store.TogglePin(sctx, messageID)
	cancel()
	if errors.Is(err, repository.ErrNotFound) {
		reject(ReasonNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to toggle pin", zap.Int64("message_id", messageID), zap.Error(err))
		reject(ReasonInternalError)
		return
	}

	h.publisher.Publish(msg.RoomID, Event{Type: EventPinStatusChanged, Data: PinStatusChangedData{
		MessageID: messageID,
		Pinned:    pinned,
	}})
}

// PublishMessage broadcasts an already-persisted message to its room. The
// attachment upload path uses this: ingestion appends over HTTP, then joins
// the same broadcast path as a regular send.
func (h *Handler) PublishMessage(msg *models.Message) {
	h.publisher.Publish(msg.RoomID, newMessageEvent(msg))
}

func (h *Handler) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.cfg.StoreTimeout)
}
