package chat

import (
	"time"

	"github.com/anurag-kawade/projecthub-chat/internal/models"
)

// Event is the envelope for everything the server pushes to a client,
// broadcast or unicast. Data carries one of the payload structs below
// (or a *models.Message for new_message).
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Broadcast event types: delivered to every subscriber of a room,
// including the connection that triggered them.
const (
	EventNewMessage       = "newMessage"
	EventMessageEdited    = "messageEdited"
	EventPinStatusChanged = "pinStatusChanged"
)

// Unicast event types: delivered to the requesting connection only.
// Failures are never broadcast; one connection's rejection is invisible
// to the rest of the room.
const (
	EventJoined       = "joined"
	EventJoinRejected = "joinRejected"
	EventSendRejected = "sendRejected"
	EventEditRejected = "editRejected"
	EventPinRejected  = "pinRejected"
)

// Stable reason codes carried by rejection events. Clients key UI copy off
// these; raw error text never crosses the wire.
const (
	ReasonNotAuthorized     = "not_authorized"
	ReasonNotJoined         = "not_joined"
	ReasonEmptyMessage      = "empty_message"
	ReasonMessageTooLong    = "message_too_long"
	ReasonInvalidMessage    = "invalid_message"
	ReasonNotFound          = "not_found"
	ReasonNotOwner          = "not_owner"
	ReasonEditWindowExpired = "edit_window_expired"
	ReasonNotEditable       = "not_editable"
	ReasonSupervisorOnly    = "supervisor_only"
	ReasonInternalError     = "internal_error"
)

type JoinedData struct {
	RoomID int64 `json:"group_id"`
}

type JoinRejectedData struct {
	RoomID int64  `json:"group_id"`
	Reason string `json:"reason"`
}

type SendRejectedData struct {
	RoomID int64  `json:"group_id"`
	Reason string `json:"reason"`
}

type EditRejectedData struct {
	MessageID int64  `json:"message_id"`
	Reason    string `json:"reason"`
}

type PinRejectedData struct {
	MessageID int64  `json:"message_id"`
	Reason    string `json:"reason"`
}

type MessageEditedData struct {
	MessageID  int64     `json:"message_id"`
	NewContent string    `json:"new_content"`
	EditedAt   time.Time `json:"edited_at"`
}

type PinStatusChangedData struct {
	MessageID int64 `json:"message_id"`
	Pinned    bool  `json:"is_pinned"`
}

func newMessageEvent(msg *models.Message) Event {
	return Event{Type: EventNewMessage, Data: msg}
}
