package models

import (
	"fmt"
	"time"
)

// PrincipalKind tags the three actor roles the portal knows about.
//
// The original portal scattered string comparisons ("student", "faculty",
// "staff") through every controller. Here the kind is a single tagged type:
// kind-specific behavior lives in the authorizer (which roster relation to
// consult) and in display-name formatting, nowhere else.
type PrincipalKind string

const (
	// KindStudent is a primary member of a project group.
	KindStudent PrincipalKind = "student"
	// KindFaculty is the supervisor allocated to a group. Only faculty
	// may pin messages.
	KindFaculty PrincipalKind = "faculty"
	// KindStaff is the assisting staff member assigned to a group.
	KindStaff PrincipalKind = "staff"
)

// Valid reports whether k is one of the three known kinds. Anything else
// (including the zero value) is treated as unauthorized everywhere.
func (k PrincipalKind) Valid() bool {
	switch k {
	case KindStudent, KindFaculty, KindStaff:
		return true
	}
	return false
}

// Principal is an authenticated actor: exactly one kind, one numeric id.
// It is derived once from the session token when a connection (or HTTP
// request) is authenticated and never changes for the connection's lifetime.
type Principal struct {
	Kind        PrincipalKind `json:"kind"`
	ID          int64         `json:"id"`
	DisplayName string        `json:"display_name"`
}

// Equals reports whether two principals identify the same actor.
// Display name is presentation only and does not participate in identity.
func (p Principal) Equals(other Principal) bool {
	return p.Kind == other.Kind && p.ID == other.ID
}

// FormatDisplayName applies the portal's presentation rules for a sender
// name: faculty get the "Dr." honorific, staff get a "(staff)" suffix.
func FormatDisplayName(kind PrincipalKind, name string) string {
	switch kind {
	case KindFaculty:
		return "Dr. " + name
	case KindStaff:
		return name + " (staff)"
	default:
		return name
	}
}

// Message is one row of the chat log.
//
// Why int64 for ID (not UUID)?
//   - Messages are the highest-volume table; bigserial is smaller and the
//     generated ids are naturally ordered, so id order == creation order.
//   - Edit, pin and reply targeting all key on this single id, which is
//     unique across the whole system, not per room.
//
// A message body is exactly one of two kinds: text (Text set, FilePath nil)
// or attachment (FilePath/FileName set, Text empty). RoomID, the sender and
// the body kind are immutable after creation; only the text content,
// EditedAt and Pinned may change.
type Message struct {
	ID         int64         `json:"message_id"`
	RoomID     int64         `json:"group_id"`
	SenderKind PrincipalKind `json:"sender_type"`
	SenderID   int64         `json:"sender_id"`
	SenderName string        `json:"sender_name,omitempty"`

	Text     string  `json:"message_content,omitempty"`
	FilePath *string `json:"file_path,omitempty"`
	FileName *string `json:"file_original_name,omitempty"`

	ReplyTo *int64 `json:"reply_to_message_id,omitempty"`

	Pinned    bool       `json:"is_pinned"`
	CreatedAt time.Time  `json:"timestamp"`
	EditedAt  *time.Time `json:"edited_timestamp,omitempty"`

	// ReplyContext is populated on history reads when ReplyTo is set.
	// It is a read-model convenience, never persisted.
	ReplyContext *ReplyContext `json:"reply_context,omitempty"`

	// IsOwner is computed per requesting principal on history reads.
	IsOwner bool `json:"is_owner"`
}

// IsAttachment reports whether the message body is a file attachment.
// Attachment messages are never editable.
func (m *Message) IsAttachment() bool {
	return m.FilePath != nil
}

// Edited reports whether the message has ever been edited.
func (m *Message) Edited() bool {
	return m.EditedAt != nil
}

// Sender returns the message's sender as a Principal (without display name).
func (m *Message) Sender() Principal {
	return Principal{Kind: m.SenderKind, ID: m.SenderID}
}

// ReplyContext is the preview attached to a reply when history is read.
// If the referenced message no longer resolves, the preview degrades to a
// placeholder; a dangling reference never invalidates the reply itself.
type ReplyContext struct {
	MessageID  int64  `json:"message_id"`
	Preview    string `json:"original_content"`
	SenderName string `json:"sender_name"`
}

// ReplyUnavailable is the preview text used when the referenced message
// cannot be resolved at read time.
const ReplyUnavailable = "[Original message unavailable]"

// TruncatePreview shortens a reply preview to the configured budget,
// keeping max-3 characters plus an ellipsis when the text is too long.
func TruncatePreview(text string, max int) string {
	if max <= 3 || len(text) <= max {
		return text
	}
	return text[:max-3] + "..."
}

// MessageDraft is what the protocol handler hands to the store for append.
// The store assigns ID and CreatedAt at persistence time.
type MessageDraft struct {
	RoomID     int64
	SenderKind PrincipalKind
	SenderID   int64
	SenderName string

	// Exactly one of Text / (FilePath, FileName) is set.
	Text     string
	FilePath *string
	FileName *string

	// ReplyTo must already be validated against the draft's room; the
	// handler drops cross-room links before the draft reaches the store.
	ReplyTo *int64
}

// Validate enforces the draft's body shape before it is persisted.
func (d *MessageDraft) Validate() error {
	if !d.SenderKind.Valid() || d.SenderID <= 0 {
		return fmt.Errorf("draft has invalid sender %s/%d", d.SenderKind, d.SenderID)
	}
	hasText := d.Text != ""
	hasFile := d.FilePath != nil
	if hasText == hasFile {
		return fmt.Errorf("draft must have exactly one body kind (text=%v, file=%v)", hasText, hasFile)
	}
	if hasFile && d.ReplyTo != nil {
		return fmt.Errorf("attachment drafts cannot carry a reply reference")
	}
	return nil
}
