package repository

import (
	"context"
	"errors"
	"time"

	"github.com/anurag-kawade/projecthub-chat/internal/models"
)

// ErrNotFound is returned by point mutations whose target row is absent
// (or, for SetText, is not an editable text message). Callers translate it
// into a unicast rejection; it never reaches a client as raw error text.
var ErrNotFound = errors.New("repository: not found")

// Every method takes context.Context first: these are all network round
// trips, and the caller's deadline (HTTP request, websocket action timeout)
// must propagate into the query.

// MessageRepository is the persistent chat log.
//
// Append is a pure insert, SetText and TogglePin target a fixed id with a
// single atomic UPDATE each, so every write is safe to cut off mid-flight:
// a disconnecting client either committed the row or didn't.
type MessageRepository interface {
	// Append persists a draft, assigning id and created_at. The returned
	// message is the committed row. The draft's ReplyTo must already be
	// validated against the draft's room.
	Append(ctx context.Context, draft models.MessageDraft) (*models.Message, error)

	// History returns a room's full log, ascending by creation order,
	// with sender names and reply-context previews resolved.
	History(ctx context.Context, roomID int64) ([]models.Message, error)

	// Pinned returns a room's pinned messages, newest first.
	Pinned(ctx context.Context, roomID int64) ([]models.Message, error)

	// GetByID returns a single message. Returns nil, nil if not found.
	GetByID(ctx context.Context, id int64) (*models.Message, error)

	// SetText replaces a text message's content and stamps edited_at.
	// Returns the edit timestamp actually committed. Fails with
	// ErrNotFound when the id is absent or the message is an attachment;
	// it never silently edits a non-text message.
	SetText(ctx context.Context, id int64, newText string) (time.Time, error)

	// TogglePin flips the pinned flag in one atomic statement and returns
	// the state that was committed, not a pre-read. Concurrent toggles on
	// the same id serialize at the row; the last writer wins.
	TogglePin(ctx context.Context, id int64) (bool, error)

	// ExistsInRoom is the hot-path reply validation: does this message id
	// exist in this room?
	ExistsInRoom(ctx context.Context, id, roomID int64) (bool, error)
}

// RosterRepository answers membership questions against the portal's
// roster tables. Three relations collapse to one boolean per kind:
// students are group members, faculty are allocated supervisors, staff are
// assisting staff.
type RosterRepository interface {
	IsMember(ctx context.Context, kind models.PrincipalKind, principalID, roomID int64) (bool, error)
}
