package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anurag-kawade/projecthub-chat/internal/models"
	"github.com/anurag-kawade/projecthub-chat/internal/repository"
)

// MessageStore is the pgx-backed chat log.
//
// previewChars is the reply-preview truncation budget applied when history
// is read; truncation happens in Go, not SQL, so the constant stays in one
// configurable place.
type MessageStore struct {
	pool         *pgxpool.Pool
	previewChars int
}

func NewMessageStore(pool *pgxpool.Pool, previewChars int) *MessageStore {
	return &MessageStore{pool: pool, previewChars: previewChars}
}

func (s *MessageStore) Append(ctx context.Context, draft models.MessageDraft) (*models.Message, error) {
	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("validate draft: %w", err)
	}

	// Messages use bigserial, so Postgres assigns the id; RETURNING gives
	// back both the id and the server-side created_at in one round trip.
	query := `
		INSERT INTO chat_messages (
			group_id, sender_kind, sender_id,
			message_content, file_path, file_original_name, reply_to_message_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	msg := models.Message{
		RoomID:     draft.RoomID,
		SenderKind: draft.SenderKind,
		SenderID:   draft.SenderID,
		SenderName: draft.SenderName,
		Text:       draft.Text,
		FilePath:   draft.FilePath,
		FileName:   draft.FileName,
		ReplyTo:    draft.ReplyTo,
	}
	err := s.pool.QueryRow(ctx, query,
		draft.RoomID, draft.SenderKind, draft.SenderID,
		nullIfEmpty(draft.Text), draft.FilePath, draft.FileName, draft.ReplyTo,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

// historyQuery resolves sender display names from the roster tables and the
// reply preview from a self-join, mirroring what the chat UI renders. The
// COALESCE chains collapse the three possible sender tables to one name.
const historyQuery = `
	SELECT
		cm.id, cm.group_id, cm.sender_kind, cm.sender_id,
		COALESCE(
			CASE cm.sender_kind
				WHEN 'student' THEN s.first_name || ' ' || s.last_name
				WHEN 'faculty' THEN f.first_name || ' ' || f.last_name
				WHEN 'staff'   THEN st.first_name || ' ' || st.last_name
			END, '') AS sender_name,
		COALESCE(cm.message_content, '') AS message_content,
		cm.file_path, cm.file_original_name,
		cm.reply_to_message_id, cm.is_pinned, cm.created_at, cm.edited_at,
		reply.message_content AS reply_content,
		reply.sender_kind AS reply_sender_kind,
		COALESCE(
			CASE reply.sender_kind
				WHEN 'student' THEN rs.first_name || ' ' || rs.last_name
				WHEN 'faculty' THEN rf.first_name || ' ' || rf.last_name
				WHEN 'staff'   THEN rst.first_name || ' ' || rst.last_name
			END, '') AS reply_sender_name
	FROM chat_messages cm
	LEFT JOIN students s   ON cm.sender_kind = 'student' AND cm.sender_id = s.student_id
	LEFT JOIN faculty  f   ON cm.sender_kind = 'faculty' AND cm.sender_id = f.faculty_id
	LEFT JOIN staff    st  ON cm.sender_kind = 'staff'   AND cm.sender_id = st.staff_id
	LEFT JOIN chat_messages reply ON cm.reply_to_message_id = reply.id
	LEFT JOIN students rs  ON reply.sender_kind = 'student' AND reply.sender_id = rs.student_id
	LEFT JOIN faculty  rf  ON reply.sender_kind = 'faculty' AND reply.sender_id = rf.faculty_id
	LEFT JOIN staff    rst ON reply.sender_kind = 'staff'   AND reply.sender_id = rst.staff_id`

func (s *MessageStore) History(ctx context.Context, roomID int64) ([]models.Message, error) {
	// Ordered by id, which the bigserial sequence keeps in creation order
	// and which sorts faster than the timestamp column.
	query := historyQuery + `
	WHERE cm.group_id = $1
	ORDER BY cm.id ASC`

	rows, err := s.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return s.scanMessages(rows)
}

func (s *MessageStore) Pinned(ctx context.Context, roomID int64) ([]models.Message, error) {
	query := historyQuery + `
	WHERE cm.group_id = $1 AND cm.is_pinned = TRUE
	ORDER BY cm.id DESC`

	rows, err := s.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list pinned messages: %w", err)
	}
	defer rows.Close()

	return s.scanMessages(rows)
}

func (s *MessageStore) scanMessages(rows pgx.Rows) ([]models.Message, error) {
	// make(..., 0) so an empty room serializes to [] not null.
	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			msg             models.Message
			rawName         string
			replyContent    *string
			replySenderKind *string
			replySenderName *string
		)
		if err := rows.Scan(
			&msg.ID, &msg.RoomID, &msg.SenderKind, &msg.SenderID,
			&rawName, &msg.Text, &msg.FilePath, &msg.FileName,
			&msg.ReplyTo, &msg.Pinned, &msg.CreatedAt, &msg.EditedAt,
			&replyContent, &replySenderKind, &replySenderName,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		msg.SenderName = models.FormatDisplayName(msg.SenderKind, rawName)

		// A reply whose target row vanished degrades to a placeholder;
		// the reply link itself stays intact.
		if msg.ReplyTo != nil {
			ctx := models.ReplyContext{
				MessageID:  *msg.ReplyTo,
				Preview:    models.ReplyUnavailable,
				SenderName: "User",
			}
			if replyContent != nil {
				ctx.Preview = models.TruncatePreview(*replyContent, s.previewChars)
			}
			if replySenderKind != nil && replySenderName != nil && *replySenderName != "" {
				ctx.SenderName = models.FormatDisplayName(models.PrincipalKind(*replySenderKind), *replySenderName)
			}
			msg.ReplyContext = &ctx
		}

		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *MessageStore) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `
		SELECT id, group_id, sender_kind, sender_id,
			COALESCE(message_content, ''), file_path, file_original_name,
			reply_to_message_id, is_pinned, created_at, edited_at
		FROM chat_messages
		WHERE id = $1`

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.RoomID, &msg.SenderKind, &msg.SenderID,
		&msg.Text, &msg.FilePath, &msg.FileName,
		&msg.ReplyTo, &msg.Pinned, &msg.CreatedAt, &msg.EditedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) SetText(ctx context.Context, id int64, newText string) (time.Time, error) {
	// The file_path IS NULL guard makes "attachments are never editable"
	// hold at the store regardless of what the caller checked: an edit
	// aimed at an attachment simply matches zero rows.
	query := `
		UPDATE chat_messages
		SET message_content = $2, edited_at = now()
		WHERE id = $1 AND file_path IS NULL
		RETURNING edited_at`

	var editedAt time.Time
	err := s.pool.QueryRow(ctx, query, id, newText).Scan(&editedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, repository.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("edit message: %w", err)
	}
	return editedAt, nil
}

func (s *MessageStore) TogglePin(ctx context.Context, id int64) (bool, error) {
	// Single-statement flip: read-then-write across two round trips would
	// lose updates under concurrent toggles, NOT pinned inside one UPDATE
	// cannot. RETURNING reports the state actually committed.
	query := `
		UPDATE chat_messages
		SET is_pinned = NOT is_pinned
		WHERE id = $1
		RETURNING is_pinned`

	var pinned bool
	err := s.pool.QueryRow(ctx, query, id).Scan(&pinned)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, repository.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggle pin: %w", err)
	}
	return pinned, nil
}

func (s *MessageStore) ExistsInRoom(ctx context.Context, id, roomID int64) (bool, error) {
	// SELECT EXISTS stops at the first match — this runs on every reply
	// send, so it stays O(1).
	query := `
		SELECT EXISTS (
			SELECT 1 FROM chat_messages
			WHERE id = $1 AND group_id = $2
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, id, roomID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reply target: %w", err)
	}
	return exists, nil
}

// nullIfEmpty maps an empty text body to SQL NULL so the text/attachment
// exclusivity CHECK in the schema sees exactly one body column set.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
