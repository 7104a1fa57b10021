package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const seqInsertAttempts = 5

// AppendMessage persists one chat message and assigns it the next ordering
// key for the room. The seq is computed and inserted in one statement and
// (room_id, seq) is unique, so concurrent writers that collide retry and end
// up with distinct, gapless keys.
func (s *Store) AppendMessage(ctx context.Context, roomID, senderID, recipientID, text string, nowMs int64) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, fmt.Errorf("db not initialized")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return MessageRow{}, ErrEmptyMessage
	}

	q := `INSERT INTO messages (id, room_id, sender_id, recipient_id, seq, text, is_read, created_at_ms)
		SELECT ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?, 0, ?
		FROM messages WHERE room_id = ?
		RETURNING seq;`

	var lastErr error
	for attempt := 0; attempt < seqInsertAttempts; attempt++ {
		messageID := uuid.NewString()
		var seq int64
		err := s.db.QueryRowContext(ctx, s.rebind(q),
			messageID, roomID, senderID, recipientID, text, nowMs, roomID,
		).Scan(&seq)
		if err == nil {
			return MessageRow{
				ID:          messageID,
				RoomID:      roomID,
				SenderID:    senderID,
				RecipientID: recipientID,
				Seq:         seq,
				Text:        text,
				CreatedAtMs: nowMs,
			}, nil
		}
		if !isUniqueViolation(err) {
			return MessageRow{}, err
		}
		lastErr = err
	}

	return MessageRow{}, fmt.Errorf("assign message seq: %w", lastErr)
}

// ListMessages returns the room's full history in ascending seq order.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]MessageRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, room_id, sender_id, recipient_id, seq, text, is_read, created_at_ms
		FROM messages
		WHERE room_id = ?
		ORDER BY seq ASC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []MessageRow
	for rows.Next() {
		var m MessageRow
		var isRead int
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.RecipientID, &m.Seq, &m.Text, &isRead, &m.CreatedAtMs); err != nil {
			return nil, err
		}
		m.IsRead = isRead == 1
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkMessagesRead flips the read flag on every message in the room addressed
// to the reader. The flag is the only mutable field of a message.
func (s *Store) MarkMessagesRead(ctx context.Context, roomID, readerID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("db not initialized")
	}

	q := `UPDATE messages SET is_read = 1 WHERE room_id = ? AND recipient_id = ? AND is_read = 0;`
	res, err := s.db.ExecContext(ctx, s.rebind(q), roomID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
