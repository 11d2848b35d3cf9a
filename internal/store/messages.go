package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

const messageColumns = "id, room_id, sender_id, kind, body, reply_snapshot, edited, edited_at, deleted, status, created_at"

// scanMessage returns errMalformed when the row holds a body that cannot be
// decoded.
func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var (
		m        models.Message
		kind     string
		body     string
		reply    sql.NullString
		editedAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &kind, &body, &reply, &m.Edited, &editedAt, &m.Deleted, &m.Status, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.EditedAt = timePtr(editedAt)

	decoded, err := models.DecodeBody(models.Kind(kind), []byte(body))
	if err != nil {
		return &m, fmt.Errorf("%w: %v", errMalformed, err)
	}
	m.Body = decoded

	if reply.Valid && reply.String != "" {
		var ref models.ReplyRef
		if err := json.Unmarshal([]byte(reply.String), &ref); err == nil {
			m.ReplyTo = &ref
		}
	}
	return &m, nil
}

var errMalformed = errors.New("malformed message")

// AppendMessage stores m and updates the room's preview and unread counters
// in one transaction: every participant except the sender gains one unread
// message and the sender's counter is reset. It returns the participants of
// the room.
//
// m.CreatedAt is raised to the room's newest creation time when it is
// older, so creation times never decrease in write order.
func (s *Store) AppendMessage(ctx context.Context, m *models.Message) ([]string, error) {
	body, err := json.Marshal(m.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: message body cannot be encoded", apperr.ErrValidation)
	}
	var replyID, replySnapshot sql.NullString
	if m.ReplyTo != nil {
		snap, _ := json.Marshal(m.ReplyTo)
		replyID = sql.NullString{String: m.ReplyTo.MessageID, Valid: true}
		replySnapshot = sql.NullString{String: string(snap), Valid: true}
	}

	var participants []string
	err = s.withTx(ctx, "send message", func(tx *sql.Tx) error {
		participants, err = roomParticipants(ctx, tx, m.RoomID)
		if err != nil {
			return err
		}
		if len(participants) == 0 {
			return fmt.Errorf("%w: room not found", apperr.ErrNotFound)
		}
		if !contains(participants, m.SenderID) {
			return fmt.Errorf("%w: you are not a participant of this room", apperr.ErrForbidden)
		}

		var latest sql.NullTime
		err = tx.QueryRowContext(ctx,
			"SELECT created_at FROM messages WHERE room_id = ? ORDER BY seq DESC LIMIT 1", m.RoomID).Scan(&latest)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return dbErr("fetch latest message", err)
		}
		if latest.Valid && m.CreatedAt.Before(latest.Time) {
			m.CreatedAt = latest.Time
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, room_id, sender_id, kind, body, reply_to_id, reply_snapshot, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.RoomID, m.SenderID, m.Kind(), string(body), replyID, replySnapshot, m.Status, m.CreatedAt); err != nil {
			return dbErr("insert message", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE rooms SET last_message = ?, last_message_time = ?, last_sender_id = ? WHERE id = ?
		`, m.Body.Preview(), m.CreatedAt, m.SenderID, m.RoomID); err != nil {
			return dbErr("update room preview", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE room_participants
			SET unread_count = CASE WHEN user_id = ? THEN 0 ELSE unread_count + 1 END
			WHERE room_id = ?
		`, m.SenderID, m.RoomID); err != nil {
			return dbErr("update unread counts", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return participants, nil
}

func roomParticipants(ctx context.Context, q querier, roomID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY joined_at, user_id", roomID)
	if err != nil {
		return nil, dbErr("fetch participants", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbErr("scan participant", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// RecentMessages returns the newest limit messages of a room, oldest first.
// Rows that cannot be decoded are logged and left out.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, dbErr("fetch messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if errors.Is(err, errMalformed) {
			log.Printf("store: skipping malformed message id=%s room=%s err=%v", m.ID, roomID, err)
			continue
		}
		if err != nil {
			return nil, dbErr("scan message", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("fetch messages", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if err := s.attachReactions(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Store) attachReactions(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	index := make(map[string]int, len(messages))
	args := make([]any, 0, len(messages))
	for i := range messages {
		messages[i].Reactions = []models.Reaction{}
		index[messages[i].ID] = i
		args = append(args, messages[i].ID)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji, created_at FROM message_reactions
		WHERE message_id IN (`+placeholders+`)
		ORDER BY seq
	`, args...)
	if err != nil {
		return dbErr("fetch reactions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID string
			r         models.Reaction
		)
		if err := rows.Scan(&messageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return dbErr("scan reaction", err)
		}
		if i, ok := index[messageID]; ok {
			messages[i].Reactions = append(messages[i].Reactions, r)
		}
	}
	return rows.Err()
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message not found", apperr.ErrNotFound)
	}
	if errors.Is(err, errMalformed) {
		return nil, fmt.Errorf("%w: message is malformed", apperr.ErrValidation)
	}
	if err != nil {
		return nil, dbErr("fetch message", err)
	}
	msgs := []models.Message{*m}
	if err := s.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// EditText replaces the text of a live text message. created_at is left
// untouched.
func (s *Store) EditText(ctx context.Context, id, text string, now time.Time) (*models.Message, error) {
	body, _ := json.Marshal(models.TextBody{Text: text})
	err := s.withTx(ctx, "edit message", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE messages SET body = ?, edited = 1, edited_at = ?
			WHERE id = ? AND kind = ? AND deleted = 0
		`, string(body), now, id, models.KindText)
		if err != nil {
			return dbErr("edit message", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: only live text messages can be edited", apperr.ErrValidation)
		}
		return refreshPreviewIfLatest(ctx, tx, id, text)
	})
	if err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, id)
}

// SoftDelete replaces the body with the deletion notice and clears the
// message's reactions. The message keeps its place in the room.
func (s *Store) SoftDelete(ctx context.Context, id string) (*models.Message, error) {
	body, _ := json.Marshal(models.TextBody{Text: models.DeletedText})
	err := s.withTx(ctx, "delete message", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE messages SET kind = ?, body = ?, deleted = 1, reply_to_id = NULL, reply_snapshot = NULL
			WHERE id = ? AND deleted = 0
		`, models.KindText, string(body), id)
		if err != nil {
			return dbErr("delete message", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: message is already deleted", apperr.ErrValidation)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM message_reactions WHERE message_id = ?", id); err != nil {
			return dbErr("clear reactions", err)
		}
		return refreshPreviewIfLatest(ctx, tx, id, models.DeletedText)
	})
	if err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, id)
}

// refreshPreviewIfLatest keeps the room preview in step when the newest
// message of the room changes.
func refreshPreviewIfLatest(ctx context.Context, tx *sql.Tx, messageID, preview string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE rooms SET last_message = ?
		WHERE id = (SELECT room_id FROM messages WHERE id = ?)
		AND (SELECT MAX(seq) FROM messages WHERE room_id = rooms.id) = (SELECT seq FROM messages WHERE id = ?)
	`, preview, messageID, messageID)
	if err != nil {
		return dbErr("update room preview", err)
	}
	return nil
}

// ToggleReaction removes the user's reaction with emoji if present and adds
// it otherwise. added reports which of the two happened.
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID, emoji string, now time.Time) (bool, error) {
	added := false
	err := s.withTx(ctx, "toggle reaction", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM message_reactions WHERE message_id = ? AND user_id = ? AND emoji = ?",
			messageID, userID, emoji)
		if err != nil {
			return dbErr("remove reaction", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)
		`, messageID, userID, emoji, now); err != nil {
			return dbErr("add reaction", err)
		}
		added = true
		return nil
	})
	return added, err
}

// AdvanceStatus moves a message forward to next. Requests that would keep
// or lower the rank change nothing. The resulting status is returned.
func (s *Store) AdvanceStatus(ctx context.Context, messageID string, next models.Status, now time.Time) (models.Status, error) {
	if !next.Valid() {
		return "", fmt.Errorf("%w: invalid status %q", apperr.ErrValidation, next)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			status = ?,
			delivered_at = COALESCE(delivered_at, ?),
			read_at = CASE WHEN ? = 'read' THEN COALESCE(read_at, ?) ELSE read_at END
		WHERE id = ?
		AND (CASE status WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 WHEN 'read' THEN 2 ELSE -1 END) < ?
	`, next, now, next, now, messageID, next.Rank())
	if err != nil {
		return "", dbErr("update message status", err)
	}

	var current models.Status
	err = s.db.QueryRowContext(ctx, "SELECT status FROM messages WHERE id = ?", messageID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: message not found", apperr.ErrNotFound)
	}
	if err != nil {
		return "", dbErr("fetch message status", err)
	}
	return current, nil
}

// MarkRoomRead clears the viewer's unread counter and marks every message of
// other senders as read. It returns the number of messages that changed.
func (s *Store) MarkRoomRead(ctx context.Context, roomID, userID string, now time.Time) (int64, error) {
	var changed int64
	err := s.withTx(ctx, "mark room read", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE room_participants SET unread_count = 0 WHERE room_id = ? AND user_id = ?", roomID, userID); err != nil {
			return dbErr("reset unread count", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE messages SET status = 'read', delivered_at = COALESCE(delivered_at, ?), read_at = COALESCE(read_at, ?)
			WHERE room_id = ? AND sender_id != ? AND status != 'read'
		`, now, now, roomID, userID)
		if err != nil {
			return dbErr("mark messages read", err)
		}
		changed, _ = res.RowsAffected()
		return nil
	})
	return changed, err
}

// RoomMessageCount is used by the bot's stats command.
func (s *Store) RoomMessageCount(ctx context.Context, roomID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE room_id = ? AND deleted = 0", roomID).Scan(&n); err != nil {
		return 0, dbErr("count messages", err)
	}
	return n, nil
}

// ClearRoomMessages deletes every message of a room and resets its preview
// and unread counters. It returns the number of messages removed.
func (s *Store) ClearRoomMessages(ctx context.Context, roomID string) (int64, error) {
	var removed int64
	err := s.withTx(ctx, "clear messages", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM message_reactions WHERE message_id IN (SELECT id FROM messages WHERE room_id = ?)", roomID); err != nil {
			return dbErr("clear reactions", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE room_id = ?", roomID)
		if err != nil {
			return dbErr("clear messages", err)
		}
		removed, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx,
			"UPDATE rooms SET last_message = '', last_message_time = NULL, last_sender_id = '' WHERE id = ?", roomID); err != nil {
			return dbErr("reset room preview", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE room_participants SET unread_count = 0 WHERE room_id = ?", roomID); err != nil {
			return dbErr("reset unread counts", err)
		}
		return nil
	})
	return removed, err
}
