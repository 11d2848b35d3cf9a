package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

// EnsureDirectRoom creates the room for a pair if it does not exist yet.
// created is false when the room was already there; its participants are
// never touched in that case.
func (s *Store) EnsureDirectRoom(ctx context.Context, roomID, userA, userB string, now time.Time) (bool, error) {
	created := false
	err := s.withTx(ctx, "create room", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO rooms (id, kind, created_at) VALUES (?, ?, ?)",
			roomID, models.RoomDirect, now)
		if err != nil {
			return dbErr("create room", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		created = true
		return addParticipants(ctx, tx, roomID, now, userA, userB)
	})
	return created, err
}

func addParticipants(ctx context.Context, q querier, roomID string, now time.Time, userIDs ...string) error {
	for _, id := range userIDs {
		if _, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO room_participants (room_id, user_id, unread_count, joined_at)
			VALUES (?, ?, 0, ?)
		`, roomID, id, now); err != nil {
			return dbErr("add participant", err)
		}
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var (
		r        models.Room
		lastTime sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, last_message, last_message_time, last_sender_id, created_at FROM rooms WHERE id = ?
	`, id).Scan(&r.ID, &r.Kind, &r.LastMessage, &lastTime, &r.LastSenderID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: room not found", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("fetch room", err)
	}
	r.LastMessageTime = timePtr(lastTime)

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, unread_count FROM room_participants WHERE room_id = ? ORDER BY joined_at, user_id
	`, id)
	if err != nil {
		return nil, dbErr("fetch participants", err)
	}
	defer rows.Close()

	r.UnreadCounts = map[string]int{}
	for rows.Next() {
		var (
			userID string
			unread int
		)
		if err := rows.Scan(&userID, &unread); err != nil {
			return nil, dbErr("scan participant", err)
		}
		r.Participants = append(r.Participants, userID)
		r.UnreadCounts[userID] = unread
	}
	return &r, rows.Err()
}

// ListRoomsForUser returns the rooms of the given kind whose participant
// set contains userID, with every participant's unread counter.
func (s *Store) ListRoomsForUser(ctx context.Context, userID string, kind models.RoomKind) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.kind, r.last_message, r.last_message_time, r.last_sender_id, r.created_at
		FROM rooms r
		JOIN room_participants p ON p.room_id = r.id
		WHERE p.user_id = ? AND r.kind = ?
	`, userID, kind)
	if err != nil {
		return nil, dbErr("fetch rooms", err)
	}

	byID := map[string]*models.Room{}
	var order []string
	for rows.Next() {
		var (
			r        models.Room
			lastTime sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.LastMessage, &lastTime, &r.LastSenderID, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, dbErr("scan room", err)
		}
		r.LastMessageTime = timePtr(lastTime)
		r.UnreadCounts = map[string]int{}
		byID[r.ID] = &r
		order = append(order, r.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbErr("fetch rooms", err)
	}
	if len(order) == 0 {
		return []models.Room{}, nil
	}

	prows, err := s.db.QueryContext(ctx, `
		SELECT room_id, user_id, unread_count FROM room_participants
		WHERE room_id IN (SELECT room_id FROM room_participants WHERE user_id = ?)
		ORDER BY joined_at, user_id
	`, userID)
	if err != nil {
		return nil, dbErr("fetch participants", err)
	}
	defer prows.Close()

	for prows.Next() {
		var (
			roomID, pid string
			unread      int
		)
		if err := prows.Scan(&roomID, &pid, &unread); err != nil {
			return nil, dbErr("scan participant", err)
		}
		if r, ok := byID[roomID]; ok {
			r.Participants = append(r.Participants, pid)
			r.UnreadCounts[pid] = unread
		}
	}
	if err := prows.Err(); err != nil {
		return nil, dbErr("fetch participants", err)
	}

	sort.Strings(order)
	rooms := make([]models.Room, 0, len(order))
	for _, id := range order {
		rooms = append(rooms, *byID[id])
	}
	return rooms, nil
}

func (s *Store) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id = ? AND user_id = ?)",
		roomID, userID).Scan(&ok)
	if err != nil {
		return false, dbErr("check participant", err)
	}
	return ok, nil
}

func (s *Store) ResetUnread(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE room_participants SET unread_count = 0 WHERE room_id = ? AND user_id = ?", roomID, userID)
	if err != nil {
		return dbErr("reset unread count", err)
	}
	return nil
}

// LeaveRoom removes userID from a room. A room with two or fewer
// participants is deleted together with its messages; larger rooms only
// lose the participant. It returns the participants before the change.
func (s *Store) LeaveRoom(ctx context.Context, roomID, userID string) (participants []string, deleted bool, err error) {
	err = s.withTx(ctx, "delete chat", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT user_id FROM room_participants WHERE room_id = ?", roomID)
		if err != nil {
			return dbErr("fetch participants", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return dbErr("scan participant", err)
			}
			participants = append(participants, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return dbErr("fetch participants", err)
		}
		rows.Close()

		member := false
		for _, id := range participants {
			if id == userID {
				member = true
			}
		}
		if !member {
			return fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
		}

		if len(participants) <= 2 {
			deleted = true
			return deleteRoom(ctx, tx, roomID)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM room_participants WHERE room_id = ? AND user_id = ?", roomID, userID); err != nil {
			return dbErr("remove participant", err)
		}
		return nil
	})
	return participants, deleted, err
}

func deleteRoom(ctx context.Context, q querier, roomID string) error {
	stmts := []string{
		"DELETE FROM message_reactions WHERE message_id IN (SELECT id FROM messages WHERE room_id = ?)",
		"DELETE FROM messages WHERE room_id = ?",
		"DELETE FROM room_participants WHERE room_id = ?",
		"DELETE FROM rooms WHERE id = ?",
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt, roomID); err != nil {
			return dbErr("delete room", err)
		}
	}
	return nil
}
