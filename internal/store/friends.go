package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

// PairKey identifies an unordered pair of users.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "_" + ids[1]
}

const requestColumns = "id, sender_id, receiver_id, status, created_at, updated_at"

func scanRequest(row interface{ Scan(...any) error }) (*models.FriendRequest, error) {
	var r models.FriendRequest
	if err := row.Scan(&r.ID, &r.SenderID, &r.ReceiverID, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetFriendRequest(ctx context.Context, id string) (*models.FriendRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM friend_requests WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: friend request not found", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("fetch friend request", err)
	}
	return r, nil
}

// CreateFriendRequest inserts a pending request. The partial unique index
// on pair_key turns a concurrent duplicate into ErrConflict.
func (s *Store) CreateFriendRequest(ctx context.Context, senderID, receiverID string, now time.Time) (*models.FriendRequest, error) {
	r := &models.FriendRequest{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     models.RequestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO friend_requests (id, sender_id, receiver_id, pair_key, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, senderID, receiverID, PairKey(senderID, receiverID), r.Status, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: a friend request is already pending between you and this user", apperr.ErrConflict)
		}
		return nil, dbErr("create friend request", err)
	}
	return r, nil
}

// PendingBetween returns the pending request between two users in either
// direction, or nil.
func (s *Store) PendingBetween(ctx context.Context, a, b string) (*models.FriendRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM friend_requests WHERE pair_key = ? AND status = 'pending'", PairKey(a, b)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("fetch pending request", err)
	}
	return r, nil
}

func (s *Store) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM friendships WHERE user_id = ? AND friend_id = ?)", a, b).Scan(&ok)
	if err != nil {
		return false, dbErr("check friendship", err)
	}
	return ok, nil
}

// AcceptFriendRequest marks a pending request accepted and writes both
// friendship rows in the same transaction.
func (s *Store) AcceptFriendRequest(ctx context.Context, id string, now time.Time) error {
	return s.withTx(ctx, "accept friend request", func(tx *sql.Tx) error {
		var sender, receiver string
		err := tx.QueryRowContext(ctx,
			"SELECT sender_id, receiver_id FROM friend_requests WHERE id = ? AND status = 'pending'", id).Scan(&sender, &receiver)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: friend request is no longer pending", apperr.ErrValidation)
		}
		if err != nil {
			return dbErr("fetch friend request", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE friend_requests SET status = 'accepted', updated_at = ? WHERE id = ?", now, id); err != nil {
			return dbErr("accept friend request", err)
		}
		for _, pair := range [][2]string{{sender, receiver}, {receiver, sender}} {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO friendships (user_id, friend_id, created_at) VALUES (?, ?, ?)",
				pair[0], pair[1], now); err != nil {
				return dbErr("create friendship", err)
			}
		}
		return nil
	})
}

// SetFriendRequestStatus moves a pending request to status.
func (s *Store) SetFriendRequestStatus(ctx context.Context, id string, status models.FriendRequestStatus, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE friend_requests SET status = ?, updated_at = ? WHERE id = ? AND status = 'pending'", status, now, id)
	if err != nil {
		return dbErr("update friend request", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: friend request is no longer pending", apperr.ErrValidation)
	}
	return nil
}

func (s *Store) DeleteFriendRequest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM friend_requests WHERE id = ? AND status = 'pending'", id)
	if err != nil {
		return dbErr("delete friend request", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: friend request is no longer pending", apperr.ErrValidation)
	}
	return nil
}

// ListFriendRequests returns pending requests received by userID when
// incoming is true, sent by userID otherwise. The counterpart's profile is
// attached.
func (s *Store) ListFriendRequests(ctx context.Context, userID string, incoming bool) ([]models.FriendRequest, error) {
	column, other := "sender_id", "receiver_id"
	if incoming {
		column, other = "receiver_id", "sender_id"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.sender_id, r.receiver_id, r.status, r.created_at, r.updated_at,
			u.id, u.username, u.display_name, u.avatar_url, u.online
		FROM friend_requests r
		LEFT JOIN users u ON u.id = r.`+other+`
		WHERE r.`+column+` = ? AND r.status = 'pending'
		ORDER BY r.created_at DESC
	`, userID)
	if err != nil {
		return nil, dbErr("fetch friend requests", err)
	}
	defer rows.Close()

	requests := []models.FriendRequest{}
	for rows.Next() {
		var (
			r                   models.FriendRequest
			uid, uname, display sql.NullString
			avatar              sql.NullString
			online              sql.NullBool
		)
		if err := rows.Scan(&r.ID, &r.SenderID, &r.ReceiverID, &r.Status, &r.CreatedAt, &r.UpdatedAt,
			&uid, &uname, &display, &avatar, &online); err != nil {
			return nil, dbErr("scan friend request", err)
		}
		otherID := r.SenderID
		if !incoming {
			otherID = r.ReceiverID
		}
		p := models.PlaceholderProfile(otherID)
		if uid.Valid {
			u := models.User{ID: uid.String, Username: uname.String, DisplayName: display.String, AvatarURL: stringPtr(avatar), Online: online.Bool}
			p = u.Profile()
		}
		if incoming {
			r.Sender = &p
		} else {
			r.Receiver = &p
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (s *Store) ListFriends(ctx context.Context, userID string) ([]models.Friend, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.display_name, u.avatar_url, u.online, f.created_at
		FROM friendships f
		JOIN users u ON u.id = f.friend_id
		WHERE f.user_id = ?
		ORDER BY u.display_name COLLATE NOCASE
	`, userID)
	if err != nil {
		return nil, dbErr("fetch friends", err)
	}
	defer rows.Close()

	friends := []models.Friend{}
	for rows.Next() {
		var (
			u      models.User
			avatar sql.NullString
			since  time.Time
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &avatar, &u.Online, &since); err != nil {
			return nil, dbErr("scan friend", err)
		}
		u.AvatarURL = stringPtr(avatar)
		friends = append(friends, models.Friend{Profile: u.Profile(), Since: since})
	}
	return friends, rows.Err()
}

// RemoveFriendship deletes both directions of a friendship. It reports
// whether the two users were friends.
func (s *Store) RemoveFriendship(ctx context.Context, a, b string) (bool, error) {
	removed := false
	err := s.withTx(ctx, "remove friend", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM friendships WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)
		`, a, b, b, a)
		if err != nil {
			return dbErr("remove friend", err)
		}
		n, _ := res.RowsAffected()
		removed = n > 0
		return nil
	})
	return removed, err
}

// FriendSuggestions lists users most recently seen first, leaving out
// userID, their friends and anyone with a pending request either way.
func (s *Store) FriendSuggestions(ctx context.Context, userID string, limit int) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id != ?
		AND id NOT IN (SELECT friend_id FROM friendships WHERE user_id = ?)
		AND id NOT IN (SELECT receiver_id FROM friend_requests WHERE sender_id = ? AND status = 'pending')
		AND id NOT IN (SELECT sender_id FROM friend_requests WHERE receiver_id = ? AND status = 'pending')
		ORDER BY last_seen DESC, id
		LIMIT ?
	`, userID, userID, userID, userID, limit)
	if err != nil {
		return nil, dbErr("fetch suggestions", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}
