package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

const userColumns = "id, username, display_name, avatar_url, bio, online, last_seen, created_at"

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var (
		u      models.User
		avatar sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &avatar, &u.Bio, &u.Online, &u.LastSeen, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.AvatarURL = stringPtr(avatar)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, now time.Time) (*models.User, error) {
	u := &models.User{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: username,
		LastSeen:    now,
		CreatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, display_name, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, passwordHash, u.DisplayName, now, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username already exists", apperr.ErrConflict)
		}
		return nil, dbErr("register user", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user not found", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("fetch user", err)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user not found", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("fetch user", err)
	}
	return u, nil
}

// Credentials returns the id and password hash for a username.
func (s *Store) Credentials(ctx context.Context, username string) (string, string, error) {
	var id, hash string
	err := s.db.QueryRowContext(ctx, "SELECT id, password_hash FROM users WHERE username = ?", username).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: user not found", apperr.ErrNotFound)
	}
	if err != nil {
		return "", "", dbErr("query user", err)
	}
	return id, hash, nil
}

func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", id).Scan(&exists); err != nil {
		return false, dbErr("query user", err)
	}
	return exists, nil
}

// GetProfile loads the display profile of a user. A missing user is
// reported as apperr.ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return models.Profile{}, err
	}
	return u.Profile(), nil
}

func (s *Store) UpdateProfile(ctx context.Context, id, displayName string, avatarURL *string, bio string, now time.Time) (*models.User, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name = ?, avatar_url = ?, bio = ?, updated_at = ? WHERE id = ?
	`, displayName, nullString(avatarURL), bio, now, id)
	if err != nil {
		return nil, dbErr("update profile", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: user not found", apperr.ErrNotFound)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET online = ?, last_seen = ? WHERE id = ?", online, at, id); err != nil {
		return dbErr("update presence", err)
	}
	return nil
}

// TouchPresence moves last_seen forward for a user flagged online. It
// reports false when the user is not flagged online.
func (s *Store) TouchPresence(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET last_seen = ? WHERE id = ? AND online = 1", at, id)
	if err != nil {
		return false, dbErr("touch presence", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("touch presence", err)
	}
	return n > 0, nil
}

// StaleOnline lists users still flagged online whose last activity is
// older than before.
func (s *Store) StaleOnline(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM users WHERE online = 1 AND last_seen < ?", before)
	if err != nil {
		return nil, dbErr("query stale presence", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbErr("scan user id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchUsers matches display names and usernames case-insensitively.
func (s *Store) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]models.User, error) {
	pattern := likePattern(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id != ? AND (lower(display_name) LIKE ? ESCAPE '\' OR lower(username) LIKE ? ESCAPE '\')
		ORDER BY display_name COLLATE NOCASE
		LIMIT ?
	`, excludeID, pattern, pattern, limit)
	if err != nil {
		return nil, dbErr("search users", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]models.User, error) {
	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, dbErr("scan user", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// RoomPartners returns every user sharing a room with userID.
func (s *Store) RoomPartners(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.user_id FROM room_participants p
		WHERE p.room_id IN (SELECT room_id FROM room_participants WHERE user_id = ?)
		AND p.user_id != ?
	`, userID, userID)
	if err != nil {
		return nil, dbErr("query room partners", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbErr("scan partner", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
