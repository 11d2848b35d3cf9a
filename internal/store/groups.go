package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

const groupColumns = "id, name, description, avatar_url, type, secret_code, owner_id, created_by, max_members, allow_bots, allow_invites, room_id, created_at, updated_at"

// CreateGroup stores g with its owner as the only member and admin and
// creates the group's room.
func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	return s.withTx(ctx, "create group", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_groups (`+groupColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, g.ID, g.Name, g.Description, nullString(g.AvatarURL), g.Type, nullCode(g.SecretCode), g.OwnerID, g.CreatedBy,
			g.Settings.MaxMembers, g.Settings.AllowBots, g.Settings.AllowInvites, g.RoomID, g.CreatedAt, g.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: secret code already in use", apperr.ErrConflict)
			}
			return dbErr("create group", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO group_members (group_id, user_id, role_id, joined_at) VALUES (?, ?, '', ?)",
			g.ID, g.OwnerID, g.CreatedAt); err != nil {
			return dbErr("add group owner", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO group_admins (group_id, user_id) VALUES (?, ?)", g.ID, g.OwnerID); err != nil {
			return dbErr("add group owner", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rooms (id, kind, created_at) VALUES (?, ?, ?)", g.RoomID, models.RoomGroup, g.CreatedAt); err != nil {
			return dbErr("create group room", err)
		}
		return addParticipants(ctx, tx, g.RoomID, g.CreatedAt, g.OwnerID)
	})
}

func nullCode(code string) sql.NullString {
	if code == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: code, Valid: true}
}

func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	return s.loadGroup(ctx, s.db, id)
}

func (s *Store) loadGroup(ctx context.Context, q querier, id string) (*models.Group, error) {
	var (
		g      models.Group
		avatar sql.NullString
		code   sql.NullString
	)
	err := q.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM chat_groups WHERE id = ?", id).Scan(
		&g.ID, &g.Name, &g.Description, &avatar, &g.Type, &code, &g.OwnerID, &g.CreatedBy,
		&g.Settings.MaxMembers, &g.Settings.AllowBots, &g.Settings.AllowInvites, &g.RoomID, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group not found", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("fetch group", err)
	}
	g.AvatarURL = stringPtr(avatar)
	g.SecretCode = code.String

	g.Members = []string{}
	g.MemberRoles = map[string]string{}
	rows, err := q.QueryContext(ctx,
		"SELECT user_id, role_id FROM group_members WHERE group_id = ? ORDER BY joined_at, rowid", id)
	if err != nil {
		return nil, dbErr("fetch group members", err)
	}
	for rows.Next() {
		var userID, roleID string
		if err := rows.Scan(&userID, &roleID); err != nil {
			rows.Close()
			return nil, dbErr("scan group member", err)
		}
		g.Members = append(g.Members, userID)
		if roleID != "" {
			g.MemberRoles[userID] = roleID
		}
	}
	rows.Close()

	g.Admins = []string{}
	rows, err = q.QueryContext(ctx, "SELECT user_id FROM group_admins WHERE group_id = ? ORDER BY rowid", id)
	if err != nil {
		return nil, dbErr("fetch group admins", err)
	}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, dbErr("scan group admin", err)
		}
		g.Admins = append(g.Admins, userID)
	}
	rows.Close()

	g.Roles = []models.Role{}
	rows, err = q.QueryContext(ctx,
		"SELECT id, name, color, permissions FROM group_roles WHERE group_id = ? ORDER BY position", id)
	if err != nil {
		return nil, dbErr("fetch group roles", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r     models.Role
			perms models.Permission
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Color, &perms); err != nil {
			return nil, dbErr("scan group role", err)
		}
		r.Permissions = perms.Flags()
		g.Roles = append(g.Roles, r)
	}
	return &g, rows.Err()
}

func (s *Store) GetGroupBySecretCode(ctx context.Context, code string) (*models.Group, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM chat_groups WHERE secret_code = ?", code).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group not found", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("fetch group", err)
	}
	return s.GetGroup(ctx, id)
}

func (s *Store) GetGroupByRoomID(ctx context.Context, roomID string) (*models.Group, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM chat_groups WHERE room_id = ?", roomID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group not found", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("fetch group", err)
	}
	return s.GetGroup(ctx, id)
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	return s.listGroups(ctx, `
		SELECT g.id FROM chat_groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.updated_at DESC, g.id
	`, userID)
}

// SearchPublicGroups matches public groups by name or description.
func (s *Store) SearchPublicGroups(ctx context.Context, query string, limit int) ([]models.Group, error) {
	pattern := likePattern(query)
	return s.listGroups(ctx, `
		SELECT id FROM chat_groups
		WHERE type = 'public' AND (lower(name) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\')
		ORDER BY name COLLATE NOCASE, id
		LIMIT ?
	`, pattern, pattern, limit)
}

func (s *Store) listGroups(ctx context.Context, query string, args ...any) ([]models.Group, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("fetch groups", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, dbErr("scan group", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbErr("fetch groups", err)
	}

	groups := make([]models.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroup(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, nil
}

// AddGroupMember adds userID to the group and its room, enforcing the
// member limit.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string, now time.Time) error {
	return s.withTx(ctx, "add group member", func(tx *sql.Tx) error {
		var (
			roomID     string
			maxMembers int
			count      int
			member     bool
		)
		err := tx.QueryRowContext(ctx, `
			SELECT room_id, max_members,
				(SELECT COUNT(*) FROM group_members WHERE group_id = g.id),
				EXISTS(SELECT 1 FROM group_members WHERE group_id = g.id AND user_id = ?)
			FROM chat_groups g WHERE id = ?
		`, userID, groupID).Scan(&roomID, &maxMembers, &count, &member)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: group not found", apperr.ErrNotFound)
		}
		if err != nil {
			return dbErr("fetch group", err)
		}
		if member {
			return fmt.Errorf("%w: already a member of this group", apperr.ErrConflict)
		}
		if count >= maxMembers {
			return fmt.Errorf("%w: group is full", apperr.ErrConflict)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO group_members (group_id, user_id, role_id, joined_at) VALUES (?, ?, '', ?)",
			groupID, userID, now); err != nil {
			return dbErr("add group member", err)
		}
		if err := addParticipants(ctx, tx, roomID, now, userID); err != nil {
			return err
		}
		return touchGroup(ctx, tx, groupID, now)
	})
}

func touchGroup(ctx context.Context, q querier, groupID string, now time.Time) error {
	if _, err := q.ExecContext(ctx, "UPDATE chat_groups SET updated_at = ? WHERE id = ?", now, groupID); err != nil {
		return dbErr("update group", err)
	}
	return nil
}

func removeMember(ctx context.Context, q querier, g *models.Group, userID string) error {
	stmts := []struct {
		query string
		args  []any
	}{
		{"DELETE FROM group_members WHERE group_id = ? AND user_id = ?", []any{g.ID, userID}},
		{"DELETE FROM group_admins WHERE group_id = ? AND user_id = ?", []any{g.ID, userID}},
		{"DELETE FROM room_participants WHERE room_id = ? AND user_id = ?", []any{g.RoomID, userID}},
	}
	for _, st := range stmts {
		if _, err := q.ExecContext(ctx, st.query, st.args...); err != nil {
			return dbErr("remove group member", err)
		}
	}
	return nil
}

// RemoveGroupMember removes a member who is not the owner.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string, now time.Time) error {
	return s.withTx(ctx, "remove group member", func(tx *sql.Tx) error {
		g, err := s.loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if !g.IsMember(userID) {
			return fmt.Errorf("%w: user is not a member of this group", apperr.ErrNotFound)
		}
		if g.OwnerID == userID {
			return fmt.Errorf("%w: the group owner cannot be removed", apperr.ErrForbidden)
		}
		if err := removeMember(ctx, tx, g, userID); err != nil {
			return err
		}
		return touchGroup(ctx, tx, groupID, now)
	})
}

// LeaveResult describes what happened to a group after a member left.
type LeaveResult struct {
	Group    *models.Group
	Deleted  bool
	NewOwner string
}

// LeaveGroup removes userID from the group. When no human member remains
// the group and its room are deleted. An owner who leaves hands the group
// to the first remaining admin, or else the first member, who becomes an
// admin. A group left without admins gets its first member promoted.
func (s *Store) LeaveGroup(ctx context.Context, groupID, userID string, now time.Time) (*LeaveResult, error) {
	result := &LeaveResult{}
	err := s.withTx(ctx, "leave group", func(tx *sql.Tx) error {
		g, err := s.loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if !g.IsMember(userID) {
			return fmt.Errorf("%w: you are not a member of this group", apperr.ErrValidation)
		}
		if err := removeMember(ctx, tx, g, userID); err != nil {
			return err
		}

		var members, admins []string
		for _, id := range g.Members {
			if id != userID && id != models.GroupBotID {
				members = append(members, id)
			}
		}
		for _, id := range g.Admins {
			if id != userID && id != models.GroupBotID {
				admins = append(admins, id)
			}
		}

		if len(members) == 0 {
			result.Deleted = true
			return deleteGroup(ctx, tx, g)
		}

		if g.OwnerID == userID {
			next := members[0]
			if len(admins) > 0 {
				next = admins[0]
			}
			if _, err := tx.ExecContext(ctx, "UPDATE chat_groups SET owner_id = ? WHERE id = ?", next, groupID); err != nil {
				return dbErr("transfer ownership", err)
			}
			result.NewOwner = next
			if len(admins) == 0 {
				admins = append(admins, next)
				if err := setAdmin(ctx, tx, groupID, next, true); err != nil {
					return err
				}
			}
		}
		if len(admins) == 0 {
			if err := setAdmin(ctx, tx, groupID, members[0], true); err != nil {
				return err
			}
		}
		if err := touchGroup(ctx, tx, groupID, now); err != nil {
			return err
		}
		result.Group, err = s.loadGroup(ctx, tx, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func setAdmin(ctx context.Context, q querier, groupID, userID string, admin bool) error {
	query := "INSERT OR IGNORE INTO group_admins (group_id, user_id) VALUES (?, ?)"
	if !admin {
		query = "DELETE FROM group_admins WHERE group_id = ? AND user_id = ?"
	}
	if _, err := q.ExecContext(ctx, query, groupID, userID); err != nil {
		return dbErr("update group admins", err)
	}
	return nil
}

func (s *Store) SetGroupAdmin(ctx context.Context, groupID, userID string, admin bool, now time.Time) error {
	return s.withTx(ctx, "update group admins", func(tx *sql.Tx) error {
		if err := setAdmin(ctx, tx, groupID, userID, admin); err != nil {
			return err
		}
		return touchGroup(ctx, tx, groupID, now)
	})
}

// UpdateGroup writes the editable fields of g.
func (s *Store) UpdateGroup(ctx context.Context, g *models.Group) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_groups SET name = ?, description = ?, avatar_url = ?, type = ?, secret_code = ?,
			max_members = ?, allow_bots = ?, allow_invites = ?, updated_at = ?
		WHERE id = ?
	`, g.Name, g.Description, nullString(g.AvatarURL), g.Type, nullCode(g.SecretCode),
		g.Settings.MaxMembers, g.Settings.AllowBots, g.Settings.AllowInvites, g.UpdatedAt, g.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: secret code already in use", apperr.ErrConflict)
		}
		return dbErr("update group", err)
	}
	return nil
}

// ReplaceRoles swaps the group's custom roles for roles. Members holding a
// role that no longer exists fall back to plain members.
func (s *Store) ReplaceRoles(ctx context.Context, groupID string, roles []models.Role, now time.Time) error {
	return s.withTx(ctx, "update group roles", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM group_roles WHERE group_id = ?", groupID); err != nil {
			return dbErr("update group roles", err)
		}
		for i, r := range roles {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO group_roles (group_id, id, name, color, permissions, position) VALUES (?, ?, ?, ?, ?, ?)
			`, groupID, r.ID, r.Name, r.Color, models.PermissionSet(r.Permissions), i); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: duplicate role id %q", apperr.ErrValidation, r.ID)
				}
				return dbErr("update group roles", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE group_members SET role_id = ''
			WHERE group_id = ? AND role_id != ''
			AND role_id NOT IN (SELECT id FROM group_roles WHERE group_id = ?)
		`, groupID, groupID); err != nil {
			return dbErr("update member roles", err)
		}
		return touchGroup(ctx, tx, groupID, now)
	})
}

func (s *Store) SetMemberRole(ctx context.Context, groupID, userID, roleID string, now time.Time) error {
	return s.withTx(ctx, "assign role", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE group_members SET role_id = ? WHERE group_id = ? AND user_id = ?", roleID, groupID, userID)
		if err != nil {
			return dbErr("assign role", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: user is not a member of this group", apperr.ErrNotFound)
		}
		return touchGroup(ctx, tx, groupID, now)
	})
}

// DeleteGroup removes the group, its membership records and its room.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	return s.withTx(ctx, "delete group", func(tx *sql.Tx) error {
		g, err := s.loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		return deleteGroup(ctx, tx, g)
	})
}

func deleteGroup(ctx context.Context, q querier, g *models.Group) error {
	for _, table := range []string{"group_members", "group_admins", "group_roles"} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE group_id = ?", g.ID); err != nil {
			return dbErr("delete group", err)
		}
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM chat_groups WHERE id = ?", g.ID); err != nil {
		return dbErr("delete group", err)
	}
	return deleteRoom(ctx, q, g.RoomID)
}
