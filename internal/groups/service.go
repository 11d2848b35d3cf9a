// Package groups manages group chats: creation, membership, admins, custom
// roles and the group bot.
package groups

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	mrand "math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/internal/store"
	"github.com/zentrochat/zentro/pkg/apperr"
)

const (
	MaxNameLen       = 64
	MaxMembersLimit  = 1000
	SecretCodeLength = 8
	DefaultSearch    = 50

	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeAttempts   = 5
)

type Store interface {
	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	GetGroupBySecretCode(ctx context.Context, code string) (*models.Group, error)
	GetGroupByRoomID(ctx context.Context, roomID string) (*models.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error)
	SearchPublicGroups(ctx context.Context, query string, limit int) ([]models.Group, error)
	AddGroupMember(ctx context.Context, groupID, userID string, now time.Time) error
	RemoveGroupMember(ctx context.Context, groupID, userID string, now time.Time) error
	LeaveGroup(ctx context.Context, groupID, userID string, now time.Time) (*store.LeaveResult, error)
	SetGroupAdmin(ctx context.Context, groupID, userID string, admin bool, now time.Time) error
	UpdateGroup(ctx context.Context, g *models.Group) error
	ReplaceRoles(ctx context.Context, groupID string, roles []models.Role, now time.Time) error
	SetMemberRole(ctx context.Context, groupID, userID, roleID string, now time.Time) error
	DeleteGroup(ctx context.Context, groupID string) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	AppendMessage(ctx context.Context, m *models.Message) ([]string, error)
	RoomMessageCount(ctx context.Context, roomID string) (int, error)
	ClearRoomMessages(ctx context.Context, roomID string) (int64, error)
}

type CreateInput struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	AvatarURL   *string               `json:"avatar_url"`
	Type        models.GroupType      `json:"type"`
	Settings    *models.GroupSettings `json:"settings"`
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	AvatarURL   *string               `json:"avatar_url"`
	Type        *models.GroupType     `json:"type"`
	Settings    *models.GroupSettings `json:"settings"`
}

type Service struct {
	store Store
	bus   events.Bus
	now   func() time.Time
	pick  func(n int) int
}

func NewService(store Store, bus events.Bus) *Service {
	return &Service{
		store: store,
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
		pick:  mrand.IntN,
	}
}

func (s *Service) Create(ctx context.Context, creatorID string, in CreateInput) (*models.Group, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", apperr.ErrValidation)
	}
	if len(name) > MaxNameLen {
		return nil, fmt.Errorf("%w: group name is too long", apperr.ErrValidation)
	}
	if in.Type == "" {
		in.Type = models.GroupPublic
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: invalid group type %q", apperr.ErrValidation, in.Type)
	}
	settings := models.DefaultGroupSettings()
	if in.Settings != nil {
		settings = *in.Settings
		if settings.MaxMembers == 0 {
			settings.MaxMembers = models.DefaultGroupSettings().MaxMembers
		}
	}
	if err := validateMaxMembers(settings.MaxMembers, 1); err != nil {
		return nil, err
	}

	now := s.now()
	id := uuid.NewString()
	g := &models.Group{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		AvatarURL:   in.AvatarURL,
		Type:        in.Type,
		OwnerID:     creatorID,
		CreatedBy:   creatorID,
		Members:     []string{creatorID},
		Admins:      []string{creatorID},
		Settings:    settings,
		RoomID:      "group_" + id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for attempt := 0; ; attempt++ {
		if g.Type == models.GroupSecret {
			code, err := newSecretCode()
			if err != nil {
				return nil, err
			}
			g.SecretCode = code
		}
		err := s.store.CreateGroup(ctx, g)
		if err == nil {
			break
		}
		if g.Type != models.GroupSecret || !errors.Is(err, apperr.ErrConflict) || attempt+1 >= codeAttempts {
			return nil, err
		}
	}

	log.Printf("group created id=%s type=%s owner=%s", g.ID, g.Type, creatorID)
	s.publish(g)
	return s.store.GetGroup(ctx, g.ID)
}

func validateMaxMembers(max, current int) error {
	if max < 2 || max > MaxMembersLimit {
		return fmt.Errorf("%w: max members must be between 2 and %d", apperr.ErrValidation, MaxMembersLimit)
	}
	if max < current {
		return fmt.Errorf("%w: max members cannot be below the current member count", apperr.ErrValidation)
	}
	return nil
}

// newSecretCode returns SecretCodeLength characters from A-Z0-9.
func newSecretCode() (string, error) {
	buf := make([]byte, SecretCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret code: %w", err)
	}
	for i, b := range buf {
		buf[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}
	return string(buf), nil
}

func (s *Service) Get(ctx context.Context, groupID string) (*models.Group, error) {
	return s.store.GetGroup(ctx, groupID)
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.Group, error) {
	return s.store.ListGroupsForUser(ctx, userID)
}

// SearchPublic lists public groups whose name or description contains
// query. An empty query lists every public group.
func (s *Service) SearchPublic(ctx context.Context, query string) ([]models.Group, error) {
	return s.store.SearchPublicGroups(ctx, strings.TrimSpace(query), DefaultSearch)
}

// Join adds userID to the group identified by idOrCode: a group id first,
// then a secret code. Private groups only take invited members and secret
// groups only open with their code.
func (s *Service) Join(ctx context.Context, idOrCode, userID string) (*models.Group, error) {
	idOrCode = strings.TrimSpace(idOrCode)
	if idOrCode == "" {
		return nil, fmt.Errorf("%w: group id or code is required", apperr.ErrValidation)
	}
	g, err := s.store.GetGroup(ctx, idOrCode)
	byCode := false
	if errors.Is(err, apperr.ErrNotFound) {
		g, err = s.store.GetGroupBySecretCode(ctx, strings.ToUpper(idOrCode))
		byCode = true
	}
	if err != nil {
		return nil, err
	}
	if !byCode {
		switch g.Type {
		case models.GroupPrivate:
			if !g.IsMember(userID) {
				return nil, fmt.Errorf("%w: this group is invite only", apperr.ErrForbidden)
			}
		case models.GroupSecret:
			if !g.IsMember(userID) {
				return nil, fmt.Errorf("%w: group not found", apperr.ErrNotFound)
			}
		}
	}

	if err := s.store.AddGroupMember(ctx, g.ID, userID, s.now()); err != nil {
		return nil, err
	}
	return s.reload(ctx, g.ID)
}

// Leave removes userID from the group. The result tells whether the group
// was deleted and who owns it now.
func (s *Service) Leave(ctx context.Context, groupID, userID string) (*store.LeaveResult, error) {
	before, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	res, err := s.store.LeaveGroup(ctx, groupID, userID, s.now())
	if err != nil {
		return nil, err
	}
	if res.NewOwner != "" {
		log.Printf("group ownership transferred id=%s from=%s to=%s", groupID, userID, res.NewOwner)
	}
	if res.Deleted {
		log.Printf("group deleted id=%s reason=empty", groupID)
	}
	s.publish(before)
	return res, nil
}

func (s *Service) Update(ctx context.Context, groupID, userID string, in UpdateInput) (*models.Group, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsAdmin(userID) {
		return nil, fmt.Errorf("%w: only admins can update group settings", apperr.ErrForbidden)
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: group name is required", apperr.ErrValidation)
		}
		if len(name) > MaxNameLen {
			return nil, fmt.Errorf("%w: group name is too long", apperr.ErrValidation)
		}
		g.Name = name
	}
	if in.Description != nil {
		g.Description = strings.TrimSpace(*in.Description)
	}
	if in.AvatarURL != nil {
		g.AvatarURL = in.AvatarURL
		if *in.AvatarURL == "" {
			g.AvatarURL = nil
		}
	}
	if in.Settings != nil {
		if err := validateMaxMembers(in.Settings.MaxMembers, len(g.Members)); err != nil {
			return nil, err
		}
		g.Settings = *in.Settings
	}
	if in.Type != nil {
		if !in.Type.Valid() {
			return nil, fmt.Errorf("%w: invalid group type %q", apperr.ErrValidation, *in.Type)
		}
		g.Type = *in.Type
	}
	g.UpdatedAt = s.now()

	for attempt := 0; ; attempt++ {
		switch {
		case g.Type != models.GroupSecret:
			g.SecretCode = ""
		case g.SecretCode == "" || attempt > 0:
			code, err := newSecretCode()
			if err != nil {
				return nil, err
			}
			g.SecretCode = code
		}
		err := s.store.UpdateGroup(ctx, g)
		if err == nil {
			break
		}
		if g.Type != models.GroupSecret || !errors.Is(err, apperr.ErrConflict) || attempt+1 >= codeAttempts {
			return nil, err
		}
	}
	s.publish(g)
	return s.store.GetGroup(ctx, groupID)
}

// AddMember invites a user by username. It needs the invite permission
// and, for anyone but admins, invites enabled in the group settings.
func (s *Service) AddMember(ctx context.Context, groupID, actorID, username string) (*models.Group, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.HasPermission(actorID, models.PermInvite) {
		return nil, fmt.Errorf("%w: you do not have permission to invite members", apperr.ErrForbidden)
	}
	if !g.Settings.AllowInvites && !g.IsAdmin(actorID) {
		return nil, fmt.Errorf("%w: invites are disabled for this group", apperr.ErrForbidden)
	}
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if g.IsMember(u.ID) {
		return nil, fmt.Errorf("%w: user is already a member", apperr.ErrConflict)
	}
	if err := s.store.AddGroupMember(ctx, groupID, u.ID, s.now()); err != nil {
		return nil, err
	}
	return s.reload(ctx, groupID)
}

func (s *Service) RemoveMember(ctx context.Context, groupID, actorID, memberID string) (*models.Group, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.HasPermission(actorID, models.PermKick) {
		return nil, fmt.Errorf("%w: you do not have permission to remove members", apperr.ErrForbidden)
	}
	if g.IsAdmin(memberID) && g.OwnerID != actorID && memberID != g.OwnerID {
		return nil, fmt.Errorf("%w: only the owner can remove an admin", apperr.ErrForbidden)
	}
	if err := s.store.RemoveGroupMember(ctx, groupID, memberID, s.now()); err != nil {
		return nil, err
	}
	s.bus.Publish(events.GroupsTopic(memberID))
	return s.reload(ctx, groupID)
}

func (s *Service) PromoteAdmin(ctx context.Context, groupID, actorID, memberID string) (*models.Group, error) {
	return s.setAdmin(ctx, groupID, actorID, memberID, true)
}

func (s *Service) DemoteAdmin(ctx context.Context, groupID, actorID, memberID string) (*models.Group, error) {
	return s.setAdmin(ctx, groupID, actorID, memberID, false)
}

func (s *Service) setAdmin(ctx context.Context, groupID, actorID, memberID string, admin bool) (*models.Group, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != actorID {
		return nil, fmt.Errorf("%w: only the owner can change admins", apperr.ErrForbidden)
	}
	if !g.IsMember(memberID) {
		return nil, fmt.Errorf("%w: user is not a member of this group", apperr.ErrNotFound)
	}
	if memberID == models.GroupBotID {
		return nil, fmt.Errorf("%w: the group bot cannot be an admin", apperr.ErrValidation)
	}
	if !admin && memberID == g.OwnerID {
		return nil, fmt.Errorf("%w: the owner cannot be demoted", apperr.ErrValidation)
	}
	if err := s.store.SetGroupAdmin(ctx, groupID, memberID, admin, s.now()); err != nil {
		return nil, err
	}
	return s.reload(ctx, groupID)
}

// SetRoles replaces the group's custom roles.
func (s *Service) SetRoles(ctx context.Context, groupID, actorID string, roles []models.Role) (*models.Group, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsAdmin(actorID) {
		return nil, fmt.Errorf("%w: only admins can manage roles", apperr.ErrForbidden)
	}
	for i := range roles {
		r := &roles[i]
		r.ID = strings.TrimSpace(r.ID)
		r.Name = strings.TrimSpace(r.Name)
		if r.ID == "" || r.Name == "" {
			return nil, fmt.Errorf("%w: roles need an id and a name", apperr.ErrValidation)
		}
		if r.ID == models.RoleOwner || r.ID == models.RoleAdmin || r.ID == models.RoleMember {
			return nil, fmt.Errorf("%w: role id %q is reserved", apperr.ErrValidation, r.ID)
		}
		for name := range r.Permissions {
			if _, ok := models.ParsePermission(name); !ok {
				return nil, fmt.Errorf("%w: unknown permission %q", apperr.ErrValidation, name)
			}
		}
	}
	if err := s.store.ReplaceRoles(ctx, groupID, roles, s.now()); err != nil {
		return nil, err
	}
	return s.reload(ctx, groupID)
}

// AssignRole gives memberID a custom role. An empty roleID makes them a
// plain member again.
func (s *Service) AssignRole(ctx context.Context, groupID, actorID, memberID, roleID string) (*models.Group, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsAdmin(actorID) {
		return nil, fmt.Errorf("%w: only admins can assign roles", apperr.ErrForbidden)
	}
	if roleID != "" && g.Role(roleID) == nil {
		return nil, fmt.Errorf("%w: role not found", apperr.ErrNotFound)
	}
	if err := s.store.SetMemberRole(ctx, groupID, memberID, roleID, s.now()); err != nil {
		return nil, err
	}
	return s.reload(ctx, groupID)
}

// MemberRole returns owner, admin, the member's custom role id, or member.
func (s *Service) MemberRole(ctx context.Context, groupID, userID string) (string, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return "", err
	}
	if !g.IsMember(userID) {
		return "", fmt.Errorf("%w: user is not a member of this group", apperr.ErrNotFound)
	}
	return g.MemberRole(userID), nil
}

func (s *Service) HasPermission(ctx context.Context, groupID, userID, perm string) (bool, error) {
	p, ok := models.ParsePermission(perm)
	if !ok {
		return false, fmt.Errorf("%w: unknown permission %q", apperr.ErrValidation, perm)
	}
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	return g.HasPermission(userID, p), nil
}

// CanManageMessages reports whether userID may moderate messages in the
// group that owns roomID.
func (s *Service) CanManageMessages(ctx context.Context, roomID, userID string) (bool, error) {
	g, err := s.store.GetGroupByRoomID(ctx, roomID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return g.HasPermission(userID, models.PermManageMessages), nil
}

// ClearMessages removes the whole history of the group's room.
func (s *Service) ClearMessages(ctx context.Context, groupID, actorID string) (int64, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return 0, err
	}
	if !g.HasPermission(actorID, models.PermManageMessages) {
		return 0, fmt.Errorf("%w: you do not have permission to manage messages", apperr.ErrForbidden)
	}
	n, err := s.store.ClearRoomMessages(ctx, g.RoomID)
	if err != nil {
		return 0, err
	}
	log.Printf("group messages cleared id=%s by=%s count=%d", groupID, actorID, n)
	s.publish(g)
	return n, nil
}

func (s *Service) Delete(ctx context.Context, groupID, userID string) error {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.OwnerID != userID {
		return fmt.Errorf("%w: only the owner can delete the group", apperr.ErrForbidden)
	}
	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	log.Printf("group deleted id=%s by=%s", groupID, userID)
	s.publish(g)
	return nil
}

func (s *Service) reload(ctx context.Context, groupID string) (*models.Group, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	s.publish(g)
	return g, nil
}

func (s *Service) publish(g *models.Group) {
	s.bus.Publish(events.RoomTopic(g.RoomID))
	for _, m := range g.Members {
		s.bus.Publish(events.GroupsTopic(m))
	}
}
