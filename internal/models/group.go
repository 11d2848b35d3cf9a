package models

import "time"

type GroupType string

const (
	GroupPublic  GroupType = "public"
	GroupPrivate GroupType = "private"
	GroupSecret  GroupType = "secret"
)

func (t GroupType) Valid() bool {
	return t == GroupPublic || t == GroupPrivate || t == GroupSecret
}

// Permission is a bit in a custom role's permission set.
type Permission uint32

const (
	PermInvite Permission = 1 << iota
	PermKick
	PermMute
	PermManageMessages
	PermChangeSettings
)

var permissionNames = map[string]Permission{
	"invite":          PermInvite,
	"kick":            PermKick,
	"mute":            PermMute,
	"manage_messages": PermManageMessages,
	"change_settings": PermChangeSettings,
}

// ParsePermission maps a permission name to its bit. ok is false for
// unknown names.
func ParsePermission(name string) (Permission, bool) {
	p, ok := permissionNames[name]
	return p, ok
}

// PermissionSet converts role permission flags keyed by name into a bitset,
// ignoring unknown names.
func PermissionSet(flags map[string]bool) Permission {
	var p Permission
	for name, on := range flags {
		if bit, ok := permissionNames[name]; ok && on {
			p |= bit
		}
	}
	return p
}

func (p Permission) Has(perm Permission) bool { return p&perm == perm }

// Flags is the inverse of PermissionSet.
func (p Permission) Flags() map[string]bool {
	out := make(map[string]bool, len(permissionNames))
	for name, bit := range permissionNames {
		out[name] = p.Has(bit)
	}
	return out
}

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Role struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Color       string          `json:"color"`
	Permissions map[string]bool `json:"permissions"`
}

type GroupSettings struct {
	MaxMembers   int  `json:"max_members"`
	AllowBots    bool `json:"allow_bots"`
	AllowInvites bool `json:"allow_invites"`
}

func DefaultGroupSettings() GroupSettings {
	return GroupSettings{MaxMembers: 100, AllowBots: true, AllowInvites: true}
}

type Group struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	AvatarURL   *string           `json:"avatar_url,omitempty"`
	Type        GroupType         `json:"type"`
	SecretCode  string            `json:"secret_code,omitempty"`
	OwnerID     string            `json:"owner_id"`
	CreatedBy   string            `json:"created_by"`
	Members     []string          `json:"members"`
	Admins      []string          `json:"admins"`
	Roles       []Role            `json:"custom_roles"`
	MemberRoles map[string]string `json:"member_roles"`
	Settings    GroupSettings     `json:"settings"`
	RoomID      string            `json:"room_id"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (g *Group) IsMember(userID string) bool { return contains(g.Members, userID) }
func (g *Group) IsAdmin(userID string) bool  { return contains(g.Admins, userID) }

func (g *Group) Role(roleID string) *Role {
	for i := range g.Roles {
		if g.Roles[i].ID == roleID {
			return &g.Roles[i]
		}
	}
	return nil
}

// MemberRole returns owner, admin, the custom role id, or member.
func (g *Group) MemberRole(userID string) string {
	switch {
	case g.OwnerID == userID:
		return RoleOwner
	case g.IsAdmin(userID):
		return RoleAdmin
	}
	if id, ok := g.MemberRoles[userID]; ok && id != "" {
		return id
	}
	return RoleMember
}

// HasPermission grants everything to the owner and admins and otherwise
// consults the member's custom role.
func (g *Group) HasPermission(userID string, perm Permission) bool {
	if !g.IsMember(userID) {
		return false
	}
	role := g.MemberRole(userID)
	if role == RoleOwner || role == RoleAdmin {
		return true
	}
	r := g.Role(role)
	if r == nil {
		return false
	}
	return PermissionSet(r.Permissions).Has(perm)
}

// Redacted hides the join code from users who are not admins.
func (g Group) Redacted(viewerID string) Group {
	if !g.IsAdmin(viewerID) {
		g.SecretCode = ""
	}
	return g
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
