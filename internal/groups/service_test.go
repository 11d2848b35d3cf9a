package groups

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zentrochat/zentro/internal/db"
	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/internal/store"
	"github.com/zentrochat/zentro/pkg/apperr"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	database, err := db.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	st := store.New(database.GetConn())
	svc := NewService(st, events.NewMemoryBus())
	clock := base
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	svc.pick = func(n int) int { return 0 }
	return svc, st
}

func createUser(t *testing.T, s *store.Store, username string) string {
	t.Helper()
	u, err := s.CreateUser(context.Background(), username, "hash", base)
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", username, err)
	}
	return u.ID
}

func mustCreate(t *testing.T, svc *Service, owner string, in CreateInput) *models.Group {
	t.Helper()
	g, err := svc.Create(context.Background(), owner, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return g
}

func TestCreate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, st, "alice")

	g := mustCreate(t, svc, alice, CreateInput{Name: "  Gophers  "})
	if g.Name != "Gophers" || g.Type != models.GroupPublic || g.SecretCode != "" {
		t.Errorf("Create() = %+v, want public group Gophers", g)
	}
	if g.OwnerID != alice || !g.IsMember(alice) || !g.IsAdmin(alice) {
		t.Errorf("owner %s is not member and admin: %+v", alice, g)
	}
	if g.Settings != models.DefaultGroupSettings() {
		t.Errorf("Settings = %+v, want defaults", g.Settings)
	}
	room, err := st.GetRoom(ctx, g.RoomID)
	if err != nil || room.Kind != models.RoomGroup || !room.HasParticipant(alice) {
		t.Errorf("GetRoom() = %+v, %v, want group room with alice", room, err)
	}

	secret := mustCreate(t, svc, alice, CreateInput{Name: "Hideout", Type: models.GroupSecret})
	if len(secret.SecretCode) != SecretCodeLength || strings.Trim(secret.SecretCode, secretAlphabet) != "" {
		t.Errorf("SecretCode = %q, want %d chars of A-Z0-9", secret.SecretCode, SecretCodeLength)
	}

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"empty name", CreateInput{Name: "  "}},
		{"long name", CreateInput{Name: strings.Repeat("x", MaxNameLen+1)}},
		{"bad type", CreateInput{Name: "x", Type: "hidden"}},
		{"tiny limit", CreateInput{Name: "x", Settings: &models.GroupSettings{MaxMembers: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, alice, tt.in); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("Create() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice, bob := createUser(t, st, "alice"), createUser(t, st, "bob")

	public := mustCreate(t, svc, alice, CreateInput{Name: "Public"})
	private := mustCreate(t, svc, alice, CreateInput{Name: "Private", Type: models.GroupPrivate})
	secret := mustCreate(t, svc, alice, CreateInput{Name: "Secret", Type: models.GroupSecret})

	tests := []struct {
		name     string
		idOrCode string
		want     error
	}{
		{"public by id", public.ID, nil},
		{"again", public.ID, apperr.ErrConflict},
		{"private by id", private.ID, apperr.ErrForbidden},
		{"secret by id", secret.ID, apperr.ErrNotFound},
		{"secret by code", strings.ToLower(secret.SecretCode), nil},
		{"unknown", "NOPE1234", apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := svc.Join(ctx, tt.idOrCode, bob)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Join() error = %v", err)
				}
				if !g.IsMember(bob) {
					t.Errorf("Join() members = %v, want bob", g.Members)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Join() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJoinFullGroup(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice, bob, cat := createUser(t, st, "alice"), createUser(t, st, "bob"), createUser(t, st, "cat")
	g := mustCreate(t, svc, alice, CreateInput{Name: "Pair", Settings: &models.GroupSettings{MaxMembers: 2}})

	if _, err := svc.Join(ctx, g.ID, bob); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	_, err := svc.Join(ctx, g.ID, cat)
	if !errors.Is(err, apperr.ErrConflict) || apperr.Message(err) != "group is full" {
		t.Errorf("Join() error = %v, want group is full", err)
	}
}

func TestLeaveTransfersOwnership(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice, bob, cat := createUser(t, st, "alice"), createUser(t, st, "bob"), createUser(t, st, "cat")
	g := mustCreate(t, svc, alice, CreateInput{Name: "Team"})
	svc.Join(ctx, g.ID, bob)
	svc.Join(ctx, g.ID, cat)
	if _, err := svc.PromoteAdmin(ctx, g.ID, alice, cat); err != nil {
		t.Fatalf("PromoteAdmin() error = %v", err)
	}

	res, err := svc.Leave(ctx, g.ID, alice)
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if res.NewOwner != cat || res.Group.OwnerID != cat || !res.Group.IsAdmin(cat) {
		t.Errorf("Leave() new owner = %s, want cat (%s)", res.NewOwner, cat)
	}
	room, _ := st.GetRoom(ctx, g.RoomID)
	if room.HasParticipant(alice) {
		t.Errorf("room participants still contain the leaver: %v", room.Participants)
	}

	svc.Leave(ctx, g.ID, bob)
	res, err = svc.Leave(ctx, g.ID, cat)
	if err != nil {
		t.Fatalf("Leave() last member error = %v", err)
	}
	if !res.Deleted {
		t.Errorf("Leave() by last member Deleted = false, want true")
	}
	if _, err := svc.Get(ctx, g.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get() after last leave error = %v, want ErrNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice, bob := createUser(t, st, "alice"), createUser(t, st, "bob")
	g := mustCreate(t, svc, alice, CreateInput{Name: "Team"})
	svc.Join(ctx, g.ID, bob)

	name := "Renamed"
	_, err := svc.Update(ctx, g.ID, bob, UpdateInput{Name: &name})
	if !errors.Is(err, apperr.ErrForbidden) || apperr.Message(err) != "only admins can update group settings" {
		t.Errorf("Update() by member error = %v, want only admins", err)
	}

	secret := models.GroupSecret
	updated, err := svc.Update(ctx, g.ID, alice, UpdateInput{Name: &name, Type: &secret})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Name != name || updated.Type != models.GroupSecret || len(updated.SecretCode) != SecretCodeLength {
		t.Errorf("Update() = %+v, want renamed secret group with a code", updated)
	}

	public := models.GroupPublic
	updated, err = svc.Update(ctx, g.ID, alice, UpdateInput{Type: &public})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.SecretCode != "" {
		t.Errorf("SecretCode = %q after leaving secret, want empty", updated.SecretCode)
	}

	settings := models.GroupSettings{MaxMembers: 1, AllowBots: true}
	if _, err := svc.Update(ctx, g.ID, alice, UpdateInput{Settings: &settings}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Update() below member count error = %v, want ErrValidation", err)
	}
}

func TestMembersAndRoles(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice, bob, cat := createUser(t, st, "alice"), createUser(t, st, "bob"), createUser(t, st, "cat")
	createUser(t, st, "dan")
	g := mustCreate(t, svc, alice, CreateInput{Name: "Team"})

	if _, err := svc.AddMember(ctx, g.ID, alice, "bob"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if _, err := svc.AddMember(ctx, g.ID, alice, "bob"); apperr.Message(err) != "user is already a member" {
		t.Errorf("AddMember() twice error = %v, want user is already a member", err)
	}
	if _, err := svc.AddMember(ctx, g.ID, alice, "ghost"); apperr.Message(err) != "user not found" {
		t.Errorf("AddMember() unknown error = %v, want user not found", err)
	}
	if _, err := svc.AddMember(ctx, g.ID, bob, "cat"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("AddMember() without invite error = %v, want ErrForbidden", err)
	}

	roles := []models.Role{{ID: "mod", Name: "Moderator", Color: "#f90", Permissions: map[string]bool{"invite": true, "kick": true}}}
	if _, err := svc.SetRoles(ctx, g.ID, bob, roles); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("SetRoles() by member error = %v, want ErrForbidden", err)
	}
	if _, err := svc.SetRoles(ctx, g.ID, alice, []models.Role{{ID: "admin", Name: "Boss"}}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("SetRoles() reserved id error = %v, want ErrValidation", err)
	}
	if _, err := svc.SetRoles(ctx, g.ID, alice, roles); err != nil {
		t.Fatalf("SetRoles() error = %v", err)
	}
	if _, err := svc.AssignRole(ctx, g.ID, alice, bob, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("AssignRole() unknown role error = %v, want ErrNotFound", err)
	}
	if _, err := svc.AssignRole(ctx, g.ID, alice, bob, "mod"); err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}

	roleTests := []struct {
		user string
		want string
	}{
		{alice, models.RoleOwner},
		{bob, "mod"},
	}
	for _, tt := range roleTests {
		got, err := svc.MemberRole(ctx, g.ID, tt.user)
		if err != nil || got != tt.want {
			t.Errorf("MemberRole(%s) = %q, %v, want %q", tt.user, got, err, tt.want)
		}
	}
	permTests := []struct {
		perm string
		want bool
	}{
		{"invite", true},
		{"kick", true},
		{"manage_messages", false},
	}
	for _, tt := range permTests {
		got, err := svc.HasPermission(ctx, g.ID, bob, tt.perm)
		if err != nil || got != tt.want {
			t.Errorf("HasPermission(bob, %s) = %t, %v, want %t", tt.perm, got, err, tt.want)
		}
	}
	if _, err := svc.HasPermission(ctx, g.ID, bob, "fly"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("HasPermission() unknown error = %v, want ErrValidation", err)
	}

	if _, err := svc.AddMember(ctx, g.ID, bob, "cat"); err != nil {
		t.Fatalf("AddMember() by moderator error = %v", err)
	}
	if _, err := svc.RemoveMember(ctx, g.ID, bob, alice); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("RemoveMember(owner) error = %v, want ErrForbidden", err)
	}
	removed, err := svc.RemoveMember(ctx, g.ID, bob, cat)
	if err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	if removed.IsMember(cat) {
		t.Errorf("RemoveMember() members = %v, still contain cat", removed.Members)
	}
}

func TestAdminsAndDelete(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice, bob := createUser(t, st, "alice"), createUser(t, st, "bob")
	g := mustCreate(t, svc, alice, CreateInput{Name: "Team"})
	svc.Join(ctx, g.ID, bob)

	if _, err := svc.PromoteAdmin(ctx, g.ID, bob, bob); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("PromoteAdmin() by member error = %v, want ErrForbidden", err)
	}
	got, err := svc.PromoteAdmin(ctx, g.ID, alice, bob)
	if err != nil || !got.IsAdmin(bob) {
		t.Fatalf("PromoteAdmin() = %v, %v, want bob admin", got, err)
	}
	if _, err := svc.DemoteAdmin(ctx, g.ID, alice, alice); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("DemoteAdmin(owner) error = %v, want ErrValidation", err)
	}
	got, _ = svc.DemoteAdmin(ctx, g.ID, alice, bob)
	if got.IsAdmin(bob) {
		t.Errorf("DemoteAdmin() admins = %v, still contain bob", got.Admins)
	}

	if err := svc.Delete(ctx, g.ID, bob); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Delete() by member error = %v, want ErrForbidden", err)
	}
	if err := svc.Delete(ctx, g.ID, alice); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := st.GetRoom(ctx, g.RoomID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetRoom() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestSearchPublic(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, st, "alice")
	mustCreate(t, svc, alice, CreateInput{Name: "Go Nuts", Description: "gophers"})
	mustCreate(t, svc, alice, CreateInput{Name: "Rustaceans"})
	mustCreate(t, svc, alice, CreateInput{Name: "Go Private", Type: models.GroupPrivate})

	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"go", 1},
		{"GOPHER", 1},
		{"java", 0},
	}
	for _, tt := range tests {
		got, err := svc.SearchPublic(ctx, tt.query)
		if err != nil {
			t.Fatalf("SearchPublic(%q) error = %v", tt.query, err)
		}
		if len(got) != tt.want {
			t.Errorf("SearchPublic(%q) = %d groups, want %d", tt.query, len(got), tt.want)
		}
	}
}

func TestBot(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice, bob := createUser(t, st, "alice"), createUser(t, st, "bob")
	g := mustCreate(t, svc, alice, CreateInput{Name: "Team"})
	svc.Join(ctx, g.ID, bob)

	if _, err := svc.AddBot(ctx, g.ID, bob); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("AddBot() by member error = %v, want ErrForbidden", err)
	}
	added, err := svc.AddBot(ctx, g.ID, alice)
	if err != nil || !added {
		t.Fatalf("AddBot() = %t, %v, want true", added, err)
	}
	added, err = svc.AddBot(ctx, g.ID, alice)
	if err != nil || added {
		t.Errorf("AddBot() again = %t, %v, want false", added, err)
	}

	msgs, _ := st.RecentMessages(ctx, g.RoomID, 10)
	if len(msgs) != 1 || msgs[0].Kind() != models.KindSystem || msgs[0].SenderID != models.GroupBotID {
		t.Fatalf("RecentMessages() = %+v, want one welcome message from the bot", msgs)
	}

	g, _ = svc.Get(ctx, g.ID)
	tests := []struct {
		text string
		want string
	}{
		{"hey ZENNY HELP please", botHelp},
		{"zenny joke", botJokes[0]},
		{"tell me a zenny fact", botFacts[0]},
		{"zenny stats", "📊 Group Stats:\n• Members: 3\n• Messages: 1\n• Created: " + g.CreatedAt.Format("Jan 2, 2006")},
		{"hello zenny", ""},
	}
	for _, tt := range tests {
		got, err := svc.BotReply(ctx, g, tt.text)
		if err != nil {
			t.Fatalf("BotReply(%q) error = %v", tt.text, err)
		}
		if got != tt.want {
			t.Errorf("BotReply(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}

	m := &models.Message{ID: "m1", RoomID: g.RoomID, SenderID: bob, Body: models.TextBody{Text: "zenny joke"}, Status: models.StatusSent, CreatedAt: base}
	if _, err := st.AppendMessage(ctx, m); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	svc.HandleMessage(ctx, m)
	msgs, _ = st.RecentMessages(ctx, g.RoomID, 10)
	last := msgs[len(msgs)-1]
	if last.SenderID != models.GroupBotID || last.Body.Preview() != botJokes[0] {
		t.Errorf("last message = %s %q, want bot joke", last.SenderID, last.Body.Preview())
	}

	ok, err := svc.CanManageMessages(ctx, g.RoomID, bob)
	if err != nil || ok {
		t.Errorf("CanManageMessages(bob) = %t, %v, want false", ok, err)
	}
	if ok, _ := svc.CanManageMessages(ctx, g.RoomID, alice); !ok {
		t.Errorf("CanManageMessages(alice) = false, want true")
	}

	n, err := svc.ClearMessages(ctx, g.ID, alice)
	if err != nil || n != 3 {
		t.Errorf("ClearMessages() = %d, %v, want 3", n, err)
	}
}

func TestBotDisallowed(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, st, "alice")
	g := mustCreate(t, svc, alice, CreateInput{Name: "Quiet", Settings: &models.GroupSettings{MaxMembers: 10}})

	if _, err := svc.AddBot(ctx, g.ID, alice); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("AddBot() with bots disabled error = %v, want ErrForbidden", err)
	}
}
