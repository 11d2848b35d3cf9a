package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zentrochat/zentro/internal/db"
	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/localstore"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/internal/realtime"
	"github.com/zentrochat/zentro/internal/store"
	"github.com/zentrochat/zentro/pkg/apperr"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type pushCall struct {
	receiver, sender, room, preview string
}

type recordingPush struct {
	mu    sync.Mutex
	calls []pushCall
}

func (p *recordingPush) NotifyNewMessage(receiverID, senderName, roomID, preview string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{receiverID, senderName, roomID, preview})
}

type fakeHooks struct {
	moderators map[string]bool
	handled    []string
}

func (h *fakeHooks) CanManageMessages(ctx context.Context, roomID, userID string) (bool, error) {
	return h.moderators[userID], nil
}

func (h *fakeHooks) HandleMessage(ctx context.Context, m *models.Message) {
	h.handled = append(h.handled, m.ID)
}

type fixture struct {
	svc    *Service
	store  *store.Store
	bus    *events.MemoryBus
	blocks *localstore.SafetyList
	push   *recordingPush
	hooks  *fakeHooks
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	local, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("localstore.Open() error = %v", err)
	}
	t.Cleanup(func() { local.Close() })

	f := &fixture{
		store:  store.New(database.GetConn()),
		bus:    events.NewMemoryBus(),
		blocks: localstore.NewSafetyList(local),
		push:   &recordingPush{},
		hooks:  &fakeHooks{moderators: map[string]bool{}},
		clock:  base,
	}
	f.svc = NewService(f.store, realtime.NewResolver(f.store, f.bus), f.bus, Options{
		Blocks: f.blocks,
		Push:   f.push,
		Groups: f.hooks,
	})
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func (f *fixture) user(t *testing.T, name string) string {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), name, "hash", base)
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", name, err)
	}
	return u.ID
}

func (f *fixture) directRoom(t *testing.T, a, b string) string {
	t.Helper()
	id := realtime.RoomID(a, b)
	if _, err := f.store.EnsureDirectRoom(context.Background(), id, a, b, base); err != nil {
		t.Fatalf("EnsureDirectRoom() error = %v", err)
	}
	return id
}

func text(s string) models.Body { return models.TextBody{Text: s} }

func TestSendMessageUpdatesRoomAndUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	roomID := f.directRoom(t, alice, bob)

	m, err := f.svc.SendMessage(ctx, roomID, alice, text("hello"), "")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if m.Status != models.StatusSent || m.ID == "" {
		t.Errorf("SendMessage() = %+v, want a sent message with an id", m)
	}

	room, err := f.store.GetRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("GetRoom() error = %v", err)
	}
	if room.LastMessage != "hello" || room.LastSenderID != alice {
		t.Errorf("room preview = %q by %s, want hello by alice", room.LastMessage, room.LastSenderID)
	}
	if room.UnreadCounts[bob] != 1 || room.UnreadCounts[alice] != 0 {
		t.Errorf("UnreadCounts = %v, want bob 1 alice 0", room.UnreadCounts)
	}

	if len(f.push.calls) != 1 {
		t.Fatalf("push calls = %d, want 1", len(f.push.calls))
	}
	if got := f.push.calls[0]; got.receiver != bob || got.sender != "alice" || got.preview != "hello" {
		t.Errorf("push call = %+v", got)
	}
}

func TestSendMessageSkipsPushForOnlineRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	roomID := f.directRoom(t, alice, bob)
	f.store.SetPresence(ctx, bob, true, base)

	if _, err := f.svc.SendMessage(ctx, roomID, alice, text("hi"), ""); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(f.push.calls) != 0 {
		t.Errorf("push calls = %d, want 0", len(f.push.calls))
	}
}

func TestSendMessagePublishesChanges(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	roomID := f.directRoom(t, alice, bob)

	roomCh, cancelRoom := f.bus.Subscribe(events.RoomTopic(roomID))
	defer cancelRoom()
	chatsCh, cancelChats := f.bus.Subscribe(events.ChatsTopic(bob))
	defer cancelChats()

	if _, err := f.svc.SendMessage(context.Background(), roomID, alice, text("hi"), ""); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	for name, ch := range map[string]<-chan struct{}{"room": roomCh, "chats": chatsCh} {
		select {
		case <-ch:
		default:
			t.Errorf("no %s notification after SendMessage()", name)
		}
	}
}

func TestSendMessageRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "eve")
	roomID := f.directRoom(t, alice, bob)

	tests := []struct {
		name   string
		sender string
		body   models.Body
		want   error
	}{
		{"nil body", alice, nil, apperr.ErrValidation},
		{"blank text", alice, text("   "), apperr.ErrValidation},
		{"system message", alice, models.SystemBody{Text: "joined"}, apperr.ErrValidation},
		{"media without url", alice, models.ImageBody{Caption: "cat"}, apperr.ErrValidation},
		{"outsider", eve, text("let me in"), apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(ctx, roomID, tt.sender, tt.body, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("SendMessage() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := f.svc.SendMessage(ctx, "missing_room", alice, text("hi"), ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("SendMessage() to missing room error = %v, want ErrNotFound", err)
	}
}

func TestSendMessageToBlockingUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	roomID := f.directRoom(t, alice, bob)

	if err := f.blocks.Block(bob, alice); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, roomID, alice, text("hi"), ""); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("SendMessage() to blocking user error = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.SendMessage(ctx, roomID, bob, text("hi"), ""); err != nil {
		t.Errorf("SendMessage() by blocker error = %v, want nil", err)
	}
}

func TestReplyKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, cat := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "cat")
	roomID := f.directRoom(t, alice, bob)
	otherRoom := f.directRoom(t, alice, cat)

	orig, _ := f.svc.SendMessage(ctx, roomID, alice, models.ImageBody{URL: "https://img.example/cat.png", Caption: "look"}, "")
	reply, err := f.svc.SendMessage(ctx, roomID, bob, text("cute"), orig.ID)
	if err != nil {
		t.Fatalf("SendMessage() reply error = %v", err)
	}
	want := models.ReplyRef{MessageID: orig.ID, SenderID: alice, Kind: models.KindImage, Preview: "look"}
	if reply.ReplyTo == nil || *reply.ReplyTo != want {
		t.Errorf("ReplyTo = %+v, want %+v", reply.ReplyTo, want)
	}

	if _, err := f.svc.SendMessage(ctx, otherRoom, alice, text("hm"), orig.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("SendMessage() reply across rooms error = %v, want ErrValidation", err)
	}
}

func TestSendDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	m, err := f.svc.SendDirect(ctx, alice, bob, text("hi"), "")
	if err != nil {
		t.Fatalf("SendDirect() error = %v", err)
	}
	if m.RoomID != realtime.RoomID(alice, bob) {
		t.Errorf("RoomID = %s, want %s", m.RoomID, realtime.RoomID(alice, bob))
	}
	if _, err := f.svc.SendDirect(ctx, alice, "ghost", text("hi"), ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("SendDirect() to unknown user error = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.SendDirect(ctx, alice, alice, text("hi"), ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("SendDirect() to self error = %v, want ErrValidation", err)
	}
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	roomID := f.directRoom(t, alice, bob)
	m, _ := f.svc.SendMessage(ctx, roomID, alice, text("helo"), "")

	edited, err := f.svc.EditMessage(ctx, m.ID, alice, "hello")
	if err != nil {
		t.Fatalf("EditMessage() error = %v", err)
	}
	if edited.Body.Preview() != "hello" || !edited.Edited || edited.EditedAt == nil {
		t.Errorf("EditMessage() = %+v, want edited text hello", edited)
	}
	if !edited.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", edited.CreatedAt, m.CreatedAt)
	}

	media, _ := f.svc.SendMessage(ctx, roomID, alice, models.GIFBody{URL: "https://gif.example/x.gif"}, "")
	tests := []struct {
		name   string
		id     string
		userID string
		text   string
		want   error
	}{
		{"other user", m.ID, bob, "mine now", apperr.ErrForbidden},
		{"media message", media.ID, alice, "caption", apperr.ErrValidation},
		{"empty text", m.ID, alice, "", apperr.ErrValidation},
		{"missing message", "nope", alice, "x", apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.EditMessage(ctx, tt.id, tt.userID, tt.text); !errors.Is(err, tt.want) {
				t.Errorf("EditMessage() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	roomID := f.directRoom(t, alice, bob)
	m, _ := f.svc.SendMessage(ctx, roomID, alice, text("oops"), "")
	f.svc.ToggleReaction(ctx, m.ID, bob, "😂")

	if _, err := f.svc.DeleteMessage(ctx, m.ID, bob); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("DeleteMessage() by other user error = %v, want ErrForbidden", err)
	}
	deleted, err := f.svc.DeleteMessage(ctx, m.ID, alice)
	if err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	if !deleted.Deleted || deleted.Body.Preview() != models.DeletedText || len(deleted.Reactions) != 0 {
		t.Errorf("DeleteMessage() = %+v, want deleted text without reactions", deleted)
	}
	if _, err := f.svc.EditMessage(ctx, m.ID, alice, "again"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("EditMessage() on deleted message error = %v, want ErrValidation", err)
	}
	if _, err := f.svc.ToggleReaction(ctx, m.ID, bob, "👍"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("ToggleReaction() on deleted message error = %v, want ErrValidation", err)
	}
}

func TestGroupModeratorCanDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	g := &models.Group{
		ID:        "g1",
		Name:      "Gophers",
		Type:      models.GroupPublic,
		OwnerID:   alice,
		CreatedBy: alice,
		Settings:  models.DefaultGroupSettings(),
		RoomID:    "group_g1",
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := f.store.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if err := f.store.AddGroupMember(ctx, g.ID, bob, base); err != nil {
		t.Fatalf("AddGroupMember() error = %v", err)
	}

	m, err := f.svc.SendMessage(ctx, g.RoomID, bob, text("spam"), "")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(f.hooks.handled) != 1 || f.hooks.handled[0] != m.ID {
		t.Errorf("HandleMessage() calls = %v, want [%s]", f.hooks.handled, m.ID)
	}

	f.hooks.moderators[alice] = true
	if _, err := f.svc.DeleteMessage(ctx, m.ID, alice); err != nil {
		t.Errorf("DeleteMessage() by moderator error = %v", err)
	}
	if err := f.svc.DeleteChat(ctx, g.RoomID, bob); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("DeleteChat() on group room error = %v, want ErrValidation", err)
	}
}

func TestToggleReaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "eve")
	roomID := f.directRoom(t, alice, bob)
	m, _ := f.svc.SendMessage(ctx, roomID, alice, text("hi"), "")

	got, err := f.svc.ToggleReaction(ctx, m.ID, bob, " 👍 ")
	if err != nil {
		t.Fatalf("ToggleReaction() error = %v", err)
	}
	if len(got.Reactions) != 1 || got.Reactions[0].Emoji != "👍" || got.Reactions[0].UserID != bob {
		t.Errorf("Reactions = %+v, want one 👍 by bob", got.Reactions)
	}
	got, _ = f.svc.ToggleReaction(ctx, m.ID, bob, "👍")
	if len(got.Reactions) != 0 {
		t.Errorf("Reactions after second toggle = %+v, want none", got.Reactions)
	}

	if _, err := f.svc.ToggleReaction(ctx, m.ID, eve, "👍"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("ToggleReaction() by outsider error = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.ToggleReaction(ctx, m.ID, bob, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("ToggleReaction() empty emoji error = %v, want ErrValidation", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	roomID := f.directRoom(t, alice, bob)
	m, _ := f.svc.SendMessage(ctx, roomID, alice, text("hi"), "")

	steps := []struct {
		name   string
		userID string
		status models.Status
		want   models.Status
	}{
		{"sender cannot advance", alice, models.StatusRead, models.StatusSent},
		{"recipient delivers", bob, models.StatusDelivered, models.StatusDelivered},
		{"recipient reads", bob, models.StatusRead, models.StatusRead},
		{"no regression", bob, models.StatusDelivered, models.StatusRead},
		{"no regression to sent", bob, models.StatusSent, models.StatusRead},
	}
	for _, st := range steps {
		got, err := f.svc.UpdateStatus(ctx, m.ID, st.userID, st.status)
		if err != nil {
			t.Fatalf("%s: UpdateStatus() error = %v", st.name, err)
		}
		if got != st.want {
			t.Errorf("%s: UpdateStatus() = %s, want %s", st.name, got, st.want)
		}
	}

	if _, err := f.svc.UpdateStatus(ctx, m.ID, bob, "seen"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("UpdateStatus() invalid status error = %v, want ErrValidation", err)
	}
}

func TestMarkRoomRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	roomID := f.directRoom(t, alice, bob)
	m1, _ := f.svc.SendMessage(ctx, roomID, alice, text("one"), "")
	f.svc.SendMessage(ctx, roomID, alice, text("two"), "")

	if err := f.svc.MarkRoomRead(ctx, roomID, bob); err != nil {
		t.Fatalf("MarkRoomRead() error = %v", err)
	}
	room, _ := f.store.GetRoom(ctx, roomID)
	if room.UnreadCounts[bob] != 0 {
		t.Errorf("UnreadCounts[bob] = %d, want 0", room.UnreadCounts[bob])
	}
	got, _ := f.svc.GetMessage(ctx, m1.ID)
	if got.Status != models.StatusRead {
		t.Errorf("Status = %s, want read", got.Status)
	}
}

func TestDeleteChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "eve")
	roomID := f.directRoom(t, alice, bob)
	f.svc.SendMessage(ctx, roomID, alice, text("bye"), "")

	if err := f.svc.DeleteChat(ctx, roomID, eve); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("DeleteChat() by outsider error = %v, want ErrForbidden", err)
	}
	if err := f.svc.DeleteChat(ctx, roomID, alice); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}
	if _, err := f.store.GetRoom(ctx, roomID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetRoom() after DeleteChat error = %v, want ErrNotFound", err)
	}
}
