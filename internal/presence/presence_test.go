package presence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zentrochat/zentro/internal/db"
	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/store"
	"github.com/zentrochat/zentro/pkg/apperr"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingCache struct {
	invalidated []string
}

func (c *recordingCache) Invalidate(id string) { c.invalidated = append(c.invalidated, id) }

type fakeConns map[string]bool

func (c fakeConns) IsUserOnline(userID string) bool { return c[userID] }

func newTestService(t *testing.T) (*Service, *store.Store, *events.MemoryBus, *recordingCache) {
	t.Helper()
	database, err := db.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	st := store.New(database.GetConn())
	bus := events.NewMemoryBus()
	cache := &recordingCache{}
	svc := NewService(st, cache, bus)
	svc.now = func() time.Time { return base }
	return svc, st, bus, cache
}

func createUser(t *testing.T, s *store.Store, username string) string {
	t.Helper()
	u, err := s.CreateUser(context.Background(), username, "hash", base)
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", username, err)
	}
	return u.ID
}

func TestSetOnlineNotifiesPartners(t *testing.T) {
	svc, st, bus, cache := newTestService(t)
	ctx := context.Background()
	alice, bob := createUser(t, st, "alice"), createUser(t, st, "bob")
	st.EnsureDirectRoom(ctx, "room1", alice, bob, base)

	notify, cancel := bus.Subscribe(events.ChatsTopic(bob))
	defer cancel()

	if err := svc.SetOnline(ctx, alice, true); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	u, _ := st.GetUser(ctx, alice)
	if !u.Online {
		t.Errorf("Online = false, want true")
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != alice {
		t.Errorf("invalidated = %v, want [alice]", cache.invalidated)
	}
	select {
	case <-notify:
	default:
		t.Errorf("no chat list notification for the partner")
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, st, _, cache := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, st, "alice")

	avatar := "https://img.example/a.png"
	u, err := svc.UpdateProfile(ctx, alice, "  Alice A.  ", &avatar, "hi")
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if u.DisplayName != "Alice A." || u.AvatarURL == nil || *u.AvatarURL != avatar || u.Bio != "hi" {
		t.Errorf("UpdateProfile() = %+v", u)
	}
	if len(cache.invalidated) != 1 {
		t.Errorf("invalidated = %v, want one entry", cache.invalidated)
	}

	tests := []struct {
		name, display, bio string
		want               error
	}{
		{"empty name", " ", "", apperr.ErrValidation},
		{"long name", strings.Repeat("a", MaxDisplayNameLen+1), "", apperr.ErrValidation},
		{"long bio", "Alice", strings.Repeat("b", MaxBioLen+1), apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.UpdateProfile(ctx, alice, tt.display, nil, tt.bio); !errors.Is(err, tt.want) {
				t.Errorf("UpdateProfile() error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := svc.UpdateProfile(ctx, "ghost", "Ghost", nil, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("UpdateProfile() unknown user error = %v, want ErrNotFound", err)
	}
}

func TestSweepSkipsConnectedUsers(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()
	alice, bob, cat := createUser(t, st, "alice"), createUser(t, st, "bob"), createUser(t, st, "cat")

	st.SetPresence(ctx, alice, true, base.Add(-time.Hour))
	st.SetPresence(ctx, bob, true, base.Add(-time.Hour))
	st.SetPresence(ctx, cat, true, base.Add(-time.Minute))

	n, err := svc.Sweep(ctx, 10*time.Minute, fakeConns{bob: true})
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}

	want := map[string]bool{alice: false, bob: true, cat: true}
	for id, online := range want {
		u, _ := st.GetUser(ctx, id)
		if u.Online != online {
			t.Errorf("user %s Online = %t, want %t", u.Username, u.Online, online)
		}
	}
}

func TestTouchKeepsRemoteConnectionFromSweep(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()
	alice, bob := createUser(t, st, "alice"), createUser(t, st, "bob")

	st.SetPresence(ctx, alice, true, base.Add(-time.Hour))
	st.SetPresence(ctx, bob, true, base.Add(-time.Hour))

	// alice heartbeats through another node; this node sees no sockets.
	if err := svc.Touch(ctx, alice); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	n, err := svc.Sweep(ctx, 10*time.Minute, fakeConns{})
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}

	want := map[string]bool{alice: true, bob: false}
	for id, online := range want {
		u, _ := st.GetUser(ctx, id)
		if u.Online != online {
			t.Errorf("user %s Online = %t, want %t", u.Username, u.Online, online)
		}
	}
}

func TestTouchRestoresOfflineUser(t *testing.T) {
	svc, st, _, cache := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, st, "alice")
	st.SetPresence(ctx, alice, false, base.Add(-time.Hour))

	if err := svc.Touch(ctx, alice); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	u, _ := st.GetUser(ctx, alice)
	if !u.Online || !u.LastSeen.Equal(base) {
		t.Errorf("after Touch() Online = %t LastSeen = %v, want true %v", u.Online, u.LastSeen, base)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != alice {
		t.Errorf("invalidated = %v, want [%s]", cache.invalidated, alice)
	}
}

func TestStartSweeperRejectsInvalidCron(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.StartSweeper(ctx, "every five minutes", time.Minute, nil); err == nil {
		t.Errorf("StartSweeper() with invalid cron error = nil, want error")
	}
	if err := svc.StartSweeper(ctx, "*/5 * * * *", time.Minute, nil); err != nil {
		t.Errorf("StartSweeper() error = %v", err)
	}
}
