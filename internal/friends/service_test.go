package friends

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zentrochat/zentro/internal/db"
	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/internal/store"
	"github.com/zentrochat/zentro/pkg/apperr"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Store, *events.MemoryBus) {
	t.Helper()
	database, err := db.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	st := store.New(database.GetConn())
	bus := events.NewMemoryBus()
	svc := NewService(st, bus)
	svc.now = func() time.Time { return base }
	return svc, st, bus
}

func createUser(t *testing.T, s *store.Store, username string) string {
	t.Helper()
	u, err := s.CreateUser(context.Background(), username, "hash", base)
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", username, err)
	}
	return u.ID
}

func TestSendRequestErrors(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	alice, bob, cat, dan := createUser(t, st, "alice"), createUser(t, st, "bob"), createUser(t, st, "cat"), createUser(t, st, "dan")

	if _, err := svc.SendRequest(ctx, alice, bob); err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	r, _ := svc.SendRequest(ctx, alice, dan)
	if _, err := svc.Accept(ctx, r.ID, dan); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	tests := []struct {
		name     string
		from, to string
		want     error
		msg      string
	}{
		{"self", alice, alice, apperr.ErrValidation, "you cannot send a friend request to yourself"},
		{"unknown user", alice, "ghost", apperr.ErrNotFound, "the user you are trying to send a request to does not exist"},
		{"already friends", dan, alice, apperr.ErrConflict, "you are already friends with this user"},
		{"already sent", alice, bob, apperr.ErrConflict, "you have already sent a friend request to this user"},
		{"already received", bob, alice, apperr.ErrConflict, "this user has already sent you a friend request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendRequest(ctx, tt.from, tt.to)
			if !errors.Is(err, tt.want) {
				t.Fatalf("SendRequest() error = %v, want %v", err, tt.want)
			}
			if got := apperr.Message(err); got != tt.msg {
				t.Errorf("Message() = %q, want %q", got, tt.msg)
			}
		})
	}

	if _, err := svc.SendRequest(ctx, cat, alice); err != nil {
		t.Errorf("SendRequest() from a stranger error = %v", err)
	}
}

func TestRequestLifecycle(t *testing.T) {
	svc, st, bus := newTestService(t)
	ctx := context.Background()
	alice, bob := createUser(t, st, "alice"), createUser(t, st, "bob")

	notify, cancel := bus.Subscribe(events.FriendsTopic(bob))
	defer cancel()

	r, err := svc.SendRequest(ctx, alice, bob)
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	select {
	case <-notify:
	default:
		t.Errorf("no friends notification for the receiver")
	}

	incoming, _ := svc.Incoming(ctx, bob)
	if len(incoming) != 1 || incoming[0].Sender == nil || incoming[0].Sender.DisplayName != "alice" {
		t.Fatalf("Incoming() = %+v, want one request from alice", incoming)
	}
	outgoing, _ := svc.Outgoing(ctx, alice)
	if len(outgoing) != 1 || outgoing[0].Receiver == nil {
		t.Fatalf("Outgoing() = %+v, want one request to bob", outgoing)
	}

	if _, err := svc.Accept(ctx, r.ID, alice); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Accept() by sender error = %v, want ErrForbidden", err)
	}
	accepted, err := svc.Accept(ctx, r.ID, bob)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if accepted.Status != models.RequestAccepted {
		t.Errorf("Status = %s, want accepted", accepted.Status)
	}
	if _, err := svc.Reject(ctx, r.ID, bob); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Reject() after accept error = %v, want ErrValidation", err)
	}

	for _, pair := range [][2]string{{alice, bob}, {bob, alice}} {
		got, _ := svc.Status(ctx, pair[0], pair[1])
		if got != models.FriendshipFriends {
			t.Errorf("Status(%s, %s) = %s, want friends", pair[0], pair[1], got)
		}
	}
	friends, _ := svc.Friends(ctx, bob)
	if len(friends) != 1 || friends[0].ID != alice {
		t.Errorf("Friends() = %+v, want [alice]", friends)
	}

	if err := svc.Remove(ctx, bob, alice); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := svc.Remove(ctx, bob, alice); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
	if got, _ := svc.Status(ctx, alice, bob); got != models.FriendshipNone {
		t.Errorf("Status() after Remove = %s, want none", got)
	}
}

func TestRejectAndCancel(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	alice, bob, cat := createUser(t, st, "alice"), createUser(t, st, "bob"), createUser(t, st, "cat")

	r, _ := svc.SendRequest(ctx, alice, bob)
	if _, err := svc.Reject(ctx, r.ID, cat); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Reject() by third party error = %v, want ErrForbidden", err)
	}
	rejected, err := svc.Reject(ctx, r.ID, alice)
	if err != nil {
		t.Fatalf("Reject() by sender error = %v", err)
	}
	if rejected.Status != models.RequestRejected {
		t.Errorf("Status = %s, want rejected", rejected.Status)
	}

	// A rejected request does not block a new one.
	r2, err := svc.SendRequest(ctx, bob, alice)
	if err != nil {
		t.Fatalf("SendRequest() after rejection error = %v", err)
	}
	if got, _ := svc.Status(ctx, alice, bob); got != models.FriendshipRequestReceived {
		t.Errorf("Status() = %s, want request_received", got)
	}
	if err := svc.Cancel(ctx, r2.ID, alice); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Cancel() by receiver error = %v, want ErrForbidden", err)
	}
	if err := svc.Cancel(ctx, r2.ID, bob); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := svc.Accept(ctx, r2.ID, alice); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Accept() after Cancel error = %v, want ErrNotFound", err)
	}
}

func TestStatus(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	alice, bob := createUser(t, st, "alice"), createUser(t, st, "bob")
	svc.SendRequest(ctx, alice, bob)

	tests := []struct {
		a, b string
		want models.FriendshipStatus
	}{
		{alice, alice, models.FriendshipSelf},
		{alice, bob, models.FriendshipRequestSent},
		{bob, alice, models.FriendshipRequestReceived},
		{alice, "ghost", models.FriendshipNone},
	}
	for _, tt := range tests {
		got, err := svc.Status(ctx, tt.a, tt.b)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("Status(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSuggestionsAndSearch(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	alice, bob := createUser(t, st, "alice"), createUser(t, st, "bob")
	createUser(t, st, "carol")
	svc.SendRequest(ctx, alice, bob)

	suggestions, err := svc.Suggestions(ctx, alice, 0)
	if err != nil {
		t.Fatalf("Suggestions() error = %v", err)
	}
	if len(suggestions) != 1 || suggestions[0].DisplayName != "carol" {
		t.Errorf("Suggestions() = %+v, want [carol]", suggestions)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 0},
		{"   ", 0},
		{"CAR", 1},
		{"o", 2},
		{"alice", 0},
	}
	for _, tt := range tests {
		got, err := svc.Search(ctx, tt.query, alice, 0)
		if err != nil {
			t.Fatalf("Search(%q) error = %v", tt.query, err)
		}
		if len(got) != tt.want {
			t.Errorf("Search(%q) = %d users, want %d", tt.query, len(got), tt.want)
		}
	}
}
