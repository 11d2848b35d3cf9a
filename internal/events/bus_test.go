package events

import (
	"os"
	"testing"
	"time"
)

func received(ch <-chan struct{}) bool {
	select {
	case _, ok := <-ch:
		return ok
	case <-time.After(time.Second):
		return false
	}
}

func TestMemoryBusDeliversToTopicOnly(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	room, cancelRoom := b.Subscribe(RoomTopic("a_b"))
	defer cancelRoom()
	chats, cancelChats := b.Subscribe(ChatsTopic("a"))
	defer cancelChats()

	b.Publish(RoomTopic("a_b"))

	if !received(room) {
		t.Fatalf("room subscriber did not receive the notification")
	}
	select {
	case <-chats:
		t.Fatalf("chats subscriber received a room notification")
	default:
	}
}

func TestMemoryBusCoalescesBursts(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ch, cancel := b.Subscribe("room:x")
	defer cancel()

	for i := 0; i < 100; i++ {
		b.Publish("room:x")
	}

	if !received(ch) {
		t.Fatalf("no notification after burst")
	}
	select {
	case <-ch:
		t.Fatalf("burst was not coalesced into one pending notification")
	default:
	}
}

func TestMemoryBusCancelIsIdempotent(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ch, cancel := b.Subscribe("room:x")
	cancel()
	cancel()

	if n := b.Subscribers("room:x"); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
	if _, ok := <-ch; ok {
		t.Errorf("channel still open after cancel")
	}
	b.Publish("room:x")
}

func TestMemoryBusCloseEndsSubscriptions(t *testing.T) {
	b := NewMemoryBus()
	ch, cancel := b.Subscribe("room:x")

	b.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Errorf("channel still open after Close")
	}

	late, _ := b.Subscribe("room:x")
	if _, ok := <-late; ok {
		t.Errorf("Subscribe() after Close returned an open channel")
	}
}

func TestNATSBusRelaysBetweenNodes(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}

	a, err := NewNATSBus(url)
	if err != nil {
		t.Skipf("nats unreachable: %v", err)
	}
	defer a.Close()
	b, err := NewNATSBus(url)
	if err != nil {
		t.Skipf("nats unreachable: %v", err)
	}
	defer b.Close()

	remote, cancel := b.Subscribe(ChatsTopic("u1"))
	defer cancel()
	local, cancelLocal := a.Subscribe(ChatsTopic("u1"))
	defer cancelLocal()

	a.conn.Flush()
	b.conn.Flush()
	a.Publish(ChatsTopic("u1"))

	if !received(remote) {
		t.Fatalf("remote node did not receive the change")
	}
	if !received(local) {
		t.Fatalf("local subscriber did not receive the change")
	}
	// The echo from NATS must not produce a second local notification.
	time.Sleep(200 * time.Millisecond)
	select {
	case <-local:
		t.Errorf("own publish was delivered twice")
	default:
	}
}
