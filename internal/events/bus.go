// Package events carries change notifications between writers and live
// queries. A notification only says "something under this topic changed";
// subscribers re-read the state they care about.
package events

import "sync"

// Bus fans out change notifications per topic.
type Bus interface {
	Publish(topic string)
	// Subscribe returns a channel that receives at least one value after
	// every Publish on topic. cancel releases the subscription.
	Subscribe(topic string) (<-chan struct{}, func())
	Close() error
}

func RoomTopic(roomID string) string    { return "room:" + roomID }
func ChatsTopic(userID string) string   { return "chats:" + userID }
func FriendsTopic(userID string) string { return "friends:" + userID }
func GroupsTopic(userID string) string  { return "groups:" + userID }

// MemoryBus is the in-process Bus. Each subscriber owns a channel with a
// buffer of one, so a burst of publishes collapses into one pending
// notification and Publish never blocks.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	ch   chan struct{}
	once sync.Once
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*subscription]struct{})}
}

func (b *MemoryBus) Publish(topic string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[topic] {
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

func (b *MemoryBus) Subscribe(topic string) (<-chan struct{}, func()) {
	sub := &subscription{ch: make(chan struct{}, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[topic]; ok {
				if _, ok := set[sub]; ok {
					delete(set, sub)
					close(sub.ch)
				}
				if len(set) == 0 {
					delete(b.subs, topic)
				}
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Subscribers reports the number of live subscriptions on topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close closes every subscriber channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for topic, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, topic)
	}
	return nil
}
