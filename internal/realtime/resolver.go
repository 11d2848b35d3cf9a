package realtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/pkg/apperr"
	"golang.org/x/sync/singleflight"
)

// RoomStore creates direct rooms. EnsureDirectRoom must be a no-op for a
// room that already exists.
type RoomStore interface {
	EnsureDirectRoom(ctx context.Context, roomID, userA, userB string, now time.Time) (bool, error)
}

// Resolver maps a pair of users to their direct room, creating it on first
// use.
type Resolver struct {
	rooms RoomStore
	bus   events.Bus
	group singleflight.Group
	now   func() time.Time
}

func NewResolver(rooms RoomStore, bus events.Bus) *Resolver {
	return &Resolver{
		rooms: rooms,
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RoomID is the direct room id of two users: both ids sorted and joined
// with "_", so either argument order gives the same id.
func RoomID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

func (r *Resolver) Resolve(ctx context.Context, userA, userB string) (string, error) {
	if userA == "" || userB == "" {
		return "", fmt.Errorf("%w: both user ids are required", apperr.ErrValidation)
	}
	if userA == userB {
		return "", fmt.Errorf("%w: cannot open a chat with yourself", apperr.ErrValidation)
	}

	id := RoomID(userA, userB)
	_, err := doShared(ctx, &r.group, id, func(ctx context.Context) (any, error) {
		created, err := r.rooms.EnsureDirectRoom(ctx, id, userA, userB, r.now())
		if err != nil {
			return nil, err
		}
		if created {
			r.bus.Publish(events.ChatsTopic(userA))
			r.bus.Publish(events.ChatsTopic(userB))
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
