package realtime

import (
	"context"
	"fmt"

	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

const DefaultPageSize = 50

type MessageStore interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	ResetUnread(ctx context.Context, roomID, userID string) error
}

// MessageSubscriber serves the newest page of a room's messages, oldest
// first, as a live query.
type MessageSubscriber struct {
	store    MessageStore
	bus      events.Bus
	pageSize int
}

func NewMessageSubscriber(store MessageStore, bus events.Bus, pageSize int) *MessageSubscriber {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MessageSubscriber{store: store, bus: bus, pageSize: pageSize}
}

// open checks the viewer may read the room and clears their unread count.
func (s *MessageSubscriber) open(ctx context.Context, roomID, viewerID string) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(viewerID) {
		return fmt.Errorf("%w: you are not a participant of this room", apperr.ErrForbidden)
	}
	if err := s.store.ResetUnread(ctx, roomID, viewerID); err != nil {
		return err
	}
	s.bus.Publish(events.ChatsTopic(viewerID))
	return nil
}

// Subscribe starts a live query over the room. The stream lives until ctx
// is done or Close is called, and ends with ErrForbidden once the viewer
// stops being a participant.
func (s *MessageSubscriber) Subscribe(ctx context.Context, roomID, viewerID string) (*Stream[models.Message], error) {
	if err := s.open(ctx, roomID, viewerID); err != nil {
		return nil, err
	}
	return startStream(ctx, s.bus, events.RoomTopic(roomID), "messages", func(ctx context.Context) ([]models.Message, error) {
		ok, err := s.store.IsParticipant(ctx, roomID, viewerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: you are no longer a participant of this room", apperr.ErrForbidden)
		}
		return s.store.RecentMessages(ctx, roomID, s.pageSize)
	}), nil
}

// Snapshot returns the current page once, with the same checks and side
// effects as Subscribe.
func (s *MessageSubscriber) Snapshot(ctx context.Context, roomID, viewerID string) ([]models.Message, error) {
	if err := s.open(ctx, roomID, viewerID); err != nil {
		return nil, err
	}
	return s.store.RecentMessages(ctx, roomID, s.pageSize)
}
