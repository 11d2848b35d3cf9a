package realtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

type RoomLister interface {
	ListRoomsForUser(ctx context.Context, userID string, kind models.RoomKind) ([]models.Room, error)
}

type ProfileSource interface {
	GetBatch(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

// ChatListAggregator builds a user's chat list: one summary per direct
// room, newest activity first, with the assistant entry on top.
type ChatListAggregator struct {
	rooms    RoomLister
	profiles ProfileSource
	bus      events.Bus
}

func NewChatListAggregator(rooms RoomLister, profiles ProfileSource, bus events.Bus) *ChatListAggregator {
	return &ChatListAggregator{rooms: rooms, profiles: profiles, bus: bus}
}

func (a *ChatListAggregator) Subscribe(ctx context.Context, userID string) (*Stream[models.ChatSummary], error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperr.ErrValidation)
	}
	return startStream(ctx, a.bus, events.ChatsTopic(userID), "chats", func(ctx context.Context) ([]models.ChatSummary, error) {
		return a.Snapshot(ctx, userID)
	}), nil
}

func (a *ChatListAggregator) Snapshot(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	rooms, err := a.rooms.ListRoomsForUser(ctx, userID, models.RoomDirect)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var others []string
	for i := range rooms {
		other := rooms[i].OtherParticipant(userID)
		if other != "" && !seen[other] {
			seen[other] = true
			others = append(others, other)
		}
	}

	profiles, err := a.profiles.GetBatch(ctx, others)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ChatSummary, 0, len(rooms)+1)
	for i := range rooms {
		r := &rooms[i]
		other := r.OtherParticipant(userID)
		if other == "" || r.ID == models.BotChatID {
			continue
		}
		p, ok := profiles[other]
		if !ok {
			p = models.PlaceholderProfile(other)
		}
		summaries = append(summaries, models.ChatSummary{
			RoomID:          r.ID,
			OtherUser:       p,
			LastMessage:     r.LastMessage,
			LastMessageTime: r.LastMessageTime,
			UnreadCount:     r.UnreadCounts[userID],
		})
	}

	sortSummaries(summaries)
	return append([]models.ChatSummary{models.BotSummary()}, summaries...), nil
}

var epoch = time.Unix(0, 0).UTC()

func lastActivity(s *models.ChatSummary) time.Time {
	if s.LastMessageTime == nil {
		return epoch
	}
	return *s.LastMessageTime
}

// sortSummaries orders by last message time, newest first. Rooms without
// messages count as the epoch; ties go by room id.
func sortSummaries(list []models.ChatSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		ti, tj := lastActivity(&list[i]), lastActivity(&list[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return list[i].RoomID < list[j].RoomID
	})
}
