// Package chat implements the point writes on rooms and messages: sending,
// editing, deleting, reactions, delivery status and leaving a chat. Every
// write publishes a change notification so live queries re-read.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/metrics"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

const maxEmojiLen = 32

type Store interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	AppendMessage(ctx context.Context, m *models.Message) ([]string, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	EditText(ctx context.Context, id, text string, now time.Time) (*models.Message, error)
	SoftDelete(ctx context.Context, id string) (*models.Message, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string, now time.Time) (bool, error)
	AdvanceStatus(ctx context.Context, messageID string, next models.Status, now time.Time) (models.Status, error)
	MarkRoomRead(ctx context.Context, roomID, userID string, now time.Time) (int64, error)
	LeaveRoom(ctx context.Context, roomID, userID string) ([]string, bool, error)
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	UserExists(ctx context.Context, id string) (bool, error)
}

type RoomResolver interface {
	Resolve(ctx context.Context, userA, userB string) (string, error)
}

// BlockChecker reports whether userID has blocked targetID.
type BlockChecker interface {
	IsBlocked(userID, targetID string) (bool, error)
}

type Notifier interface {
	NotifyNewMessage(receiverID, senderName, roomID, preview string)
}

// GroupHooks lets the group layer moderate and react to messages in group
// rooms.
type GroupHooks interface {
	CanManageMessages(ctx context.Context, roomID, userID string) (bool, error)
	HandleMessage(ctx context.Context, m *models.Message)
}

type Options struct {
	Blocks BlockChecker
	Push   Notifier
	Groups GroupHooks
}

type Service struct {
	store    Store
	resolver RoomResolver
	bus      events.Bus
	opts     Options
	now      func() time.Time
}

func NewService(store Store, resolver RoomResolver, bus events.Bus, opts Options) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		bus:      bus,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SendMessage appends a message to a room on behalf of senderID.
// replyToID may be empty.
func (s *Service) SendMessage(ctx context.Context, roomID, senderID string, body models.Body, replyToID string) (*models.Message, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: message body is required", apperr.ErrValidation)
	}
	if body.Kind() == models.KindSystem {
		return nil, fmt.Errorf("%w: system messages cannot be sent by users", apperr.ErrValidation)
	}
	if err := body.Validate(); err != nil {
		return nil, err
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(senderID) {
		return nil, fmt.Errorf("%w: you are not a participant of this room", apperr.ErrForbidden)
	}
	if room.Kind == models.RoomDirect && s.opts.Blocks != nil {
		other := room.OtherParticipant(senderID)
		blocked, err := s.opts.Blocks.IsBlocked(other, senderID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, fmt.Errorf("%w: you cannot message this user", apperr.ErrForbidden)
		}
	}

	m := &models.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      body,
		Status:    models.StatusSent,
		CreatedAt: s.now(),
	}
	if replyToID != "" {
		target, err := s.store.GetMessage(ctx, replyToID)
		if err != nil {
			return nil, err
		}
		if target.RoomID != roomID {
			return nil, fmt.Errorf("%w: reply target is not in this room", apperr.ErrValidation)
		}
		m.ReplyTo = &models.ReplyRef{
			MessageID: target.ID,
			SenderID:  target.SenderID,
			Kind:      target.Kind(),
			Preview:   target.Body.Preview(),
		}
	}

	participants, err := s.store.AppendMessage(ctx, m)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(string(m.Kind())).Inc()
	s.publish(room.ID, room.Kind, participants)
	s.notifyOffline(ctx, m, participants)

	if room.Kind == models.RoomGroup && s.opts.Groups != nil {
		s.opts.Groups.HandleMessage(ctx, m)
	}
	return m, nil
}

// SendDirect resolves the direct room of sender and receiver, creating it if
// needed, and sends the message there.
func (s *Service) SendDirect(ctx context.Context, senderID, receiverID string, body models.Body, replyToID string) (*models.Message, error) {
	ok, err := s.store.UserExists(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user not found", apperr.ErrNotFound)
	}
	roomID, err := s.resolver.Resolve(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	return s.SendMessage(ctx, roomID, senderID, body, replyToID)
}

func (s *Service) EditMessage(ctx context.Context, messageID, userID, text string) (*models.Message, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, fmt.Errorf("%w: you can only edit your own messages", apperr.ErrForbidden)
	}
	if m.Deleted {
		return nil, fmt.Errorf("%w: deleted messages cannot be edited", apperr.ErrValidation)
	}
	if m.Kind() != models.KindText {
		return nil, fmt.Errorf("%w: only text messages can be edited", apperr.ErrValidation)
	}
	if err := (models.TextBody{Text: text}).Validate(); err != nil {
		return nil, err
	}

	edited, err := s.store.EditText(ctx, messageID, text, s.now())
	if err != nil {
		return nil, err
	}
	s.publishRoom(ctx, edited.RoomID)
	return edited, nil
}

// DeleteMessage soft-deletes a message. Besides the sender, members allowed
// to manage messages may delete in group rooms.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID string) (*models.Message, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		allowed, err := s.canModerate(ctx, m.RoomID, userID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: you can only delete your own messages", apperr.ErrForbidden)
		}
	}

	deleted, err := s.store.SoftDelete(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.publishRoom(ctx, deleted.RoomID)
	return deleted, nil
}

func (s *Service) canModerate(ctx context.Context, roomID, userID string) (bool, error) {
	if s.opts.Groups == nil {
		return false, nil
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	if room.Kind != models.RoomGroup {
		return false, nil
	}
	return s.opts.Groups.CanManageMessages(ctx, roomID, userID)
}

// ToggleReaction adds the user's emoji reaction, or removes it when it is
// already there, and returns the updated message.
func (s *Service) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (*models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLen {
		return nil, fmt.Errorf("%w: invalid emoji", apperr.ErrValidation)
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.Deleted {
		return nil, fmt.Errorf("%w: cannot react to a deleted message", apperr.ErrValidation)
	}
	room, err := s.store.GetRoom(ctx, m.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: you are not a participant of this room", apperr.ErrForbidden)
	}

	if _, err := s.store.ToggleReaction(ctx, messageID, userID, emoji, s.now()); err != nil {
		return nil, err
	}
	s.bus.Publish(events.RoomTopic(m.RoomID))
	return s.store.GetMessage(ctx, messageID)
}

// UpdateStatus advances the delivery status of a message on behalf of a
// recipient. Backward moves and requests from the sender leave the status
// unchanged; the current status is returned either way.
func (s *Service) UpdateStatus(ctx context.Context, messageID, userID string, status models.Status) (models.Status, error) {
	if !status.Valid() {
		return "", fmt.Errorf("%w: invalid status %q", apperr.ErrValidation, status)
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	room, err := s.store.GetRoom(ctx, m.RoomID)
	if err != nil {
		return "", err
	}
	if !room.HasParticipant(userID) {
		return "", fmt.Errorf("%w: you are not a participant of this room", apperr.ErrForbidden)
	}
	if m.SenderID == userID {
		return m.Status, nil
	}

	current, err := s.store.AdvanceStatus(ctx, messageID, status, s.now())
	if err != nil {
		return "", err
	}
	if current != m.Status {
		s.bus.Publish(events.RoomTopic(m.RoomID))
	}
	return current, nil
}

// MarkRoomRead clears the user's unread counter and marks the other
// participants' messages as read.
func (s *Service) MarkRoomRead(ctx context.Context, roomID, userID string) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(userID) {
		return fmt.Errorf("%w: you are not a participant of this room", apperr.ErrForbidden)
	}
	changed, err := s.store.MarkRoomRead(ctx, roomID, userID, s.now())
	if err != nil {
		return err
	}
	if changed > 0 {
		s.bus.Publish(events.RoomTopic(roomID))
	}
	s.bus.Publish(listTopic(room.Kind, userID))
	return nil
}

// DeleteChat removes the user from a direct chat. A chat of two is deleted
// for both sides together with its history.
func (s *Service) DeleteChat(ctx context.Context, roomID, userID string) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Kind == models.RoomGroup {
		return fmt.Errorf("%w: leave the group to remove a group chat", apperr.ErrValidation)
	}
	participants, deleted, err := s.store.LeaveRoom(ctx, roomID, userID)
	if err != nil {
		return err
	}
	log.Printf("chat deleted room=%s user=%s removed=%t", roomID, userID, deleted)
	s.publish(roomID, room.Kind, participants)
	return nil
}

func (s *Service) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return s.store.GetMessage(ctx, id)
}

func (s *Service) publishRoom(ctx context.Context, roomID string) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		s.bus.Publish(events.RoomTopic(roomID))
		return
	}
	s.publish(room.ID, room.Kind, room.Participants)
}

func (s *Service) publish(roomID string, kind models.RoomKind, participants []string) {
	s.bus.Publish(events.RoomTopic(roomID))
	for _, p := range participants {
		s.bus.Publish(listTopic(kind, p))
	}
}

func listTopic(kind models.RoomKind, userID string) string {
	if kind == models.RoomGroup {
		return events.GroupsTopic(userID)
	}
	return events.ChatsTopic(userID)
}

// notifyOffline sends a push notification to every recipient that is not
// connected.
func (s *Service) notifyOffline(ctx context.Context, m *models.Message, participants []string) {
	if s.opts.Push == nil {
		return
	}
	var senderName string
	for _, p := range participants {
		if p == m.SenderID || p == models.GroupBotID {
			continue
		}
		profile, err := s.store.GetProfile(ctx, p)
		if err != nil || profile.Online {
			continue
		}
		if senderName == "" {
			sender, err := s.store.GetProfile(ctx, m.SenderID)
			if err != nil {
				log.Printf("push: failed to load sender profile user=%s err=%v", m.SenderID, err)
				return
			}
			senderName = sender.DisplayName
		}
		s.opts.Push.NotifyNewMessage(p, senderName, m.RoomID, m.Body.Preview())
	}
}
