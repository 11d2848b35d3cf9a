// Package friends manages friend requests and friendships.
package friends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

const (
	DefaultSuggestions = 10
	DefaultSearchLimit = 20
)

type Store interface {
	UserExists(ctx context.Context, id string) (bool, error)
	GetFriendRequest(ctx context.Context, id string) (*models.FriendRequest, error)
	CreateFriendRequest(ctx context.Context, senderID, receiverID string, now time.Time) (*models.FriendRequest, error)
	PendingBetween(ctx context.Context, a, b string) (*models.FriendRequest, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
	AcceptFriendRequest(ctx context.Context, id string, now time.Time) error
	SetFriendRequestStatus(ctx context.Context, id string, status models.FriendRequestStatus, now time.Time) error
	DeleteFriendRequest(ctx context.Context, id string) error
	ListFriendRequests(ctx context.Context, userID string, incoming bool) ([]models.FriendRequest, error)
	ListFriends(ctx context.Context, userID string) ([]models.Friend, error)
	RemoveFriendship(ctx context.Context, a, b string) (bool, error)
	FriendSuggestions(ctx context.Context, userID string, limit int) ([]models.User, error)
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]models.User, error)
}

type Service struct {
	store Store
	bus   events.Bus
	now   func() time.Time
}

func NewService(store Store, bus events.Bus) *Service {
	return &Service{
		store: store,
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SendRequest creates a pending request from one user to another. Checks
// run in a fixed order so the caller always sees the most specific reason.
func (s *Service) SendRequest(ctx context.Context, from, to string) (*models.FriendRequest, error) {
	if from == to {
		return nil, fmt.Errorf("%w: you cannot send a friend request to yourself", apperr.ErrValidation)
	}
	exists, err := s.store.UserExists(ctx, to)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: the user you are trying to send a request to does not exist", apperr.ErrNotFound)
	}
	friends, err := s.store.AreFriends(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if friends {
		return nil, fmt.Errorf("%w: you are already friends with this user", apperr.ErrConflict)
	}
	pending, err := s.store.PendingBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		if pending.SenderID == from {
			return nil, fmt.Errorf("%w: you have already sent a friend request to this user", apperr.ErrConflict)
		}
		return nil, fmt.Errorf("%w: this user has already sent you a friend request", apperr.ErrConflict)
	}

	r, err := s.store.CreateFriendRequest(ctx, from, to, s.now())
	if err != nil {
		return nil, err
	}
	s.publish(from, to)
	return r, nil
}

// Accept is only open to the receiver of a pending request.
func (s *Service) Accept(ctx context.Context, requestID, userID string) (*models.FriendRequest, error) {
	r, err := s.pending(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.ReceiverID != userID {
		return nil, fmt.Errorf("%w: only the recipient can accept this request", apperr.ErrForbidden)
	}
	if err := s.store.AcceptFriendRequest(ctx, requestID, s.now()); err != nil {
		return nil, err
	}
	s.publish(r.SenderID, r.ReceiverID)
	return s.store.GetFriendRequest(ctx, requestID)
}

// Reject may be called by either party.
func (s *Service) Reject(ctx context.Context, requestID, userID string) (*models.FriendRequest, error) {
	r, err := s.pending(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.ReceiverID != userID && r.SenderID != userID {
		return nil, fmt.Errorf("%w: this request does not involve you", apperr.ErrForbidden)
	}
	if err := s.store.SetFriendRequestStatus(ctx, requestID, models.RequestRejected, s.now()); err != nil {
		return nil, err
	}
	s.publish(r.SenderID, r.ReceiverID)
	return s.store.GetFriendRequest(ctx, requestID)
}

// Cancel withdraws a pending request. Only its sender may cancel it.
func (s *Service) Cancel(ctx context.Context, requestID, userID string) error {
	r, err := s.pending(ctx, requestID)
	if err != nil {
		return err
	}
	if r.SenderID != userID {
		return fmt.Errorf("%w: only the sender can cancel this request", apperr.ErrForbidden)
	}
	if err := s.store.DeleteFriendRequest(ctx, requestID); err != nil {
		return err
	}
	s.publish(r.SenderID, r.ReceiverID)
	return nil
}

func (s *Service) pending(ctx context.Context, requestID string) (*models.FriendRequest, error) {
	r, err := s.store.GetFriendRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RequestPending {
		return nil, fmt.Errorf("%w: friend request is no longer pending", apperr.ErrValidation)
	}
	return r, nil
}

func (s *Service) Incoming(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	return s.store.ListFriendRequests(ctx, userID, true)
}

func (s *Service) Outgoing(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	return s.store.ListFriendRequests(ctx, userID, false)
}

func (s *Service) Friends(ctx context.Context, userID string) ([]models.Friend, error) {
	return s.store.ListFriends(ctx, userID)
}

func (s *Service) Remove(ctx context.Context, userID, friendID string) error {
	removed, err := s.store.RemoveFriendship(ctx, userID, friendID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: you are not friends with this user", apperr.ErrNotFound)
	}
	s.publish(userID, friendID)
	return nil
}

// Status describes how a relates to b.
func (s *Service) Status(ctx context.Context, a, b string) (models.FriendshipStatus, error) {
	if a == b {
		return models.FriendshipSelf, nil
	}
	friends, err := s.store.AreFriends(ctx, a, b)
	if err != nil {
		return "", err
	}
	if friends {
		return models.FriendshipFriends, nil
	}
	pending, err := s.store.PendingBetween(ctx, a, b)
	if err != nil {
		return "", err
	}
	switch {
	case pending == nil:
		return models.FriendshipNone, nil
	case pending.SenderID == a:
		return models.FriendshipRequestSent, nil
	default:
		return models.FriendshipRequestReceived, nil
	}
}

func (s *Service) Suggestions(ctx context.Context, userID string, limit int) ([]models.Profile, error) {
	if limit <= 0 {
		limit = DefaultSuggestions
	}
	users, err := s.store.FriendSuggestions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	profiles := make([]models.Profile, 0, len(users))
	for i := range users {
		profiles = append(profiles, users[i].Profile())
	}
	return profiles, nil
}

// Search matches display names and usernames, never returning userID
// itself. An empty query matches nothing.
func (s *Service) Search(ctx context.Context, query, userID string, limit int) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.User{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return s.store.SearchUsers(ctx, query, userID, limit)
}

func (s *Service) publish(a, b string) {
	s.bus.Publish(events.FriendsTopic(a))
	s.bus.Publish(events.FriendsTopic(b))
}
