// Package presence tracks who is online and keeps profile changes visible
// to everyone who shows that user in a chat list.
package presence

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/adhocore/gronx"
	"github.com/zentrochat/zentro/internal/events"
	"github.com/zentrochat/zentro/internal/metrics"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

const (
	MaxDisplayNameLen = 64
	MaxBioLen         = 500
)

type Store interface {
	SetPresence(ctx context.Context, id string, online bool, at time.Time) error
	TouchPresence(ctx context.Context, id string, at time.Time) (bool, error)
	StaleOnline(ctx context.Context, before time.Time) ([]string, error)
	RoomPartners(ctx context.Context, userID string) ([]string, error)
	UpdateProfile(ctx context.Context, id, displayName string, avatarURL *string, bio string, now time.Time) (*models.User, error)
}

type Invalidator interface {
	Invalidate(id string)
}

// ConnectionChecker reports whether a user holds a live connection.
type ConnectionChecker interface {
	IsUserOnline(userID string) bool
}

type Service struct {
	store Store
	cache Invalidator
	bus   events.Bus
	now   func() time.Time
}

func NewService(store Store, cache Invalidator, bus events.Bus) *Service {
	return &Service{
		store: store,
		cache: cache,
		bus:   bus,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetOnline(ctx context.Context, userID string, online bool) error {
	if err := s.store.SetPresence(ctx, userID, online, s.now()); err != nil {
		return err
	}
	return s.changed(ctx, userID)
}

// Touch records a heartbeat from a live connection. Sweepers on every node
// read last_seen, so a user heartbeating anywhere is never swept. A user
// found offline is brought back online and their partners notified.
func (s *Service) Touch(ctx context.Context, userID string) error {
	ok, err := s.store.TouchPresence(ctx, userID, s.now())
	if err != nil || ok {
		return err
	}
	return s.SetOnline(ctx, userID, true)
}

func (s *Service) UpdateProfile(ctx context.Context, userID, displayName string, avatarURL *string, bio string) (*models.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", apperr.ErrValidation)
	}
	if utf8.RuneCountInString(displayName) > MaxDisplayNameLen {
		return nil, fmt.Errorf("%w: display name is too long", apperr.ErrValidation)
	}
	if utf8.RuneCountInString(bio) > MaxBioLen {
		return nil, fmt.Errorf("%w: bio is too long", apperr.ErrValidation)
	}
	if avatarURL != nil && strings.TrimSpace(*avatarURL) == "" {
		avatarURL = nil
	}
	u, err := s.store.UpdateProfile(ctx, userID, displayName, avatarURL, strings.TrimSpace(bio), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.changed(ctx, userID); err != nil {
		return nil, err
	}
	return u, nil
}

// changed drops the cached profile and tells every room partner's chat
// list to refresh.
func (s *Service) changed(ctx context.Context, userID string) error {
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
	partners, err := s.store.RoomPartners(ctx, userID)
	if err != nil {
		return err
	}
	for _, p := range partners {
		s.bus.Publish(events.ChatsTopic(p))
		s.bus.Publish(events.GroupsTopic(p))
	}
	return nil
}

// Sweep marks offline every user still flagged online whose last activity
// is older than timeout, unless conns reports a live connection. conns only
// knows this node's sockets; connections on other nodes stay fresh through
// Touch.
func (s *Service) Sweep(ctx context.Context, timeout time.Duration, conns ConnectionChecker) (int, error) {
	ids, err := s.store.StaleOnline(ctx, s.now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, id := range ids {
		if conns != nil && conns.IsUserOnline(id) {
			continue
		}
		if err := s.SetOnline(ctx, id, false); err != nil {
			log.Printf("presence: failed to mark offline user=%s err=%v", id, err)
			continue
		}
		swept++
	}
	metrics.PresenceSweeps.Inc()
	return swept, nil
}

// StartSweeper validates cronExpr and runs Sweep on that schedule until ctx
// is cancelled.
func (s *Service) StartSweeper(ctx context.Context, cronExpr string, timeout time.Duration, conns ConnectionChecker) error {
	if !gronx.IsValid(cronExpr) {
		return fmt.Errorf("invalid presence sweep cron expression: %s", cronExpr)
	}
	log.Printf("presence: sweeper started cron=%q timeout=%s", cronExpr, timeout)
	go s.runSweeper(ctx, cronExpr, timeout, conns)
	return nil
}

func (s *Service) runSweeper(ctx context.Context, cronExpr string, timeout time.Duration, conns ConnectionChecker) {
	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		wait := time.Until(next)
		if err != nil {
			log.Printf("presence: next tick failed cron=%q err=%v", cronExpr, err)
			wait = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			log.Printf("presence: sweeper stopping")
			return
		case <-time.After(wait):
		}
		if err != nil {
			continue
		}

		n, err := s.Sweep(ctx, timeout, conns)
		if err != nil {
			log.Printf("presence: sweep failed err=%v", err)
			continue
		}
		if n > 0 {
			log.Printf("presence: marked stale users offline count=%d", n)
		}
	}
}
