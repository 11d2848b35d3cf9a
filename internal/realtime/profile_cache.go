package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zentrochat/zentro/internal/metrics"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultProfileTTL   = 5 * time.Minute
	DefaultProfileSweep = 10 * time.Minute

	// batchFetchLimit bounds concurrent database reads for one batch.
	batchFetchLimit = 8
)

type ProfileFetcher interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)
}

type profileEntry struct {
	profile   models.Profile
	fetchedAt time.Time
}

// ProfileCache keeps display profiles for a limited time. Concurrent misses
// for one id share a single fetch. Ids with no user behind them resolve to
// a placeholder that is never cached, so a user created later shows up on
// the next lookup.
type ProfileCache struct {
	fetcher ProfileFetcher
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]profileEntry
	gens    map[string]uint64
	flight  singleflight.Group

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

func NewProfileCache(fetcher ProfileFetcher, ttl, sweepInterval time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultProfileSweep
	}
	c := &ProfileCache{
		fetcher:     fetcher,
		ttl:         ttl,
		now:         time.Now,
		entries:     make(map[string]profileEntry),
		gens:        make(map[string]uint64),
		stopCleanup: make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.evictExpired()
			case <-c.stopCleanup:
				return
			}
		}
	}()

	return c
}

func (c *ProfileCache) lookup(id string) (models.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return models.Profile{}, false
	}
	return e.profile, true
}

func (c *ProfileCache) Get(ctx context.Context, id string) (models.Profile, error) {
	if id == models.BotUserID {
		return models.BotSummary().OtherUser, nil
	}
	if p, ok := c.lookup(id); ok {
		metrics.ProfileCacheHits.Inc()
		return p, nil
	}
	metrics.ProfileCacheMisses.Inc()

	v, err := doShared(ctx, &c.flight, id, func(ctx context.Context) (any, error) {
		if p, ok := c.lookup(id); ok {
			return p, nil
		}
		c.mu.RLock()
		gen := c.gens[id]
		c.mu.RUnlock()

		p, err := c.fetcher.GetProfile(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			return models.PlaceholderProfile(id), nil
		}
		if err != nil {
			return nil, err
		}

		// An Invalidate during the fetch means p may predate the change.
		c.mu.Lock()
		if c.gens[id] == gen {
			c.entries[id] = profileEntry{profile: p, fetchedAt: c.now()}
		}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return models.Profile{}, err
	}
	return v.(models.Profile), nil
}

// GetBatch resolves every id, serving cached entries directly and fetching
// the rest concurrently.
func (c *ProfileCache) GetBatch(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	out := make(map[string]models.Profile, len(ids))
	var missing []string
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		if p, ok := c.lookup(id); ok {
			metrics.ProfileCacheHits.Inc()
			out[id] = p
			continue
		}
		out[id] = models.Profile{}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchFetchLimit)
	for _, id := range missing {
		g.Go(func() error {
			p, err := c.Get(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate drops the entry for id so the next lookup refetches it. A
// fetch already in flight for id is not cached.
func (c *ProfileCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.gens[id]++
	c.mu.Unlock()
	c.flight.Forget(id)
}

// Len counts stored entries, expired ones included.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweep.
func (c *ProfileCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
}

func (c *ProfileCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, id)
			metrics.ProfileCacheEvictions.Inc()
		}
	}
}
