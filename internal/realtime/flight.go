package realtime

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// sharedCallTimeout bounds a call shared by several waiters.
const sharedCallTimeout = 10 * time.Second

// doShared runs fn once per key for all concurrent callers. fn runs on a
// context detached from any one caller, so a caller that gives up only
// stops its own wait.
func doShared(ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := g.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		return fn(callCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}
