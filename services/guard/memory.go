package guard

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/elimu/core/subscription"
)

// MemoryGuard is a single-process Guard.
type MemoryGuard struct {
	mu       sync.Mutex
	lockedAt time.Time
	lockTTL  time.Duration
	notices  map[string]struct{}
	nowFunc  func() time.Time
}

var _ subscription.Guard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{notices: make(map[string]struct{}), nowFunc: time.Now}
}

func (g *MemoryGuard) Lock(_ context.Context, ttl time.Duration) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	if !g.lockedAt.IsZero() && (g.lockTTL <= 0 || now.Sub(g.lockedAt) < g.lockTTL) {
		return nil, subscription.ErrScanInProgress
	}
	g.lockedAt, g.lockTTL = now, ttl
	lockedAt := now

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.lockedAt.Equal(lockedAt) {
			g.lockedAt = time.Time{}
		}
	}, nil
}

func (g *MemoryGuard) MarkNotified(_ context.Context, subscriptionID string, days int, now time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := now.UTC().Format("2006-01-02")
	for k := range g.notices {
		// markers only live for their day
		if k[len(k)-len(today):] != today {
			delete(g.notices, k)
		}
	}
	key := noticeKey(subscriptionID, days, now.UTC())
	if _, ok := g.notices[key]; ok {
		return false, nil
	}
	g.notices[key] = struct{}{}
	return true, nil
}
