package workspace

import (
	"context"
	"sync"
	"time"
)

// cacheItem stores a resolved Info snapshot together with its expiry time.
type cacheItem struct {
	info      *Info
	expiresAt time.Time
}

// infoCache is an in-process TTL cache keyed by gateway key hash.
//
// Entries are immutable *Info snapshots replaced atomically under the lock,
// so a reader always observes a fully populated entry or none. Expired
// entries are removed lazily on read; a background sweep also evicts them so
// deactivated tenants don't linger until next access.
type infoCache struct {
	mu    sync.RWMutex
	items map[string]cacheItem

	ttl   time.Duration
	clock Clock

	done      chan struct{}
	closeOnce sync.Once
}

func newInfoCache(ctx context.Context, ttl, sweepInterval time.Duration, clock Clock) *infoCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if clock == nil {
		clock = SystemClock()
	}

	c := &infoCache{
		items: make(map[string]cacheItem),
		ttl:   ttl,
		clock: clock,
		done:  make(chan struct{}),
	}

	if sweepInterval > 0 {
		go c.sweep(ctx, sweepInterval)
	}

	return c
}

// get returns the cached Info for a key hash. Returns (nil, false) on a miss
// or if the entry has expired; stale entries are deleted on the way out.
func (c *infoCache) get(keyHash string) (*Info, bool) {
	c.mu.RLock()
	item, ok := c.items[keyHash]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if c.clock.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, keyHash)
		c.mu.Unlock()
		return nil, false
	}

	return item.info, true
}

func (c *infoCache) put(keyHash string, info *Info) {
	c.mu.Lock()
	c.items[keyHash] = cacheItem{info: info, expiresAt: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *infoCache) invalidate(keyHash string) {
	c.mu.Lock()
	delete(c.items, keyHash)
	c.mu.Unlock()
}

// invalidateWorkspace purges every cached entry that resolved to workspaceID.
func (c *infoCache) invalidateWorkspace(workspaceID string) {
	c.mu.Lock()
	for k, v := range c.items {
		if v.info.WorkspaceID == workspaceID {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

func (c *infoCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *infoCache) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *infoCache) sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *infoCache) evictExpired() {
	now := c.clock.Now()

	c.mu.Lock()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
