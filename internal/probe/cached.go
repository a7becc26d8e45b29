package probe

import (
	"context"
	"sync"
	"time"
)

// Cached memoizes a RemoteAvailability answer for TTL. A zero TTL keeps the
// answer until the next forced refresh.
type Cached struct {
	Source RemoteAvailability
	TTL    time.Duration
	Now    func() time.Time

	mu      sync.Mutex
	known   bool
	value   bool
	checked time.Time
}

// NewCached wraps source.
func NewCached(source RemoteAvailability, ttl time.Duration) *Cached {
	return &Cached{Source: source, TTL: ttl, Now: time.Now}
}

func (c *Cached) Resolve(ctx context.Context, forceRefresh bool) bool {
	c.mu.Lock()
	if c.known && !forceRefresh && !c.expired() {
		v := c.value
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v := c.Source.Resolve(ctx, forceRefresh)
	if ctx.Err() != nil {
		// A cancelled probe says nothing about the account.
		return v
	}

	c.mu.Lock()
	c.known, c.value, c.checked = true, v, c.now()
	c.mu.Unlock()
	return v
}

// Invalidate forgets the cached answer.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.known = false
	c.mu.Unlock()
}

func (c *Cached) expired() bool {
	return c.TTL > 0 && c.now().Sub(c.checked) >= c.TTL
}

func (c *Cached) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
