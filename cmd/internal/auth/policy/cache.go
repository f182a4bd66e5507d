package policy

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver loads the capability list of a role from the source of truth.
type Resolver interface {
	Capabilities(ctx context.Context, role string) ([]string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, role string) ([]string, error)

// Capabilities implements Resolver.
func (f ResolverFunc) Capabilities(ctx context.Context, role string) ([]string, error) {
	return f(ctx, role)
}

type cacheEntry struct {
	caps    []string
	expires time.Time
}

// Cache holds per-role capabilities for a bounded time. Concurrent misses for
// one role share a single resolver call. Invalidate drops a role at once: a
// fill still in flight is neither stored nor handed to callers that were
// waiting on it; they resolve again.
type Cache struct {
	resolver Resolver
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	gen     uint64
	group   singleflight.Group // keyed by role and generation
}

// NewCache builds a Cache. ttl <= 0 means entries live until invalidated.
func NewCache(resolver Resolver, ttl time.Duration) *Cache {
	return &Cache{
		resolver: resolver,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]cacheEntry),
	}
}

// Get returns the capabilities of role. The returned slice is a copy.
func (c *Cache) Get(ctx context.Context, role string) ([]string, error) {
	role = normalizeRole(role)

	for {
		c.mu.RLock()
		e, ok := c.entries[role]
		gen := c.gen
		c.mu.RUnlock()
		if ok && (c.ttl <= 0 || c.now().Before(e.expires)) {
			return slices.Clone(e.caps), nil
		}

		caps, err := c.fill(ctx, role, gen)
		if err != nil {
			return nil, err
		}
		if c.generation() == gen {
			return slices.Clone(caps), nil
		}
	}
}

func (c *Cache) fill(ctx context.Context, role string, gen uint64) ([]string, error) {
	key := role + "@" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		caps, err := c.resolver.Capabilities(context.WithoutCancel(ctx), role)
		if err != nil {
			return nil, err
		}
		if caps == nil {
			caps = []string{}
		}

		c.mu.Lock()
		if c.gen == gen {
			c.entries[role] = cacheEntry{caps: caps, expires: c.now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return caps, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	}
}

func (c *Cache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Invalidate drops the cached capabilities of role.
func (c *Cache) Invalidate(role string) {
	role = normalizeRole(role)

	c.mu.Lock()
	delete(c.entries, role)
	c.gen++
	c.mu.Unlock()
}

// InvalidateAll drops every cached role.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.gen++
	c.mu.Unlock()
}

// Len returns the number of cached roles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
