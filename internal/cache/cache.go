// Package cache wraps outbound lookups with a TTL cache and per-key request coalescing.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/weather-reporter/internal/observability"
)

// Producer performs the lookup for a cache miss.
type Producer[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// call is a producer run shared by every caller that missed on the same key.
type call[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// FetchCache caches successful producer results for a fixed TTL and ensures at most one
// producer runs per key at a time. Failures are never cached. Expired entries are replaced
// lazily on the next Get; there is no background sweep.
type FetchCache[V any] struct {
	name string
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	entries  map[string]entry[V]
	inFlight map[string]*call[V]
}

// Option configures a FetchCache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the cache's time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New returns an empty FetchCache. name labels metrics and errors.
func New[V any](name string, ttl time.Duration, opts ...Option) *FetchCache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &FetchCache[V]{
		name:     name,
		ttl:      ttl,
		now:      o.now,
		entries:  make(map[string]entry[V]),
		inFlight: make(map[string]*call[V]),
	}
}

// NormalizeKey trims and lower-cases key. Get applies it to every key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Name returns the cache name.
func (c *FetchCache[V]) Name() string { return c.name }

// TTL returns the entry lifetime.
func (c *FetchCache[V]) TTL() time.Duration { return c.ttl }

// Get returns the fresh cached value for key, joins an in-flight producer for key, or
// starts produce. The producer runs on a context detached from ctx cancellation so that a
// caller giving up does not fail the other waiters; a caller whose ctx ends stops waiting
// and receives ctx.Err().
func (c *FetchCache[V]) Get(ctx context.Context, key string, produce Producer[V]) (V, error) {
	key = NormalizeKey(key)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		observability.CacheRequestsTotal.WithLabelValues(c.name, "hit").Inc()
		return e.value, nil
	}
	if cl, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		observability.CacheRequestsTotal.WithLabelValues(c.name, "coalesced").Inc()
		return c.wait(ctx, cl)
	}
	cl := c.startLocked(ctx, key, produce)
	c.mu.Unlock()

	observability.CacheRequestsTotal.WithLabelValues(c.name, "miss").Inc()
	return c.wait(ctx, cl)
}

// Refresh runs produce for key even when a fresh entry exists, replacing it on success.
// A failed refresh leaves the existing entry in place. A refresh that finds a producer
// already running for key joins it instead of starting another.
func (c *FetchCache[V]) Refresh(ctx context.Context, key string, produce Producer[V]) (V, error) {
	key = NormalizeKey(key)

	c.mu.Lock()
	cl, ok := c.inFlight[key]
	if !ok {
		cl = c.startLocked(ctx, key, produce)
	}
	c.mu.Unlock()

	observability.CacheRequestsTotal.WithLabelValues(c.name, "refresh").Inc()
	return c.wait(ctx, cl)
}

// startLocked registers an in-flight call for key and starts its producer. c.mu must be held.
func (c *FetchCache[V]) startLocked(ctx context.Context, key string, produce Producer[V]) *call[V] {
	cl := &call[V]{done: make(chan struct{})}
	c.inFlight[key] = cl
	go c.run(context.WithoutCancel(ctx), key, cl, produce)
	return cl
}

func (c *FetchCache[V]) run(ctx context.Context, key string, cl *call[V], produce Producer[V]) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			cl.value = zero
			cl.err = fmt.Errorf("cache %s: producer panic: %v", c.name, r)
		}
		c.settle(key, cl)
	}()
	cl.value, cl.err = produce(ctx)
}

// settle stores a successful result and releases the in-flight slot under one lock.
func (c *FetchCache[V]) settle(key string, cl *call[V]) {
	c.mu.Lock()
	if cl.err == nil {
		c.entries[key] = entry[V]{value: cl.value, expiresAt: c.now().Add(c.ttl)}
	} else {
		observability.CacheRequestsTotal.WithLabelValues(c.name, "produce_error").Inc()
	}
	delete(c.inFlight, key)
	c.mu.Unlock()
	close(cl.done)
}

func (c *FetchCache[V]) wait(ctx context.Context, cl *call[V]) (V, error) {
	select {
	case <-cl.done:
		return cl.value, cl.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Peek returns the fresh cached value for key without producing.
func (c *FetchCache[V]) Peek(key string) (V, bool) {
	key = NormalizeKey(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// InFlight reports whether a producer is running for key.
func (c *FetchCache[V]) InFlight(key string) bool {
	key = NormalizeKey(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[key]
	return ok
}

// Len returns the number of stored entries, expired ones included.
func (c *FetchCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
