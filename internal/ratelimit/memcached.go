package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedCounter keeps counters in memcached.
type MemcachedCounter struct {
	client *memcache.Client
}

// NewMemcachedCounter uses the given servers with a short per-operation timeout.
func NewMemcachedCounter(timeout time.Duration, servers ...string) *MemcachedCounter {
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &MemcachedCounter{client: client}
}

func (c *MemcachedCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.client.Increment(key, 1)
	if err == nil {
		return int64(n), nil
	}
	if !errors.Is(err, memcache.ErrCacheMiss) {
		return 0, fmt.Errorf("memcached incr: %w", err)
	}

	err = c.client.Add(&memcache.Item{Key: key, Value: []byte("1"), Expiration: expirationSeconds(ttl)})
	if err == nil {
		return 1, nil
	}
	if !errors.Is(err, memcache.ErrNotStored) {
		return 0, fmt.Errorf("memcached add: %w", err)
	}
	// Another instance created the key between Increment and Add.
	n, err = c.client.Increment(key, 1)
	if err != nil {
		return 0, fmt.Errorf("memcached incr: %w", err)
	}
	return int64(n), nil
}

func (c *MemcachedCounter) Ping(ctx context.Context) error {
	return c.client.Ping()
}

func expirationSeconds(ttl time.Duration) int32 {
	s := int32(ttl.Round(time.Second) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
