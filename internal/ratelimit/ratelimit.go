// Package ratelimit implements a fixed-window request counter with pluggable storage.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/kjstillabower/weather-reporter/internal/observability"
)

// Counter increments a named counter that expires after ttl. The first increment creates it.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter allows at most limit requests per key in each window.
type Limiter struct {
	name    string
	counter Counter
	limit   int
	window  time.Duration
	now     func() time.Time
}

// New returns a Limiter. now defaults to time.Now.
func New(name string, counter Counter, limit int, window time.Duration, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{name: name, counter: counter, limit: limit, window: window, now: now}
}

// Allow counts one request for key in the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	start := now.Truncate(l.window)
	reset := start.Add(l.window)
	windowKey := fmt.Sprintf("ratelimit:%s:%s:%d", l.name, key, start.Unix())

	n, err := l.counter.Incr(ctx, windowKey, reset.Sub(now)+time.Second)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", l.name, err)
	}

	d := Decision{Limit: l.limit, Allowed: n <= int64(l.limit)}
	if d.Allowed {
		d.Remaining = l.limit - int(n)
		return d, nil
	}
	d.RetryAfter = reset.Sub(now)
	observability.RateLimitDeniedTotal.WithLabelValues(l.name).Inc()
	return d, nil
}

// Ping checks the backing counter.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.counter.Ping(ctx)
}
