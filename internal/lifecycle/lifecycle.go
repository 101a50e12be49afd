// Package lifecycle tracks whether the process has begun draining.
package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the drain flag shared by the signal handler and the health endpoint.
// A nil *State reports that the process is running.
type State struct {
	once  sync.Once
	since atomic.Int64
	done  chan struct{}
}

// New returns a State for a running process.
func New() *State {
	return &State{done: make(chan struct{})}
}

// BeginShutdown marks the process as draining. Calls after the first are no-ops.
func (s *State) BeginShutdown(now time.Time) {
	s.once.Do(func() {
		s.since.Store(now.UnixNano())
		close(s.done)
	})
}

// ShuttingDown reports whether BeginShutdown has been called.
func (s *State) ShuttingDown() bool {
	if s == nil {
		return false
	}
	return s.since.Load() != 0
}

// Since returns when draining began, or the zero time while running.
func (s *State) Since() time.Time {
	if !s.ShuttingDown() {
		return time.Time{}
	}
	return time.Unix(0, s.since.Load())
}

// Done is closed once draining begins.
func (s *State) Done() <-chan struct{} {
	return s.done
}
