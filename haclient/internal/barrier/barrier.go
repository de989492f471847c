// Package barrier implements the counted barrier used by the
// coordinator's Close fan-out to proceed once every participant has
// checked in, or a timeout elapses, whichever comes first, per
// spec.md §4.5. No other operation uses it.
package barrier

import (
	"sync"
	"time"
)

// Barrier fires its callback exactly once: either when count participants
// have each called CompletedOne, or when timeout elapses, whichever comes
// first. A zero timeout means no timeout.
type Barrier struct {
	mu        sync.Mutex
	remaining int
	fired     bool
	callback  func()
	timer     *time.Timer
}

// New constructs a Barrier requiring count check-ins, firing cb at most
// once. A timeout of zero disables the timeout fallback.
func New(count int, timeout time.Duration, cb func()) *Barrier {
	b := &Barrier{remaining: count, callback: cb}
	if count <= 0 {
		b.fire()
		return b
	}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, b.fire)
	}
	return b
}

// CompletedOne records one participant's completion, firing the callback
// if this was the last one outstanding.
func (b *Barrier) CompletedOne() {
	b.mu.Lock()
	if b.fired {
		b.mu.Unlock()
		return
	}
	b.remaining--
	done := b.remaining <= 0
	b.mu.Unlock()

	if done {
		b.fire()
	}
}

func (b *Barrier) fire() {
	b.mu.Lock()
	if b.fired {
		b.mu.Unlock()
		return
	}
	b.fired = true
	if b.timer != nil {
		b.timer.Stop()
	}
	cb := b.callback
	b.mu.Unlock()

	if cb != nil {
		cb()
	}
}
