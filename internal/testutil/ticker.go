package testutil

import (
	"sync"
	"time"
)

// fireTimeout bounds how long Fire waits for a consumer.
const fireTimeout = time.Second

// ManualTicker is a ticker driven by the test instead of wall time.
//
// The channel is unbuffered: Fire returns only once the consumer has taken
// the tick, so the test knows exactly how many ticks were delivered.
type ManualTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool
	fired   int
	clock   *DeterministicClock
}

// NewManualTicker creates a ticker whose tick times come from
// a DeterministicClock stepping one second per tick.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		ch:    make(chan time.Time),
		clock: NewDeterministicClock(),
	}
}

// C returns the tick channel.
func (t *ManualTicker) C() <-chan time.Time {
	return t.ch
}

// Stop marks the ticker stopped. Later Fire calls deliver nothing.
func (t *ManualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Stopped reports whether Stop has been called.
func (t *ManualTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Fired returns the number of ticks delivered.
func (t *ManualTicker) Fired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Fire delivers one tick. It reports false when the ticker is stopped or no
// consumer took the tick within a second.
func (t *ManualTicker) Fire() bool {
	if t.Stopped() {
		return false
	}
	select {
	case t.ch <- t.clock.Now():
		t.mu.Lock()
		t.fired++
		t.mu.Unlock()
		return true
	case <-time.After(fireTimeout):
		return false
	}
}
