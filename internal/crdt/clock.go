package crdt

import "sync/atomic"

// Clock is a Lamport clock: a monotonic logical counter that is pushed
// forward past every counter observed from another replica.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	counter atomic.Uint64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next counter value and advances the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() uint64 {
	return c.counter.Add(1)
}

// Current returns the current counter without advancing it.
func (c *Clock) Current() uint64 {
	return c.counter.Load()
}

// Observe moves the clock forward to remote if remote is ahead.
// The clock never moves backwards.
func (c *Clock) Observe(remote uint64) {
	for {
		cur := c.counter.Load()
		if remote <= cur {
			return
		}
		if c.counter.CompareAndSwap(cur, remote) {
			return
		}
	}
}
