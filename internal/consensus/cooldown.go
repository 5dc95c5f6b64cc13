package consensus

import (
	"sync"
	"time"
)

// Cooldown tracks the instant of the last emitted master setup. It is the
// only mutable state shared across evaluation cycles; the mutex makes the
// read-check-write sequence atomic so concurrent evaluation attempts cannot
// double-emit inside one cooldown window.
type Cooldown struct {
	mu   sync.Mutex
	last time.Time
	set  bool
}

// NewCooldown returns a cooldown with no prior emission recorded.
func NewCooldown() *Cooldown {
	return &Cooldown{}
}

// LastEmission returns the last emission instant and whether one exists.
func (c *Cooldown) LastEmission() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.set
}

// TryAcquire marks an emission at now if at least d has elapsed since the
// previous one (or none exists). The check and the mark happen under one
// lock; a false return means another emission already claimed the window.
func (c *Cooldown) TryAcquire(now time.Time, d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set && now.Sub(c.last) < d {
		return false
	}
	c.last = now
	c.set = true
	return true
}

// Reset clears the recorded emission; used when restarting the aggregator.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = time.Time{}
	c.set = false
}
