// Package queue provides the coalescing key queue used for batched,
// debounced side effects such as skeleton-triggered reloads.
package queue

import (
	"sort"
	"sync"
	"time"
)

// Coalescer accumulates keys and hands the deduplicated batch to its flush
// callback, either when the timer fires or on an explicit Flush. Flushing
// with nothing pending is a no-op, so repeated flushes are idempotent.
type Coalescer struct {
	interval time.Duration
	onFlush  func([]string)

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
	closed  bool
}

func NewCoalescer(interval time.Duration, onFlush func([]string)) *Coalescer {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Coalescer{
		interval: interval,
		onFlush:  onFlush,
		pending:  make(map[string]bool),
	}
}

// Add schedules keys for the next flush. Duplicate keys collapse.
func (c *Coalescer) Add(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(keys) == 0 {
		return
	}
	for _, k := range keys {
		c.pending[k] = true
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.Flush)
	}
}

// Flush drains the pending set immediately and invokes the callback
// outside the lock.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.closed || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(c.pending))
	for k := range c.pending {
		batch = append(batch, k)
	}
	c.pending = make(map[string]bool)
	c.mu.Unlock()

	sort.Strings(batch)
	c.onFlush(batch)
}

// Discard removes a pending key without flushing it, for requests that
// were superseded or cancelled.
func (c *Coalescer) Discard(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
}

func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops the timer and drops any pending keys.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
}
