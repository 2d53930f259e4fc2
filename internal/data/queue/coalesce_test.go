package queue

import (
	"sync"
	"testing"
	"time"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *flushRecorder) record(batch []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *flushRecorder) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

func TestCoalescerDeduplicates(t *testing.T) {
	rec := &flushRecorder{}
	c := NewCoalescer(time.Hour, rec.record)
	defer c.Close()

	c.Add("b", "a", "b", "a", "c")
	c.Flush()

	got := rec.last()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("flush batch = %v, want [a b c]", got)
	}
}

func TestCoalescerFlushIdempotent(t *testing.T) {
	rec := &flushRecorder{}
	c := NewCoalescer(time.Hour, rec.record)
	defer c.Close()

	c.Add("x")
	c.Flush()
	c.Flush()
	c.Flush()

	if rec.count() != 1 {
		t.Errorf("expected a single callback, got %d", rec.count())
	}
}

func TestCoalescerTimerFlush(t *testing.T) {
	rec := &flushRecorder{}
	c := NewCoalescer(10*time.Millisecond, rec.record)
	defer c.Close()

	c.Add("k")

	deadline := time.Now().Add(time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() != 1 {
		t.Fatalf("timer flush did not fire, count=%d", rec.count())
	}
	if c.Len() != 0 {
		t.Errorf("pending after flush = %d", c.Len())
	}
}

func TestCoalescerDiscard(t *testing.T) {
	rec := &flushRecorder{}
	c := NewCoalescer(time.Hour, rec.record)
	defer c.Close()

	c.Add("keep", "drop")
	c.Discard("drop")
	c.Flush()

	got := rec.last()
	if len(got) != 1 || got[0] != "keep" {
		t.Errorf("flush batch = %v, want [keep]", got)
	}
}

func TestCoalescerClosedIsInert(t *testing.T) {
	rec := &flushRecorder{}
	c := NewCoalescer(time.Hour, rec.record)
	c.Close()

	c.Add("x")
	c.Flush()
	if rec.count() != 0 {
		t.Error("closed coalescer must not flush")
	}
}
