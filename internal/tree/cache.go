package tree

import (
	"container/list"
	"time"

	"arbor/internal/shared/observability"
)

// payloadCache bounds resident payloads by count (LRU) and age (TTL),
// whichever fires first. Entries reported as protected by the check
// callback are skipped by both eviction paths.
type payloadCache struct {
	maxSize int
	maxAge  time.Duration

	ll      *list.List // front = most recently used
	entries map[string]*list.Element
}

type cacheEntry struct {
	id         string
	payload    []byte
	lastAccess time.Time
}

func newPayloadCache(maxSize int, maxAge time.Duration) *payloadCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &payloadCache{
		maxSize: maxSize,
		maxAge:  maxAge,
		ll:      list.New(),
		entries: make(map[string]*list.Element),
	}
}

// get returns the payload and refreshes recency. TTL expiry is checked on
// every lookup; an expired entry is removed and reported as a miss.
func (c *payloadCache) get(id string, now time.Time) ([]byte, time.Time, bool) {
	el, ok := c.entries[id]
	if !ok {
		return nil, time.Time{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.maxAge > 0 && now.Sub(entry.lastAccess) > c.maxAge {
		c.removeElement(el)
		observability.CacheEvictionsTotal.WithLabelValues("ttl").Inc()
		return nil, time.Time{}, false
	}
	entry.lastAccess = now
	c.ll.MoveToFront(el)
	return entry.payload, entry.lastAccess, true
}

// put inserts or refreshes a payload. When at capacity the least recently
// used unprotected entry is evicted; if everything resident is protected
// the new payload is dropped rather than growing past maxSize.
func (c *payloadCache) put(id string, payload []byte, now time.Time, protected func(string) bool) {
	if el, ok := c.entries[id]; ok {
		entry := el.Value.(*cacheEntry)
		entry.payload = payload
		entry.lastAccess = now
		c.ll.MoveToFront(el)
		return
	}

	for c.ll.Len() >= c.maxSize {
		if !c.evictOldest(protected) {
			return
		}
	}

	el := c.ll.PushFront(&cacheEntry{id: id, payload: payload, lastAccess: now})
	c.entries[id] = el
	observability.CachePayloads.Set(float64(c.ll.Len()))
}

// touch refreshes recency without returning the payload.
func (c *payloadCache) touch(id string, now time.Time) {
	if el, ok := c.entries[id]; ok {
		el.Value.(*cacheEntry).lastAccess = now
		c.ll.MoveToFront(el)
	}
}

func (c *payloadCache) remove(id string) {
	if el, ok := c.entries[id]; ok {
		c.removeElement(el)
	}
}

func (c *payloadCache) len() int {
	return c.ll.Len()
}

func (c *payloadCache) has(id string) bool {
	_, ok := c.entries[id]
	return ok
}

// reclaim runs one TTL sweep over unprotected entries. Used by the idle
// offload pass after protected ids have been touched.
func (c *payloadCache) reclaim(now time.Time, protected func(string) bool) int {
	if c.maxAge <= 0 {
		return 0
	}
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if now.Sub(entry.lastAccess) > c.maxAge && (protected == nil || !protected(entry.id)) {
			c.removeElement(el)
			observability.CacheEvictionsTotal.WithLabelValues("ttl").Inc()
			removed++
		}
		el = prev
	}
	return removed
}

// evictOldest removes the least recently used unprotected entry. Returns
// false when every resident entry is protected.
func (c *payloadCache) evictOldest(protected func(string) bool) bool {
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		entry := el.Value.(*cacheEntry)
		if protected != nil && protected(entry.id) {
			continue
		}
		c.removeElement(el)
		observability.CacheEvictionsTotal.WithLabelValues("lru").Inc()
		return true
	}
	return false
}

func (c *payloadCache) removeElement(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.ll.Remove(el)
	delete(c.entries, entry.id)
	observability.CachePayloads.Set(float64(c.ll.Len()))
}
