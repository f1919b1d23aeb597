// ABOUTME: Thread-safe TTL cache of discovery results keyed by version and principal
// ABOUTME: A generation counter keeps results computed before Invalidate from being stored

package discovery

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores a result, when it was stored, and its list element.
type cacheEntry struct {
	result    *Result
	timestamp time.Time
	element   *list.Element
}

// resultCache is a size-limited TTL cache. Oldest entries are evicted first.
type resultCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      *list.List // keys in insertion order (oldest at front)
	ttl        time.Duration
	maxSize    int
	generation uint64
	done       chan struct{}
	closed     bool
}

func newResultCache(ttl time.Duration, maxSize int) *resultCache {
	c := &resultCache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// get returns a live entry for key along with the current generation. The
// generation must be passed back to put.
func (c *resultCache) get(key string) (*Result, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return nil, c.generation, false
	}
	return entry.result, c.generation, true
}

// put stores result unless the cache was invalidated since generation was read.
func (c *resultCache) put(key string, generation uint64, result *Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}

	if entry, exists := c.entries[key]; exists {
		entry.result = result
		entry.timestamp = time.Now()
		c.order.MoveToBack(entry.element)
		return true
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		result:    result,
		timestamp: time.Now(),
		element:   elem,
	}
	return true
}

// invalidate drops every entry and bumps the generation.
func (c *resultCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.entries = make(map[string]*cacheEntry)
	c.order.Init()
}

func (c *resultCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *resultCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *resultCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *resultCache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// close stops the cleanup goroutine. Safe to call multiple times.
func (c *resultCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
