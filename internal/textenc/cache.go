package textenc

import (
	"sync"
)

// Cache is a thread-safe FIFO memo for decoded strings, bounded by the
// total byte size of keys plus values rather than by entry count.
type Cache struct {
	mu         sync.RWMutex
	maxBytes   int
	items      map[string]string
	order      []string
	totalBytes int
}

// NewCache creates a cache bounded to maxBytes. A bound below 1 defaults
// to 1.
func NewCache(maxBytes int) *Cache {
	if maxBytes < 1 {
		maxBytes = 1
	}
	return &Cache{
		maxBytes: maxBytes,
		items:    make(map[string]string),
	}
}

// Get retrieves a decoded value by its raw key. Lookups do not affect
// eviction order.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Set stores a decoded value. Oldest entries are evicted until the entry
// fits; an entry larger than the whole bound clears the cache and is not
// stored.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entrySize := len(key) + len(value)
	if entrySize > c.maxBytes {
		c.clearLocked()
		return
	}
	if prev, ok := c.items[key]; ok {
		c.totalBytes -= len(key) + len(prev)
		delete(c.items, key)
		for i, k := range c.order {
			if k == key {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	for c.totalBytes+entrySize > c.maxBytes && len(c.order) > 0 {
		c.evictOldestLocked()
	}
	if c.totalBytes+entrySize > c.maxBytes {
		c.clearLocked()
	}
	c.items[key] = value
	c.order = append(c.order, key)
	c.totalBytes += entrySize
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Cache) evictOldestLocked() {
	key := c.order[0]
	c.order = c.order[1:]
	if v, ok := c.items[key]; ok {
		c.totalBytes -= len(key) + len(v)
		delete(c.items, key)
	}
}

func (c *Cache) clearLocked() {
	c.items = make(map[string]string)
	c.order = nil
	c.totalBytes = 0
}
