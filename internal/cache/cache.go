package cache

import (
	"sync"
)

// ResultCache memoizes encoded solve results by request digest, so a
// repeated right-hand side skips the back-substitution pass entirely.
type ResultCache interface {
	// Get retrieves an encoded result.
	Get(digest string) ([]byte, bool)
	// Put stores an encoded result.
	Put(digest string, enc []byte)
	// Size returns the number of cached results.
	Size() int
}

// MapCache is an in-memory ResultCache bounded by entry count. Once
// full, new digests are not admitted; existing entries can still be
// refreshed. Solve results for a fixed net never go stale, so refusal
// beats eviction here.
type MapCache struct {
	data       map[string][]byte
	maxEntries int
	mu         sync.RWMutex
}

// NewMapCache returns a cache holding at most maxEntries results.
// A non-positive limit means unbounded.
func NewMapCache(maxEntries int) *MapCache {
	return &MapCache{
		data:       make(map[string][]byte),
		maxEntries: maxEntries,
	}
}

func (c *MapCache) Get(digest string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copy to avoid modification of cached value
	if v, ok := c.data[digest]; ok {
		dst := make([]byte, len(v))
		copy(dst, v)
		return dst, true
	}
	return nil, false
}

func (c *MapCache) Put(digest string, enc []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[digest]; !exists && c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		return
	}

	// Store copy
	dst := make([]byte, len(enc))
	copy(dst, enc)
	c.data[digest] = dst
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
