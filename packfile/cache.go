package packfile

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// DeltaCache is the bounded LRU cache of inflated delta/base bytes keyed by
// (pack-id, data-offset), spec.md §4.1 Reconstruction strategy.
//
// go-git itself wires golang.org/x/groupcache's lru.Cache into its HTTP
// transport response cache (plumbing/transport/http/common.go); here the
// same cache is repurposed for delta bytes, which is the kind of bounded
// LRU spec.md calls for: keyed by entry identity, fixed byte budget, and
// silently refusing inserts over budget rather than erroring.
type DeltaCache struct {
	mu       sync.Mutex
	lru      *lru.Cache
	maxBytes int
	curBytes int
}

// NewDeltaCache creates a cache that evicts least-recently-used entries
// once the sum of cached payload sizes would exceed maxBytes.
func NewDeltaCache(maxBytes int) *DeltaCache {
	c := &DeltaCache{maxBytes: maxBytes}
	c.lru = lru.New(0) // unlimited entry count; Put enforces the byte budget, OnEvicted keeps curBytes in step
	c.lru.OnEvicted = func(key lru.Key, value interface{}) {
		c.curBytes -= len(value.([]byte))
	}
	return c
}

// Get returns cached bytes for key, if present.
func (c *DeltaCache) Get(key cacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Put inserts b under key, evicting least-recently-used entries until it
// fits. If b alone is larger than the entire budget, the insert is
// silently dropped (spec.md §7: "no-space from the delta cache is
// absorbed; the caller may free the buffer immediately" — there is
// nothing for the caller to free here since Go is garbage collected, but
// the non-error contract is preserved).
func (c *DeltaCache) Put(key cacheKey, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(b) > c.maxBytes {
		return
	}
	for c.curBytes+len(b) > c.maxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
	c.lru.Add(key, b)
	c.curBytes += len(b)
}

// Len returns the number of cached entries.
func (c *DeltaCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
