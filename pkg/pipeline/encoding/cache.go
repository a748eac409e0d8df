package encoding

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes one detected encoding per source identity. Detection is a
// pure function of the source bytes, so concurrent writers racing on the
// same key store identical values; no locking beyond the cache's own.
type Cache struct {
	entries *lru.Cache[string, Name]
}

// NewCache builds a cache bounded to size sources. Size must be positive.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = 128
	}
	entries, _ := lru.New[string, Name](size)
	return &Cache{entries: entries}
}

// Get returns the cached encoding for a source identity.
func (c *Cache) Get(sourceID string) (Name, bool) {
	if c == nil || c.entries == nil {
		return "", false
	}
	return c.entries.Get(sourceID)
}

// Put records the detected encoding for a source identity.
func (c *Cache) Put(sourceID string, enc Name) {
	if c == nil || c.entries == nil {
		return
	}
	c.entries.Add(sourceID, enc)
}
