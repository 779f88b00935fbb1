package handle

import (
	"sync"

	"github.com/dipeo/dipeo-core/internal/diagram"
)

// Cache memoizes ParseID results keyed by the raw handle string, the
// same role original_source's HandleReference._cache plays: repeated
// lookups of one handle ID skip re-splitting it. The compiler and
// engine call ParseID directly; only this package's tests use Cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[diagram.HandleID]ParsedHandle
}

// NewCache builds an empty handle parse cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[diagram.HandleID]ParsedHandle)}
}

// GetOrParse returns the cached parse of h, computing and storing it on
// a miss. Parse failures are not cached, matching the original (a
// failed parse should not poison future attempts at the same string
// once the caller fixes the diagram).
func (c *Cache) GetOrParse(h diagram.HandleID) (ParsedHandle, error) {
	c.mu.RLock()
	p, ok := c.entries[h]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := ParseID(h)
	if err != nil {
		return ParsedHandle{}, err
	}

	c.mu.Lock()
	c.entries[h] = p
	c.mu.Unlock()
	return p, nil
}

// Clear empties the cache. Exposed for tests and for diagram reload
// paths where node ids can be reused across unrelated diagrams.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[diagram.HandleID]ParsedHandle)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
