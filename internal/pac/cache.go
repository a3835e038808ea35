package pac

import (
	"crypto/sha256"
	"sync"
)

// Cache holds parsed scripts keyed by content. Each distinct content is parsed
// at most once, even when first requested by many goroutines at the same time.
// Parse errors are cached as well.
//
// With a positive size the cache evicts its oldest entry once full, and an
// evicted content is parsed again if it comes back. Size zero never evicts.
type Cache struct {
	opts Options
	size int

	mu      sync.Mutex
	entries map[[sha256.Size]byte]*cacheEntry
	order   [][sha256.Size]byte
}

type cacheEntry struct {
	once   sync.Once
	script *Script
	err    error
}

func NewCache(size int, opts Options) *Cache {
	if size < 0 {
		size = 0
	}
	return &Cache{
		opts:    opts,
		size:    size,
		entries: make(map[[sha256.Size]byte]*cacheEntry),
	}
}

// Get returns the parsed script for src. The second result reports whether the
// script was already parsed.
func (c *Cache) Get(src string) (*Script, bool, error) {
	key := sha256.Sum256([]byte(src))

	c.mu.Lock()
	entry, hit := c.entries[key]
	if !hit {
		entry = &cacheEntry{}
		c.entries[key] = entry
		c.order = append(c.order, key)
		if c.size > 0 && len(c.order) > c.size {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.script, entry.err = Parse(src, c.opts)
	})
	return entry.script, hit, entry.err
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
