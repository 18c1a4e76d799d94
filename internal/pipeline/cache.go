package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/knowledge"
)

// CacheKey hashes the normalized message together with the context
// fingerprint (role and current topic).
func CacheKey(text string, role domain.Role, topic string) string {
	h := sha256.New()
	h.Write([]byte(knowledge.Normalize(text)))
	h.Write([]byte{0})
	h.Write([]byte(string(role) + "|" + knowledge.Normalize(topic)))
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	reply   Reply
	expires time.Time
}

// Cache stores generated replies for a fixed TTL.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewCache creates a cache whose entries live for ttl. When maxEntries is
// reached expired entries are purged, then the insert is dropped if still full.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		items:      make(map[string]cacheEntry),
	}
}

// Get returns the live entry for key.
func (c *Cache) Get(key string) (Reply, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return Reply{}, false
	}
	return e.reply, true
}

// Set stores reply under key.
func (c *Cache) Set(key string, reply Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.purgeLocked()
		if len(c.items) >= c.maxEntries {
			return
		}
	}
	c.items[key] = cacheEntry{reply: reply, expires: c.now().Add(c.ttl)}
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked()
}

func (c *Cache) purgeLocked() int {
	now := c.now()
	removed := 0
	for k, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
