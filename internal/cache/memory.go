package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ppiankov/bsmeter/internal/model"
)

// MemoryCache implements RecordCache with expiring in-memory entries
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a new memory cache. A zero cleanupInterval disables the
// background janitor; expired entries are then dropped lazily on Get.
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get returns a copy of the cached record
func (c *MemoryCache) Get(fp model.Fingerprint) (*model.AnalysisRecord, bool) {
	if val, found := c.cache.Get(Key(fp)); found {
		return val.(*model.AnalysisRecord).Clone(), true
	}
	return nil, false
}

// Set stores a copy of rec with the default TTL
func (c *MemoryCache) Set(rec *model.AnalysisRecord) {
	if rec == nil {
		return
	}
	c.cache.Set(Key(rec.Fingerprint), rec.Clone(), gocache.DefaultExpiration)
}

// Delete removes a record from the cache
func (c *MemoryCache) Delete(fp model.Fingerprint) {
	c.cache.Delete(Key(fp))
}

// Clear removes all records from the cache
func (c *MemoryCache) Clear() {
	c.cache.Flush()
}

// Len returns the number of cached entries, including expired ones not yet evicted
func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}
