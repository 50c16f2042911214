// Package cache is a bounded in-memory response cache keyed by request
// fingerprint.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"

	"github.com/nexus-agent/nexus/pkg/models"
)

// Cache holds at most maxEntries responses. Entries expire on read and the
// oldest insertion is evicted at capacity. Reads never reorder entries.
type Cache struct {
	mu         sync.Mutex
	entries    *simplelru.LRU[string, models.CacheEntry]
	maxEntries int
	defaultTTL time.Duration
	log        zerolog.Logger
	now        func() time.Time

	hits      int64
	misses    int64
	evictions int64
	expired   int64
}

// New creates a Cache. defaultTTL applies when Put is given a zero ttl.
func New(maxEntries int, defaultTTL time.Duration, log zerolog.Logger) (*Cache, error) {
	entries, err := simplelru.NewLRU[string, models.CacheEntry](maxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{
		entries:    entries,
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		log:        log,
		now:        time.Now,
	}, nil
}

// Get returns the cached response for fp. An expired entry is removed and
// reported as absent.
func (c *Cache) Get(fp string) (models.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Peek(fp)
	if !ok {
		c.misses++
		return models.Response{}, false
	}
	if entry.Expired(c.now()) {
		c.entries.Remove(fp)
		c.expired++
		c.misses++
		c.log.Debug().Str("fingerprint", short(fp)).Msg("cache entry expired")
		return models.Response{}, false
	}

	c.hits++
	return entry.Response, true
}

// Put stores resp under fp for ttl. Storing an existing fingerprint
// replaces it and counts as a new insertion.
func (c *Cache) Put(fp string, resp models.Response, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	// Remove first so a replaced entry moves to the newest position.
	c.entries.Remove(fp)
	if c.entries.Add(fp, models.CacheEntry{
		Fingerprint: fp,
		Response:    resp,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}) {
		c.evictions++
		c.log.Debug().Str("fingerprint", short(fp)).Msg("evicted oldest cache entry")
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns cache counters.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := models.CacheStats{
		Entries:   int64(c.entries.Len()),
		Capacity:  int64(c.maxEntries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Purge removes every entry. Counters are kept.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.log.Info().Msg("cache cleared")
}

func short(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
