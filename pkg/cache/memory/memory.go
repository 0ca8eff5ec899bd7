// Package memory implements an in-memory TTL cache. Data is lost on restart.
package memory

import (
	"sync"
	"time"

	"github.com/cohortview/cohortview/pkg/cache"
)

const sweepInterval = 5 * time.Minute

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache stores entries in a map guarded by a RWMutex. Expired entries are
// dropped lazily on Get and swept periodically in the background.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	stats   cache.Stats
	stop    chan struct{}
	once    sync.Once
}

// New creates an in-memory cache and starts its background sweeper.
func New() *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.miss()
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; Set may have refreshed the entry.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	return e.value, true
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() cache.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = int64(len(c.entries))
	return s
}

// Close stops the background sweeper.
func (c *Cache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *Cache) miss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
					c.stats.Evictions++
				}
			}
			c.mu.Unlock()
		}
	}
}
