// Package badger implements the TTL cache on BadgerDB, so warmed query
// results survive process restarts. Expiry is delegated to Badger's native
// entry TTL.
package badger

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/cohortview/cohortview/pkg/cache"
)

// Config holds BadgerDB cache configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool
}

// Cache implements cache.Cache using BadgerDB.
type Cache struct {
	db        *badger.DB
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	stopGC    chan struct{}
}

// New creates a BadgerDB cache backend. The LSM options are tuned down hard:
// the cache holds at most a few hundred small entries, so the defaults
// (sized for multi-GB stores) would waste hundreds of MB of memory.
func New(cfg Config) (*Cache, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(8 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(4 << 20).
		WithIndexCacheSize(2 << 20).
		WithMaxLevels(3).
		WithNumCompactors(2).
		WithValueLogFileSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}

	c := &Cache{db: db, stopGC: make(chan struct{})}
	if !cfg.InMemory {
		go c.gcLoop()
	}
	return c, nil
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hashKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return value, true
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) error {
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(hashKey(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Stats returns cache counters. Entries walks the key space, which is cheap
// for the handful of query results this cache ever holds.
func (c *Cache) Stats() cache.Stats {
	var entries int64
	_ = c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			entries++
		}
		return nil
	})

	return cache.Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   entries,
	}
}

// Close stops the GC loop and shuts down the database.
func (c *Cache) Close() error {
	close(c.stopGC)
	return c.db.Close()
}

// gcLoop reclaims value-log space left behind by expired entries.
func (c *Cache) gcLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			// Badger returns an error when no rewrite was needed; that is
			// the common case for a small cache and not a failure.
			if err := c.db.RunValueLogGC(0.5); err == nil {
				c.evictions.Add(1)
			}
		}
	}
}

// hashKey maps an arbitrary-length cache key onto a fixed 9-byte Badger key.
func hashKey(key string) []byte {
	out := make([]byte, 9)
	out[0] = 'q'
	binary.BigEndian.PutUint64(out[1:], xxhash.Sum64String(key))
	return out
}
