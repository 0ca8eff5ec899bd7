// Package cache provides the pluggable TTL cache abstraction used to bound
// repeat aggregation queries. The cache is a performance optimization only;
// entries expire on a fixed interval and losing them never affects
// correctness, so backends are free to drop data at any time.
//
// Implementations: memory (default, ephemeral) and badger (persistent across
// restarts).
package cache

import "time"

// Cache is a byte-valued store with per-entry TTL.
type Cache interface {
	// Get returns the value for key if present and not expired.
	Get(key string) ([]byte, bool)

	// Set stores value under key for at most ttl.
	Set(key string, value []byte, ttl time.Duration) error

	// Stats returns hit/miss counters for monitoring.
	Stats() Stats

	// Close releases backend resources.
	Close() error
}

// Stats provides cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int64 `json:"entries"`
}
