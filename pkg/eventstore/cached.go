package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/cohortview/cohortview/pkg/cache"
	"github.com/cohortview/cohortview/pkg/dateutil"
	"github.com/cohortview/cohortview/pkg/metrics"
)

// CachedStore decorates an EventStore with a TTL cache keyed by query
// parameters. Per-day user-ID sets and histogram windows are cached
// independently; a stale entry is at most ttl old, matching the refresh
// cadence of the dashboards this feeds.
type CachedStore struct {
	inner EventStore
	cache cache.Cache
	ttl   time.Duration
	loc   *time.Location
}

// NewCached wraps inner with the given cache.
func NewCached(inner EventStore, c cache.Cache, ttl time.Duration, loc *time.Location) *CachedStore {
	return &CachedStore{inner: inner, cache: c, ttl: ttl, loc: loc}
}

// UniqueUserIDs serves the per-day identifier set from cache when possible.
func (s *CachedStore) UniqueUserIDs(ctx context.Context, day string, eventName string) (UserIDSet, error) {
	key := fmt.Sprintf("users:%s:%s", day, eventName)

	if raw, ok := s.cache.Get(key); ok {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err == nil {
			metrics.CacheHits.WithLabelValues("unique_user_ids").Inc()
			return NewUserIDSet(ids...), nil
		}
		// Undecodable entry: fall through and refetch.
	}
	metrics.CacheMisses.WithLabelValues("unique_user_ids").Inc()

	ids, err := s.inner.UniqueUserIDs(ctx, day, eventName)
	if err != nil {
		return nil, err
	}

	// The cache is purely a performance optimization; a failed write must
	// never fail a query that already has its result.
	if raw, err := json.Marshal(ids.IDs()); err == nil {
		if err := s.cache.Set(key, raw, s.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache query result")
		}
	}
	return ids, nil
}

// DailyHistogram serves the funnel window from cache when possible.
func (s *CachedStore) DailyHistogram(ctx context.Context, start, end time.Time) ([]DayStat, error) {
	key := fmt.Sprintf("histogram:%s:%s", dateutil.Format(start, s.loc), dateutil.Format(end, s.loc))

	if raw, ok := s.cache.Get(key); ok {
		var stats []DayStat
		if err := json.Unmarshal(raw, &stats); err == nil {
			metrics.CacheHits.WithLabelValues("daily_histogram").Inc()
			return stats, nil
		}
	}
	metrics.CacheMisses.WithLabelValues("daily_histogram").Inc()

	stats, err := s.inner.DailyHistogram(ctx, start, end)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(stats); err == nil {
		if err := s.cache.Set(key, raw, s.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache query result")
		}
	}
	return stats, nil
}

// Close shuts down the cache and the wrapped store.
func (s *CachedStore) Close() error {
	return errors.Join(s.cache.Close(), s.inner.Close())
}
