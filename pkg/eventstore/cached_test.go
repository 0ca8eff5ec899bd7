package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortview/cohortview/pkg/cache"
	"github.com/cohortview/cohortview/pkg/cache/memory"
)

// brokenCache rejects every write, as a full disk or a badger conflict would.
type brokenCache struct{}

func (brokenCache) Get(key string) ([]byte, bool) { return nil, false }
func (brokenCache) Set(key string, value []byte, ttl time.Duration) error {
	return errors.New("disk full")
}
func (brokenCache) Stats() cache.Stats { return cache.Stats{} }
func (brokenCache) Close() error       { return nil }

// countingStore records how many times each operation hits the backend.
type countingStore struct {
	users      map[string]UserIDSet // keyed by day|event
	histogram  []DayStat
	userCalls  int
	histoCalls int
}

func (c *countingStore) UniqueUserIDs(ctx context.Context, day, eventName string) (UserIDSet, error) {
	c.userCalls++
	if ids, ok := c.users[day+"|"+eventName]; ok {
		return ids, nil
	}
	return NewUserIDSet(), nil
}

func (c *countingStore) DailyHistogram(ctx context.Context, start, end time.Time) ([]DayStat, error) {
	c.histoCalls++
	return c.histogram, nil
}

func (c *countingStore) Close() error { return nil }

func TestCachedStore_UniqueUserIDsCachesByDayAndEvent(t *testing.T) {
	inner := &countingStore{
		users: map[string]UserIDSet{
			"2024-03-01|backend-sign_up": NewUserIDSet("1", "2", "3"),
		},
	}
	cached := NewCached(inner, memory.New(), time.Minute, time.UTC)
	defer cached.Close()

	ctx := context.Background()

	first, err := cached.UniqueUserIDs(ctx, "2024-03-01", "backend-sign_up")
	require.NoError(t, err)
	assert.Equal(t, 3, first.Len())

	second, err := cached.UniqueUserIDs(ctx, "2024-03-01", "backend-sign_up")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.userCalls, "second call must be served from cache")

	// Different event name on the same day is a different cache key.
	_, err = cached.UniqueUserIDs(ctx, "2024-03-01", "root")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.userCalls)
}

func TestCachedStore_HistogramCachesByWindow(t *testing.T) {
	inner := &countingStore{
		histogram: []DayStat{{Date: "2024-03-01", AllVisitorCount: 10}},
	}
	cached := NewCached(inner, memory.New(), time.Minute, time.UTC)
	defer cached.Close()

	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

	first, err := cached.DailyHistogram(ctx, start, end)
	require.NoError(t, err)

	second, err := cached.DailyHistogram(ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.histoCalls)

	// A shifted window bypasses the cached entry.
	_, err = cached.DailyHistogram(ctx, start.AddDate(0, 0, 1), end.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.histoCalls)
}

func TestCachedStore_SetFailureDoesNotFailQuery(t *testing.T) {
	// A cache write failure loses the optimization, never the result.
	inner := &countingStore{
		users: map[string]UserIDSet{
			"2024-03-01|backend-sign_up": NewUserIDSet("1", "2"),
		},
		histogram: []DayStat{{Date: "2024-03-01", AllVisitorCount: 10}},
	}
	cached := NewCached(inner, brokenCache{}, time.Minute, time.UTC)

	ctx := context.Background()

	ids, err := cached.UniqueUserIDs(ctx, "2024-03-01", "backend-sign_up")
	require.NoError(t, err)
	assert.Equal(t, 2, ids.Len())

	stats, err := cached.DailyHistogram(ctx,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, stats, 1)

	// Nothing was cached, so every call reaches the backend.
	_, err = cached.UniqueUserIDs(ctx, "2024-03-01", "backend-sign_up")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.userCalls)
}

func TestCachedStore_ExpiredEntryRefetches(t *testing.T) {
	inner := &countingStore{
		users: map[string]UserIDSet{"2024-03-01|root": NewUserIDSet("9")},
	}
	cached := NewCached(inner, memory.New(), 10*time.Millisecond, time.UTC)
	defer cached.Close()

	ctx := context.Background()

	_, err := cached.UniqueUserIDs(ctx, "2024-03-01", "root")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = cached.UniqueUserIDs(ctx, "2024-03-01", "root")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.userCalls)
}
