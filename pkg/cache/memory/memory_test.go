package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New()
	defer c.Close()

	require.NoError(t, c.Set("k", []byte("v"), time.Minute))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := New()
	defer c.Close()

	_, ok := c.Get("absent")
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.Stats().Misses)
}

func TestCache_Expiry(t *testing.T) {
	c := New()
	defer c.Close()

	require.NoError(t, c.Set("k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 0, stats.Entries)
	assert.EqualValues(t, 1, stats.Evictions)
}

func TestCache_SetOverwrites(t *testing.T) {
	c := New()
	defer c.Close()

	require.NoError(t, c.Set("k", []byte("old"), time.Minute))
	require.NoError(t, c.Set("k", []byte("new"), time.Minute))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
	assert.EqualValues(t, 1, c.Stats().Entries)
}

func TestCache_StatsCounters(t *testing.T) {
	c := New()
	defer c.Close()

	require.NoError(t, c.Set("k", []byte("v"), time.Minute))
	c.Get("k")
	c.Get("k")
	c.Get("other")

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}
