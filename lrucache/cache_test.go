/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, maxEntries int, ttl time.Duration) (*LRUCache[string, int], *PrometheusMetrics, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	metrics := NewPrometheusMetrics()
	cache, err := NewWithOpts[string, int](maxEntries, metrics, Options{DefaultTTL: ttl, Now: clock.Now})
	require.NoError(t, err)
	return cache, metrics, clock
}

func TestNewWithOpts_InvalidArgs(t *testing.T) {
	_, err := New[string, int](0, nil)
	require.EqualError(t, err, "maxEntries must be greater than 0")

	_, err = NewWithOpts[string, int](1, nil, Options{DefaultTTL: -time.Second})
	require.EqualError(t, err, "defaultTTL must be greater or equal to 0 (no expiration)")
}

func TestLRUCache_AddGetRemove(t *testing.T) {
	cache, metrics, _ := newTestCache(t, 10, 0)

	_, found := cache.Get("203.0.113.7")
	require.False(t, found)

	cache.Add("203.0.113.7", 1)
	cache.Add("198.51.100.1", 2)
	val, found := cache.Get("203.0.113.7")
	require.True(t, found)
	require.Equal(t, 1, val)
	require.Equal(t, 2, cache.Len())

	require.True(t, cache.Remove("203.0.113.7"))
	require.False(t, cache.Remove("203.0.113.7"))
	require.Equal(t, 1, cache.Len())

	cache.Purge()
	require.Equal(t, 0, cache.Len())

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.HitsTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.MissesTotal))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.EntriesAmount))
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache, metrics, _ := newTestCache(t, 2, 0)

	cache.Add("a", 1)
	cache.Add("b", 2)
	_, _ = cache.Get("a") // "b" becomes the least recently used
	cache.Add("c", 3)

	_, found := cache.Get("b")
	require.False(t, found)
	_, found = cache.Get("a")
	require.True(t, found)
	_, found = cache.Get("c")
	require.True(t, found)
	require.Equal(t, 2, cache.Len())
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.EvictionsTotal.WithLabelValues(string(EvictionReasonCapacity))))
}

func TestLRUCache_GetOrAdd(t *testing.T) {
	cache, _, _ := newTestCache(t, 10, 0)

	calls := 0
	provider := func() int {
		calls++
		return 42
	}
	val, exists := cache.GetOrAdd("k", provider)
	require.False(t, exists)
	require.Equal(t, 42, val)

	val, exists = cache.GetOrAdd("k", provider)
	require.True(t, exists)
	require.Equal(t, 42, val)
	require.Equal(t, 1, calls)
}

func TestLRUCache_Expiration(t *testing.T) {
	cache, metrics, clock := newTestCache(t, 10, time.Minute)

	cache.Add("a", 1)
	cache.AddWithTTL("b", 2, 0) // never expires
	cache.AddWithTTL("c", 3, 3*time.Minute)

	clock.Advance(time.Minute)
	_, found := cache.Get("a")
	require.False(t, found, "entry must expire exactly at its deadline")
	require.Equal(t, 2, cache.Len())

	require.True(t, cache.Touch("c", time.Minute))
	clock.Advance(time.Minute)
	require.Equal(t, 1, cache.RemoveExpired())
	require.Equal(t, 1, cache.Len())
	_, found = cache.Get("b")
	require.True(t, found)
	require.False(t, cache.Touch("c", time.Minute))

	cache.AddWithTTL("d", 4, time.Minute)
	clock.Advance(time.Minute)
	val, found := cache.Peek("d")
	require.True(t, found, "expired entry is still visible until removed")
	require.Equal(t, 4, val)
	_, found = cache.Get("d")
	require.False(t, found)
	_, found = cache.Peek("d")
	require.False(t, found)

	require.Equal(t, 3.0, testutil.ToFloat64(metrics.EvictionsTotal.WithLabelValues(string(EvictionReasonExpired))))
}

func TestLRUCache_RunPeriodicCleanup(t *testing.T) {
	cache, err := NewWithOpts[string, int](10, nil, Options{DefaultTTL: time.Millisecond})
	require.NoError(t, err)
	cache.Add("a", 1)
	cache.Add("b", 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.RunPeriodicCleanup(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return cache.Len() == 0 }, time.Second, 5*time.Millisecond)
}
