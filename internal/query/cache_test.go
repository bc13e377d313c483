package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string, int](2, 0)
	defer c.Close()

	c.Put("a", 1)
	c.Put("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", 3)
	_, ok = c.Get("b")
	require.False(t, ok)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 2, c.Size())
}

func TestLRUCacheUpdatesExistingKey(t *testing.T) {
	c := NewLRUCache[string, int](2, 0)
	defer c.Close()

	c.Put("a", 1)
	c.Put("a", 5)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 5, v)
	require.Equal(t, 1, c.Size())
}

func TestLRUCacheExpires(t *testing.T) {
	c := NewLRUCache[string, int](10, 30*time.Millisecond)
	defer c.Close()

	c.Put("a", 1)
	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.Get("a")
	require.False(t, ok)
}

func TestLRUCacheCleanupRemovesExpired(t *testing.T) {
	c := NewLRUCache[int, string](10, 20*time.Millisecond)
	defer c.Close()

	for i := range 5 {
		c.Put(i, "v")
	}
	require.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, 10*time.Millisecond)
}

func TestLRUCacheNanosecondTTL(t *testing.T) {
	c := NewLRUCache[string, int](10, time.Nanosecond)
	defer c.Close()

	c.Put("a", 1)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("a")
	require.False(t, ok)
	require.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, time.Millisecond)
}

func TestLRUCacheZeroCapacityStoresNothing(t *testing.T) {
	c := NewLRUCache[string, int](0, time.Minute)
	defer c.Close()

	c.Put("a", 1)
	_, ok := c.Get("a")
	require.False(t, ok)
	c.Clear()
	c.Close()
}
