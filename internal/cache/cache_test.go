package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxSize uint64) *ChunkCache {
	t.Helper()
	c, err := Open(t.TempDir(), maxSize, true)
	require.NoError(t, err)
	return c
}

func TestPutGet(t *testing.T) {
	c := newTestCache(t, 0)
	require.NoError(t, c.Put("chunk-a", []byte("hello")))

	data, ok, err := c.Get("chunk-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t, 0)
	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	c := newTestCache(t, 0)
	require.NoError(t, c.Put("chunk-a", []byte("hello")))
	require.NoError(t, c.Remove("chunk-a"))

	_, ok, err := c.Get("chunk-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvictionUnderPressure(t *testing.T) {
	c := newTestCache(t, 10) // 10 bytes total
	require.NoError(t, c.Put("a", []byte("12345"))) // 5 bytes
	require.NoError(t, c.Put("b", []byte("12345"))) // 5 bytes, now full
	require.NoError(t, c.Put("c", []byte("12345"))) // evicts "a"

	_, ok, _ := c.Get("a")
	assert.False(t, ok)
	_, ok, _ = c.Get("b")
	assert.True(t, ok)
	_, ok, _ = c.Get("c")
	assert.True(t, ok)
}

func TestLRUOrderingTouchDeferEviction(t *testing.T) {
	c := newTestCache(t, 10)
	require.NoError(t, c.Put("a", []byte("12345")))
	require.NoError(t, c.Put("b", []byte("12345")))

	// Touch "a" so "b" becomes the LRU entry.
	_, _, err := c.Get("a")
	require.NoError(t, err)

	require.NoError(t, c.Put("c", []byte("12345"))) // should evict "b", not "a"

	_, ok, _ := c.Get("a")
	assert.True(t, ok)
	_, ok, _ = c.Get("b")
	assert.False(t, ok)
}

func TestPrefetchQueueDedup(t *testing.T) {
	c := newTestCache(t, 0)
	c.QueuePrefetch([]string{"x", "y", "x"})

	first, ok := c.NextPrefetch()
	require.True(t, ok)
	assert.Equal(t, "x", first)

	second, ok := c.NextPrefetch()
	require.True(t, ok)
	assert.Equal(t, "y", second)

	_, ok = c.NextPrefetch()
	assert.False(t, ok)
}

func TestPrefetchSkipsAlreadyCached(t *testing.T) {
	c := newTestCache(t, 0)
	require.NoError(t, c.Put("cached", []byte("x")))
	c.QueuePrefetch([]string{"cached", "not-cached"})

	next, ok := c.NextPrefetch()
	require.True(t, ok)
	assert.Equal(t, "not-cached", next)
}

func TestStatsSnapshot(t *testing.T) {
	c := newTestCache(t, 100)
	require.NoError(t, c.Put("a", []byte("12345")))

	stats := c.StatsSnapshot()
	assert.Equal(t, uint64(5), stats.CurrentSize)
	assert.Equal(t, 1, stats.ChunkCount)
	assert.InDelta(t, 0.05, stats.Utilization(), 0.001)
}

func TestConcurrentPutsDoNotCorruptBookkeeping(t *testing.T) {
	c := newTestCache(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%20))
			require.NoError(t, c.Put(id, []byte("payload")))
		}(i)
	}
	wg.Wait()

	stats := c.StatsSnapshot()
	assert.Equal(t, uint64(20*len("payload")), stats.CurrentSize)
	assert.Equal(t, 20, stats.ChunkCount)
}

func TestClear(t *testing.T) {
	c := newTestCache(t, 0)
	require.NoError(t, c.Put("a", []byte("1")))
	require.NoError(t, c.Put("b", []byte("2")))
	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Count())
}
