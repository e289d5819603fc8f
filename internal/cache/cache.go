// Package cache implements the on-disk LRU chunk cache: sealed chunk
// bytes are written under cacheDir keyed by chunk id, with
// ensure-space eviction driven by the lru tracker and a FIFO prefetch
// queue. Grounded on original_source/src/cache/mod.rs.
package cache

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/mvance/tgfs/internal/apperrors"
)

// Stats is a snapshot of cache occupancy, mirroring CacheStats.
type Stats struct {
	CurrentSize      uint64
	MaxSize          uint64
	ChunkCount       int
	PrefetchQueueLen int
}

// Utilization returns the fraction of MaxSize currently used, in [0,1].
func (s Stats) Utilization() float64 {
	if s.MaxSize == 0 {
		return 0
	}
	return float64(s.CurrentSize) / float64(s.MaxSize)
}

// ChunkCache is an on-disk, size-bounded LRU cache of sealed chunk
// bytes, with an auxiliary prefetch queue for read-ahead.
type ChunkCache struct {
	dir             string
	maxSize         uint64
	prefetchEnabled bool

	mu          sync.Mutex
	lru         *lru
	sizes       map[string]uint64
	currentSize uint64
	prefetch    []string
	prefetchSet map[string]struct{}
}

// Open opens (creating if necessary) a chunk cache rooted at dir,
// scanning any existing cached chunks into the LRU tracker.
func Open(dir string, maxSize uint64, prefetchEnabled bool) (*ChunkCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apperrors.Wrap(apperrors.KindIO, "creating cache directory", err)
	}
	c := &ChunkCache{
		dir:             dir,
		maxSize:         maxSize,
		prefetchEnabled: prefetchEnabled,
		lru:             newLRU(),
		sizes:           make(map[string]uint64),
		prefetchSet:     make(map[string]struct{}),
	}
	if err := c.scan(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ChunkCache) scan() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return apperrors.Wrap(apperrors.KindIO, "scanning cache directory", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		c.lru.touch(e.Name())
		c.sizes[e.Name()] = uint64(info.Size())
		c.currentSize += uint64(info.Size())
	}
	return nil
}

func (c *ChunkCache) chunkPath(id string) string {
	return filepath.Join(c.dir, id)
}

// Contains reports whether id is currently cached.
func (c *ChunkCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.contains(id)
}

// Get reads id's cached bytes, touching it as most-recently-used.
func (c *ChunkCache) Get(id string) ([]byte, bool, error) {
	c.mu.Lock()
	if !c.lru.contains(id) {
		c.mu.Unlock()
		return nil, false, nil
	}
	c.lru.touch(id)
	c.mu.Unlock()

	data, err := os.ReadFile(c.chunkPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, apperrors.Wrap(apperrors.KindIO, "reading cached chunk", err)
	}
	return data, true, nil
}

// Put writes data under id, evicting older entries via ensureSpace if
// the cache would otherwise exceed maxSize. Writing the new file
// (create/write/sync/close) runs outside c.mu; evicting older entries
// does not: ensureSpaceLocked removes their files while c.mu is held.
func (c *ChunkCache) Put(id string, data []byte) error {
	c.mu.Lock()
	err := c.ensureSpaceLocked(uint64(len(data)))
	c.mu.Unlock()
	if err != nil {
		return err
	}

	f, err := os.Create(c.chunkPath(id))
	if err != nil {
		return apperrors.Wrap(apperrors.KindIO, "creating cache file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return apperrors.Wrap(apperrors.KindIO, "writing cache file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return apperrors.Wrap(apperrors.KindIO, "syncing cache file", err)
	}
	if err := f.Close(); err != nil {
		return apperrors.Wrap(apperrors.KindIO, "closing cache file", err)
	}

	c.mu.Lock()
	c.lru.touch(id)
	c.sizes[id] = uint64(len(data))
	c.currentSize += uint64(len(data))
	c.mu.Unlock()
	return nil
}

// Remove drops id from the cache.
func (c *ChunkCache) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

func (c *ChunkCache) removeLocked(id string) error {
	size, ok := c.sizes[id]
	if !ok {
		return nil
	}
	if err := os.Remove(c.chunkPath(id)); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.KindIO, "removing cache file", err)
	}
	delete(c.sizes, id)
	c.currentSize -= size
	c.lru.remove(id)
	return nil
}

// ensureSpaceLocked evicts LRU entries until needed bytes fit within
// maxSize, mirroring ensure_space. Returns CacheFull if the cache is
// empty and the item still doesn't fit.
func (c *ChunkCache) ensureSpaceLocked(needed uint64) error {
	if c.maxSize == 0 {
		return nil // unbounded cache
	}
	for c.currentSize+needed > c.maxSize {
		oldest, ok := c.lru.popOldest()
		if !ok {
			return apperrors.New(apperrors.KindCacheFull, "cache full and no entries left to evict")
		}
		size := c.sizes[oldest]
		if err := os.Remove(c.chunkPath(oldest)); err != nil && !os.IsNotExist(err) {
			return apperrors.Wrap(apperrors.KindIO, "evicting cache file", err)
		}
		delete(c.sizes, oldest)
		c.currentSize -= size
	}
	return nil
}

// QueuePrefetch enqueues ids for read-ahead, skipping ids already
// cached or already queued.
func (c *ChunkCache) QueuePrefetch(ids []string) {
	if !c.prefetchEnabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if c.lru.contains(id) {
			continue
		}
		if _, queued := c.prefetchSet[id]; queued {
			continue
		}
		c.prefetch = append(c.prefetch, id)
		c.prefetchSet[id] = struct{}{}
	}
}

// NextPrefetch pops the next id to prefetch, FIFO order.
func (c *ChunkCache) NextPrefetch() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prefetch) == 0 {
		return "", false
	}
	id := c.prefetch[0]
	c.prefetch = c.prefetch[1:]
	delete(c.prefetchSet, id)
	return id, true
}

// Size returns the current occupied bytes.
func (c *ChunkCache) Size() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Count returns the number of cached chunks.
func (c *ChunkCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.len()
}

// StatsSnapshot returns a point-in-time occupancy snapshot.
func (c *ChunkCache) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		CurrentSize:      c.currentSize,
		MaxSize:          c.maxSize,
		ChunkCount:       c.lru.len(),
		PrefetchQueueLen: len(c.prefetch),
	}
}

// Clear removes all cached entries from disk and memory.
func (c *ChunkCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.sizes {
		if err := c.removeLocked(id); err != nil {
			return err
		}
	}
	return nil
}
