package cache

import (
	"container/list"
	"sort"
)

// lru is a generation-stamped least-recently-used order tracker over
// string keys, ported from original_source/src/cache/lru.rs. Removal
// is lazy: Remove only drops the key from the position index, leaving
// a stale entry in the order list that popOldest skips over when it is
// eventually reached. compact() reclaims those stale entries.
type lru struct {
	order      *list.List               // each Value is lruEntry
	positions  map[string]*list.Element // key -> live element, or absent if removed/stale
	generation uint64
}

type lruEntry struct {
	key        string
	generation uint64
}

func newLRU() *lru {
	return &lru{
		order:     list.New(),
		positions: make(map[string]*list.Element),
	}
}

// touch records key as most-recently-used, inserting it if new.
func (l *lru) touch(key string) {
	l.generation++
	el := l.order.PushBack(lruEntry{key: key, generation: l.generation})
	l.positions[key] = el
}

// remove lazily drops key from the tracker.
func (l *lru) remove(key string) {
	delete(l.positions, key)
}

// contains reports whether key is currently tracked.
func (l *lru) contains(key string) bool {
	_, ok := l.positions[key]
	return ok
}

// popOldest returns and removes the least-recently-used live key,
// skipping stale (already-removed or superseded) entries at the front
// of the order list.
func (l *lru) popOldest() (string, bool) {
	for {
		front := l.order.Front()
		if front == nil {
			return "", false
		}
		entry := front.Value.(lruEntry)
		l.order.Remove(front)

		el, ok := l.positions[entry.key]
		if !ok {
			continue // already removed
		}
		if el.Value.(lruEntry).generation != entry.generation {
			continue // stale: key was touched again after this entry was queued
		}
		delete(l.positions, entry.key)
		return entry.key, true
	}
}

// compact rebuilds the order list containing only live entries,
// reclaiming memory held by stale tombstones. Safe to call
// periodically; not required for correctness.
func (l *lru) compact() {
	type kv struct {
		key string
		gen uint64
	}
	live := make([]kv, 0, len(l.positions))
	for k, el := range l.positions {
		live = append(live, kv{key: k, gen: el.Value.(lruEntry).generation})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].gen < live[j].gen })
	l.order.Init()
	for _, e := range live {
		el := l.order.PushBack(lruEntry{key: e.key, generation: e.gen})
		l.positions[e.key] = el
	}
}

func (l *lru) len() int { return len(l.positions) }
