package fetch

import (
	"sync"
	"sync/atomic"

	"github.com/Sumatoshi-tech/geoval/pkg/series"
)

// readKey identifies one reader call. Only the field matching the
// convention is set.
type readKey struct {
	gpi      int64
	lon, lat float64
}

// cacheEntry is a doubly-linked list node holding one read table.
type cacheEntry struct {
	key   readKey
	table *series.Table
	prev  *cacheEntry
	next  *cacheEntry
}

// tableCache is a thread-safe LRU of raw reader tables, bounded by entry
// count. Tables are never mutated after a read, so they are shared as is.
type tableCache struct {
	mu         sync.Mutex
	entries    map[readKey]*cacheEntry
	head       *cacheEntry // Most recently used.
	tail       *cacheEntry // Least recently used.
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64
}

func newTableCache(maxEntries int) *tableCache {
	return &tableCache{entries: make(map[readKey]*cacheEntry, maxEntries), maxEntries: maxEntries}
}

func (c *tableCache) get(key readKey) (*series.Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)

		return nil, false
	}

	c.hits.Add(1)
	c.moveToFront(ent)

	return ent.table, true
}

func (c *tableCache) put(key readKey, tbl *series.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		ent.table = tbl
		c.moveToFront(ent)

		return
	}

	if len(c.entries) >= c.maxEntries && c.tail != nil {
		evicted := c.tail
		c.unlink(evicted)
		delete(c.entries, evicted.key)
	}

	ent := &cacheEntry{key: key, table: tbl}
	c.entries[key] = ent
	c.pushFront(ent)
}

func (c *tableCache) moveToFront(ent *cacheEntry) {
	if c.head == ent {
		return
	}

	c.unlink(ent)
	c.pushFront(ent)
}

func (c *tableCache) pushFront(ent *cacheEntry) {
	ent.prev = nil
	ent.next = c.head

	if c.head != nil {
		c.head.prev = ent
	}

	c.head = ent

	if c.tail == nil {
		c.tail = ent
	}
}

func (c *tableCache) unlink(ent *cacheEntry) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		c.head = ent.next
	}

	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		c.tail = ent.prev
	}

	ent.prev, ent.next = nil, nil
}

// CacheStats reports read cache effectiveness.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}
