// Package cache provides a bounded, thread-safe LRU cache with per-entry
// TTL expiration and hit accounting.
//
// The cache is parameterized by value type; the memory service runs one
// instance per entity kind so keys never need namespace prefixes. Entries
// expire once now - timestamp exceeds the configured TTL; expired entries
// are invisible to Get/Has/Peek and are reclaimed lazily on access or
// eagerly via Prune. Eviction is strict LRU: the recency list is updated on
// Set and, when UpdateAgeOnGet is enabled, on Get.
package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the entry capacity used when Config.MaxSize is zero.
	DefaultMaxSize = 1000

	// DefaultTTL is the entry lifetime used when Config.TTL is zero.
	DefaultTTL = 5 * time.Minute
)

// Config holds tuning knobs for a Cache.
type Config[V any] struct {
	// MaxSize is the maximum number of entries. Defaults to DefaultMaxSize.
	MaxSize int

	// TTL is the entry lifetime. Defaults to DefaultTTL.
	TTL time.Duration

	// UpdateAgeOnGet refreshes an entry's recency on Get when true.
	UpdateAgeOnGet bool

	// OnEvict, if set, is called with the key and value of every entry
	// removed by capacity eviction. It runs outside the cache lock.
	OnEvict func(key string, value V)
}

// Entry is a snapshot of a cached entry, as returned by Entries and
// GetTopHitEntries.
type Entry[V any] struct {
	Key       string
	Value     V
	Timestamp time.Time
	HitCount  int
}

// DumpEntry is the persistence form of an entry produced by Dump and
// consumed by Load.
type DumpEntry[V any] struct {
	Key       string    `json:"key"`
	Value     V         `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Size         int     `json:"size"`
	MaxSize      int     `json:"max_size"`
	HitRate      float64 `json:"hit_rate"`
	TotalHits    uint64  `json:"total_hits"`
	TotalMisses  uint64  `json:"total_misses"`
	TotalSets    uint64  `json:"total_sets"`
	TotalDeletes uint64  `json:"total_deletes"`
}

type item[V any] struct {
	key       string
	value     V
	timestamp time.Time
	hitCount  int
}

// Cache is a bounded LRU+TTL map with string keys.
type Cache[V any] struct {
	mu      sync.Mutex
	config  Config[V]
	items   map[string]*list.Element
	recency *list.List // front = most recently used

	hits    uint64
	misses  uint64
	sets    uint64
	deletes uint64
}

// New creates a Cache with the given configuration.
func New[V any](config Config[V]) *Cache[V] {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultMaxSize
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}

	return &Cache[V]{
		config:  config,
		items:   make(map[string]*list.Element, config.MaxSize),
		recency: list.New(),
	}
}

func (c *Cache[V]) expired(it *item[V], now time.Time) bool {
	return now.Sub(it.timestamp) > c.config.TTL
}

// removeElement unlinks an element from both the map and the recency list.
// Caller must hold c.mu.
func (c *Cache[V]) removeElement(elem *list.Element) *item[V] {
	it := elem.Value.(*item[V])
	c.recency.Remove(elem)
	delete(c.items, it.key)
	return it
}

// Set inserts or replaces the entry for key. The entry's timestamp is reset
// to now and its hit count to zero. If the insert would exceed MaxSize the
// least-recently-used entry is evicted and OnEvict is notified.
func (c *Cache[V]) Set(key string, value V) {
	var evicted *item[V]

	c.mu.Lock()
	c.sets++

	if elem, ok := c.items[key]; ok {
		it := elem.Value.(*item[V])
		it.value = value
		it.timestamp = time.Now()
		it.hitCount = 0
		c.recency.MoveToFront(elem)
		c.mu.Unlock()
		return
	}

	if c.recency.Len() >= c.config.MaxSize {
		if tail := c.recency.Back(); tail != nil {
			evicted = c.removeElement(tail)
		}
	}

	elem := c.recency.PushFront(&item[V]{
		key:       key,
		value:     value,
		timestamp: time.Now(),
	})
	c.items[key] = elem
	c.mu.Unlock()

	if evicted != nil && c.config.OnEvict != nil {
		c.config.OnEvict(evicted.key, evicted.value)
	}
}

// Get returns the value for key, counting a hit or a miss. Expired or
// absent entries are misses. When UpdateAgeOnGet is enabled a hit also
// refreshes the entry's recency.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	it := elem.Value.(*item[V])
	if c.expired(it, time.Now()) {
		c.removeElement(elem)
		c.misses++
		return zero, false
	}

	c.hits++
	it.hitCount++
	if c.config.UpdateAgeOnGet {
		c.recency.MoveToFront(elem)
	}
	return it.value, true
}

// GetWithMetadata returns the value plus its timestamp and hit count. It
// counts toward hit/miss statistics the same way Get does.
func (c *Cache[V]) GetWithMetadata(key string) (value V, timestamp time.Time, hitCount int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, found := c.items[key]
	if !found {
		c.misses++
		return zero, time.Time{}, 0, false
	}

	it := elem.Value.(*item[V])
	if c.expired(it, time.Now()) {
		c.removeElement(elem)
		c.misses++
		return zero, time.Time{}, 0, false
	}

	c.hits++
	it.hitCount++
	if c.config.UpdateAgeOnGet {
		c.recency.MoveToFront(elem)
	}
	return it.value, it.timestamp, it.hitCount, true
}

// Peek returns the value for key without touching recency, hit counts, or
// the hit/miss statistics. Expired entries are still invisible.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}

	it := elem.Value.(*item[V])
	if c.expired(it, time.Now()) {
		c.removeElement(elem)
		return zero, false
	}
	return it.value, true
}

// Has reports whether a live entry exists for key without producing a
// hit/miss statistic.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	if c.expired(elem.Value.(*item[V]), time.Now()) {
		c.removeElement(elem)
		return false
	}
	return true
}

// Delete removes the entry for key, reporting whether one was removed.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	c.deletes++
	return true
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element, c.config.MaxSize)
	c.recency.Init()
}

// Keys returns a snapshot of the live keys, most recently used first.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, c.recency.Len())
	for elem := c.recency.Front(); elem != nil; elem = elem.Next() {
		it := elem.Value.(*item[V])
		if c.expired(it, now) {
			continue
		}
		keys = append(keys, it.key)
	}
	return keys
}

// Values returns a snapshot of the live values, most recently used first.
func (c *Cache[V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	values := make([]V, 0, c.recency.Len())
	for elem := c.recency.Front(); elem != nil; elem = elem.Next() {
		it := elem.Value.(*item[V])
		if c.expired(it, now) {
			continue
		}
		values = append(values, it.value)
	}
	return values
}

// Entries returns a snapshot of the live entries, most recently used first.
func (c *Cache[V]) Entries() []Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entries := make([]Entry[V], 0, c.recency.Len())
	for elem := c.recency.Front(); elem != nil; elem = elem.Next() {
		it := elem.Value.(*item[V])
		if c.expired(it, now) {
			continue
		}
		entries = append(entries, Entry[V]{
			Key:       it.key,
			Value:     it.value,
			Timestamp: it.timestamp,
			HitCount:  it.hitCount,
		})
	}
	return entries
}

// GetRemainingTTL returns the time until the entry for key expires, or zero
// if the entry is absent or already expired.
func (c *Cache[V]) GetRemainingTTL(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return 0
	}

	remaining := c.config.TTL - time.Since(elem.Value.(*item[V]).timestamp)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Prune removes every expired entry and returns the number removed.
func (c *Cache[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for elem := c.recency.Front(); elem != nil; {
		next := elem.Next()
		if c.expired(elem.Value.(*item[V]), now) {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// WarmUp bulk-seeds the cache. Each entry counts as a Set.
func (c *Cache[V]) WarmUp(entries map[string]V) {
	for k, v := range entries {
		c.Set(k, v)
	}
}

// Dump returns the live entries with their original timestamps for
// persistence.
func (c *Cache[V]) Dump() []DumpEntry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	dump := make([]DumpEntry[V], 0, c.recency.Len())
	for elem := c.recency.Front(); elem != nil; elem = elem.Next() {
		it := elem.Value.(*item[V])
		if c.expired(it, now) {
			continue
		}
		dump = append(dump, DumpEntry[V]{
			Key:       it.key,
			Value:     it.value,
			Timestamp: it.timestamp,
		})
	}
	return dump
}

// Load restores entries produced by Dump, preserving their timestamps.
// Entries that have expired in the meantime are skipped. Capacity is
// enforced, evicting the least recently loaded entries.
func (c *Cache[V]) Load(dump []DumpEntry[V]) {
	var evicted []*item[V]

	c.mu.Lock()
	now := time.Now()
	for _, d := range dump {
		if now.Sub(d.Timestamp) > c.config.TTL {
			continue
		}
		if elem, ok := c.items[d.Key]; ok {
			c.removeElement(elem)
		}
		if c.recency.Len() >= c.config.MaxSize {
			if tail := c.recency.Back(); tail != nil {
				evicted = append(evicted, c.removeElement(tail))
			}
		}
		elem := c.recency.PushFront(&item[V]{
			key:       d.Key,
			value:     d.Value,
			timestamp: d.Timestamp,
		})
		c.items[d.Key] = elem
	}
	c.mu.Unlock()

	if c.config.OnEvict != nil {
		for _, it := range evicted {
			c.config.OnEvict(it.key, it.value)
		}
	}
}

// GetTopHitEntries returns up to n live entries ordered by hit count,
// highest first.
func (c *Cache[V]) GetTopHitEntries(n int) []Entry[V] {
	entries := c.Entries()

	// Stable insertion-order tiebreak keeps MRU entries first among equals.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].HitCount > entries[j-1].HitCount; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}

	if n < 0 {
		n = 0
	}
	if n > len(entries) {
		n = len(entries)
	}
	return entries[:n]
}

// GetStats returns the current effectiveness counters. HitRate is
// hits/(hits+misses), or zero when no lookups have happened.
func (c *Cache[V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Size:         c.recency.Len(),
		MaxSize:      c.config.MaxSize,
		HitRate:      hitRate,
		TotalHits:    c.hits,
		TotalMisses:  c.misses,
		TotalSets:    c.sets,
		TotalDeletes: c.deletes,
	}
}
