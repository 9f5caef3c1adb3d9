// Package preload implements spec §4.10's in-memory preload cache: a
// string-keyed map to (item, insertedAt, lastAccessedAt, accessCount,
// approximateSize) with pluggable eviction and dual capacity bounds. The
// backing byte-cache field layout mirrors the teacher's
// core/state/db_state_writer.go, which plugs a *fastcache.Cache in front of
// account/storage/code reads; this package generalizes that "bounded cache
// in front of storage" idea from a fixed-capacity byte cache to a
// policy-pluggable, richly-instrumented one, using hashicorp/golang-lru's
// intrusive list-backed Cache as the LRU policy's actual backing store
// rather than reimplementing it.
package preload

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ledgerwatch/coreindex/metrics"
)

// Policy names the pluggable eviction strategies of spec §4.10.
type Policy int

const (
	PolicyLRU Policy = iota
	PolicyLFU
	PolicyFIFO
	PolicyTTL // TTL-only: no access-order eviction beyond expiry
)

// Stats is spec §4.10's "statistics"/"resetStatistics" surface.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// Config bounds and configures a Cache.
type Config struct {
	MaxEntries     int
	MaxMemoryBytes int64
	TTL            time.Duration // zero disables expiry entirely
	Policy         Policy

	// Metrics, when non-nil, receives hit/miss/eviction counts alongside
	// this Cache's own Stats.
	Metrics *metrics.Metrics
}

func (c Config) maxEntries() int {
	if c.MaxEntries > 0 {
		return c.MaxEntries
	}
	return 1 << 20
}

// entry is spec §4.10's literal per-key record.
type entry[T any] struct {
	key             string
	item            T
	insertedAt      time.Time
	lastAccessedAt  time.Time
	accessCount     int64
	approximateSize int64
	listElem        *list.Element // used by FIFO/LFU/TTL ordering, nil under PolicyLRU
}

// Cache is an in-memory, explicitly mutex-synchronized cache over T with
// pluggable eviction (spec §4.10).
type Cache[T any] struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry[T]
	order   *list.List // FIFO/LFU/TTL: front = oldest insertion
	backing *lru.Cache // PolicyLRU only: values are *entry[T]
	memUsed int64
	stats   Stats
}

func New[T any](cfg Config) *Cache[T] {
	c := &Cache[T]{cfg: cfg, entries: make(map[string]*entry[T])}
	if cfg.Policy == PolicyLRU {
		backing, _ := lru.NewWithEvict(cfg.maxEntries(), func(key interface{}, value interface{}) {
			c.onLRUEvicted(key.(string), value.(*entry[T]))
		})
		c.backing = backing
	} else {
		c.order = list.New()
	}
	return c
}

// onLRUEvicted is golang-lru's eviction callback; it fires synchronously
// from within Add/Remove/RemoveOldest, always under c.mu since every public
// Cache method holds the lock across its backing-store call.
func (c *Cache[T]) onLRUEvicted(key string, e *entry[T]) {
	if cur, ok := c.entries[key]; !ok || cur != e {
		// Already dropped by removeLocked or Clear: not an eviction.
		return
	}
	delete(c.entries, key)
	c.memUsed -= e.approximateSize
	c.stats.Evictions++
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CacheEvictions.Inc()
	}
}

func estimateSize[T any](item T) int64 {
	raw, err := json.Marshal(item)
	if err != nil {
		return 0
	}
	return int64(len(raw))
}

// Get returns the cached item for key, handling TTL expiry inline (spec
// §4.10: "TTL check piggybacks on get: expired entries are removed and
// counted as misses and expirations").
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[T]) getLocked(key string) (T, bool) {
	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.CacheMisses.Inc()
		}
		var zero T
		return zero, false
	}
	if c.expired(e) {
		c.removeLocked(key)
		c.stats.Misses++
		c.stats.Expirations++
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.CacheMisses.Inc()
		}
		var zero T
		return zero, false
	}
	now := time.Now()
	e.lastAccessedAt = now
	e.accessCount++
	if c.cfg.Policy == PolicyLRU {
		c.backing.Get(key) // refresh LRU recency; the backing Cache IS the eviction order
	}
	// FIFO/TTL eviction order is insertion order and must not move on
	// access; LFU eviction scans accessCount directly and ignores order.
	c.stats.Hits++
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CacheHits.Inc()
	}
	return e.item, true
}

func (c *Cache[T]) expired(e *entry[T]) bool {
	if c.cfg.TTL <= 0 {
		return false
	}
	return time.Since(e.insertedAt) > c.cfg.TTL
}

// Put inserts or replaces key's item, evicting as needed to respect both
// MaxEntries and MaxMemoryBytes.
func (c *Cache[T]) Put(key string, item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, item)
}

func (c *Cache[T]) putLocked(key string, item T) {
	now := time.Now()
	size := estimateSize(item)
	if old, ok := c.entries[key]; ok {
		c.memUsed -= old.approximateSize
		old.item, old.insertedAt, old.lastAccessedAt, old.accessCount, old.approximateSize = item, now, now, 0, size
		c.memUsed += size
		c.touchOrder(old)
		return
	}
	e := &entry[T]{key: key, item: item, insertedAt: now, lastAccessedAt: now, approximateSize: size}
	c.entries[key] = e
	c.memUsed += size
	switch c.cfg.Policy {
	case PolicyLRU:
		c.backing.Add(key, e)
	default:
		e.listElem = c.order.PushBack(e)
	}
	c.evictOverBudget()
}

func (c *Cache[T]) touchOrder(e *entry[T]) {
	switch c.cfg.Policy {
	case PolicyLRU:
		c.backing.Add(e.key, e)
	case PolicyFIFO:
		// FIFO order reflects insertion, not update; leave position alone.
	default:
		c.order.MoveToBack(e.listElem)
	}
}

func (c *Cache[T]) evictOverBudget() {
	for len(c.entries) > c.cfg.maxEntries() || (c.cfg.MaxMemoryBytes > 0 && c.memUsed > c.cfg.MaxMemoryBytes) {
		if !c.evictOne() {
			return
		}
	}
}

func (c *Cache[T]) evictOne() bool {
	switch c.cfg.Policy {
	case PolicyLRU:
		_, _, ok := c.backing.RemoveOldest()
		return ok
	case PolicyLFU:
		return c.evictLFU()
	default: // FIFO, TTL-only: evict the oldest-inserted entry
		return c.evictFront()
	}
}

// evictLFU scans every entry for the minimum access count (spec §4.10:
// "LFU scans all entries on eviction (acceptable for small caches)").
func (c *Cache[T]) evictLFU() bool {
	var victim *entry[T]
	for _, e := range c.entries {
		if victim == nil || e.accessCount < victim.accessCount {
			victim = e
		}
	}
	if victim == nil {
		return false
	}
	c.removeLocked(victim.key)
	c.stats.Evictions++
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CacheEvictions.Inc()
	}
	return true
}

func (c *Cache[T]) evictFront() bool {
	front := c.order.Front()
	if front == nil {
		return false
	}
	e := front.Value.(*entry[T])
	c.removeLocked(e.key)
	c.stats.Evictions++
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CacheEvictions.Inc()
	}
	return true
}

// Remove deletes key if present.
func (c *Cache[T]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *Cache[T]) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.memUsed -= e.approximateSize
	switch c.cfg.Policy {
	case PolicyLRU:
		c.backing.Remove(key)
	default:
		c.order.Remove(e.listElem)
	}
}

// Contains reports presence without affecting access-order or statistics.
func (c *Cache[T]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	return !c.expired(e)
}

// Clear removes every entry and resets memory accounting, leaving
// statistics untouched.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[T])
	c.memUsed = 0
	if c.cfg.Policy == PolicyLRU {
		c.backing.Purge()
	} else {
		c.order.Init()
	}
}

// Preload bulk-inserts items, useful for warming a cache from a builder or
// fetcher pass before serving traffic.
func (c *Cache[T]) Preload(items map[string]T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range items {
		c.putLocked(k, v)
	}
}

// GetOrFetch returns the cached item for key, calling loader and caching its
// result on a miss.
func (c *Cache[T]) GetOrFetch(key string, loader func() (T, error)) (T, error) {
	c.mu.Lock()
	item, ok := c.getLocked(key)
	c.mu.Unlock()
	if ok {
		return item, nil
	}
	item, err := loader()
	if err != nil {
		var zero T
		return zero, err
	}
	c.mu.Lock()
	c.putLocked(key, item)
	c.mu.Unlock()
	return item, nil
}

// Statistics returns a snapshot of cumulative hit/miss/eviction/expiration
// counts.
func (c *Cache[T]) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ResetStatistics zeroes the counters Statistics reports, leaving cached
// entries untouched.
func (c *Cache[T]) ResetStatistics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}
