// Package cache implements the generic TTL+stale Cache Layer (spec
// §4.C): a string-keyed store with per-entry TTL and stale windows,
// LRU eviction at capacity, a background sweep of expired entries, and
// a refresh worker that reloads stale keys via a registered loader.
//
// No third-party TTL/LRU cache library appears anywhere in the
// retrieved example corpus, so this package is built on the standard
// library (container/list for LRU order, sync.Mutex for the single
// internal lock the spec calls for).
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/tmuxorc/orcd/internal/metrics"
)

// Status is the derived freshness of a cache entry.
type Status int

const (
	StatusMiss Status = iota
	StatusFresh
	StatusStale
	StatusExpired
)

// Loader reloads the value for a key, registered per key prefix via
// Warmup. The refresh worker invokes it when dequeuing a stale key; if
// no loader is registered for a key's prefix, the refresh request is
// simply dropped (spec §9 cache-refresh-callback note).
type Loader func(ctx context.Context, key string) (any, error)

type entry struct {
	key         string
	value       any
	createdAt   time.Time
	lastAccess  time.Time
	accessCount int64
	ttl         time.Duration
	staleAfter  time.Duration
	tags        map[string]struct{}
	elem        *list.Element
}

func (e *entry) status(now time.Time) Status {
	age := now.Sub(e.createdAt)
	switch {
	case age <= e.staleAfter:
		return StatusFresh
	case age <= e.ttl:
		return StatusStale
	default:
		return StatusExpired
	}
}

// Stats are cumulative cache statistics surfaced via Stats().
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Refreshes   int64
	Expirations int64
}

// Cache is a generic TTL+stale keyed cache.
type Cache struct {
	name        string
	maxEntries  int
	mu          sync.Mutex
	items       map[string]*entry
	lru         *list.List
	loaders     []prefixLoader
	refreshCh   chan string
	stats       Stats
}

type prefixLoader struct {
	prefix string
	load   Loader
}

// New creates a Cache named name (used as the Prometheus label) that
// holds at most maxEntries, evicting least-recently-used entries
// beyond that.
func New(name string, maxEntries int) *Cache {
	return &Cache{
		name:       name,
		maxEntries: maxEntries,
		items:      make(map[string]*entry),
		lru:        list.New(),
		refreshCh:  make(chan string, 256),
	}
}

// Warmup registers a loader for keys with the given prefix and
// immediately populates the given keys using it.
func (c *Cache) Warmup(ctx context.Context, keys []string, prefix string, loader Loader) {
	c.mu.Lock()
	c.loaders = append(c.loaders, prefixLoader{prefix: prefix, load: loader})
	c.mu.Unlock()

	for _, k := range keys {
		if v, err := loader(ctx, k); err == nil {
			c.Set(k, v, 0, 0, nil)
		}
	}
}

// Get returns the value for key and its derived status. When the
// entry is stale and refreshIfStale is true, the key is enqueued for
// background refresh (non-blocking; dropped if the refresh channel is
// full).
func (c *Cache) Get(key string, refreshIfStale bool) (any, Status) {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
		return nil, StatusMiss
	}

	status := e.status(now)
	if status == StatusExpired {
		c.removeLocked(e)
		c.stats.Expirations++
		c.mu.Unlock()
		metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
		return nil, StatusExpired
	}

	e.lastAccess = now
	e.accessCount++
	c.lru.MoveToFront(e.elem)
	c.stats.Hits++
	value := e.value
	c.mu.Unlock()

	metrics.CacheHitsTotal.WithLabelValues(c.name, statusLabel(status)).Inc()

	if status == StatusStale && refreshIfStale {
		select {
		case c.refreshCh <- key:
		default:
		}
	}
	return value, status
}

func statusLabel(s Status) string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	default:
		return "expired"
	}
}

// Set stores value under key with the given ttl/staleAfter/tags,
// evicting the least-recently-used entry if the cache is at capacity.
func (c *Cache) Set(key string, value any, ttl, staleAfter time.Duration, tags []string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}

	if e, ok := c.items[key]; ok {
		e.value = value
		e.createdAt = now
		e.ttl = ttl
		e.staleAfter = staleAfter
		e.tags = tagSet
		c.lru.MoveToFront(e.elem)
		return
	}

	if c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictOldestLocked()
	}

	e := &entry{
		key: key, value: value, createdAt: now, lastAccess: now,
		ttl: ttl, staleAfter: staleAfter, tags: tagSet,
	}
	e.elem = c.lru.PushFront(e)
	c.items[key] = e
}

func (c *Cache) evictOldestLocked() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.removeLocked(e)
	c.stats.Evictions++
	metrics.CacheEvictionsTotal.WithLabelValues(c.name).Inc()
}

func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.items, e.key)
}

// Invalidate removes a single key. Returns true if it existed.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// InvalidateByTag removes every entry carrying tag, returning the
// count removed.
func (c *Cache) InvalidateByTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []*entry
	for _, e := range c.items {
		if _, ok := e.tags[tag]; ok {
			removed = append(removed, e)
		}
	}
	for _, e := range removed {
		c.removeLocked(e)
	}
	return len(removed)
}

// Stats returns a snapshot of cumulative cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Sweep removes every expired entry. Intended to be called
// periodically by a background goroutine (RunSweeper).
func (c *Cache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*entry
	for _, e := range c.items {
		if e.status(now) == StatusExpired {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.removeLocked(e)
		c.stats.Expirations++
	}
	return len(expired)
}

// RunSweeper periodically sweeps expired entries until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// RunRefreshWorker drains the refresh channel until ctx is done,
// invoking the loader registered for each key's prefix. Keys with no
// matching loader are dropped.
func (c *Cache) RunRefreshWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-c.refreshCh:
			c.refreshOne(ctx, key)
		}
	}
}

func (c *Cache) refreshOne(ctx context.Context, key string) {
	c.mu.Lock()
	loaders := c.loaders
	e, hasExisting := c.items[key]
	var ttl, staleAfter time.Duration
	if hasExisting {
		ttl, staleAfter = e.ttl, e.staleAfter
	}
	c.mu.Unlock()

	for _, pl := range loaders {
		if len(key) >= len(pl.prefix) && key[:len(pl.prefix)] == pl.prefix {
			v, err := pl.load(ctx, key)
			if err != nil {
				return
			}
			c.Set(key, v, ttl, staleAfter, nil)
			c.mu.Lock()
			c.stats.Refreshes++
			c.mu.Unlock()
			return
		}
	}
}
