// Package lru is a generic least-recently-used cache, safe for concurrent
// use, with optional per-entry expiry and an eviction hook.
package lru

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key       K
	val       V
	expiresAt time.Time // zero: never
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithTTL sets the default lifetime of entries stored with Put.
func WithTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.ttl = ttl }
}

// WithOnEvict registers fn for entries dropped by capacity or expiry.
// Delete and Clear do not call it. fn runs without the cache lock held.
func WithOnEvict[K comparable, V any](fn func(key K, val V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// Metrics are cumulative cache counters.
type Metrics struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// HitRate is hits over lookups, or 0 before the first lookup.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// Cache maps keys to values, evicting the least recently used entry once
// capacity is reached. The front of the list is the most recently used.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[K]*list.Element
	onEvict  func(K, V)
	stats    Metrics
	now      func() time.Time
}

// New creates a cache holding at most capacity entries. It panics if
// capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}
	c := &Cache[K, V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[K]*list.Element, capacity),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	el, ok := c.items[key]
	if ok && c.expired(el) {
		dropped := c.expire(el)
		c.stats.Misses++
		c.mu.Unlock()
		c.notify(dropped)
		var zero V
		return zero, false
	}
	defer c.mu.Unlock()
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	c.ll.MoveToFront(el)
	return el.Value.(*entry[K, V]).val, true
}

// Peek returns the value for key without touching recency or counters.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	el, ok := c.items[key]
	if ok && c.expired(el) {
		dropped := c.expire(el)
		c.mu.Unlock()
		c.notify(dropped)
		var zero V
		return zero, false
	}
	defer c.mu.Unlock()
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*entry[K, V]).val, true
}

// Put stores val under key with the default TTL. It returns the entry
// evicted to make room, if any.
func (c *Cache[K, V]) Put(key K, val V) (K, V, bool) {
	return c.PutWithTTL(key, val, c.ttl)
}

// PutWithTTL stores val under key for ttl; ttl <= 0 means no expiry.
// Updating an existing key resets its lifetime.
func (c *Cache[K, V]) PutWithTTL(key K, val V, ttl time.Duration) (K, V, bool) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.val = val
		e.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		c.mu.Unlock()
		var zk K
		var zv V
		return zk, zv, false
	}

	var victim *entry[K, V]
	if c.ll.Len() >= c.capacity {
		victim = c.ll.Remove(c.ll.Back()).(*entry[K, V])
		delete(c.items, victim.key)
		c.stats.Evictions++
	}
	c.items[key] = c.ll.PushFront(&entry[K, V]{key: key, val: val, expiresAt: expiresAt})
	c.mu.Unlock()

	if victim == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	c.notify(victim)
	return victim.key, victim.val, true
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.ll.Remove(el)
	delete(c.items, key)
	return true
}

// Len returns the number of stored entries, expired ones included until
// they are next touched.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Keys lists live keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		if !c.expired(el) {
			keys = append(keys, el.Value.(*entry[K, V]).key)
		}
	}
	return keys
}

// Values lists live values from most to least recently used.
func (c *Cache[K, V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	vals := make([]V, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		if !c.expired(el) {
			vals = append(vals, el.Value.(*entry[K, V]).val)
		}
	}
	return vals
}

// Clear drops every entry. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[K]*list.Element, c.capacity)
}

// Metrics returns a copy of the counters.
func (c *Cache[K, V]) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// caller holds c.mu
func (c *Cache[K, V]) expired(el *list.Element) bool {
	exp := el.Value.(*entry[K, V]).expiresAt
	return !exp.IsZero() && !c.now().Before(exp)
}

// caller holds c.mu
func (c *Cache[K, V]) expire(el *list.Element) *entry[K, V] {
	e := c.ll.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
	c.stats.Expirations++
	return e
}

func (c *Cache[K, V]) notify(e *entry[K, V]) {
	if c.onEvict != nil && e != nil {
		c.onEvict(e.key, e.val)
	}
}
