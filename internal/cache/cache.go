package cache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"taskgate/pkg/logging"
)

// EvictFunc is invoked with the least-recently-used entry when a Set on a
// full cache pushes it out. It is not invoked for Delete.
//
// The callback runs while the cache lock is held and must not call back into
// the cache.
type EvictFunc[K comparable, V any] func(key K, value V)

// LRU is a fixed-capacity cache that evicts the least-recently-used entry
// when full. It is safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	entries  *simplelru.LRU[K, V]
	onEvict  EvictFunc[K, V]
}

// New creates an LRU holding at most capacity entries. onEvict may be nil.
func New[K comparable, V any](capacity int, onEvict EvictFunc[K, V]) (*LRU[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	// The recency list is created without a callback; eviction is driven
	// from Set so that Delete never reaches onEvict.
	entries, err := simplelru.NewLRU[K, V](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	return &LRU[K, V]{
		capacity: capacity,
		entries:  entries,
		onEvict:  onEvict,
	}, nil
}

// Set inserts or replaces key and marks it most-recently-used. If the cache
// is full and key is new, the least-recently-used entry is evicted first and
// the eviction callback receives it.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.entries.Contains(key) && c.entries.Len() >= c.capacity {
		if oldKey, oldValue, ok := c.entries.RemoveOldest(); ok {
			c.evict(oldKey, oldValue)
		}
	}
	c.entries.Add(key, value)
}

// Get returns the value for key and marks it most-recently-used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(key)
}

// Has reports whether key is present without touching its recency.
func (c *LRU[K, V]) Has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(key)
}

// Delete removes key and reports whether it was present. The eviction
// callback is not invoked.
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Remove(key)
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Cap returns the configured capacity.
func (c *LRU[K, V]) Cap() int {
	return c.capacity
}

// Keys returns a snapshot of the keys from oldest to newest.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Keys()
}

// Values returns a snapshot of the values from oldest to newest.
func (c *LRU[K, V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Values()
}

// evict runs the callback with the lock held. A panic in the callback is
// logged and discarded; the entry is already gone at this point.
func (c *LRU[K, V]) evict(key K, value V) {
	if c.onEvict == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("Cache", "Eviction callback panicked: %v", r)
		}
	}()
	c.onEvict(key, value)
}
