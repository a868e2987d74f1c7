package cache

import (
	"strings"
	"sync"
	"time"
)

// entry holds a cached lookup outcome with its creation timestamp.
type entry struct {
	value     int
	createdAt time.Time
}

// Cache is a small in-memory TTL cache of registration lookups keyed by
// domain. It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	done       chan struct{}
	stopOnce   sync.Once
}

// New creates a Cache holding at most maxEntries values for ttl each.
// A background goroutine evicts expired entries every 5 minutes until Stop.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		done:       make(chan struct{}),
	}

	go c.cleanupLoop()
	return c
}

// Key normalises a domain into a cache key.
func Key(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// Get returns the cached value for key if it is younger than the TTL.
func (c *Cache) Get(key string) (int, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok {
		return 0, false
	}
	if c.now().Sub(e.createdAt) > c.ttl {
		return 0, false
	}
	return e.value, true
}

// Set stores a value. If the cache is at capacity, a random entry is
// evicted to make room.
func (c *Cache) Set(key string, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict one random entry if at capacity (map iteration is random in Go).
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{
		value:     value,
		createdAt: c.now(),
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Stop terminates the background cleanup goroutine.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// cleanupLoop evicts expired entries every 5 minutes.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
	c.mu.Unlock()
}
