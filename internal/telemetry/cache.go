package telemetry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultCacheTTL is how long a telemetry value is served as fresh.
const DefaultCacheTTL = 5 * time.Minute

// Cache is a thread-safe time-boxed cache that keeps expired values around
// for stale fallback. Entries are never evicted; the key space is a handful
// of station keys.
type Cache[V any] struct {
	ttl     time.Duration
	clock   clockwork.Clock
	mu      sync.Mutex
	entries map[string]entry[V]
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// NewCache creates an empty cache. A non-positive ttl selects DefaultCacheTTL
// and a nil clock selects the real clock.
func NewCache[V any](ttl time.Duration, clock clockwork.Clock) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache[V]{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the value for key only while it is younger than the TTL.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.clock.Since(e.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetStale returns the last value stored for key regardless of age.
func (c *Cache[V]) GetStale(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return e.value, ok
}

// Set stores value under key, stamped with the current time.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, storedAt: c.clock.Now()}
}

// TTL reports the freshness window.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}
