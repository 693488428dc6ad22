// Package refcache implements the process-wide reference cache: a bounded,
// short-lived map from event id to the (kind, created_at) of a kind-1 event
// that a session recently received from the upstream relay. The bot filter and the
// referenced_created_at DSL field both resolve through it.
package refcache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is what the cache remembers about a referenced event.
type Entry struct {
	Kind             int64
	CreatedAt        int64
	InsertedMonotonic time.Time
}

// Cache is safe for concurrent use by every session goroutine. It is the
// only shared mutable structure sessions touch directly; ownership of
// entries belongs to the cache itself, and callers never hold a reference
// past a single Lookup.
type Cache struct {
	entries *lru.LRU[string, Entry]
}

// Option configures capacity and TTL. Defaults match the recommended
// values when the documented "a few seconds" window isn't overridden.
type Option func(*config)

type config struct {
	capacity int
	ttl      time.Duration
}

func WithCapacity(n int) Option { return func(c *config) { c.capacity = n } }
func WithTTL(d time.Duration) Option { return func(c *config) { c.ttl = d } }

// New builds a cache. With no options it defaults to capacity 10000 and a
// 5 second TTL, the safe defaults called out for the previously
// unspecified TTL.
func New(opts ...Option) *Cache {
	cfg := config{capacity: 10000, ttl: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	// expirable.LRU evicts the least-recently-used entry on overflow and
	// runs its own periodic sweep for TTL-expired entries, which is the
	// janitor behavior called for: no separate goroutine is needed here.
	entries := lru.NewLRU[string, Entry](cfg.capacity, nil, cfg.ttl)
	return &Cache{entries: entries}
}

// Insert records that eventID, of the given kind and created_at, passed
// through the proxy just now. Only kind-1 events are meaningful inputs,
// but Insert doesn't enforce that; callers decide what's worth caching.
func (c *Cache) Insert(eventID string, kind, createdAt int64) {
	c.entries.Add(eventID, Entry{
		Kind:              kind,
		CreatedAt:         createdAt,
		InsertedMonotonic: time.Now(),
	})
}

// Lookup returns the cached entry for eventID, and whether it was found.
// A miss is a normal, expected outcome, not an error: both the bot filter
// and the DSL's referenced_created_at field treat it as "pass through".
func (c *Cache) Lookup(eventID string) (Entry, bool) {
	return c.entries.Get(eventID)
}

// LookupCreatedAt adapts Lookup to the dsl.RefLookup signature the
// evaluator uses for referenced_created_at.
func (c *Cache) LookupCreatedAt(eventID string) (int64, bool) {
	entry, ok := c.entries.Get(eventID)
	if !ok {
		return 0, false
	}
	return entry.CreatedAt, true
}

// Len reports the current number of live entries, used by the invariant
// that cache size never exceeds capacity outside a janitor cycle.
func (c *Cache) Len() int { return c.entries.Len() }
