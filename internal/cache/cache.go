// Package cache stores JSON values with a timestamp and treats old entries as misses.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultFreshness is how long an entry is served before readers re-fetch.
const DefaultFreshness = 5 * time.Minute

type entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// Cache wraps a Store with namespacing, a freshness policy and a clock.
type Cache struct {
	store     Store
	namespace string
	freshness time.Duration
	retention time.Duration
	now       func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithNamespace prefixes every key.
func WithNamespace(ns string) Option {
	return func(c *Cache) { c.namespace = ns }
}

// WithFreshness sets the maximum age of a served entry.
func WithFreshness(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.freshness = d
		}
	}
}

// WithRetention sets how long the backend keeps entries; defaults to twice the freshness.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) { c.retention = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:     store,
		freshness: DefaultFreshness,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retention <= 0 {
		c.retention = 2 * c.freshness
	}
	return c
}

// Scoped returns a cache sharing the store under a nested namespace.
func (c *Cache) Scoped(ns string) *Cache {
	scoped := *c
	if c.namespace != "" {
		scoped.namespace = c.namespace + ":" + ns
	} else {
		scoped.namespace = ns
	}
	return &scoped
}

// Freshness returns the configured freshness window.
func (c *Cache) Freshness() time.Duration {
	return c.freshness
}

func (c *Cache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

// Get decodes the entry for key into dest and returns its age. Missing, stale, and
// malformed entries all report ok == false; backend errors are logged and treated as misses.
func (c *Cache) Get(ctx context.Context, key string, dest any) (age time.Duration, ok bool) {
	full := c.key(key)
	raw, found, err := c.store.Get(ctx, full)
	if err != nil {
		log.Warn().Err(err).Str("key", full).Msg("Cache read failed")
		return 0, false
	}
	if !found {
		return 0, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil || e.Timestamp.IsZero() {
		log.Debug().Str("key", full).Msg("Discarding malformed cache entry")
		return 0, false
	}

	age = c.now().Sub(e.Timestamp)
	if age >= c.freshness {
		return age, false
	}
	if err := json.Unmarshal(e.Value, dest); err != nil {
		log.Debug().Err(err).Str("key", full).Msg("Cache entry does not decode into destination")
		return 0, false
	}
	if age < 0 {
		age = 0
	}
	return age, true
}

// Put overwrites the entry for key with value stamped at the current time.
func (c *Cache) Put(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}
	raw, err := json.Marshal(entry{Timestamp: c.now().UTC(), Value: payload})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry for %s: %w", key, err)
	}
	if err := c.store.Set(ctx, c.key(key), raw, c.retention); err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return nil
}

// Invalidate removes the entry for key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, c.key(key)); err != nil {
		return fmt.Errorf("failed to invalidate cache entry %s: %w", key, err)
	}
	return nil
}
