package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Recorder receives per-operation counters. Satisfied by *metrics.Metrics;
// kept as a narrow interface here so this package never imports
// internal/metrics directly.
type Recorder interface {
	IncCacheHit()
	IncCacheMiss()
}

// Loader produces the bytes for a cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// Cache is the two-tier read-through cache described by the component
// contract: L1 (process-local, no I/O) backed by L2 (shared), with
// concurrent misses for the same key collapsed by a single-flight registry.
type Cache struct {
	log *slog.Logger
	l1  *l1
	l2  L2
	sf  singleflight.Group
	rec Recorder

	hits   atomic.Int64
	misses atomic.Int64
}

// New constructs a Cache over the given shared (L2) tier. rec may be nil.
func New(log *slog.Logger, l2 L2, rec Recorder) *Cache {
	return &Cache{log: log, l1: newL1(), l2: l2, rec: rec}
}

// GetOrLoad implements the read contract: L1, then L2, then a single-flight
// loader invocation, writing back to L2 then L1 on success.
func (c *Cache) GetOrLoad(ctx context.Context, key string, l1TTL, l2TTL time.Duration, load Loader) ([]byte, error) {
	if v, ok := c.l1.get(key); ok {
		c.hits.Add(1)
		c.recordHit()
		return v, nil
	}

	if v, ok, err := c.l2.Get(ctx, key); err == nil && ok {
		c.hits.Add(1)
		c.recordHit()
		c.l1.set(key, v, l1TTL)
		return v, nil
	} else if err != nil {
		c.log.Warn("cache.l2_get_failed", "key", key, "err", err)
	}

	c.misses.Add(1)
	c.recordMiss()

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		val, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.l2.Set(ctx, key, val, l2TTL); err != nil {
			c.log.Warn("cache.l2_set_failed", "key", key, "err", err)
		}
		c.l1.set(key, val, l1TTL)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate deletes keys from L2 first, then L1, so a reader racing the
// invalidation either observes the L2 deletion before repopulating, or is
// corrected at most one L1 TTL later.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if err := c.l2.Delete(ctx, keys...); err != nil {
		c.log.Warn("cache.l2_delete_failed", "keys", keys, "err", err)
	}
	c.l1.delete(keys...)
}

// Set writes directly to both tiers, bypassing the loader (used by
// ScoreEngine's synchronous top:K refill after a write commits).
func (c *Cache) Set(ctx context.Context, key string, value []byte, l1TTL, l2TTL time.Duration) {
	if err := c.l2.Set(ctx, key, value, l2TTL); err != nil {
		c.log.Warn("cache.l2_set_failed", "key", key, "err", err)
	}
	c.l1.set(key, value, l1TTL)
}

// MarkSeen sets a marker key with a TTL, used for nonce:seen:<nonce>.
func (c *Cache) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	return c.l2.Set(ctx, key, []byte{1}, ttl)
}

// Seen reports whether a marker key is present, best-effort: L2 errors are
// treated as "not seen" so the authoritative store check still runs.
func (c *Cache) Seen(ctx context.Context, key string) bool {
	_, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache.seen_check_failed", "key", key, "err", err)
		return false
	}
	return ok
}

// Incr performs the atomic increment-and-check used for rate-limit scopes.
func (c *Cache) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.l2.Incr(ctx, key, window)
}

// Stats is the snapshot backing GET /health and GET /cache/stats.
type Stats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hitRate"`
	L1Entries  int     `json:"l1Entries"`
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, HitRate: rate, L1Entries: c.l1.len()}
}

func (c *Cache) recordHit() {
	if c.rec != nil {
		c.rec.IncCacheHit()
	}
}

func (c *Cache) recordMiss() {
	if c.rec != nil {
		c.rec.IncCacheMiss()
	}
}

// Clear drops the given keys from both tiers and resets the hit/miss
// counters; used by DELETE /cache/clear. Other L1 entries are kept, and L2 is
// not wiped wholesale since it may be shared with data this process did not
// itself produce.
func (c *Cache) Clear(ctx context.Context, keys ...string) {
	c.Invalidate(ctx, keys...)
	c.hits.Store(0)
	c.misses.Store(0)
}
