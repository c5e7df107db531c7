// Package poolcache implements the Pool State Cache (spec §4.4): a
// many-reader/single-writer map from (Protocol, pool_address) to
// PoolCacheEntry with single-flight fetch coalescing and LRU eviction.
package poolcache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/metrics"
	"github.com/copytrade/engine/internal/model"
)

// Fetcher fetches fresh pool state for a key, to be called at most once
// concurrently per key (single-flight).
type Fetcher func(ctx context.Context, key model.PoolCacheKey) (*model.PoolCacheEntry, error)

// Cache is the Pool State Cache.
type Cache struct {
	capacity int
	ttl      time.Duration

	mu      sync.RWMutex
	entries *lru.Cache[model.PoolCacheKey, *model.PoolCacheEntry]
	group   singleflight.Group
}

// Config configures the cache.
type Config struct {
	Capacity int
	TTL      time.Duration
}

// DefaultConfig returns the §4.4 documented defaults.
func DefaultConfig() Config {
	return Config{
		Capacity: chainparams.DefaultPoolCacheCapacity,
		TTL:      chainparams.DefaultPoolCacheTTLSeconds * time.Second,
	}
}

// New constructs a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = chainparams.DefaultPoolCacheCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = chainparams.DefaultPoolCacheTTLSeconds * time.Second
	}
	entries, err := lru.New[model.PoolCacheKey, *model.PoolCacheEntry](cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{capacity: cfg.Capacity, ttl: cfg.TTL, entries: entries}, nil
}

// GetOrFetch returns the cached entry for key if fresh, else runs fetcher
// exactly once across all concurrent callers for that key (single-flight)
// and populates the cache with the result (spec §4.4, §8 "at most one
// in-flight fetch").
func (c *Cache) GetOrFetch(ctx context.Context, key model.PoolCacheKey, fetch Fetcher) (*model.PoolCacheEntry, error) {
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.entries.Get(key)
	c.mu.RUnlock()
	if ok && !entry.Expired(now) {
		metrics.PoolCacheHits.Inc()
		c.touch(key, entry, now)
		return entry, nil
	}

	sfKey := key.Protocol.String() + ":" + key.Pool.String()
	v, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		metrics.PoolCacheFetches.Inc()
		fresh, err := fetch(ctx, key)
		if err != nil {
			// Invalidate per §4.4 "Invalidated on fetch failure".
			c.mu.Lock()
			c.entries.Remove(key)
			c.mu.Unlock()
			return nil, err
		}
		fresh.FetchedAt = now
		fresh.TTL = c.ttl
		fresh.LastRead = now
		c.mu.Lock()
		c.entries.Add(key, fresh)
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.PoolCacheEntry), nil
}

func (c *Cache) touch(key model.PoolCacheKey, entry *model.PoolCacheEntry, now time.Time) {
	c.mu.Lock()
	entry.LastRead = now
	c.entries.Add(key, entry) // refreshes LRU recency
	c.mu.Unlock()
}

// Invalidate drops a key so the next GetOrFetch fetches it again. The
// executor does not call it when a swap lands, and the TTL sweeper
// removes expired entries directly without going through it.
func (c *Cache) Invalidate(key model.PoolCacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
}

// Len returns the number of currently-cached entries, for tests and
// metrics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

// StartSweeper runs a background goroutine that evicts expired dynamic
// entries every interval until ctx is cancelled, per §4.4's "background
// sweeper on TTL expiry".
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if ok && entry.Expired(now) {
			c.entries.Remove(key)
		}
	}
}
