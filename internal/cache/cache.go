// Package cache implements the storefront's in-process adaptive TTL cache.
//
// Entries are grouped into categories that share a TTL and an eviction
// priority. Categories serving hot keys earn longer TTLs over time, and a
// scored eviction pass keeps occupancy bounded. The cache is best-effort:
// services must never let a cached value authorize a mutation.
package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lockshop/storefront/pkg/logger"
)

// Category configures TTL and retention priority for a group of keys.
type Category struct {
	TTL      time.Duration
	Priority int
}

// Config controls cache sizing and category policy.
type Config struct {
	MaxSize    int
	HighWater  float64
	LowWater   float64
	MaxTTL     time.Duration
	Categories map[string]Category
}

// DefaultConfig mirrors the storefront's category policy: financial data is
// high priority with a short TTL, slow-moving reference data lives longer.
func DefaultConfig() Config {
	return Config{
		MaxSize:   1000,
		HighWater: 0.9,
		LowWater:  0.7,
		MaxTTL:    time.Hour,
		Categories: map[string]Category{
			"balance":  {TTL: 30 * time.Second, Priority: 5},
			"stock":    {TTL: 60 * time.Second, Priority: 4},
			"product":  {TTL: 5 * time.Minute, Priority: 3},
			"world":    {TTL: 10 * time.Minute, Priority: 2},
			"identity": {TTL: 5 * time.Minute, Priority: 1},
			"default":  {TTL: 2 * time.Minute, Priority: 1},
		},
	}
}

// Stats is a read-only snapshot of cache performance counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Cleanups  uint64
	Size      int
	MaxSize   int
	HitRate   float64
}

type item struct {
	value      interface{}
	category   string
	priority   int
	createdAt  time.Time
	lastAccess time.Time
	hits       int
}

// Fanout broadcasts invalidations to sibling cache instances.
type Fanout interface {
	Broadcast(ctx context.Context, token string) error
}

// Cache is safe for concurrent use. All operations are serialized by one
// mutex; the workload is small values and short critical sections.
type Cache struct {
	mu        sync.Mutex
	cfg       Config
	items     map[string]*item
	ttl       map[string]time.Duration // effective TTL per category
	hits      uint64
	misses    uint64
	evictions uint64
	cleanups  uint64
	now       func() time.Time
	fanout    Fanout
	log       *logger.Logger
}

// New builds a cache from config. Zero-valued fields fall back to defaults.
func New(cfg Config, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.NewDefault("cache")
	}
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.HighWater <= 0 || cfg.HighWater > 1 {
		cfg.HighWater = def.HighWater
	}
	if cfg.LowWater <= 0 || cfg.LowWater >= cfg.HighWater {
		cfg.LowWater = def.LowWater
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = def.MaxTTL
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = def.Categories
	}
	if _, ok := cfg.Categories["default"]; !ok {
		cfg.Categories["default"] = def.Categories["default"]
	}

	ttl := make(map[string]time.Duration, len(cfg.Categories))
	for name, cat := range cfg.Categories {
		ttl[name] = cat.TTL
	}

	return &Cache{
		cfg:   cfg,
		items: make(map[string]*item),
		ttl:   ttl,
		now:   time.Now,
		log:   log,
	}
}

// WithFanout attaches an invalidation broadcaster. Call before the cache is
// shared across goroutines.
func (c *Cache) WithFanout(f Fanout) *Cache {
	c.fanout = f
	return c
}

func (c *Cache) category(name string) Category {
	if cat, ok := c.cfg.Categories[name]; ok {
		return cat
	}
	return c.cfg.Categories["default"]
}

func (c *Cache) effectiveTTLLocked(name string) time.Duration {
	if ttl, ok := c.ttl[name]; ok {
		return ttl
	}
	return c.ttl["default"]
}

// Get returns the cached value for key if it exists and has not expired.
// Hits feed the adaptive TTL: every time an entry's hit count crosses a
// multiple of 100, the whole category's TTL grows by 20%, capped at MaxTTL.
func (c *Cache) Get(key, category string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if category == "" {
		category = it.category
	}

	now := c.now()
	if now.Sub(it.createdAt) >= c.effectiveTTLLocked(category) {
		delete(c.items, key)
		c.evictions++
		c.misses++
		return nil, false
	}

	it.hits++
	it.lastAccess = now
	c.hits++

	if it.hits%100 == 0 {
		grown := c.effectiveTTLLocked(category) * 6 / 5
		if grown > c.cfg.MaxTTL {
			grown = c.cfg.MaxTTL
		}
		c.ttl[category] = grown
	}

	return it.value, true
}

// Set stores a value under the category's policy, running an eviction pass
// first if occupancy crossed the high-water mark.
func (c *Cache) Set(key string, value interface{}, category string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= int(float64(c.cfg.MaxSize)*c.cfg.HighWater) {
		c.evictLocked()
	}

	cat := c.category(category)
	now := c.now()
	c.items[key] = &item{
		value:      value,
		category:   category,
		priority:   cat.Priority,
		createdAt:  now,
		lastAccess: now,
	}
}

// evictLocked removes the lowest-scoring entries until occupancy reaches the
// low-water mark. Scoring: higher priority, more hits and fresher access all
// raise the score; age lowers it.
func (c *Cache) evictLocked() {
	target := int(float64(c.cfg.MaxSize) * c.cfg.LowWater)
	if len(c.items) <= target {
		return
	}
	c.cleanups++

	now := c.now()
	type scored struct {
		key   string
		score float64
	}
	ranked := make([]scored, 0, len(c.items))
	for key, it := range c.items {
		age := now.Sub(it.createdAt).Hours()
		recency := now.Sub(it.lastAccess).Seconds()
		score := float64(it.priority)*1000 +
			float64(it.hits)*100 +
			10/(recency+1) -
			age
		ranked = append(ranked, scored{key: key, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })

	remove := len(c.items) - target
	for _, candidate := range ranked[:remove] {
		delete(c.items, candidate.key)
		c.evictions++
	}
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.invalidateLocal("key:" + key)
	c.broadcast("key:" + key)
}

// InvalidatePrefix removes every key starting with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.invalidateLocal("prefix:" + prefix)
	c.broadcast("prefix:" + prefix)
}

// ClearCategory removes every entry stored under the category.
func (c *Cache) ClearCategory(category string) {
	c.invalidateLocal("category:" + category)
	c.broadcast("category:" + category)
}

// ApplyInvalidation applies a broadcast token from a sibling instance
// without re-broadcasting it.
func (c *Cache) ApplyInvalidation(token string) {
	c.invalidateLocal(token)
}

func (c *Cache) invalidateLocal(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case strings.HasPrefix(token, "key:"):
		delete(c.items, strings.TrimPrefix(token, "key:"))
	case strings.HasPrefix(token, "prefix:"):
		prefix := strings.TrimPrefix(token, "prefix:")
		for key := range c.items {
			if strings.HasPrefix(key, prefix) {
				delete(c.items, key)
			}
		}
	case strings.HasPrefix(token, "category:"):
		category := strings.TrimPrefix(token, "category:")
		for key, it := range c.items {
			if it.category == category {
				delete(c.items, key)
			}
		}
	}
}

func (c *Cache) broadcast(token string) {
	if c.fanout == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.fanout.Broadcast(ctx, token); err != nil {
		c.log.WithError(err).Warn("cache invalidation broadcast failed")
	}
}

// ReadThrough returns the cached value for key or invokes loader, caching a
// successful result. Loader errors are returned unwrapped and nothing is
// cached.
func (c *Cache) ReadThrough(ctx context.Context, key, category string, loader func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if value, ok := c.Get(key, category); ok {
		return value, nil
	}
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(key, value, category)
	return value, nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Cleanups:  c.cleanups,
		Size:      len(c.items),
		MaxSize:   c.cfg.MaxSize,
		HitRate:   rate,
	}
}

// EffectiveTTL reports the current TTL for a category. Mostly useful for
// observability and tests.
func (c *Cache) EffectiveTTL(category string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveTTLLocked(category)
}
