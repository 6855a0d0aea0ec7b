// Package embedding generates and stores entity embeddings via the job queue
package embedding

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cortex-engine/entity-core/internal/metrics"
)

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"` // default 10000
	TTL        time.Duration `yaml:"ttl"`         // default 24h
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 10000,
		TTL:        24 * time.Hour,
	}
}

// Cache memoizes generated vectors keyed by (model, content hash).
// Keying on the content hash makes staleness handling free: changed
// content hashes to a new key and the old entry ages out via LRU/TTL.
type Cache struct {
	lru     *expirable.LRU[string, []float32]
	metrics metrics.Metrics
}

// NewCache creates an embedding cache.
func NewCache(cfg CacheConfig, m metrics.Metrics) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Cache{
		lru:     expirable.NewLRU[string, []float32](cfg.MaxEntries, nil, cfg.TTL),
		metrics: m,
	}
}

// Get returns the cached vector for (model, contentHash), or nil.
func (c *Cache) Get(model, contentHash string) []float32 {
	vec, ok := c.lru.Get(cacheKey(model, contentHash))
	if !ok {
		c.metrics.RecordCacheOperation("miss")
		return nil
	}
	c.metrics.RecordCacheOperation("hit")
	return vec
}

// Put stores a vector under (model, contentHash).
func (c *Cache) Put(model, contentHash string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if evicted := c.lru.Add(cacheKey(model, contentHash), vec); evicted {
		c.metrics.RecordCacheOperation("eviction")
	}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops all entries.
func (c *Cache) Purge() {
	c.lru.Purge()
}

func cacheKey(model, contentHash string) string {
	return model + "\x00" + contentHash
}
