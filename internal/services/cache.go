package services

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
)

type cacheItem struct {
	data      interface{}
	expiresAt time.Time
}

// ResultCache holds provider results for a TTL, evicting the entry closest
// to expiry when full.
type ResultCache struct {
	mu              sync.RWMutex
	items           map[string]cacheItem
	logger          *zap.Logger
	defaultDuration time.Duration
	maxSize         int
	hits            uint64
	misses          uint64
}

func NewResultCache(defaultDuration time.Duration, maxSize int, logger *zap.Logger) *ResultCache {
	return &ResultCache{
		items:           make(map[string]cacheItem),
		logger:          logger,
		defaultDuration: defaultDuration,
		maxSize:         maxSize,
	}
}

// CacheKey hashes provider, vertices and filter into a stable key.
func CacheKey(provider string, poly models.Polygon, filter models.FilterConfig) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|", provider)
	for _, v := range poly.Vertices {
		fmt.Fprintf(h, "%.7f,%.7f;", v.Lng(), v.Lat())
	}
	fmt.Fprintf(h, "|%s|%s|%g",
		filter.DateStart.Format(models.DateLayout),
		filter.DateEnd.Format(models.DateLayout),
		filter.CloudPct)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *ResultCache) Set(key string, value interface{}) {
	if c == nil || c.defaultDuration <= 0 || c.maxSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictOldest()
	}

	expiresAt := time.Now().Add(c.defaultDuration)
	c.items[key] = cacheItem{data: value, expiresAt: expiresAt}

	c.logger.Debug("Result cached",
		zap.String("key", key),
		zap.Time("expires_at", expiresAt))
}

func (c *ResultCache) Get(key string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.misses++
		return nil, false
	}
	if time.Now().After(item.expiresAt) {
		delete(c.items, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return item.data, true
}

// cached returns the typed value under key, or computes and stores it.
// Errors are never cached.
func cached[T any](c *ResultCache, key string, compute func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

func (c *ResultCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestKey == "" || item.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.expiresAt
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
		c.logger.Debug("Evicted oldest result from cache", zap.String("key", oldestKey))
	}
}

// Cleanup drops expired entries and returns how many were removed.
func (c *ResultCache) Cleanup() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expiredCount := 0
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		c.logger.Debug("Cleaned expired cache items", zap.Int("count", expiredCount))
	}
	return expiredCount
}

func (c *ResultCache) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"items":            len(c.items),
		"hits":             c.hits,
		"misses":           c.misses,
		"max_size":         c.maxSize,
		"default_duration": c.defaultDuration.String(),
	}
}
