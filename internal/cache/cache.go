// Package cache wraps a Redis connection with the degraded-mode health
// tracking the rest of this engine depends on: a handful of consecutive
// failures marks the cache unhealthy and callers fall back to upstream
// providers instead of blocking on a dead Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config configures the Redis connection backing the Cache.
type Config struct {
	URL          string
	MaxFailures  int
	HealthWindow time.Duration
}

func DefaultConfig() Config {
	return Config{MaxFailures: 5, HealthWindow: 30 * time.Second}
}

// Cache is a narrow, TTL-keyed key-value store. It is the only contract
// the Prefetcher depends on; Strategy Store and control-plane code never
// see the underlying Redis client.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Healthy() bool
}

// RedisCache is the production Cache implementation.
type RedisCache struct {
	client *redis.Client
	config Config
	log    zerolog.Logger

	mu           sync.Mutex
	healthy      bool
	failureCount int
	lastCheck    time.Time
}

func NewRedisCache(config Config, log zerolog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("cache: parsing redis url: %w", err)
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultConfig().MaxFailures
	}
	if config.HealthWindow <= 0 {
		config.HealthWindow = DefaultConfig().HealthWindow
	}

	return &RedisCache{
		client:  redis.NewClient(opts),
		config:  config,
		log:     log.With().Str("component", "cache").Logger(),
		healthy: true,
	}, nil
}

func (c *RedisCache) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.lastCheck = time.Now()
	if c.failureCount >= c.config.MaxFailures && c.healthy {
		c.healthy = false
		c.log.Warn().Err(err).Int("failures", c.failureCount).Msg("cache marked unhealthy")
	}
}

func (c *RedisCache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.healthy {
		c.log.Info().Msg("cache recovered")
	}
	c.healthy = true
	c.failureCount = 0
	c.lastCheck = time.Now()
}

func (c *RedisCache) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.recordSuccess()
		return "", false, nil
	}
	if err != nil {
		c.recordFailure(err)
		return "", false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	c.recordSuccess()
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.recordFailure(err)
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	c.recordSuccess()
	return nil
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, present, err := c.Get(ctx, key)
	if err != nil || !present {
		return present, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("cache: unmarshalling %q: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshalling %q: %w", key, err)
	}
	return c.Set(ctx, key, string(raw), ttl)
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.recordFailure(err)
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	c.recordSuccess()
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)

// PriceKey builds the cache key for a spot price, per the engine's fixed
// key format.
func PriceKey(asset string) string {
	return "prices:" + asset
}

// CandleKey builds the cache key for a candle series, per the engine's
// fixed key format.
func CandleKey(symbol, interval string, limit int, quote string) string {
	return fmt.Sprintf("klines:%s:%s:%d:%s", symbol, interval, limit, quote)
}
