/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_publish/internal/models"
)

// DefaultShopTTL bounds how stale a cached shop record may get. Token or
// blog changes are also invalidated explicitly through the event bus.
const DefaultShopTTL = 10 * time.Minute

// KeyShop is the Redis key prefix for cached shops, suffixed with the shop id.
const KeyShop = "skald:cache:shop:"

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ShopTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		ShopTTL:        DefaultShopTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. Every reader
// must treat a miss and a disabled cache the same way: load from the
// database.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// Corrupt entry, drop it so the next read repopulates.
		c.client.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

// set marshals and stores a value with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.IsAvailable() {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
	}
}

// del removes a key.
func (c *Cache) del(ctx context.Context, key string) {
	if !c.IsAvailable() {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "del")
	}
}

// GetShop retrieves a cached shop. The second return reports a hit.
func (c *Cache) GetShop(ctx context.Context, shopID string) (models.Shop, bool) {
	var shop models.Shop
	hit, _ := c.get(ctx, KeyShop+shopID, &shop)
	return shop, hit
}

// SetShop stores a shop record.
func (c *Cache) SetShop(ctx context.Context, shop models.Shop) {
	c.set(ctx, KeyShop+shop.ID, shop, c.config.ShopTTL)
}

// InvalidateShop removes a shop from the cache.
func (c *Cache) InvalidateShop(ctx context.Context, shopID string) {
	c.del(ctx, KeyShop+shopID)
}
