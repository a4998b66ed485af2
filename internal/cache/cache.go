/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_tsn/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultRunTTL      = 1 * time.Hour
	DefaultLatencyTTL  = 1 * time.Hour
	DefaultScheduleTTL = 5 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyRun               = "heimdall:cache:run:"         // + run_id
	KeyRunLatency        = "heimdall:cache:run_latency:" // + run_id
	KeyInstalledSchedule = "heimdall:cache:schedule:installed"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	RunTTL      time.Duration
	LatencyTTL  time.Duration
	ScheduleTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		RunTTL:         DefaultRunTTL,
		LatencyTTL:     DefaultLatencyTTL,
		ScheduleTTL:    DefaultScheduleTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
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
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Run record caching

// GetRun retrieves a cached run record.
func (c *Cache) GetRun(ctx context.Context, runID string) (*models.Run, bool) {
	var run models.Run
	found, err := c.get(ctx, KeyRun+runID, &run)
	if err != nil || !found {
		return nil, false
	}
	return &run, true
}

// SetRun caches a run record. Only terminal runs are worth caching; callers
// should skip runs that are still mutating.
func (c *Cache) SetRun(ctx context.Context, run *models.Run) error {
	return c.set(ctx, KeyRun+run.ID, run, c.config.RunTTL)
}

// InvalidateRun drops a run record and its latency summary from cache.
func (c *Cache) InvalidateRun(ctx context.Context, runID string) error {
	if err := c.delete(ctx, KeyRun+runID); err != nil {
		return err
	}
	return c.delete(ctx, KeyRunLatency+runID)
}

// Latency summary caching

// GetLatencySummary retrieves a cached per-run latency summary.
func (c *Cache) GetLatencySummary(ctx context.Context, runID string) (*models.LatencySummary, bool) {
	var summary models.LatencySummary
	found, err := c.get(ctx, KeyRunLatency+runID, &summary)
	if err != nil || !found {
		return nil, false
	}
	return &summary, true
}

// SetLatencySummary caches a per-run latency summary.
func (c *Cache) SetLatencySummary(ctx context.Context, summary *models.LatencySummary) error {
	return c.set(ctx, KeyRunLatency+summary.RunID, summary, c.config.LatencyTTL)
}

// Installed schedule caching

// GetInstalledSchedule retrieves the cached installed schedule record.
func (c *Cache) GetInstalledSchedule(ctx context.Context) (*models.Schedule, bool) {
	var sched models.Schedule
	found, err := c.get(ctx, KeyInstalledSchedule, &sched)
	if err != nil || !found {
		return nil, false
	}
	return &sched, true
}

// SetInstalledSchedule caches the installed schedule record.
func (c *Cache) SetInstalledSchedule(ctx context.Context, sched *models.Schedule) error {
	return c.set(ctx, KeyInstalledSchedule, sched, c.config.ScheduleTTL)
}

// InvalidateInstalledSchedule drops the installed schedule from cache.
func (c *Cache) InvalidateInstalledSchedule(ctx context.Context) error {
	return c.delete(ctx, KeyInstalledSchedule)
}

// InvalidateAllRuns drops every cached run and latency summary.
func (c *Cache) InvalidateAllRuns(ctx context.Context) error {
	if err := c.deletePattern(ctx, KeyRun+"*"); err != nil {
		return err
	}
	return c.deletePattern(ctx, KeyRunLatency+"*")
}
