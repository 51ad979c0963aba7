package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrMiss is returned by Get when the key does not exist or has expired.
var ErrMiss = errors.New("cache miss")

// Cache is the engine's cache layer: a key-value store with per-key TTL. For
// persisted entities it is a read-through accelerator and never the canonical
// truth; for refresh-token bindings and rate-limit memos it is the sole store.
// Losing the backing redis therefore invalidates all active sessions.
type Cache struct {
	client *redis.Client
	logger *logrus.Logger
}

func New(client *redis.Client, logger *logrus.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cache key: %w", err)
	}
	return value, nil
}

func (c *Cache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Error("Failed to write cache key")
		return fmt.Errorf("failed to put cache key: %w", err)
	}
	return nil
}

// Forget deletes key and reports whether it existed.
func (c *Cache) Forget(ctx context.Context, key string) (bool, error) {
	removed, err := c.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete cache key: %w", err)
	}
	return removed > 0, nil
}

// Remember returns the cached value for key, or runs produce, stores its
// result under key for ttl, and returns it. Producer errors are never cached.
func (c *Cache) Remember(ctx context.Context, key string, ttl time.Duration, produce func(ctx context.Context) (string, error)) (string, error) {
	value, err := c.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrMiss) {
		return "", err
	}

	value, err = produce(ctx)
	if err != nil {
		return "", err
	}

	if err := c.Put(ctx, key, value, ttl); err != nil {
		return "", err
	}
	return value, nil
}
