package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisCache is a Cache backed by Redis, for deployments where the projection
// cache must survive process restarts or be shared across instances. Values
// are stored as JSON.
type RedisCache[K comparable, V any] struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    zerolog.Logger
}

// NewRedisCache creates and connects a RedisCache. It pings the server to
// verify connectivity before returning.
func NewRedisCache[K comparable, V any](ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisCache[K, V], error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisCache[K, V]{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		logger:    logger.With().Str("component", "RedisCache").Logger(),
	}, nil
}

func (c *RedisCache[K, V]) redisKey(key K) string {
	return fmt.Sprintf("%s%v", c.keyPrefix, key)
}

// Get retrieves and decodes a cached value. A redis.Nil reply is translated
// to ErrCacheMiss.
func (c *RedisCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	data, err := c.client.Get(ctx, c.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return zero, ErrCacheMiss
	}
	if err != nil {
		c.logger.Error().Err(err).Str("key", c.redisKey(key)).Msg("Unexpected Redis error during Get.")
		return zero, fmt.Errorf("redis get: %w", err)
	}

	var value V
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return zero, fmt.Errorf("unmarshal cached value: %w", err)
	}
	return value, nil
}

// Set encodes and stores a value with the configured TTL.
func (c *RedisCache[K, V]) Set(ctx context.Context, key K, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for caching: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), data, c.ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", c.redisKey(key)).Msg("Failed to set value in Redis.")
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (c *RedisCache[K, V]) Delete(ctx context.Context, key K) error {
	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisCache[K, V]) Close() error {
	c.logger.Info().Msg("Closing Redis client connection...")
	return c.client.Close()
}
