package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/umt-belongings/hub/internal/vector"
	"go.uber.org/zap"
)

const redisKeyPrefix = "belongings:features:"

// RedisCache shares feature vectors between processes through Redis. Vectors are
// stored with vector.Encode. Redis errors are logged and treated as cache misses.
type RedisCache struct {
	client    *redis.Client
	ttl       time.Duration
	namespace string
	logger    *zap.Logger
}

// NewRedisCache connects to addr and verifies the connection with PING. namespace is
// appended to the key prefix so vectors from different models never mix.
func NewRedisCache(ctx context.Context, addr string, db int, ttl time.Duration, namespace string, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return newRedisCache(client, ttl, namespace, logger), nil
}

func newRedisCache(client *redis.Client, ttl time.Duration, namespace string, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, namespace: namespace, logger: logger}
}

func (c *RedisCache) key(k string) string {
	return redisKeyPrefix + c.namespace + ":" + k
}

// Get returns the cached vector for key if present.
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("redis feature cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	v, err := vector.Decode(val)
	if err != nil || len(v) == 0 {
		c.logger.Warn("redis feature cache entry invalid", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return v, true
}

// Set stores value for key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []float32) {
	if err := c.client.Set(ctx, c.key(key), vector.Encode(value), c.ttl).Err(); err != nil {
		c.logger.Warn("redis feature cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
