// Package cache provides the Redis-backed key-value layer: runtime manifest
// caching for the frame loader and the shared safety blocklist set.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	manifestKeyPrefix = "capsule:manifest:"
	blocklistSetKey   = "capsule:safety:blocklist"

	manifestTTL = 15 * time.Minute
)

// RedisCache implements the manifest cache and the safety blocklist over a
// single Redis connection.
type RedisCache struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(ctx context.Context, redisURL string, log zerolog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		log:    log.With().Str("component", "redis-cache").Logger(),
	}, nil
}

// GetManifest returns the cached runtime manifest, or nil on a miss. A miss
// is a normal condition, not an error.
func (c *RedisCache) GetManifest(ctx context.Context, artifactID string) ([]byte, error) {
	data, err := c.client.Get(ctx, manifestKeyPrefix+artifactID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get manifest from cache: %w", err)
	}
	return data, nil
}

// SetManifest stores a serialized runtime manifest with a TTL.
func (c *RedisCache) SetManifest(ctx context.Context, artifactID string, manifest []byte) error {
	return c.client.Set(ctx, manifestKeyPrefix+artifactID, manifest, manifestTTL).Err()
}

// InvalidateManifest drops the cached manifest after a new version lands.
func (c *RedisCache) InvalidateManifest(ctx context.Context, artifactID string) error {
	return c.client.Del(ctx, manifestKeyPrefix+artifactID).Err()
}

// Contains reports whether a content hash is on the shared safety blocklist.
// Callers treat an error as fail-closed.
func (c *RedisCache) Contains(ctx context.Context, hash string) (bool, error) {
	member, err := c.client.SIsMember(ctx, blocklistSetKey, hash).Result()
	if err != nil {
		return false, fmt.Errorf("check blocklist: %w", err)
	}
	return member, nil
}

// AddToBlocklist records a content hash on the shared blocklist. Used by
// moderation tooling.
func (c *RedisCache) AddToBlocklist(ctx context.Context, hash string) error {
	return c.client.SAdd(ctx, blocklistSetKey, hash).Err()
}

// Health pings the connection.
func (c *RedisCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
