/**
 * Result Cache for the Label Verification Worker
 *
 * Stores finished VerificationResults in Redis keyed by the SHA-256 of the
 * image bytes and of the canonical application record. The namespace carries
 * a fingerprint of the comparison policy, so a policy change never serves
 * results computed under the old thresholds.
 */

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/labelverify-worker/internal/processor"
)

const keyPrefix = "labelverify:result"

// RedisCacheConfig holds result cache configuration
type RedisCacheConfig struct {
	RedisURL  string
	TTL       time.Duration
	Namespace string // usually a policy fingerprint
}

// RedisCache implements processor.ResultCache on Redis
type RedisCache struct {
	client    redis.Cmdable
	closer    func() error
	ttl       time.Duration
	namespace string
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, cfg *RedisCacheConfig) (*RedisCache, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	// Parse Redis URL
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cache := NewRedisCacheWithClient(client, cfg.TTL, cfg.Namespace)
	cache.closer = client.Close
	return cache, nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client redis.Cmdable, ttl time.Duration, namespace string) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{
		client:    client,
		ttl:       ttl,
		namespace: namespace,
	}
}

// Key returns the Redis key for an image/application pair
func (c *RedisCache) Key(imageHash, applicationHash string) string {
	if c.namespace == "" {
		return fmt.Sprintf("%s:%s:%s", keyPrefix, imageHash, applicationHash)
	}
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, c.namespace, imageHash, applicationHash)
}

// Get returns the cached result, if any
func (c *RedisCache) Get(ctx context.Context, imageHash, applicationHash string) (*processor.VerificationResult, bool, error) {
	data, err := c.client.Get(ctx, c.Key(imageHash, applicationHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached result: %w", err)
	}

	var result processor.VerificationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return &result, true, nil
}

// Set stores a result for the configured TTL
func (c *RedisCache) Set(ctx context.Context, imageHash, applicationHash string, result *processor.VerificationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(imageHash, applicationHash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

// Close closes the connection when the cache owns it
func (c *RedisCache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
