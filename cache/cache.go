// Package cache is a namespaced Redis cache storing JSON encoded values.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTTL       = time.Hour
	DefaultNamespace = "cache"
	scanBatchSize    = 100
)

var (
	ErrKeyNotFound    = errors.New("cache: key not found")
	ErrCacheMarshal   = errors.New("cache: failed to marshal value")
	ErrCacheUnmarshal = errors.New("cache: failed to unmarshal value")
	ErrCacheGet       = errors.New("cache: failed to get")
	ErrCacheSet       = errors.New("cache: failed to set")
	ErrCacheDelete    = errors.New("cache: failed to delete")
	ErrCacheScan      = errors.New("cache: failed to scan keys")
	ErrCachePing      = errors.New("cache: ping failed")
)

type Option func(*options)

type options struct {
	ttl    time.Duration
	logger zerolog.Logger
}

func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

type Cache[V any] struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	logger    zerolog.Logger
}

func New[V any](client redis.UniversalClient, namespace string, opts ...Option) *Cache[V] {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	o := &options{ttl: DefaultTTL, logger: log.Logger}
	for _, opt := range opts {
		opt(o)
	}

	return &Cache[V]{
		client:    client,
		namespace: namespace,
		ttl:       o.ttl,
		logger:    o.logger.With().Str("cache_namespace", namespace).Logger(),
	}
}

// Key returns the Redis key for key inside the namespace.
func (c *Cache[V]) Key(key string) string {
	return c.namespace + ":" + key
}

func (c *Cache[V]) Namespace() string {
	return c.namespace
}

func (c *Cache[V]) Read(ctx context.Context, key string) (*V, error) {
	data, err := c.client.Get(ctx, c.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.logger.Debug().Str("key", key).Msg("The cache lookup was a miss")

			return nil, ErrKeyNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrCacheGet, err)
	}

	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnmarshal, err)
	}

	c.logger.Debug().Str("key", key).Msg("The cache lookup was a hit")

	return &value, nil
}

// Write stores value under key. A non-positive ttl uses the cache default.
func (c *Cache[V]) Write(ctx context.Context, key string, value *V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheMarshal, err)
	}

	if ttl <= 0 {
		ttl = c.ttl
	}

	if err := c.client.Set(ctx, c.Key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheSet, err)
	}

	return nil
}

// Delete reports whether a value was removed.
func (c *Cache[V]) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := c.client.Del(ctx, c.Key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCacheDelete, err)
	}

	return deleted > 0, nil
}

// ClearPattern deletes every key of the namespace matching the glob pattern
// and returns how many were removed.
func (c *Cache[V]) ClearPattern(ctx context.Context, pattern string) (int64, error) {
	var (
		cleared int64
		batch   []string
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		deleted, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCacheDelete, err)
		}

		cleared += deleted
		batch = batch[:0]

		return nil
	}

	iter := c.client.Scan(ctx, 0, c.Key(pattern), scanBatchSize).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())

		if len(batch) >= scanBatchSize {
			if err := flush(); err != nil {
				return cleared, err
			}
		}
	}

	if err := iter.Err(); err != nil {
		return cleared, fmt.Errorf("%w: %w", ErrCacheScan, err)
	}

	if err := flush(); err != nil {
		return cleared, err
	}

	c.logger.Info().
		Str("pattern", pattern).
		Int64("cleared", cleared).
		Msg("The cache entries matching the pattern have been cleared")

	return cleared, nil
}

func (c *Cache[V]) ClearAll(ctx context.Context) (int64, error) {
	return c.ClearPattern(ctx, "*")
}

func (c *Cache[V]) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.client.Exists(ctx, c.Key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCacheGet, err)
	}

	return count > 0, nil
}

// TTL returns the remaining lifetime of key, -1 when the key never expires
// and ErrKeyNotFound when it does not exist.
func (c *Cache[V]) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, c.Key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCacheGet, err)
	}

	switch ttl {
	case -2:
		return 0, ErrKeyNotFound
	case -1:
		return -1, nil
	default:
		return ttl, nil
	}
}

func (c *Cache[V]) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCachePing, err)
	}

	return nil
}
