// Package distlock serializes work on a key across processes with Redis.
package distlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPrefix       = "lock"
	DefaultTTL          = 30 * time.Second
	DefaultRetryBackoff = 50 * time.Millisecond
	DefaultRetryLimit   = 100
)

var ErrLockNotObtained = errors.New("distlock: lock not obtained")

type Option func(*Locker)

func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetry controls how long WithLock waits for a held lock. A limit of
// zero fails immediately.
func WithRetry(backoff time.Duration, limit int) Option {
	return func(l *Locker) {
		l.retry = redislock.LimitRetry(redislock.LinearBackoff(backoff), limit)
	}
}

type Locker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

func New(redisClient redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client: redislock.New(redisClient),
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(DefaultRetryBackoff), DefaultRetryLimit),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// WithLock runs fn while holding the lock for key, waiting for the lock
// according to the retry strategy.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := l.prefix + ":" + key

	lock, err := l.client.Obtain(ctx, lockKey, l.ttl, &redislock.Options{ //nolint:exhaustruct
		RetryStrategy: l.retry,
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return fmt.Errorf("%w: %s", ErrLockNotObtained, lockKey)
		}

		return fmt.Errorf("distlock: failed to obtain lock: %w", err)
	}

	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			log.Warn().
				Err(releaseErr).
				Str("key", lockKey).
				Msg("Failed to release distributed lock")
		}
	}()

	return fn(ctx)
}
