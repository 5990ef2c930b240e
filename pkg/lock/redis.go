package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/larder/larder-backend/pkg/config"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Redis is a Locker backed by redislock, shared by every replica.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
	logger *logger.Logger
}

// NewRedis connects to redis and returns the locker together with the
// client so the caller can close it on shutdown.
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*Redis, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisWithClient(rdb, cfg, log), rdb, nil
}

// NewRedisWithClient builds the locker on an existing client
func NewRedisWithClient(rdb redislock.RedisClient, cfg config.RedisConfig, log *logger.Logger) *Redis {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	backoff := cfg.LockBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	return &Redis{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(backoff), cfg.LockRetries),
		logger: log,
	}
}

// Acquire implements Locker
func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]*redislock.Lock, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// The caller's ctx may already be cancelled.
			err := held[i].Release(context.Background())
			if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn().Err(err).Str("key", held[i].Key()).Msg("failed to release stock lock")
			}
		}
	}

	for _, k := range keys {
		l, err := r.client.Obtain(ctx, k, r.ttl, &redislock.Options{RetryStrategy: r.retry})
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) || ctx.Err() != nil {
				return nil, ErrNotObtained
			}
			return nil, fmt.Errorf("failed to obtain lock %s: %w", k, err)
		}
		held = append(held, l)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
