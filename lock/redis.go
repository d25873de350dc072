package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/warp/stock-ledger/generic"
)

// Redis takes keys with bsm/redislock so several server replicas share them.
type Redis struct {
	client *redislock.Client

	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration

	// Backoff and Retries control how long Acquire waits per key.
	Backoff time.Duration
	Retries int
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client:  redislock.New(rdb),
		TTL:     ttl,
		Backoff: 50 * time.Millisecond,
		Retries: 100,
	}
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = normalize(keys)
	held := make([]*redislock.Lock, 0, len(keys))

	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.Backoff), r.Retries),
	}
	for _, k := range keys {
		l, err := r.client.Obtain(ctx, k, r.TTL, opts)
		if err != nil {
			releaseAll(context.WithoutCancel(ctx), held)
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("%w: %s", generic.ErrLockNotObtained, k)
			}
			return nil, fmt.Errorf("lock: obtain %s: %w", k, err)
		}
		held = append(held, l)
	}
	return func(ctx context.Context) error {
		return releaseAll(ctx, held)
	}, nil
}

func releaseAll(ctx context.Context, held []*redislock.Lock) error {
	var errs []error
	for i := len(held) - 1; i >= 0; i-- {
		if err := held[i].Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
