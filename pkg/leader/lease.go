// Package leader elects a single holder among processes sharing Redis.
package leader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
)

// Lease is a Redis key that at most one holder owns at a time. It expires
// unless renewed.
type Lease struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration
}

// NewLease creates a new lease; holder must be unique per process.
func NewLease(client *redis.Client, key, holder string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		key:    key,
		holder: holder,
		ttl:    ttl,
	}
}

// TryAcquire attempts to take the lease without blocking
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return acquired, nil
}

// Renew extends the lease. It reports false when someone else holds it or
// it has expired.
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}
	return n == 1, nil
}

// Release gives the lease up if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// Held reports whether this holder currently owns the lease.
func (l *Lease) Held(ctx context.Context) (bool, error) {
	current, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return current == l.holder, nil
}

// Run blocks until ctx is done. Whenever the lease is held, fn runs with a
// context that is canceled as soon as a renewal fails. A non-nil error from
// fn stops Run.
func Run(ctx context.Context, lease *Lease, fn func(context.Context) error, logger *zap.SugaredLogger) error {
	retry := lease.ttl / 2

	for {
		acquired, err := lease.TryAcquire(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Warnw("lease acquisition failed", "key", lease.key, "error", err)
		}

		if acquired {
			logger.Infow("acquired leadership", "key", lease.key, "holder", lease.holder)
			if err := lead(ctx, lease, fn, logger); err != nil {
				return err
			}
			if ctx.Err() == nil {
				logger.Warnw("lost leadership", "key", lease.key)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}

func lead(ctx context.Context, lease *Lease, fn func(context.Context) error, logger *zap.SugaredLogger) error {
	leadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(leadCtx)
	}()

	ticker := time.NewTicker(lease.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
			if relErr := lease.Release(releaseCtx); relErr != nil {
				logger.Warnw("lease release failed", "key", lease.key, "error", relErr)
			}
			releaseCancel()
			return err
		case <-ticker.C:
			ok, err := lease.Renew(leadCtx)
			if err != nil {
				logger.Warnw("lease renewal failed", "key", lease.key, "error", err)
			}
			if !ok {
				cancel()
				return <-done
			}
		}
	}
}
