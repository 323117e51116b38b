package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"streamguard/internal/core/domain"
	"streamguard/internal/core/ports"
	"streamguard/pkg/circuitbreaker"
	"streamguard/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "streamguard:tokens:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// DialRedis connects and pings, retrying with backoff until ctx expires or
// the retry budget is spent.
func DialRedis(ctx context.Context, cfg RedisConfig, retryCfg retry.Config, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	err := retry.Retry(ctx, retryCfg, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("connected to Redis",
		"address", cfg.Address,
		"db", cfg.DB,
		"pool_size", cfg.PoolSize,
	)
	return client, nil
}

// Redis shares tokens between processes. Calls go through a circuit
// breaker so an unavailable Redis costs one fast failure per poll instead
// of a full timeout; callers treat failures as cache misses.
type Redis struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewRedis(client *redis.Client, breakerCfg circuitbreaker.Config, logger *zap.SugaredLogger) *Redis {
	breaker := circuitbreaker.New(breakerCfg)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("redis token store breaker changed state", "from", from.String(), "to", to.String())
	})
	return &Redis{client: client, breaker: breaker, logger: logger}
}

func (r *Redis) Get(ctx context.Context, key string) (domain.TokenPair, bool, error) {
	raw, err := circuitbreaker.Do(ctx, r.breaker, func(ctx context.Context) ([]byte, error) {
		b, err := r.client.Get(ctx, keyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		return domain.TokenPair{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if raw == nil {
		return domain.TokenPair{}, false, nil
	}

	var tokens domain.TokenPair
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return domain.TokenPair{}, false, fmt.Errorf("decode cached tokens: %w", err)
	}
	return tokens, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, tokens domain.TokenPair, ttl time.Duration) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.client.Set(ctx, keyPrefix+key, raw, ttl).Err()
	})
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, keyPrefix+key).Err()
	})
}

var _ ports.TokenStore = (*Redis)(nil)
