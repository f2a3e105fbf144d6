package exposure

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"market-engine/internal/config"
)

// RedisProvider reads exposure parameters from Redis string keys under a
// common prefix, e.g. "exposure:MCX.per_lot.intraday.GOLD".
type RedisProvider struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisProvider connects to Redis and verifies the connection.
func NewRedisProvider(ctx context.Context, cfg config.RedisConfig, prefix string) (*RedisProvider, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisProvider{rdb: rdb, prefix: prefix}, nil
}

// NewRedisProviderWithClient wraps an existing client.
func NewRedisProviderWithClient(rdb *redis.Client, prefix string) *RedisProvider {
	return &RedisProvider{rdb: rdb, prefix: prefix}
}

// Lookup implements Provider.
func (p *RedisProvider) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, err := p.rdb.Get(ctx, p.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, true, nil
}

// Close closes the Redis connection.
func (p *RedisProvider) Close() error {
	return p.rdb.Close()
}
