package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

type redisCounters struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a redis-backed counter cache. Windows map onto key TTLs:
// INCR plus EXPIRE-only-when-new gives atomic increment-and-get with the
// window anchored at the first hit.
func NewRedis(cfg RedisConfig) (Counters, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "authgate:"
	}
	return &redisCounters{client: client, prefix: prefix}, nil
}

func (r *redisCounters) key(k string) string { return r.prefix + k }

func (r *redisCounters) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := r.key(key)
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *redisCounters) Get(ctx context.Context, key string) (int64, bool, error) {
	n, err := r.client.Get(ctx, r.key(key)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (r *redisCounters) SetMarker(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), 1, ttl).Err()
}

func (r *redisCounters) HasMarker(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisCounters) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.client.Del(ctx, full...).Err()
}

func (r *redisCounters) Close(_ context.Context) error {
	return r.client.Close()
}
