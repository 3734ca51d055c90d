package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jaennil/guide_helper/backend/maps/pkg/metrics"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
	}, nil
}

var _ BlobCache = (*RedisCache)(nil)

func (c *RedisCache) keyFor(path string) string {
	return "tile:" + path
}

func observe(op string, start time.Time, err error) {
	metrics.RedisOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RedisErrors.WithLabelValues(op).Inc()
	}
}

func (c *RedisCache) Get(ctx context.Context, path string) ([]byte, bool, error) {
	start := time.Now()
	data, err := c.client.Get(ctx, c.keyFor(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observe("get", start, nil)
			return nil, false, nil
		}
		observe("get", start, err)
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}
	observe("get", start, nil)
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, path string, data []byte) error {
	start := time.Now()
	err := c.client.Set(ctx, c.keyFor(path), data, c.ttl).Err()
	observe("set", start, err)
	if err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := c.client.Del(ctx, c.keyFor(path)).Err()
	observe("del", start, err)
	if err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
