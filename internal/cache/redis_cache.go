package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"salestarget/backend/internal/domain"
)

type RedisGridCache struct {
	client *redis.Client
}

func NewRedisGridCache(addr string, password string, db int) *RedisGridCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisGridCache{client: client}
}

func (c *RedisGridCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisGridCache) Close() error {
	return c.client.Close()
}

func (c *RedisGridCache) Get(ctx context.Context, key string) (*domain.TargetGrid, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var grid domain.TargetGrid
	if err := json.Unmarshal(val, &grid); err != nil {
		return nil, false, err
	}
	return &grid, true, nil
}

func (c *RedisGridCache) Set(ctx context.Context, key string, value *domain.TargetGrid, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
