package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirpro/backend/internal/domain"
)

type RedisReceiptConfigCache struct {
	client *redis.Client
}

func NewRedisReceiptConfigCache(addr string, password string, db int) *RedisReceiptConfigCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReceiptConfigCache{client: client}
}

func (c *RedisReceiptConfigCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReceiptConfigCache) Close() error {
	return c.client.Close()
}

func (c *RedisReceiptConfigCache) Get(ctx context.Context, key string) (*domain.ReceiptConfig, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cfg domain.ReceiptConfig
	if err := json.Unmarshal([]byte(val), &cfg); err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

func (c *RedisReceiptConfigCache) Set(ctx context.Context, key string, value *domain.ReceiptConfig, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
