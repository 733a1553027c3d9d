package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
)

const (
	receiptKeyPrefix = "pos:receipt:"
	tombstone        = "reversed"
)

type RedisReceiptCache struct {
	client *redis.Client
}

func NewRedisReceiptCache(addr string, password string, db int) *RedisReceiptCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReceiptCache{client: client}
}

func (c *RedisReceiptCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReceiptCache) Close() error {
	return c.client.Close()
}

func (c *RedisReceiptCache) Get(ctx context.Context, id int64) (*domain.Receipt, bool, error) {
	val, err := c.client.Get(ctx, receiptKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(val) == tombstone {
		return nil, false, nil
	}

	var receipt domain.Receipt
	if err := json.Unmarshal(val, &receipt); err != nil {
		return nil, false, err
	}
	return &receipt, true, nil
}

func (c *RedisReceiptCache) Set(ctx context.Context, receipt *domain.Receipt, ttl time.Duration) error {
	if receipt == nil {
		return nil
	}
	payload, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, receiptKey(receipt.ID), payload, ttl).Err()
}

func (c *RedisReceiptCache) Invalidate(ctx context.Context, id int64, ttl time.Duration) error {
	return c.client.Set(ctx, receiptKey(id), tombstone, ttl).Err()
}

func receiptKey(id int64) string {
	return receiptKeyPrefix + strconv.FormatInt(id, 10)
}
