package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirinaja/terminal/internal/domain"
)

type RedisInvoiceCache struct {
	client *redis.Client
}

func NewRedisInvoiceCache(addr string, password string, db int) *RedisInvoiceCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisInvoiceCache{client: client}
}

func (c *RedisInvoiceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisInvoiceCache) Close() error {
	return c.client.Close()
}

func (c *RedisInvoiceCache) Get(ctx context.Context, invoiceID string) (*domain.Invoice, bool, error) {
	val, err := c.client.Get(ctx, invoiceKey(invoiceID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var inv domain.Invoice
	if err := json.Unmarshal([]byte(val), &inv); err != nil {
		return nil, false, err
	}
	return &inv, true, nil
}

func (c *RedisInvoiceCache) Set(ctx context.Context, invoice *domain.Invoice, ttl time.Duration) error {
	if invoice == nil || invoice.ID == "" {
		return nil
	}
	payload, err := json.Marshal(invoice)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, invoiceKey(invoice.ID), payload, ttl).Err()
}
