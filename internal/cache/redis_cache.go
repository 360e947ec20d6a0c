package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"innovaclean/backend/internal/domain"
)

const snapshotTTL = 12 * time.Hour

type RedisStockCache struct {
	client *redis.Client
}

func NewRedisStockCache(addr string, password string, db int) *RedisStockCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockCache{client: client}
}

func (c *RedisStockCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockCache) Close() error {
	return c.client.Close()
}

func key(sku string) string {
	return "stock:" + sku
}

func (c *RedisStockCache) Get(ctx context.Context, sku string) (*domain.StockSnapshot, bool, error) {
	val, err := c.client.Get(ctx, key(sku)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snapshot domain.StockSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, false, err
	}
	return &snapshot, true, nil
}

// Put refuses to regress to an older version: a slow writer that lost the
// ledger race must not clobber the fresher snapshot already cached.
func (c *RedisStockCache) Put(ctx context.Context, snapshot domain.StockSnapshot) error {
	existing, found, err := c.Get(ctx, snapshot.SKU)
	if err != nil {
		return err
	}
	if found && existing.Version >= snapshot.Version {
		return nil
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(snapshot.SKU), payload, snapshotTTL).Err()
}
