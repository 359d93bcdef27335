package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cxeteam/cxe/pkg/execution/types"
)

const keyPrefix = "cxe:status:"

// RedisCache is a Status Cache backend for sharing state across CXE
// processes, using go-redis/v9's WATCH/MULTI transaction support to make
// CompareAndSet atomic with respect to other clients.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache builds a RedisCache against addr ("host:port").
func NewRedisCache(addr string) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func key(id string) string { return keyPrefix + id }

// Put implements StatusCache.
func (c *RedisCache) Put(ctx context.Context, id string, record *types.StatusRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(id), data, ttl).Err()
}

// Get implements StatusCache.
func (c *RedisCache) Get(ctx context.Context, id string) (*types.StatusRecord, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var record types.StatusRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// CompareAndSet implements StatusCache using a WATCH/MULTI transaction so the
// read-check-write is atomic with respect to other clients.
func (c *RedisCache) CompareAndSet(ctx context.Context, id string, expected types.Status, newRecord *types.StatusRecord, ttl time.Duration) (bool, error) {
	k := key(id)
	applied := false

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var current types.StatusRecord
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Status != expected {
			return nil // applied stays false, no error: caller sees "not applied"
		}

		newData, err := json.Marshal(newRecord)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, newData, ttl)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	err := c.client.Watch(ctx, txf, k)
	if err != nil {
		if err == ErrNotFound {
			return false, ErrNotFound
		}
		return false, err
	}
	return applied, nil
}

// Touch implements StatusCache.
func (c *RedisCache) Touch(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := c.client.Expire(ctx, key(id), ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
