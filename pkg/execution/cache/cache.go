// Package cache implements the status cache: the TTL-bounded,
// key-addressable store of StatusRecords that workers write and the API
// polls. Two backends share one interface: an in-process map for
// standalone operation, and a Redis-backed implementation for when the
// cache must be shared across processes.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/cxeteam/cxe/pkg/execution/types"
)

// ErrNotFound is returned by Get and CompareAndSet when the key is absent.
var ErrNotFound = errors.New("cache: record not found")

// StatusCache is the key-value contract every backend must satisfy.
type StatusCache interface {
	// Put fully overwrites the record for id, atomically, with the given TTL.
	Put(ctx context.Context, id string, record *types.StatusRecord, ttl time.Duration) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*types.StatusRecord, error)

	// CompareAndSet overwrites the record for id with newRecord iff the
	// stored record's Status currently equals expected. It returns false,
	// nil if the key is present but its status does not match, and
	// ErrNotFound if the key is absent.
	CompareAndSet(ctx context.Context, id string, expected types.Status, newRecord *types.StatusRecord, ttl time.Duration) (bool, error)

	// Touch extends the TTL of an existing entry without changing its value.
	Touch(ctx context.Context, id string, ttl time.Duration) error

	// Close releases any resources held by the backend.
	Close() error
}

// New builds a StatusCache from backend config: "memory" (default) or
// "redis".
func New(backend, redisAddr string) (StatusCache, error) {
	switch backend {
	case "", "memory":
		return NewMemoryCache(), nil
	case "redis":
		if redisAddr == "" {
			return nil, errors.New("cache: redis backend requires a non-empty address")
		}
		return NewRedisCache(redisAddr), nil
	default:
		return nil, errors.New("cache: unknown backend " + backend)
	}
}
