package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cxeteam/cxe/pkg/execution/types"
)

// memoryEntry pairs a record with its absolute expiry.
type memoryEntry struct {
	record  *types.StatusRecord
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return now.After(e.expires)
}

// MemoryCache is an in-process, mutex-guarded Status Cache with per-entry
// TTL and a background sweep. Expiry is time-based, not capacity-based: a
// MemoryCache has no eviction policy beyond "past its TTL."
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryCache creates an empty cache and starts its background sweeper.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, id)
		}
	}
}

// Put implements StatusCache.
func (c *MemoryCache) Put(_ context.Context, id string, record *types.StatusRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = memoryEntry{record: record.Clone(), expires: time.Now().Add(ttl)}
	return nil
}

// Get implements StatusCache.
func (c *MemoryCache) Get(_ context.Context, id string) (*types.StatusRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return e.record.Clone(), nil
}

// CompareAndSet implements StatusCache.
func (c *MemoryCache) CompareAndSet(_ context.Context, id string, expected types.Status, newRecord *types.StatusRecord, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok || e.expired(time.Now()) {
		return false, ErrNotFound
	}
	if e.record.Status != expected {
		return false, nil
	}
	c.entries[id] = memoryEntry{record: newRecord.Clone(), expires: time.Now().Add(ttl)}
	return true, nil
}

// Touch implements StatusCache.
func (c *MemoryCache) Touch(_ context.Context, id string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.expired(time.Now()) {
		return ErrNotFound
	}
	e.expires = time.Now().Add(ttl)
	c.entries[id] = e
	return nil
}

// Close stops the background sweeper.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}
