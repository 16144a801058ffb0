// Package mock provides an in-memory cache.Cache for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/mediaforge/internal/cache"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a goroutine-safe in-memory cache.Cache with TTL support.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time

	// Err, when set, is returned by every operation.
	Err error
}

func New() *Cache {
	return &Cache{entries: make(map[string]entry), now: time.Now}
}

func (c *Cache) get(key string) (entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) set(key string, value []byte, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.set(key, value, ttl)
	return nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, false, c.Err
	}
	e, ok := c.get(key)
	return e.value, ok, nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	delete(c.entries, key)
	return nil
}

func (c *Cache) Ping(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Err
}

func (c *Cache) SetPredictionStatus(ctx context.Context, predictionID string, status string, ttl time.Duration) error {
	return c.Set(ctx, cache.PredictionStatusKey(predictionID), []byte(status), ttl)
}

func (c *Cache) GetPredictionStatus(ctx context.Context, predictionID string) (string, bool, error) {
	v, ok, err := c.Get(ctx, cache.PredictionStatusKey(predictionID))
	return string(v), ok, err
}

func (c *Cache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	var n int64
	if e, ok := c.get(key); ok {
		n = int64(len(e.value))
	}
	n++
	// The counter is kept as a byte slice of length n.
	c.set(key, make([]byte, n), expiry)
	return n, nil
}

func (c *Cache) AcquireLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return "", false, c.Err
	}
	if _, held := c.get(key); held {
		return "", false, nil
	}
	token := uuid.NewString()
	c.set(key, []byte(token), ttl)
	return token, true, nil
}

func (c *Cache) ReleaseLock(_ context.Context, key string, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if e, ok := c.get(key); ok && string(e.value) == token {
		delete(c.entries, key)
	}
	return nil
}

// Locked reports whether key is currently held.
func (c *Cache) Locked(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.get(key)
	return ok
}

var _ cache.Cache = (*Cache)(nil)
