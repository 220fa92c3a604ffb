package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is a StatusCache local to the process.
type MemoryCache struct {
	prefix string
	ttl    time.Duration
	cache  *gocache.Cache
}

// NewMemoryCache creates a cache whose entries expire after ttl. A zero ttl
// keeps entries until they are overwritten or deleted.
func NewMemoryCache(prefix string, ttl time.Duration) *MemoryCache {
	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = 2 * ttl
	}

	return &MemoryCache{
		prefix: prefix,
		ttl:    expiration,
		cache:  gocache.New(expiration, cleanup),
	}
}

func (c *MemoryCache) SetStatus(_ context.Context, deviceID, status string) error {
	c.cache.Set(c.prefix+deviceID, status, c.ttl)
	return nil
}

func (c *MemoryCache) GetStatus(_ context.Context, deviceID string) (string, bool, error) {
	val, ok := c.cache.Get(c.prefix + deviceID)
	if !ok {
		return "", false, nil
	}
	status, ok := val.(string)
	return status, ok, nil
}

func (c *MemoryCache) Delete(_ context.Context, deviceID string) error {
	c.cache.Delete(c.prefix + deviceID)
	return nil
}

func (c *MemoryCache) Close() error {
	c.cache.Flush()
	return nil
}
