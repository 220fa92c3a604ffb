package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores one string key per device.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures a RedisCache. A zero TTL stores keys without
// expiration.
type RedisOptions struct {
	URL    string
	Prefix string
	TTL    time.Duration
}

func NewRedisCache(opts RedisOptions) (*RedisCache, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing redis URL '%s'", opts.URL)
	}

	return &RedisCache{
		client: redis.NewClient(parsed),
		prefix: opts.Prefix,
		ttl:    opts.TTL,
	}, nil
}

// Ping checks that the server is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return errors.Wrap(c.client.Ping(ctx).Err(), "pinging redis")
}

func (c *RedisCache) SetStatus(ctx context.Context, deviceID, status string) error {
	err := c.client.Set(ctx, c.prefix+deviceID, status, c.ttl).Err()
	return errors.Wrapf(err, "caching status for device '%s'", deviceID)
}

func (c *RedisCache) GetStatus(ctx context.Context, deviceID string) (string, bool, error) {
	status, err := c.client.Get(ctx, c.prefix+deviceID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "getting cached status for device '%s'", deviceID)
	}
	return status, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, deviceID string) error {
	return errors.Wrapf(c.client.Del(ctx, c.prefix+deviceID).Err(), "deleting cached status for device '%s'", deviceID)
}

func (c *RedisCache) Close() error {
	return errors.Wrap(c.client.Close(), "closing redis client")
}
