package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/ironlayer/ironlayer/pkg/metrics"
)

const redisKeyPrefix = "ironlayer:cache:"

// Redis backs the response cache with a shared redis instance so every node
// in served mode sees the same entries. Capacity management is left to
// redis' own maxmemory policy; TTLs are set per entry.
type Redis struct {
	client *redis.Client
	ttls   TTLs
}

// NewRedis wraps an already-configured client with the default TTL windows.
func NewRedis(client *redis.Client) *Redis {
	return NewRedisTTL(client, TTLs{})
}

// NewRedisTTL wraps a client with configured freshness windows.
func NewRedisTTL(client *redis.Client, ttls TTLs) *Redis {
	return &Redis{client: client, ttls: ttls}
}

func redisKey(rt RequestType, key string) string {
	return redisKeyPrefix + string(rt) + ":" + key
}

func (c *Redis) Get(ctx context.Context, rt RequestType, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, redisKey(rt, key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.CacheMisses.WithLabelValues(string(rt)).Inc()
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	metrics.CacheHits.WithLabelValues(string(rt)).Inc()
	return value, true, nil
}

func (c *Redis) Set(ctx context.Context, rt RequestType, key string, value []byte) error {
	return c.client.Set(ctx, redisKey(rt, key), value, c.ttls.For(rt)).Err()
}

func (c *Redis) InvalidateType(ctx context.Context, rt RequestType) (int, error) {
	return c.deleteMatching(ctx, redisKeyPrefix+string(rt)+":*")
}

func (c *Redis) InvalidateAll(ctx context.Context) (int, error) {
	return c.deleteMatching(ctx, redisKeyPrefix+"*")
}

func (c *Redis) deleteMatching(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
