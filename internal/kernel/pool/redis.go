package pool

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChannel wraps a single-connection redis.Client: the channel type
// of the "redis" pool built when the configuration enables Redis.
// Sessions and the object cache do not use it.
type RedisChannel struct {
	client *redis.Client
}

// NewRedisFactory returns a Factory dialing a dedicated client per
// pooled channel against addr (the kernel pool, not go-redis's own
// internal pool, is what bounds concurrency here, so PoolSize is fixed
// at 1).
func NewRedisFactory(addr, password string, db int) Factory {
	return func(ctx context.Context) (Channel, error) {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
			PoolSize: 1,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis channel: ping: %w", err)
		}
		return &RedisChannel{client: client}, nil
	}
}

// Client exposes the underlying client for procedure bindings.
func (c *RedisChannel) Client() *redis.Client { return c.client }

func (c *RedisChannel) Validate(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisChannel) Close() error {
	return c.client.Close()
}
