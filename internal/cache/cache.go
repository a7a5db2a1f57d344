package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a namespaced string cache on Redis, used to keep the generated
// feed hot between consumer polls.
type Cache struct {
	Redis     redis.UniversalClient
	Namespace string
}

func NewCache(namespace string, redisCl redis.UniversalClient) *Cache {
	return &Cache{Namespace: namespace, Redis: redisCl}
}

func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	cmd := c.Redis.Get(ctx, c.Namespace+":"+key)
	return cmd.Val(), cmd.Err()
}

func (c *Cache) Store(ctx context.Context, key string, ttl time.Duration, value string) error {
	return c.Redis.Set(ctx, c.Namespace+":"+key, value, ttl).Err()
}

// Flush drops every key in the namespace. Called when a job reaches a
// terminal state so the consumer never polls a stale feed past one TTL.
func (c *Cache) Flush(ctx context.Context) error {
	keys := c.Redis.Keys(ctx, c.Namespace+":*")
	if err := keys.Err(); err != nil {
		return err
	}

	pl := c.Redis.Pipeline()
	for _, key := range keys.Val() {
		pl.Del(ctx, key)
	}
	_, err := pl.Exec(ctx)
	return err
}
