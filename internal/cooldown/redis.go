package cooldown

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTable keeps cooldowns in redis with SET NX PX. Expiry is measured by
// the redis server clock, so the now argument is ignored.
type RedisTable struct {
	client *redis.Client
	prefix string
}

func NewRedisTable(ctx context.Context, redisURL string) (*RedisTable, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisTable{client: client, prefix: "cooldown/"}, nil
}

func (t *RedisTable) Acquire(ctx context.Context, key string, ttl time.Duration, now time.Time) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	return t.client.SetNX(ctx, t.prefix+key, now.Unix(), ttl).Result()
}

func (t *RedisTable) Close() error {
	return t.client.Close()
}
