package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedDirectory keeps display names in Redis for ttl. Redis failures fall through to
// the wrapped Directory.
type CachedDirectory struct {
	next   Directory
	rdb    kv
	ttl    time.Duration
	prefix string
}

func NewCachedDirectory(next Directory, rdb kv, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{next: next, rdb: rdb, ttl: ttl, prefix: "display-name:"}
}

func (c *CachedDirectory) DisplayName(ctx context.Context, id string) (string, error) {
	key := c.prefix + id
	name, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, redis.Nil) && ctx.Err() != nil {
		return "", ctx.Err()
	}

	name, err = c.next.DisplayName(ctx, id)
	if err != nil {
		return "", err
	}
	_ = c.rdb.Set(ctx, key, name, c.ttl).Err()
	return name, nil
}
