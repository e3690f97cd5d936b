package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis acquires locks with SET key owner NX PX ttl.
type Redis struct {
	client redis.UniversalClient
	owner  string
}

func NewRedis(client redis.UniversalClient, owner string) *Redis {
	return &Redis{client: client, owner: owner}
}

func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}
