package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a Redis client for the document view cache and verifies
// connectivity. The cache is read-through, so slow reads fall back to the
// store rather than block; timeouts stay short.
func New(ctx context.Context, addr string, poolSize int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		PoolSize:    poolSize,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}
