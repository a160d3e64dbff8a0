package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewClient connects and verifies the connection before anything is wired on
// top of it. Pool size is deployment-dependent, so the caller configures it.
func NewClient(address string, poolSize int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		PoolSize: poolSize,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", address, err)
	}
	return client, nil
}
