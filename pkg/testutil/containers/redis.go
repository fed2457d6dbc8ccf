//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"veriface/internal/platform/config"
	platformredis "veriface/internal/platform/redis"
)

const redisImage = "redis:7-alpine"

// RedisContainer backs the redis embedding index suites.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *platformredis.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	c, err := tcredis.Run(ctx, redisImage)
	if err != nil {
		abort(t, nil, "start redis", err)
	}
	url, err := c.ConnectionString(ctx)
	if err != nil {
		abort(t, c, "redis url", err)
	}
	client, err := platformredis.New(ctx, config.Redis{URL: url})
	if err != nil {
		abort(t, c, "connect redis", err)
	}
	return &RedisContainer{Container: c, URL: url, Client: client}
}

// FlushAll drops every key; suites call it from SetupTest.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
