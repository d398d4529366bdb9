package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/quotaforge/gateway/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps a pooled go-redis client used both as the coordination
// store for the quota engine and for simple liveness checks.
type Client struct {
	c *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	r := redis.NewClient(opt)
	return &Client{c: r}, nil
}

// NewFromRedis wraps an already-constructed *redis.Client, used by tests
// to point at an in-memory miniredis instance.
func NewFromRedis(r *redis.Client) *Client {
	return &Client{c: r}
}

// Raw returns the underlying *redis.Client for packages (such as quota)
// that need to register and run Lua scripts directly.
func (r *Client) Raw() *redis.Client {
	return r.c
}

// Ping checks connectivity, bounded by the caller's context and by an
// internal 2-second cap, whichever expires first.
func (r *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}
