package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/faultline/internal/mapping"
)

// Client wraps a Redis connection used as a dependency and as the breaker
// status store.
type Client struct {
	rdb  *redis.Client
	name string
	ttl  time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string        `yaml:"url"`
	Password  string        `yaml:"password"`
	StatusTTL time.Duration `yaml:"status_ttl"`
}

// DefaultStatusTTL bounds how long a published snapshot outlives its instance.
const DefaultStatusTTL = 2 * time.Minute

// New creates a client without contacting the server.
func New(name string, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	ttl := cfg.StatusTTL
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	if name == "" {
		name = "redis"
	}
	return &Client{rdb: redis.NewClient(opts), name: name, ttl: ttl}, nil
}

// Check pings the server, classifying failures.
func (c *Client) Check(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		if ae, ok := mapping.FromRedis(err, c.name); ok {
			return ae
		}
		return fmt.Errorf("ping %s: %w", c.name, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
