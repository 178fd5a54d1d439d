package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultClientName tags every connection so operators can tell stocksync
// apart in CLIENT LIST.
const DefaultClientName = "stocksync"

// Options configures the shared Redis client used for locks, analytics
// caching and the mail queue.
type Options struct {
	Addr        string
	ClientName  string
	PoolSize    int
	DialTimeout time.Duration
	PingTimeout time.Duration
}

// New creates a Redis client and pings it before handing it out.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.ClientName == "" {
		opts.ClientName = DefaultClientName
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		ClientName:  opts.ClientName,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}

	return client, nil
}
