// Package valkey connects the shared Valkey client used for the app credential cache.
package valkey

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the client beyond what the connection URL carries. Zero values defer to go-redis defaults.
type Options struct {
	URL         string
	DialTimeout time.Duration
	ClientName  string
}

// Connect builds a client from the options and pings it to verify the connection. Both valkey:// and redis:// URLs
// are accepted, with valkeys:// mapping onto TLS the same way rediss:// does.
func Connect(ctx context.Context, o Options) (*redis.Client, error) {
	opts, err := parseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("parse valkey URL: %w", err)
	}
	if o.DialTimeout > 0 {
		opts.DialTimeout = o.DialTimeout
	}
	if o.ClientName != "" {
		opts.ClientName = o.ClientName
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}

	return client, nil
}

// parseURL maps the valkey schemes onto go-redis, which only understands redis:// and rediss://.
func parseURL(raw string) (*redis.Options, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "valkey":
		parsed.Scheme = "redis"
	case "valkeys":
		parsed.Scheme = "rediss"
	}
	return redis.ParseURL(parsed.String())
}
