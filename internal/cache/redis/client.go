// Package redis mirrors committed prices, carries batch events and
// coordinates replicas over go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters. KeyPrefix namespaces every key
// this package writes so several deployments can share one Redis; pub/sub
// channel names are used as configured.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	KeyPrefix  string
}

// Client is a connected go-redis client plus the key namespace.
type Client struct {
	rdb  *redis.Client
	keys keyspace
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, keys: keyspace(strings.Trim(cfg.KeyPrefix, ":"))}, nil
}

// Ping backs the redis entry of /api/health.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// keyspace builds the keys of one deployment. The empty keyspace adds no
// prefix.
type keyspace string

func (k keyspace) join(kind, name string) string {
	if k == "" {
		return kind + ":" + name
	}
	return string(k) + ":" + kind + ":" + name
}

func (k keyspace) price(instrumentID string) string { return k.join("price", instrumentID) }
func (k keyspace) lock(name string) string          { return k.join("lock", name) }
func (k keyspace) rateLimit(client string) string   { return k.join("ratelimit", client) }
