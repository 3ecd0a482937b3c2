package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/yugo-dao/yugo-sync/pkg/config"
)

// Config holds Redis connection settings
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns local defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		PoolSize:     20,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// FromConfig converts the application redis section
func FromConfig(c *config.RedisConfig) *Config {
	cfg := DefaultConfig()
	cfg.Addr = c.Addr()
	cfg.Password = c.Password
	cfg.DB = c.DB
	if c.PoolSize > 0 {
		cfg.PoolSize = c.PoolSize
	}
	if c.DialTimeout > 0 {
		cfg.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		cfg.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	return cfg
}

// Client embeds the go-redis client so callers get the full command set
type Client struct {
	*goredis.Client
	config *Config
}

// NewClient connects and pings
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &Client{Client: rdb, config: cfg}, nil
}

// HealthCheck pings the server
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Claim sets key only if absent. It returns true when this caller won the key.
func (c *Client) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, key, "1", ttl).Result()
}
