package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Network  string `json:"network"` // "tcp" or "unix" for socket path
}

type Client struct {
	client *redis.Client
}

var ctx = context.Background()

func New(cfg Config) (*Client, error) {
	// Determine network type - use Unix socket for local Redis (microsecond latency)
	network := "tcp"
	if cfg.Network != "" {
		network = cfg.Network
	}

	// If addr looks like a socket path, automatically use unix
	if len(cfg.Addr) > 0 && cfg.Addr[0] == '/' {
		network = "unix"
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Network:  network,
		// Connection pool settings for high performance
		PoolSize:     100,
		MinIdleConns: 20, // Keep connections warm
		MaxRetries:   3,  // Retry failed commands
		PoolTimeout:  4 * time.Second,
		// Performance optimizations
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if network == "unix" {
		log.Println("✓ Redis connected via Unix socket (microsecond latency)")
	} else {
		log.Println("✓ Redis connected via TCP")
	}

	return &Client{client: rdb}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Basic operations

func (c *Client) Set(key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *Client) Get(key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *Client) Del(key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetNX sets a key only when absent; used for claim-style locks
func (c *Client) SetNX(key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, expiration).Result()
}

// Batch operations using pipelining for high performance

// MGet retrieves multiple keys in a single round-trip
func (c *Client) MGet(keys ...string) ([]interface{}, error) {
	return c.client.MGet(ctx, keys...).Result()
}

// ExecutePipeline runs the supplied commands in one batched round-trip
func (c *Client) ExecutePipeline(fn func(redis.Pipeliner) error) error {
	pipe := c.client.Pipeline()
	if err := fn(pipe); err != nil {
		return err
	}
	_, err := pipe.Exec(ctx)
	return err
}
