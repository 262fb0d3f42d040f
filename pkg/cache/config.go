package cache

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

// RedisConfig is the connection and keyspace layout for the shared Redis
// instance. Zero fields are filled from the default tags.
type RedisConfig struct {
	Addr         string        `default:"localhost:6379"`
	Password     string
	DB           int
	PoolSize     int           `default:"10"`
	MinIdleConns int           `default:"2"`
	PoolTimeout  time.Duration `default:"30s"`
	DialTimeout  time.Duration `default:"5s"`
	Prefix       string        `default:"calibra"`
	// LockTTL is used when TryLock is called with a non-positive ttl.
	LockTTL time.Duration `default:"15m"`
}

type RedisOption func(*RedisConfig)

func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) { c.Addr = addr }
}

func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) { c.Password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) { c.DB = db }
}

// WithRedisPool sizes the connection pool. Non-positive values keep the default.
func WithRedisPool(size, minIdle int) RedisOption {
	return func(c *RedisConfig) {
		if size > 0 {
			c.PoolSize = size
		}
		if minIdle > 0 {
			c.MinIdleConns = minIdle
		}
	}
}

// WithRedisPrefix namespaces every key as "<prefix>:<key>". An empty prefix
// leaves keys untouched.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

func WithRedisLockTTL(ttl time.Duration) RedisOption {
	return func(c *RedisConfig) { c.LockTTL = ttl }
}

func newRedisConfig(opts ...RedisOption) (*RedisConfig, error) {
	cfg := &RedisConfig{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("redis defaults: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}
	if cfg.MinIdleConns > cfg.PoolSize {
		cfg.MinIdleConns = cfg.PoolSize
	}
	return cfg, nil
}

// MemoryConfig bounds the in-process cache used for API snapshots.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
}

type MemoryOption func(*MemoryConfig)

// WithMemoryMaxSize caps the entry count; 0 means unbounded.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) { c.MaxSize = size }
}

// WithMemoryCleanup sets the expiry sweep period; 0 disables the sweeper.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}
