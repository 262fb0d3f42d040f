package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisConfigDefaults(t *testing.T) {
	cfg, err := newRedisConfig()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, "calibra", cfg.Prefix)
	assert.Equal(t, 15*time.Minute, cfg.LockTTL)
}

func TestRedisConfigOptions(t *testing.T) {
	cfg, err := newRedisConfig(
		WithRedisAddr("redis:6380"),
		WithRedisDB(3),
		WithRedisPool(4, 9),
		WithRedisPrefix(""),
	)
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, 4, cfg.MinIdleConns, "idle conns are capped at pool size")
	assert.Empty(t, cfg.Prefix)

	cfg, err = newRedisConfig(WithRedisPool(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.PoolSize)

	_, err = newRedisConfig(WithRedisAddr(""))
	assert.Error(t, err)
}

func TestRedisCacheKeyPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	assert.Equal(t, "calibra:snap", NewRedisCacheFromClient(client, "calibra").key("snap"))
	assert.Equal(t, "snap", NewRedisCacheFromClient(client, "").key("snap"))
}

func TestRedisCacheUnlockWithoutOwnershipIsNoop(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	rc := NewRedisCacheFromClient(client, "calibra")
	assert.NoError(t, rc.Unlock(context.Background(), "retrain:lock"))
}
