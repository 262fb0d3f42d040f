package repository

import (
	"context"
	"time"

	domrepo "Calibra/internal/domain/repository"
	pkgcache "Calibra/pkg/cache"
)

// RedisSnapshotMirror publishes aggregate snapshots under
// <prefix>:snapshot:<key> with a TTL, so stale mirrors expire if the engine
// stops.
type RedisSnapshotMirror struct {
	cache pkgcache.Service
	ttl   time.Duration
}

func NewRedisSnapshotMirror(cache pkgcache.Service, ttl time.Duration) *RedisSnapshotMirror {
	return &RedisSnapshotMirror{cache: cache, ttl: ttl}
}

func (m *RedisSnapshotMirror) Publish(ctx context.Context, key string, v interface{}) error {
	return m.cache.Set(ctx, pkgcache.GenerateKey("snapshot", key), v, m.ttl)
}

var _ domrepo.SnapshotMirror = (*RedisSnapshotMirror)(nil)
