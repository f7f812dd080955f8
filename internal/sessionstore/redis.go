package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentrelay/internal/cache"
	"github.com/BaSui01/agentrelay/router"
)

// RedisStore keeps one JSON snapshot per key. Expiry is delegated to Redis
// and refreshed on every Save.
type RedisStore struct {
	cache     *cache.Manager
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore wraps a connected cache manager. ttl <= 0 disables expiry.
func NewRedisStore(m *cache.Manager, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "agentrelay:session:"
	}
	return &RedisStore{cache: m, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

// Load returns the snapshot of sessionID.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (router.Snapshot, error) {
	var snap router.Snapshot
	if err := s.cache.GetJSON(ctx, s.key(sessionID), &snap); err != nil {
		return router.Snapshot{}, mapCacheError(err)
	}
	return snap, nil
}

// Save writes the snapshot and resets its expiry.
func (s *RedisStore) Save(ctx context.Context, sessionID string, snap router.Snapshot) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	ttl := s.ttl
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return mapCacheError(s.cache.SetJSON(ctx, s.key(sessionID), snap, ttl))
}

// Delete removes sessionID.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.cache.Delete(ctx, s.key(sessionID))
	return mapCacheError(err)
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return mapCacheError(s.cache.Ping(ctx))
}

// Close closes the underlying cache manager.
func (s *RedisStore) Close() error {
	return s.cache.Close()
}

func mapCacheError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cache.ErrCacheMiss):
		return ErrNotFound
	case errors.Is(err, cache.ErrClosed):
		return ErrStoreClosed
	default:
		return fmt.Errorf("redis session store: %w", err)
	}
}
