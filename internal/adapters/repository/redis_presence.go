// Package repository implements data persistence adapters
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

// Ensure RedisPresenceStore implements PresenceStore
var _ ports.PresenceStore = (*RedisPresenceStore)(nil)

// RedisPresenceStore caches agent availability with a short TTL. The agent
// profile record stays the record of truth; the presence service falls back
// to it on cache misses.
type RedisPresenceStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresenceStore creates a presence cache
func NewRedisPresenceStore(client *redis.Client, ttl time.Duration) *RedisPresenceStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisPresenceStore{
		client: client,
		ttl:    ttl,
	}
}

// Get returns the cached status for one agent
func (s *RedisPresenceStore) Get(ctx context.Context, agentID int64) (domain.PresenceStatus, bool, error) {
	val, err := s.client.Get(ctx, presenceKey(agentID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get presence: %w", err)
	}

	status := domain.PresenceStatus(val)
	if !status.Valid() {
		return "", false, nil
	}
	return status, true, nil
}

// Set caches the status with the configured TTL
func (s *RedisPresenceStore) Set(ctx context.Context, agentID int64, status domain.PresenceStatus) error {
	if err := s.client.Set(ctx, presenceKey(agentID), string(status), s.ttl).Err(); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// GetMany resolves several agents in one MGET round trip
func (s *RedisPresenceStore) GetMany(ctx context.Context, agentIDs []int64) (map[int64]domain.PresenceStatus, error) {
	if len(agentIDs) == 0 {
		return map[int64]domain.PresenceStatus{}, nil
	}

	keys := make([]string, len(agentIDs))
	for i, id := range agentIDs {
		keys[i] = presenceKey(id)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget presence: %w", err)
	}

	result := make(map[int64]domain.PresenceStatus, len(agentIDs))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // cache miss
		}
		status := domain.PresenceStatus(raw)
		if status.Valid() {
			result[agentIDs[i]] = status
		}
	}
	return result, nil
}

// presenceKey constructs the Redis key for an agent's cached status
func presenceKey(agentID int64) string {
	return fmt.Sprintf("dispatch:presence:%d", agentID)
}
