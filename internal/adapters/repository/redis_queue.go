// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

// Ensure RedisQueueStore implements QueueStore
var _ ports.QueueStore = (*RedisQueueStore)(nil)

const queueCASRetries = 5

// RedisQueueStore keeps one round-robin queue per inbox as a serialized ID
// list. Every mutation runs inside an optimistic WATCH/MULTI transaction and
// is retried on conflict, so two workers racing on the same inbox cannot
// corrupt the rotation order.
type RedisQueueStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisQueueStore creates a queue store. ttl bounds how long an idle
// queue survives before the next call rebuilds it from the eligible set.
func NewRedisQueueStore(client *redis.Client, ttl time.Duration) *RedisQueueStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisQueueStore{
		client: client,
		ttl:    ttl,
	}
}

// Next picks and rotates the next assignee. The selection algorithm is
// domain.RotationPick; this adapter only makes it atomic.
func (s *RedisQueueStore) Next(ctx context.Context, inboxID int64, eligible, allowed []int64) (int64, bool, error) {
	key := queueKey(inboxID)

	var picked int64
	var found bool

	err := s.withCAS(ctx, key, func(tx *redis.Tx) error {
		queue, err := s.readQueue(ctx, tx, key)
		if err != nil {
			return err
		}

		id, next, rebuilt, ok := domain.RotationPick(queue, eligible, allowed)
		picked, found = id, ok

		if !ok && !rebuilt {
			// Nothing changed; skip the write but keep the WATCH so a
			// concurrent rebuild still invalidates us
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return nil
			})
			return err
		}

		return s.writeQueue(ctx, tx, key, next)
	})
	if err != nil {
		return 0, false, fmt.Errorf("queue next (inbox %d): %w", inboxID, err)
	}

	return picked, found, nil
}

// Add appends an agent to the tail; no-op if already queued
func (s *RedisQueueStore) Add(ctx context.Context, inboxID, agentID int64) error {
	key := queueKey(inboxID)

	err := s.withCAS(ctx, key, func(tx *redis.Tx) error {
		queue, err := s.readQueue(ctx, tx, key)
		if err != nil {
			return err
		}
		for _, id := range queue {
			if id == agentID {
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					return nil
				})
				return err
			}
		}
		return s.writeQueue(ctx, tx, key, append(queue, agentID))
	})
	if err != nil {
		return fmt.Errorf("queue add (inbox %d, agent %d): %w", inboxID, agentID, err)
	}
	return nil
}

// Remove drops an agent; no-op if absent
func (s *RedisQueueStore) Remove(ctx context.Context, inboxID, agentID int64) error {
	key := queueKey(inboxID)

	err := s.withCAS(ctx, key, func(tx *redis.Tx) error {
		queue, err := s.readQueue(ctx, tx, key)
		if err != nil {
			return err
		}
		next := make([]int64, 0, len(queue))
		for _, id := range queue {
			if id != agentID {
				next = append(next, id)
			}
		}
		if len(next) == len(queue) {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return nil
			})
			return err
		}
		return s.writeQueue(ctx, tx, key, next)
	})
	if err != nil {
		return fmt.Errorf("queue remove (inbox %d, agent %d): %w", inboxID, agentID, err)
	}
	return nil
}

// Reset replaces the queue atomically
func (s *RedisQueueStore) Reset(ctx context.Context, inboxID int64, memberIDs []int64) error {
	raw, err := json.Marshal(memberIDs)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := s.client.Set(ctx, queueKey(inboxID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("queue reset (inbox %d): %w", inboxID, err)
	}
	return nil
}

// Snapshot returns the current order without mutating it
func (s *RedisQueueStore) Snapshot(ctx context.Context, inboxID int64) ([]int64, error) {
	raw, err := s.client.Get(ctx, queueKey(inboxID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue snapshot (inbox %d): %w", inboxID, err)
	}
	var queue []int64
	if err := json.Unmarshal(raw, &queue); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return queue, nil
}

// withCAS runs fn inside WATCH on key, retrying on optimistic conflicts.
// Conflicts are expected under concurrency and never surface to callers
// until the retry budget runs out.
func (s *RedisQueueStore) withCAS(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	var err error
	for attempt := 0; attempt < queueCASRetries; attempt++ {
		err = s.client.Watch(ctx, fn, key)
		if err != redis.TxFailedErr {
			return err
		}
		slog.Debug("Queue CAS conflict, retrying",
			"key", key,
			"attempt", attempt+1,
		)
	}
	return fmt.Errorf("queue CAS exhausted after %d attempts: %w", queueCASRetries, err)
}

func (s *RedisQueueStore) readQueue(ctx context.Context, tx *redis.Tx, key string) ([]int64, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var queue []int64
	if err := json.Unmarshal(raw, &queue); err != nil {
		// A corrupt value is treated as drift; RotationPick rebuilds
		slog.Warn("Corrupt queue value, rebuilding",
			"key", key,
			"error", err,
		)
		return nil, nil
	}
	return queue, nil
}

func (s *RedisQueueStore) writeQueue(ctx context.Context, tx *redis.Tx, key string, queue []int64) error {
	raw, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, s.ttl)
		return nil
	})
	return err
}

// queueKey constructs the Redis key for an inbox's rotation queue
func queueKey(inboxID int64) string {
	return fmt.Sprintf("dispatch:queue:%d", inboxID)
}
