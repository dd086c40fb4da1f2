// Package repository implements data persistence adapters
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

// Ensure RedisSessionStore implements SessionStore
var _ ports.SessionStore = (*RedisSessionStore)(nil)

const sessionCASRetries = 5

// RedisSessionStore keeps widget sessions in Redis with an inactivity TTL.
// Two keys per session: the session record keyed by token, and a reference
// key per (inbox, contact) pair so bootstrap reuses live sessions. Flag and
// cursor mutations run inside WATCH transactions since concurrent sends and
// polls touch the same record.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a session store with the given idle TTL
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{
		client: client,
		ttl:    ttl,
	}
}

// FindOrCreate reuses the live session for (inbox, contact) or mints a new
// opaque token
func (s *RedisSessionStore) FindOrCreate(ctx context.Context, inboxID, contactID int64) (*domain.WidgetSession, error) {
	refKey := sessionRefKey(inboxID, contactID)

	token, err := s.client.Get(ctx, refKey).Result()
	if err == nil {
		sess, err := s.Get(ctx, token)
		if err == nil {
			return sess, nil
		}
		if err != ports.ErrSessionNotFound {
			return nil, err
		}
		// Reference outlived the session record; fall through to create
	} else if err != redis.Nil {
		return nil, fmt.Errorf("lookup session reference: %w", err)
	}

	sess := &domain.WidgetSession{
		Token:     uuid.NewString(),
		InboxID:   inboxID,
		ContactID: contactID,
		CreatedAt: time.Now(),
	}

	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, refKey, sess.Token, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store session reference: %w", err)
	}

	slog.Debug("Widget session created",
		"inbox_id", inboxID,
		"contact_id", contactID,
	)

	return sess, nil
}

// Get validates a token and refreshes the inactivity TTL
func (s *RedisSessionStore) Get(ctx context.Context, token string) (*domain.WidgetSession, error) {
	raw, err := s.client.GetEx(ctx, sessionKey(token), s.ttl).Bytes()
	if err == redis.Nil {
		return nil, ports.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess domain.WidgetSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// RequireCaptcha flags the session as blocked behind a challenge
func (s *RedisSessionStore) RequireCaptcha(ctx context.Context, token string) error {
	return s.mutate(ctx, token, func(sess *domain.WidgetSession) {
		sess.CaptchaRequired = true
	})
}

// MarkCaptchaPassed clears the gate for the rest of the session
func (s *RedisSessionStore) MarkCaptchaPassed(ctx context.Context, token string) error {
	return s.mutate(ctx, token, func(sess *domain.WidgetSession) {
		sess.CaptchaPassed = true
	})
}

// AdvanceCursor moves the poll watermark forward; never backward
func (s *RedisSessionStore) AdvanceCursor(ctx context.Context, token string, sinceID int64) error {
	return s.mutate(ctx, token, func(sess *domain.WidgetSession) {
		if sinceID > sess.SinceID {
			sess.SinceID = sinceID
		}
	})
}

// mutate applies fn to the session record inside an optimistic transaction
func (s *RedisSessionStore) mutate(ctx context.Context, token string, fn func(*domain.WidgetSession)) error {
	key := sessionKey(token)

	var err error
	for attempt := 0; attempt < sessionCASRetries; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ports.ErrSessionNotFound
			}
			if err != nil {
				return err
			}

			var sess domain.WidgetSession
			if err := json.Unmarshal(raw, &sess); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}

			fn(&sess)

			out, err := json.Marshal(&sess)
			if err != nil {
				return fmt.Errorf("encode session: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, s.ttl)
				return nil
			})
			return err
		}, key)

		if err != redis.TxFailedErr {
			break
		}
	}
	if err == ports.ErrSessionNotFound {
		return err
	}
	if err != nil {
		return fmt.Errorf("mutate session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) put(ctx context.Context, sess *domain.WidgetSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.Token), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// sessionKey constructs the Redis key for a session record
func sessionKey(token string) string {
	return "widget:sess:" + token
}

// sessionRefKey maps (inbox, contact) to its live session token
func sessionRefKey(inboxID, contactID int64) string {
	return fmt.Sprintf("widget:sessref:%d:%d", inboxID, contactID)
}
