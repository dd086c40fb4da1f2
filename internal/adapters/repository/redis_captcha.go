// Package repository implements data persistence adapters
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

// Ensure implementations satisfy their ports
var (
	_ ports.CaptchaStore = (*RedisCaptchaStore)(nil)
	_ ports.AbuseGuard   = (*RedisAbuseGuard)(nil)
)

// RedisCaptchaStore keeps short-lived arithmetic challenges. The answer
// never leaves the server; the widget only sees the prompt and token.
type RedisCaptchaStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCaptchaStore creates a captcha store with the given challenge TTL
func NewRedisCaptchaStore(client *redis.Client, ttl time.Duration) *RedisCaptchaStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCaptchaStore{
		client: client,
		ttl:    ttl,
	}
}

// challengeRecord is the server-side half of a challenge
type challengeRecord struct {
	Answer   string `json:"answer"`
	ClientIP string `json:"client_ip"`
}

// Create issues a challenge bound to the client IP
func (s *RedisCaptchaStore) Create(ctx context.Context, clientIP string) (*domain.CaptchaChallenge, error) {
	a, b := rand.Intn(9)+1, rand.Intn(9)+1

	challenge := &domain.CaptchaChallenge{
		Token:     uuid.NewString(),
		Prompt:    fmt.Sprintf("What is %d + %d?", a, b),
		Answer:    strconv.Itoa(a + b),
		ClientIP:  clientIP,
		CreatedAt: time.Now(),
	}

	raw, err := json.Marshal(challengeRecord{
		Answer:   challenge.Answer,
		ClientIP: clientIP,
	})
	if err != nil {
		return nil, fmt.Errorf("encode challenge: %w", err)
	}

	if err := s.client.Set(ctx, captchaKey(challenge.Token), raw, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	return challenge, nil
}

// Verify checks the answer and consumes the challenge on success. A wrong
// answer leaves the challenge in place until its TTL.
func (s *RedisCaptchaStore) Verify(ctx context.Context, token, answer string) (bool, error) {
	raw, err := s.client.Get(ctx, captchaKey(token)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get challenge: %w", err)
	}

	var rec challengeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false, fmt.Errorf("decode challenge: %w", err)
	}

	if strings.TrimSpace(answer) != rec.Answer {
		return false, nil
	}

	// Consume on success only
	if err := s.client.Del(ctx, captchaKey(token)).Err(); err != nil {
		slog.Warn("Failed to consume solved challenge",
			"error", err,
			"token", token,
		)
	}
	return true, nil
}

// captchaKey constructs the Redis key for a challenge
func captchaKey(token string) string {
	return "widget:captcha:" + token
}

// RedisAbuseGuard tracks request velocity per client IP with a fixed-window
// counter.
//
// Fails CLOSED: when the store is unreachable, the caller is treated as
// throttled and the failure is logged at error severity. Availability is
// traded for abuse resistance here; the assignment rate limiter makes the
// opposite trade.
type RedisAbuseGuard struct {
	client    *redis.Client
	threshold int64
	window    time.Duration
}

// NewRedisAbuseGuard creates a guard with the given velocity threshold
func NewRedisAbuseGuard(client *redis.Client, threshold int64, window time.Duration) *RedisAbuseGuard {
	if threshold <= 0 {
		threshold = 30
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &RedisAbuseGuard{
		client:    client,
		threshold: threshold,
		window:    window,
	}
}

// Hit records one request and reports whether the caller is over threshold
func (g *RedisAbuseGuard) Hit(ctx context.Context, clientIP string) (bool, error) {
	key := abuseKey(clientIP)

	count, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		slog.Error("Abuse counter unavailable, failing closed",
			"error", err,
			"client_ip", clientIP,
			"policy", "fail-closed",
		)
		return true, nil
	}

	if count == 1 {
		if err := g.client.Expire(ctx, key, g.window).Err(); err != nil {
			slog.Error("Failed to set abuse counter TTL",
				"error", err,
				"client_ip", clientIP,
			)
		}
	}

	return count > g.threshold, nil
}

// abuseKey constructs the Redis key for an IP's velocity counter
func abuseKey(clientIP string) string {
	return "widget:abuse:" + clientIP
}
