// Package ports defines interfaces for dependency inversion
package ports

import (
	"context"
	"errors"

	"livechat-core/internal/core/domain"
)

// ErrSessionNotFound reports an expired or unknown widget session token
var ErrSessionNotFound = errors.New("widget session not found or expired")

// QueueStore is the per-inbox round-robin queue in the shared store.
// Every mutation is a single atomic read-modify-write; implementations
// retry on optimistic conflicts.
type QueueStore interface {
	// Next validates the queue against eligible (rebuilding on drift),
	// picks the first queued agent in allowed, and rotates it to the tail
	// of the full queue. ok is false when no allowed agent is queued.
	Next(ctx context.Context, inboxID int64, eligible, allowed []int64) (agentID int64, ok bool, err error)

	// Add appends an agent; no-op if already queued
	Add(ctx context.Context, inboxID, agentID int64) error

	// Remove drops an agent; no-op if absent
	Remove(ctx context.Context, inboxID, agentID int64) error

	// Reset replaces the queue atomically
	Reset(ctx context.Context, inboxID int64, memberIDs []int64) error

	// Snapshot returns the current queue order without mutating it
	Snapshot(ctx context.Context, inboxID int64) ([]int64, error)
}

// RateLimiter bounds new assignments per agent within a fixed window.
// CheckLimit is advisory: it does not mutate state, so check-then-act call
// sites must still tolerate slight overshoot under races.
//
// Failure policy: implementations fail OPEN on store unavailability — an
// assignment is allowed rather than blocked — and log at error severity.
type RateLimiter interface {
	CheckLimit(ctx context.Context, agentID int64) (bool, error)
	Increment(ctx context.Context, agentID int64) error
	Reset(ctx context.Context, agentID int64) error
}

// PresenceStore is the TTL presence cache in the shared store. It holds
// cached availability only; the profile record stays the record of truth.
type PresenceStore interface {
	// Get returns the cached status; found is false on cache miss
	Get(ctx context.Context, agentID int64) (status domain.PresenceStatus, found bool, err error)

	Set(ctx context.Context, agentID int64, status domain.PresenceStatus) error

	// GetMany resolves several agents in one round trip; missing agents
	// are absent from the result map
	GetMany(ctx context.Context, agentIDs []int64) (map[int64]domain.PresenceStatus, error)
}

// SessionStore manages widget sessions in the shared store with an
// inactivity TTL refreshed on every touch.
type SessionStore interface {
	// FindOrCreate reuses the live session for (inbox, contact) or creates
	// a fresh one with a new opaque token
	FindOrCreate(ctx context.Context, inboxID, contactID int64) (*domain.WidgetSession, error)

	// Get validates a session token; returns ErrSessionNotFound when the
	// token is unknown or expired
	Get(ctx context.Context, token string) (*domain.WidgetSession, error)

	// RequireCaptcha flags the session as blocked behind an outstanding
	// challenge
	RequireCaptcha(ctx context.Context, token string) error

	// MarkCaptchaPassed flips the captcha flag so later sends skip the gate
	MarkCaptchaPassed(ctx context.Context, token string) error

	// AdvanceCursor moves the poll watermark forward; never backward
	AdvanceCursor(ctx context.Context, token string, sinceID int64) error
}

// CaptchaStore manages short-lived challenge/answer pairs
type CaptchaStore interface {
	// Create issues a challenge bound to the client IP
	Create(ctx context.Context, clientIP string) (*domain.CaptchaChallenge, error)

	// Verify consumes the challenge on success; a wrong answer leaves the
	// challenge in place until its TTL
	Verify(ctx context.Context, token, answer string) (bool, error)
}

// AbuseGuard tracks request velocity per client IP for the captcha
// heuristic.
//
// Failure policy: implementations fail CLOSED on store unavailability —
// the caller is treated as throttled — and log at error severity. The
// asymmetry with RateLimiter is intentional (abuse resistance over
// availability).
type AbuseGuard interface {
	// Hit records one request and reports whether the caller is over the
	// velocity threshold
	Hit(ctx context.Context, clientIP string) (throttled bool, err error)
}

// Listener receives dispatched events. Failures must be contained by the
// bus, never propagated to the dispatching caller.
type Listener func(ctx context.Context, evt domain.Event)

// EventBus is the in-process publish/subscribe hub. It is not a durable
// log: listeners registered after an event fires never see it.
type EventBus interface {
	// Subscribe registers a synchronous listener, invoked in registration
	// order at dispatch time, before Dispatch returns
	Subscribe(eventName string, l Listener)

	// SubscribeAsync registers a deferred listener, invoked only for
	// events dispatched with DispatchAsync
	SubscribeAsync(eventName string, l Listener)

	// Dispatch delivers to synchronous listeners only
	Dispatch(ctx context.Context, evt domain.Event)

	// DispatchAsync delivers to synchronous listeners, then hands the
	// event to the background worker for asynchronous listeners
	DispatchAsync(ctx context.Context, evt domain.Event)
}
