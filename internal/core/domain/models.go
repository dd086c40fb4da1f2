// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"errors"
	"time"
)

// Inbox is a single chat channel (one widget) scoped to a branch.
// Read-mostly from the dispatch core's perspective: the member pool and
// allowlist are owned by inbox configuration.
type Inbox struct {
	ID             int64     `json:"id" db:"id"`
	BranchID       int64     `json:"branch_id" db:"branch_id"`
	Name           string    `json:"name" db:"name"`
	WidgetToken    string    `json:"widget_token" db:"widget_token"`
	AllowedDomains []string  `json:"allowed_domains" db:"allowed_domains"` // JSON field
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// PresenceStatus is an agent's current availability state
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// Valid reports whether s is one of the known presence states
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceBusy, PresenceOffline:
		return true
	}
	return false
}

// Agent is a human operator. Identity is owned externally; the dispatch core
// only reads the profile status as the presence cache fallback.
type Agent struct {
	ID       int64          `json:"id" db:"id"`
	BranchID *int64         `json:"branch_id,omitempty" db:"branch_id"`
	Name     string         `json:"name" db:"name"`
	Status   PresenceStatus `json:"status" db:"status"`
}

// ConversationStatus constants for the conversation lifecycle
const (
	ConversationStatusOpen     = "open"
	ConversationStatusPending  = "pending"
	ConversationStatusResolved = "resolved"
	ConversationStatusClosed   = "closed"
)

// Conversation is a chat thread between one Contact and one Inbox.
// The dispatch core mutates assignee and status transitions only.
type Conversation struct {
	ID           int64      `json:"id" db:"id"`
	InboxID      int64      `json:"inbox_id" db:"inbox_id"`
	ContactID    int64      `json:"contact_id" db:"contact_id"`
	Status       string     `json:"status" db:"status"` // "open", "pending", "resolved", "closed"
	AssigneeID   *int64     `json:"assignee_id,omitempty" db:"assignee_id"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty" db:"assigned_at"`
	WaitingSince *time.Time `json:"waiting_since,omitempty" db:"waiting_since"`
	FirstReplyAt *time.Time `json:"first_reply_at,omitempty" db:"first_reply_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Assigned reports whether the conversation currently has an assignee
func (c *Conversation) Assigned() bool {
	return c.AssigneeID != nil
}

// Contact is an anonymous or identified visitor, keyed by the
// widget-generated external identifier.
type Contact struct {
	ID         int64     `json:"id" db:"id"`
	InboxID    int64     `json:"inbox_id" db:"inbox_id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	Name       *string   `json:"name,omitempty" db:"name"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// MessageDirection constants
const (
	DirectionIn       = "in"       // visitor -> agent
	DirectionOut      = "out"      // agent -> visitor
	DirectionInternal = "internal" // agent-only note, never delivered to the visitor
)

// Message sender invariant violations
var (
	ErrInboundAgentSender    = errors.New("inbound message must not carry an agent sender")
	ErrOutboundContactSender = errors.New("outbound message must not carry a contact sender")
	ErrMissingSender         = errors.New("message must carry exactly one sender")
)

// Message belongs to a Conversation. The sender is either a Contact (for
// direction "in") or an Agent (for "out"/"internal"), never both.
type Message struct {
	ID              int64     `json:"id" db:"id"`
	ConversationID  int64     `json:"conversation_id" db:"conversation_id"`
	Direction       string    `json:"direction" db:"direction"` // "in", "out", "internal"
	SenderContactID *int64    `json:"sender_contact_id,omitempty" db:"sender_contact_id"`
	SenderAgentID   *int64    `json:"sender_agent_id,omitempty" db:"sender_agent_id"`
	Body            string    `json:"body" db:"body"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Validate enforces the direction/sender invariant
func (m *Message) Validate() error {
	switch m.Direction {
	case DirectionIn:
		if m.SenderAgentID != nil {
			return ErrInboundAgentSender
		}
		if m.SenderContactID == nil {
			return ErrMissingSender
		}
	case DirectionOut, DirectionInternal:
		if m.SenderContactID != nil {
			return ErrOutboundContactSender
		}
		if m.SenderAgentID == nil {
			return ErrMissingSender
		}
	default:
		return errors.New("unknown message direction: " + m.Direction)
	}
	return nil
}

// NewInboundMessage builds a visitor message, enforcing the sender invariant
func NewInboundMessage(conversationID, contactID int64, body string) (*Message, error) {
	m := &Message{
		ConversationID:  conversationID,
		Direction:       DirectionIn,
		SenderContactID: &contactID,
		Body:            body,
		CreatedAt:       time.Now(),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewAgentMessage builds an agent reply or internal note
func NewAgentMessage(conversationID, agentID int64, direction, body string) (*Message, error) {
	m := &Message{
		ConversationID: conversationID,
		Direction:      direction,
		SenderAgentID:  &agentID,
		Body:           body,
		CreatedAt:      time.Now(),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// WidgetSession is the opaque continuity token for one (Inbox, Contact) pair.
// Lifecycle: new -> active -> expired (expiry enforced by the store TTL).
type WidgetSession struct {
	Token           string    `json:"token"`
	InboxID         int64     `json:"inbox_id"`
	ContactID       int64     `json:"contact_id"`
	SinceID         int64     `json:"since_id"` // poll cursor watermark
	CaptchaRequired bool      `json:"captcha_required"`
	CaptchaPassed   bool      `json:"captcha_passed"`
	CreatedAt       time.Time `json:"created_at"`
}

// CaptchaChallenge is a short-lived token/answer pair issued when abuse
// heuristics trigger. The answer stays server-side; only the prompt ships
// to the client.
type CaptchaChallenge struct {
	Token     string    `json:"token"`
	Prompt    string    `json:"prompt"`
	Answer    string    `json:"-"`
	ClientIP  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
