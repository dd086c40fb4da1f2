// Package domain contains core business entities
package domain

import "time"

// Event names dispatched through the in-process event bus. Stable: connected
// consoles and widget streams key off these strings.
const (
	EventConversationCreated  = "conversation.created"
	EventConversationUpdated  = "conversation.updated"
	EventConversationOpened   = "conversation.opened"
	EventConversationResolved = "conversation.resolved"
	EventConversationClosed   = "conversation.closed"
	EventAssigneeChanged      = "assignee.changed"
	EventMessageCreated       = "message.created"
	EventMessageUpdated       = "message.updated"
	EventFirstReplyCreated    = "first_reply.created"
	EventAgentStatusChanged   = "agent.status_changed"
)

// Event is one domain occurrence fanned out by the dispatcher.
// Payload is one of the typed payloads below.
type Event struct {
	Name    string      `json:"name"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

// AssigneeChangedPayload describes an assignment or reassignment.
// OldAgentID is nil for the initial assignment.
type AssigneeChangedPayload struct {
	ConversationID int64      `json:"conversation_id"`
	InboxID        int64      `json:"inbox_id"`
	OldAgentID     *int64     `json:"old_agent_id,omitempty"`
	NewAgentID     int64      `json:"new_agent_id"`
	AssignedAt     time.Time  `json:"assigned_at"`
	Escalated      bool       `json:"escalated"`
}

// MessageCreatedPayload carries the persisted message
type MessageCreatedPayload struct {
	Message *Message `json:"message"`
	InboxID int64    `json:"inbox_id"`
}

// ConversationPayload carries lifecycle transitions
type ConversationPayload struct {
	Conversation *Conversation `json:"conversation"`
}

// AgentStatusChangedPayload carries presence transitions
type AgentStatusChangedPayload struct {
	AgentID int64          `json:"agent_id"`
	Status  PresenceStatus `json:"status"`
}
