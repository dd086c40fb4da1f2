// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"errors"
	"time"

	"livechat-core/internal/core/domain"
)

// ErrNotFound is returned by repositories when a record does not exist
var ErrNotFound = errors.New("record not found")

// InboxRepository reads inbox configuration (record of truth).
// The dispatch core never writes inboxes.
type InboxRepository interface {
	// GetByWidgetToken resolves the inbox a widget request belongs to
	GetByWidgetToken(ctx context.Context, widgetToken string) (*domain.Inbox, error)

	// GetInbox retrieves an inbox by its database ID
	GetInbox(ctx context.Context, id int64) (*domain.Inbox, error)

	// ListMemberIDs returns the IDs of agents in the inbox pool,
	// ascending by ID
	ListMemberIDs(ctx context.Context, inboxID int64) ([]int64, error)
}

// AgentRepository reads/writes the externally-owned agent profile record.
// Used as the presence cache fallback and for branch rosters.
type AgentRepository interface {
	GetAgent(ctx context.Context, id int64) (*domain.Agent, error)

	// UpdateAgentStatus writes presence through to the profile record
	UpdateAgentStatus(ctx context.Context, id int64, status domain.PresenceStatus) error

	// ListAgentsByBranch returns all agents of a branch; branchID nil means all
	ListAgentsByBranch(ctx context.Context, branchID *int64) ([]domain.Agent, error)
}

// ContactRepository handles visitor identity linkage
type ContactRepository interface {
	// GetOrCreateByExternalID resolves the contact a widget session binds to,
	// creating it on first sight
	GetOrCreateByExternalID(ctx context.Context, inboxID int64, externalID string) (*domain.Contact, error)
}

// ConversationRepository handles the conversation fields the dispatch core
// owns: assignee, assignment timestamps, and status transitions.
type ConversationRepository interface {
	GetConversation(ctx context.Context, id int64) (*domain.Conversation, error)

	// FindOpen returns the live (open or pending) conversation for
	// (inbox, contact); ErrNotFound when there is none
	FindOpen(ctx context.Context, inboxID, contactID int64) (*domain.Conversation, error)

	// GetOrCreateOpen returns the live conversation for (inbox, contact),
	// creating one when none exists. created reports a fresh row.
	GetOrCreateOpen(ctx context.Context, inboxID, contactID int64) (conv *domain.Conversation, created bool, err error)

	// Assign sets the assignee unconditionally (initial assignment)
	Assign(ctx context.Context, conversationID, agentID int64, at time.Time) error

	// ReassignIf commits a new assignee only when the current assignee still
	// matches fromAgentID (optimistic check for overlapping scanner runs).
	// Returns false when the row was not updated.
	ReassignIf(ctx context.Context, conversationID, fromAgentID, toAgentID int64, at time.Time) (bool, error)

	// FindStaleAssigned returns conversations that are open, assigned, not
	// yet replied to by the assignee, and assigned before cutoff
	FindStaleAssigned(ctx context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error)

	// UpdateConversationStatus performs a lifecycle transition
	UpdateConversationStatus(ctx context.Context, conversationID int64, status string) error

	// SetFirstReplyAt records the first agent reply time; no-op when set
	SetFirstReplyAt(ctx context.Context, conversationID int64, at time.Time) (bool, error)
}

// MessageRepository handles message persistence
type MessageRepository interface {
	// Save persists the message and returns its assigned ID
	Save(ctx context.Context, msg *domain.Message) (int64, error)

	// ListVisibleSince returns visitor-visible messages (direction "out")
	// of the conversation with ID > sinceID, ascending by ID
	ListVisibleSince(ctx context.Context, conversationID, sinceID int64, limit int) ([]domain.Message, error)
}
