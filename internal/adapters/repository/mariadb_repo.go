// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

// Ensure MariaDBRepository implements the required interfaces
var (
	_ ports.InboxRepository        = (*MariaDBRepository)(nil)
	_ ports.AgentRepository        = (*MariaDBRepository)(nil)
	_ ports.ContactRepository      = (*MariaDBRepository)(nil)
	_ ports.ConversationRepository = (*MariaDBRepository)(nil)
	_ ports.MessageRepository      = (*MariaDBRepository)(nil)
)

// MariaDBRepository implements the relational record of truth: inboxes,
// agents, contacts, conversations, and messages. Queue/presence/session
// state lives in the shared store, not here.
type MariaDBRepository struct {
	db *sql.DB
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB) *MariaDBRepository {
	return &MariaDBRepository{
		db: db,
	}
}

// ============================================================================
// InboxRepository Implementation
// ============================================================================

// GetByWidgetToken resolves the inbox a widget request belongs to
func (r *MariaDBRepository) GetByWidgetToken(ctx context.Context, widgetToken string) (*domain.Inbox, error) {
	query := `
		SELECT id, branch_id, name, widget_token, allowed_domains, created_at
		FROM inboxes
		WHERE widget_token = ?
	`
	return r.scanInbox(r.db.QueryRowContext(ctx, query, widgetToken))
}

// GetInbox retrieves an inbox by its database ID
func (r *MariaDBRepository) GetInbox(ctx context.Context, id int64) (*domain.Inbox, error) {
	query := `
		SELECT id, branch_id, name, widget_token, allowed_domains, created_at
		FROM inboxes
		WHERE id = ?
	`
	return r.scanInbox(r.db.QueryRowContext(ctx, query, id))
}

// ListMemberIDs returns the inbox pool in ascending agent ID order
func (r *MariaDBRepository) ListMemberIDs(ctx context.Context, inboxID int64) ([]int64, error) {
	query := `
		SELECT agent_id
		FROM inbox_members
		WHERE inbox_id = ?
		ORDER BY agent_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, inboxID)
	if err != nil {
		slog.Error("Failed to list inbox members",
			"error", err,
			"inbox_id", inboxID,
		)
		return nil, fmt.Errorf("list inbox members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MariaDBRepository) scanInbox(row *sql.Row) (*domain.Inbox, error) {
	var inbox domain.Inbox
	var allowedRaw []byte

	err := row.Scan(
		&inbox.ID,
		&inbox.BranchID,
		&inbox.Name,
		&inbox.WidgetToken,
		&allowedRaw,
		&inbox.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan inbox: %w", err)
	}

	if len(allowedRaw) > 0 {
		if err := json.Unmarshal(allowedRaw, &inbox.AllowedDomains); err != nil {
			slog.Warn("Corrupt allowed_domains JSON, treating as empty",
				"error", err,
				"inbox_id", inbox.ID,
			)
		}
	}
	return &inbox, nil
}

// ============================================================================
// AgentRepository Implementation
// ============================================================================

// GetAgent retrieves an agent's profile record
func (r *MariaDBRepository) GetAgent(ctx context.Context, id int64) (*domain.Agent, error) {
	query := `
		SELECT id, branch_id, name, status
		FROM agents
		WHERE id = ?
	`

	var agent domain.Agent
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&agent.ID,
		&agent.BranchID,
		&agent.Name,
		&agent.Status,
	)
	if err == sql.ErrNoRows {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &agent, nil
}

// UpdateAgentStatus writes presence through to the profile record
func (r *MariaDBRepository) UpdateAgentStatus(ctx context.Context, id int64, status domain.PresenceStatus) error {
	query := `
		UPDATE agents
		SET status = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		slog.Error("Failed to update agent status",
			"error", err,
			"agent_id", id,
			"status", status,
		)
		return fmt.Errorf("update agent status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// ListAgentsByBranch returns all agents of a branch; branchID nil means all
func (r *MariaDBRepository) ListAgentsByBranch(ctx context.Context, branchID *int64) ([]domain.Agent, error) {
	query := `
		SELECT id, branch_id, name, status
		FROM agents
	`
	var args []interface{}
	if branchID != nil {
		query += ` WHERE branch_id = ?`
		args = append(args, *branchID)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.BranchID, &a.Name, &a.Status); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ============================================================================
// ContactRepository Implementation
// ============================================================================

// GetOrCreateByExternalID resolves a contact, creating it on first sight.
// Uses the LAST_INSERT_ID upsert idiom so racing bootstraps converge on one
// row per (inbox, external_id).
func (r *MariaDBRepository) GetOrCreateByExternalID(ctx context.Context, inboxID int64, externalID string) (*domain.Contact, error) {
	upsert := `
		INSERT INTO contacts (inbox_id, external_id, created_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)
	`

	result, err := r.db.ExecContext(ctx, upsert, inboxID, externalID, time.Now())
	if err != nil {
		slog.Error("Failed to upsert contact",
			"error", err,
			"inbox_id", inboxID,
			"external_id", externalID,
		)
		return nil, fmt.Errorf("upsert contact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("contact insert id: %w", err)
	}

	query := `
		SELECT id, inbox_id, external_id, name, created_at
		FROM contacts
		WHERE id = ?
	`

	var c domain.Contact
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.InboxID,
		&c.ExternalID,
		&c.Name,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

// ============================================================================
// ConversationRepository Implementation
// ============================================================================

const conversationColumns = `
	id, inbox_id, contact_id, status, assignee_id, assigned_at,
	waiting_since, first_reply_at, created_at, updated_at
`

// GetConversation retrieves a conversation by its database ID
func (r *MariaDBRepository) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	return scanConversation(r.db.QueryRowContext(ctx, query, id))
}

// FindOpen returns the live conversation for (inbox, contact)
func (r *MariaDBRepository) FindOpen(ctx context.Context, inboxID, contactID int64) (*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE inbox_id = ? AND contact_id = ? AND status IN ('open', 'pending')
		ORDER BY id DESC
		LIMIT 1
	`
	return scanConversation(r.db.QueryRowContext(ctx, query, inboxID, contactID))
}

// GetOrCreateOpen returns the live conversation, creating one when none
// exists
func (r *MariaDBRepository) GetOrCreateOpen(ctx context.Context, inboxID, contactID int64) (*domain.Conversation, bool, error) {
	conv, err := r.FindOpen(ctx, inboxID, contactID)
	if err == nil {
		return conv, false, nil
	}
	if err != ports.ErrNotFound {
		return nil, false, err
	}

	now := time.Now()
	insert := `
		INSERT INTO conversations (inbox_id, contact_id, status, waiting_since, created_at)
		VALUES (?, ?, 'open', ?, ?)
	`

	result, err := r.db.ExecContext(ctx, insert, inboxID, contactID, now, now)
	if err != nil {
		slog.Error("Failed to create conversation",
			"error", err,
			"inbox_id", inboxID,
			"contact_id", contactID,
		)
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("conversation insert id: %w", err)
	}

	conv, err = r.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// Assign sets the assignee unconditionally (initial assignment)
func (r *MariaDBRepository) Assign(ctx context.Context, conversationID, agentID int64, at time.Time) error {
	query := `
		UPDATE conversations
		SET assignee_id = ?, assigned_at = ?, waiting_since = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query, agentID, at, at, at, conversationID)
	if err != nil {
		slog.Error("Failed to assign conversation",
			"error", err,
			"conversation_id", conversationID,
			"agent_id", agentID,
		)
		return fmt.Errorf("assign conversation: %w", err)
	}
	return nil
}

// ReassignIf commits only when the assignee still matches the value read at
// selection time. A zero-row update means another worker won the race.
func (r *MariaDBRepository) ReassignIf(ctx context.Context, conversationID, fromAgentID, toAgentID int64, at time.Time) (bool, error) {
	query := `
		UPDATE conversations
		SET assignee_id = ?, assigned_at = ?, waiting_since = ?, updated_at = ?
		WHERE id = ? AND assignee_id = ?
	`

	result, err := r.db.ExecContext(ctx, query, toAgentID, at, at, at, conversationID, fromAgentID)
	if err != nil {
		slog.Error("Failed to reassign conversation",
			"error", err,
			"conversation_id", conversationID,
			"to_agent_id", toAgentID,
		)
		return false, fmt.Errorf("reassign conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reassign rows affected: %w", err)
	}
	return rows > 0, nil
}

// FindStaleAssigned returns open conversations assigned before cutoff whose
// assignee has not replied yet
func (r *MariaDBRepository) FindStaleAssigned(ctx context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE status = 'open'
		  AND assignee_id IS NOT NULL
		  AND first_reply_at IS NULL
		  AND assigned_at <= ?
		ORDER BY assigned_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		slog.Error("Failed to find stale conversations",
			"error", err,
			"cutoff", cutoff,
		)
		return nil, fmt.Errorf("find stale conversations: %w", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		conv, err := scanConversationRows(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// UpdateConversationStatus performs a lifecycle transition
func (r *MariaDBRepository) UpdateConversationStatus(ctx context.Context, conversationID int64, status string) error {
	query := `
		UPDATE conversations
		SET status = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// SetFirstReplyAt records the first agent reply; no-op when already set
func (r *MariaDBRepository) SetFirstReplyAt(ctx context.Context, conversationID int64, at time.Time) (bool, error) {
	query := `
		UPDATE conversations
		SET first_reply_at = ?, updated_at = ?
		WHERE id = ? AND first_reply_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, at, at, conversationID)
	if err != nil {
		return false, fmt.Errorf("set first reply: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("first reply rows affected: %w", err)
	}
	return rows > 0, nil
}

func scanConversation(row *sql.Row) (*domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(
		&c.ID, &c.InboxID, &c.ContactID, &c.Status, &c.AssigneeID,
		&c.AssignedAt, &c.WaitingSince, &c.FirstReplyAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

func scanConversationRows(rows *sql.Rows) (*domain.Conversation, error) {
	var c domain.Conversation
	err := rows.Scan(
		&c.ID, &c.InboxID, &c.ContactID, &c.Status, &c.AssigneeID,
		&c.AssignedAt, &c.WaitingSince, &c.FirstReplyAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

// ============================================================================
// MessageRepository Implementation
// ============================================================================

// Save persists a message after enforcing the sender invariant
func (r *MariaDBRepository) Save(ctx context.Context, msg *domain.Message) (int64, error) {
	if err := msg.Validate(); err != nil {
		return 0, err
	}

	query := `
		INSERT INTO messages (
			conversation_id, direction, sender_contact_id, sender_agent_id,
			body, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		msg.ConversationID,
		msg.Direction,
		msg.SenderContactID,
		msg.SenderAgentID,
		msg.Body,
		msg.CreatedAt,
	)
	if err != nil {
		slog.Error("Failed to save message",
			"error", err,
			"conversation_id", msg.ConversationID,
			"direction", msg.Direction,
		)
		return 0, fmt.Errorf("save message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message insert id: %w", err)
	}
	return id, nil
}

// ListVisibleSince returns visitor-visible messages with ID > sinceID,
// ascending. Inbound and internal messages never ship to the widget.
func (r *MariaDBRepository) ListVisibleSince(ctx context.Context, conversationID, sinceID int64, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, direction, sender_contact_id,
		       sender_agent_id, body, created_at
		FROM messages
		WHERE conversation_id = ? AND id > ? AND direction = 'out'
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID, sinceID, limit)
	if err != nil {
		slog.Error("Failed to list messages",
			"error", err,
			"conversation_id", conversationID,
		)
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		err := rows.Scan(
			&m.ID, &m.ConversationID, &m.Direction, &m.SenderContactID,
			&m.SenderAgentID, &m.Body, &m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
