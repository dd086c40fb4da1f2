// Package services contains core business logic
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

// Router picks the assignee for unassigned conversations: round-robin over
// the inbox pool, filtered to agents that are online and under their
// assignment rate limit.
type Router struct {
	queue         ports.QueueStore
	rate          ports.RateLimiter
	presence      *Presence
	inboxes       ports.InboxRepository
	conversations ports.ConversationRepository
	bus           ports.EventBus
}

// NewRouter creates a router instance with dependencies injected
func NewRouter(
	queue ports.QueueStore,
	rate ports.RateLimiter,
	presence *Presence,
	inboxes ports.InboxRepository,
	conversations ports.ConversationRepository,
	bus ports.EventBus,
) *Router {
	return &Router{
		queue:         queue,
		rate:          rate,
		presence:      presence,
		inboxes:       inboxes,
		conversations: conversations,
		bus:           bus,
	}
}

// PickAgent computes the next assignee for the inbox without touching any
// conversation. exclude removes specific agents from consideration (the
// current assignee during escalation). ok is false when no eligible agent
// is available.
func (r *Router) PickAgent(ctx context.Context, inboxID int64, exclude []int64) (int64, bool, error) {
	eligible, err := r.inboxes.ListMemberIDs(ctx, inboxID)
	if err != nil {
		return 0, false, fmt.Errorf("list inbox members: %w", err)
	}
	if len(eligible) == 0 {
		return 0, false, nil
	}

	allowed, err := r.allowedAgents(ctx, eligible, exclude)
	if err != nil {
		return 0, false, err
	}
	if len(allowed) == 0 {
		return 0, false, nil
	}

	agentID, ok, err := r.queue.Next(ctx, inboxID, eligible, allowed)
	if err != nil {
		return 0, false, fmt.Errorf("queue next: %w", err)
	}
	return agentID, ok, nil
}

// PreviewAgent computes who PickAgent would return without rotating the
// queue or touching any counter. Used by escalation dry runs.
func (r *Router) PreviewAgent(ctx context.Context, inboxID int64, exclude []int64) (int64, bool, error) {
	eligible, err := r.inboxes.ListMemberIDs(ctx, inboxID)
	if err != nil {
		return 0, false, fmt.Errorf("list inbox members: %w", err)
	}
	if len(eligible) == 0 {
		return 0, false, nil
	}

	allowed, err := r.allowedAgents(ctx, eligible, exclude)
	if err != nil {
		return 0, false, err
	}
	if len(allowed) == 0 {
		return 0, false, nil
	}

	queue, err := r.queue.Snapshot(ctx, inboxID)
	if err != nil {
		return 0, false, fmt.Errorf("queue snapshot: %w", err)
	}

	agentID, _, _, ok := domain.RotationPick(queue, eligible, allowed)
	return agentID, ok, nil
}

// AssignConversation assigns an unassigned conversation through the
// round-robin queue. Returns the assignee and true when an assignment was
// committed; false (without error) when no agent is available — the
// conversation stays queued for a later attempt or escalation pass.
func (r *Router) AssignConversation(ctx context.Context, conv *domain.Conversation) (int64, bool, error) {
	if conv.Assigned() {
		return *conv.AssigneeID, false, nil
	}

	agentID, ok, err := r.PickAgent(ctx, conv.InboxID, nil)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		slog.Info("No eligible agent for conversation",
			"conversation_id", conv.ID,
			"inbox_id", conv.InboxID,
		)
		return 0, false, nil
	}

	now := time.Now()
	if err := r.conversations.Assign(ctx, conv.ID, agentID, now); err != nil {
		return 0, false, fmt.Errorf("persist assignment: %w", err)
	}

	// Count the assignment against the agent's window
	if err := r.rate.Increment(ctx, agentID); err != nil {
		slog.Error("Failed to increment assignment rate counter",
			"error", err,
			"agent_id", agentID,
		)
	}

	conv.AssigneeID = &agentID
	conv.AssignedAt = &now

	r.bus.DispatchAsync(ctx, domain.Event{
		Name: domain.EventAssigneeChanged,
		At:   now,
		Payload: domain.AssigneeChangedPayload{
			ConversationID: conv.ID,
			InboxID:        conv.InboxID,
			NewAgentID:     agentID,
			AssignedAt:     now,
		},
	})

	slog.Info("Conversation assigned",
		"conversation_id", conv.ID,
		"inbox_id", conv.InboxID,
		"agent_id", agentID,
	)

	return agentID, true, nil
}

// AddAgent enqueues an agent when inbox membership grows (idempotent)
func (r *Router) AddAgent(ctx context.Context, inboxID, agentID int64) error {
	return r.queue.Add(ctx, inboxID, agentID)
}

// RemoveAgent dequeues an agent when inbox membership shrinks (idempotent)
func (r *Router) RemoveAgent(ctx context.Context, inboxID, agentID int64) error {
	return r.queue.Remove(ctx, inboxID, agentID)
}

// ResetQueue replaces the queue from the current member pool
func (r *Router) ResetQueue(ctx context.Context, inboxID int64) error {
	members, err := r.inboxes.ListMemberIDs(ctx, inboxID)
	if err != nil {
		return fmt.Errorf("list inbox members: %w", err)
	}
	return r.queue.Reset(ctx, inboxID, members)
}

// QueueSnapshot exposes the current rotation order for the dashboard.
// Unknown inboxes report ports.ErrNotFound instead of an empty queue.
func (r *Router) QueueSnapshot(ctx context.Context, inboxID int64) ([]int64, error) {
	if _, err := r.inboxes.GetInbox(ctx, inboxID); err != nil {
		return nil, err
	}
	return r.queue.Snapshot(ctx, inboxID)
}

// allowedAgents filters eligible members down to online agents under their
// rate limit, minus exclusions. Eligibility is always computed from
// presence, never from queue membership.
func (r *Router) allowedAgents(ctx context.Context, eligible, exclude []int64) ([]int64, error) {
	excluded := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	candidates := make([]int64, 0, len(eligible))
	for _, id := range eligible {
		if _, out := excluded[id]; !out {
			candidates = append(candidates, id)
		}
	}

	online, err := r.presence.OnlineAgentIDs(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("resolve online agents: %w", err)
	}

	allowed := make([]int64, 0, len(online))
	for _, id := range online {
		ok, err := r.rate.CheckLimit(ctx, id)
		if err != nil {
			// The limiter adapter already applied its fail-open policy;
			// an error here is unexpected
			slog.Error("Rate limit check failed",
				"error", err,
				"agent_id", id,
			)
			continue
		}
		if ok {
			allowed = append(allowed, id)
		}
	}

	return allowed, nil
}
