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

// Presence tracks agent availability. The shared-store cache serves reads
// with a short TTL; cache misses fall back to the agent profile record and
// repopulate the cache. Writes go through to both, then emit
// agent.status_changed.
type Presence struct {
	cache  ports.PresenceStore
	agents ports.AgentRepository
	bus    ports.EventBus
}

// NewPresence creates the presence tracker with dependencies injected
func NewPresence(cache ports.PresenceStore, agents ports.AgentRepository, bus ports.EventBus) *Presence {
	return &Presence{
		cache:  cache,
		agents: agents,
		bus:    bus,
	}
}

// GetStatus returns the agent's current availability. Unknown agents
// report offline.
func (p *Presence) GetStatus(ctx context.Context, agentID int64) (domain.PresenceStatus, error) {
	status, found, err := p.cache.Get(ctx, agentID)
	if err != nil {
		// Cache trouble is not fatal; the profile record still answers
		slog.Error("Presence cache read failed, falling back to profile",
			"error", err,
			"agent_id", agentID,
		)
	}
	if found {
		return status, nil
	}

	agent, err := p.agents.GetAgent(ctx, agentID)
	if err != nil {
		if err == ports.ErrNotFound {
			return domain.PresenceOffline, nil
		}
		return domain.PresenceOffline, fmt.Errorf("presence fallback lookup: %w", err)
	}

	// Repopulate the cache so the next read is cheap
	if err := p.cache.Set(ctx, agentID, agent.Status); err != nil {
		slog.Warn("Failed to repopulate presence cache",
			"error", err,
			"agent_id", agentID,
		)
	}

	return agent.Status, nil
}

// SetStatus writes through to the cache and the profile record, then
// emits agent.status_changed
func (p *Presence) SetStatus(ctx context.Context, agentID int64, status domain.PresenceStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid presence status %q", status)
	}

	if err := p.agents.UpdateAgentStatus(ctx, agentID, status); err != nil {
		return fmt.Errorf("update agent profile status: %w", err)
	}

	if err := p.cache.Set(ctx, agentID, status); err != nil {
		// Profile write landed; the cache catches up on the next miss
		slog.Error("Failed to write presence cache",
			"error", err,
			"agent_id", agentID,
			"status", status,
		)
	}

	p.bus.DispatchAsync(ctx, domain.Event{
		Name: domain.EventAgentStatusChanged,
		At:   time.Now(),
		Payload: domain.AgentStatusChangedPayload{
			AgentID: agentID,
			Status:  status,
		},
	})

	return nil
}

// IsOnline reports whether the agent is currently online
func (p *Presence) IsOnline(ctx context.Context, agentID int64) (bool, error) {
	status, err := p.GetStatus(ctx, agentID)
	if err != nil {
		return false, err
	}
	return status == domain.PresenceOnline, nil
}

// OnlineAgents lists the online agents of a branch; a nil branchID spans
// all branches. Membership comes from the profile records, availability
// from the usual cache path.
func (p *Presence) OnlineAgents(ctx context.Context, branchID *int64) ([]int64, error) {
	agents, err := p.agents.ListAgentsByBranch(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("list branch agents: %w", err)
	}

	ids := make([]int64, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	return p.OnlineAgentIDs(ctx, ids)
}

// OnlineAgentIDs returns the online subset of agentIDs, preserving input
// order. Resolved in one cache round trip; misses fall back per agent.
func (p *Presence) OnlineAgentIDs(ctx context.Context, agentIDs []int64) ([]int64, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}

	cached, err := p.cache.GetMany(ctx, agentIDs)
	if err != nil {
		slog.Error("Presence cache batch read failed, falling back per agent",
			"error", err,
			"agent_count", len(agentIDs),
		)
		cached = map[int64]domain.PresenceStatus{}
	}

	online := make([]int64, 0, len(agentIDs))
	for _, id := range agentIDs {
		status, found := cached[id]
		if !found {
			status, err = p.GetStatus(ctx, id)
			if err != nil {
				slog.Warn("Presence lookup failed, treating agent as offline",
					"error", err,
					"agent_id", id,
				)
				continue
			}
		}
		if status == domain.PresenceOnline {
			online = append(online, id)
		}
	}

	return online, nil
}
