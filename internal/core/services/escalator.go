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

const (
	// Cap per scan pass so one pass stays bounded
	escalationBatchSize = 200

	// Budget for one conversation's reassignment attempt
	escalationPerConversationTimeout = 5 * time.Second
)

// EscalatorConfig controls the periodic scan
type EscalatorConfig struct {
	Interval time.Duration // how often the scanner runs
	Timeout  time.Duration // assigned-but-unopened age that triggers reassignment
}

// EscalationReport summarizes one scan pass
type EscalationReport struct {
	Scanned    int                   `json:"scanned"`
	Reassigned int                   `json:"reassigned"`
	Skipped    int                   `json:"skipped"`
	DryRun     bool                  `json:"dry_run"`
	Candidates []EscalationCandidate `json:"candidates,omitempty"`
}

// EscalationCandidate is one stale conversation and the agent the scan
// picked (or would pick, in dry-run mode)
type EscalationCandidate struct {
	ConversationID int64  `json:"conversation_id"`
	InboxID        int64  `json:"inbox_id"`
	FromAgentID    int64  `json:"from_agent_id"`
	ToAgentID      *int64 `json:"to_agent_id,omitempty"`
	Committed      bool   `json:"committed"`
}

// Escalator finds conversations assigned but unopened past the timeout and
// reassigns them through the round-robin queue. Safe to run from more than
// one worker process: the commit is optimistic on the assignee read at
// selection time, and a lost race just skips the conversation this pass.
type Escalator struct {
	conversations ports.ConversationRepository
	router        *Router
	rate          ports.RateLimiter
	bus           ports.EventBus
	cfg           EscalatorConfig
}

// NewEscalator creates the escalation scanner with dependencies injected
func NewEscalator(
	conversations ports.ConversationRepository,
	router *Router,
	rate ports.RateLimiter,
	bus ports.EventBus,
	cfg EscalatorConfig,
) *Escalator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 240 * time.Second
	}
	return &Escalator{
		conversations: conversations,
		router:        router,
		rate:          rate,
		bus:           bus,
		cfg:           cfg,
	}
}

// Start runs the periodic scan until ctx is cancelled (call as goroutine
// owner; it spawns its own ticker loop)
func (e *Escalator) Start(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := e.RunOnce(ctx, e.cfg.Timeout, false); err != nil {
					slog.Error("Escalation scan failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	slog.Info("Escalation scanner started",
		"interval", e.cfg.Interval,
		"timeout", e.cfg.Timeout,
	)
}

// RunOnce performs one scan pass. timeout overrides the configured
// staleness threshold when > 0. In dry-run mode candidates are reported
// without rotating the queue or committing any reassignment.
func (e *Escalator) RunOnce(ctx context.Context, timeout time.Duration, dryRun bool) (*EscalationReport, error) {
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}

	cutoff := time.Now().Add(-timeout)
	stale, err := e.conversations.FindStaleAssigned(ctx, cutoff, escalationBatchSize)
	if err != nil {
		return nil, fmt.Errorf("find stale conversations: %w", err)
	}

	report := &EscalationReport{Scanned: len(stale), DryRun: dryRun}
	for i := range stale {
		conv := &stale[i]
		candidate := e.escalateOne(ctx, conv, dryRun)
		report.Candidates = append(report.Candidates, candidate)
		if candidate.Committed || (dryRun && candidate.ToAgentID != nil) {
			report.Reassigned++
		} else {
			report.Skipped++
		}
	}

	if report.Scanned > 0 {
		slog.Info("Escalation scan completed",
			"scanned", report.Scanned,
			"reassigned", report.Reassigned,
			"skipped", report.Skipped,
			"dry_run", dryRun,
		)
	}

	return report, nil
}

// escalateOne attempts to move a single stale conversation to the next
// eligible agent. Bounded per conversation; a failed lookup or lost
// optimistic race leaves the current assignee in place until the next scan.
func (e *Escalator) escalateOne(ctx context.Context, conv *domain.Conversation, dryRun bool) EscalationCandidate {
	candidate := EscalationCandidate{
		ConversationID: conv.ID,
		InboxID:        conv.InboxID,
	}
	if conv.AssigneeID == nil {
		// Escalation never touches unassigned conversations
		return candidate
	}
	candidate.FromAgentID = *conv.AssigneeID

	cctx, cancel := context.WithTimeout(ctx, escalationPerConversationTimeout)
	defer cancel()

	exclude := []int64{*conv.AssigneeID}

	if dryRun {
		agentID, ok, err := e.router.PreviewAgent(cctx, conv.InboxID, exclude)
		if err != nil {
			slog.Error("Escalation candidate preview failed",
				"error", err,
				"conversation_id", conv.ID,
			)
			return candidate
		}
		if ok {
			candidate.ToAgentID = &agentID
		}
		return candidate
	}

	agentID, ok, err := e.router.PickAgent(cctx, conv.InboxID, exclude)
	if err != nil {
		slog.Error("Escalation candidate lookup failed",
			"error", err,
			"conversation_id", conv.ID,
		)
		return candidate
	}
	if !ok {
		// No online, rate-unblocked agent besides the current assignee.
		// Keep the current assignee rather than leaving it unassigned.
		slog.Debug("No escalation candidate available",
			"conversation_id", conv.ID,
			"inbox_id", conv.InboxID,
		)
		return candidate
	}

	now := time.Now()
	committed, err := e.conversations.ReassignIf(cctx, conv.ID, *conv.AssigneeID, agentID, now)
	if err != nil {
		slog.Error("Escalation reassignment failed",
			"error", err,
			"conversation_id", conv.ID,
			"to_agent_id", agentID,
		)
		return candidate
	}
	if !committed {
		// Another worker got there first; expected under concurrency
		slog.Debug("Escalation lost optimistic race, skipping",
			"conversation_id", conv.ID,
		)
		return candidate
	}

	candidate.ToAgentID = &agentID
	candidate.Committed = true

	if err := e.rate.Increment(cctx, agentID); err != nil {
		slog.Error("Failed to increment assignment rate counter",
			"error", err,
			"agent_id", agentID,
		)
	}

	oldAgent := *conv.AssigneeID
	e.bus.DispatchAsync(ctx, domain.Event{
		Name: domain.EventAssigneeChanged,
		At:   now,
		Payload: domain.AssigneeChangedPayload{
			ConversationID: conv.ID,
			InboxID:        conv.InboxID,
			OldAgentID:     &oldAgent,
			NewAgentID:     agentID,
			AssignedAt:     now,
			Escalated:      true,
		},
	})

	slog.Info("Conversation escalated",
		"conversation_id", conv.ID,
		"from_agent_id", oldAgent,
		"to_agent_id", agentID,
	)

	return candidate
}
