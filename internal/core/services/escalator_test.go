package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"livechat-core/internal/core/domain"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func createTestEscalator() (*Escalator, *MockQueueStore, *MockRateLimiter, *MockPresenceStore, *MockInboxRepository, *MockConversationRepository) {
	queue := new(MockQueueStore)
	rate := new(MockRateLimiter)
	presenceStore := new(MockPresenceStore)
	agents := new(MockAgentRepository)
	inboxes := new(MockInboxRepository)
	conversations := new(MockConversationRepository)

	bus := NewDispatcher()
	presence := NewPresence(presenceStore, agents, bus)
	router := NewRouter(queue, rate, presence, inboxes, conversations, bus)
	escalator := NewEscalator(conversations, router, rate, bus, EscalatorConfig{
		Interval: time.Minute,
		Timeout:  240 * time.Second,
	})

	return escalator, queue, rate, presenceStore, inboxes, conversations
}

func staleConversation(id, inboxID, assigneeID int64, assignedAt time.Time) domain.Conversation {
	return domain.Conversation{
		ID:         id,
		InboxID:    inboxID,
		Status:     domain.ConversationStatusOpen,
		AssigneeID: &assigneeID,
		AssignedAt: &assignedAt,
	}
}

// ============================================================================
// RunOnce Tests
// ============================================================================

// TestRunOnce_ReassignsStaleConversation tests the core escalation flow:
// stale conversation moves to the next agent, excluding the current assignee
func TestRunOnce_ReassignsStaleConversation(t *testing.T) {
	escalator, queue, rate, presenceStore, inboxes, conversations := createTestEscalator()
	ctx := context.Background()

	stale := staleConversation(42, 5, 1, time.Now().Add(-10*time.Minute))
	conversations.On("FindStaleAssigned", ctx, mock.AnythingOfType("time.Time"), escalationBatchSize).
		Return([]domain.Conversation{stale}, nil)

	inboxes.On("ListMemberIDs", mock.Anything, int64(5)).Return([]int64{1, 2, 3}, nil)
	// Agent 1 (current assignee) is excluded before the presence lookup
	presenceStore.On("GetMany", mock.Anything, []int64{2, 3}).Return(allOnline(2, 3), nil)
	rate.On("CheckLimit", mock.Anything, mock.AnythingOfType("int64")).Return(true, nil)
	queue.On("Next", mock.Anything, int64(5), []int64{1, 2, 3}, []int64{2, 3}).Return(2, true, nil)
	conversations.On("ReassignIf", mock.Anything, int64(42), int64(1), int64(2), mock.AnythingOfType("time.Time")).
		Return(true, nil)
	rate.On("Increment", mock.Anything, int64(2)).Return(nil)

	report, err := escalator.RunOnce(ctx, 0, false)

	assert.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Reassigned)
	assert.Equal(t, 0, report.Skipped)
	assert.Len(t, report.Candidates, 1)
	assert.True(t, report.Candidates[0].Committed)
	assert.Equal(t, int64(1), report.Candidates[0].FromAgentID)
	assert.Equal(t, int64(2), *report.Candidates[0].ToAgentID)
	conversations.AssertExpectations(t)
}

// TestRunOnce_LostOptimisticRace tests that a conversation reassigned by a
// concurrent worker is skipped without error
func TestRunOnce_LostOptimisticRace(t *testing.T) {
	escalator, queue, rate, presenceStore, inboxes, conversations := createTestEscalator()
	ctx := context.Background()

	stale := staleConversation(42, 5, 1, time.Now().Add(-10*time.Minute))
	conversations.On("FindStaleAssigned", ctx, mock.AnythingOfType("time.Time"), escalationBatchSize).
		Return([]domain.Conversation{stale}, nil)

	inboxes.On("ListMemberIDs", mock.Anything, int64(5)).Return([]int64{1, 2}, nil)
	presenceStore.On("GetMany", mock.Anything, []int64{2}).Return(allOnline(2), nil)
	rate.On("CheckLimit", mock.Anything, int64(2)).Return(true, nil)
	queue.On("Next", mock.Anything, int64(5), []int64{1, 2}, []int64{2}).Return(2, true, nil)
	// Assignee changed between selection and commit
	conversations.On("ReassignIf", mock.Anything, int64(42), int64(1), int64(2), mock.AnythingOfType("time.Time")).
		Return(false, nil)

	report, err := escalator.RunOnce(ctx, 0, false)

	assert.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 0, report.Reassigned)
	assert.Equal(t, 1, report.Skipped)
	assert.False(t, report.Candidates[0].Committed)
	rate.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything)
}

// TestRunOnce_NoCandidateKeepsAssignee tests that with no other agent
// available the conversation keeps its current assignee
func TestRunOnce_NoCandidateKeepsAssignee(t *testing.T) {
	escalator, queue, _, presenceStore, inboxes, conversations := createTestEscalator()
	ctx := context.Background()

	stale := staleConversation(42, 5, 1, time.Now().Add(-10*time.Minute))
	conversations.On("FindStaleAssigned", ctx, mock.AnythingOfType("time.Time"), escalationBatchSize).
		Return([]domain.Conversation{stale}, nil)

	inboxes.On("ListMemberIDs", mock.Anything, int64(5)).Return([]int64{1, 2}, nil)
	// The only other agent is offline
	presenceStore.On("GetMany", mock.Anything, []int64{2}).Return(map[int64]domain.PresenceStatus{
		2: domain.PresenceOffline,
	}, nil)

	report, err := escalator.RunOnce(ctx, 0, false)

	assert.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	queue.AssertNotCalled(t, "Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	conversations.AssertNotCalled(t, "ReassignIf", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestRunOnce_DryRunDoesNotMutate tests that dry runs report candidates
// without rotating the queue or committing anything
func TestRunOnce_DryRunDoesNotMutate(t *testing.T) {
	escalator, queue, rate, presenceStore, inboxes, conversations := createTestEscalator()
	ctx := context.Background()

	stale := staleConversation(42, 5, 1, time.Now().Add(-10*time.Minute))
	conversations.On("FindStaleAssigned", ctx, mock.AnythingOfType("time.Time"), escalationBatchSize).
		Return([]domain.Conversation{stale}, nil)

	inboxes.On("ListMemberIDs", mock.Anything, int64(5)).Return([]int64{1, 2, 3}, nil)
	presenceStore.On("GetMany", mock.Anything, []int64{2, 3}).Return(allOnline(2, 3), nil)
	rate.On("CheckLimit", mock.Anything, mock.AnythingOfType("int64")).Return(true, nil)
	queue.On("Snapshot", mock.Anything, int64(5)).Return([]int64{1, 2, 3}, nil)

	report, err := escalator.RunOnce(ctx, 0, true)

	assert.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Reassigned)
	assert.Equal(t, int64(2), *report.Candidates[0].ToAgentID)
	assert.False(t, report.Candidates[0].Committed)
	queue.AssertNotCalled(t, "Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	conversations.AssertNotCalled(t, "ReassignIf", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	rate.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything)
}

// TestRunOnce_CutoffHonorsTimeout tests the staleness window: a custom
// timeout is reflected in the cutoff handed to the repository
func TestRunOnce_CutoffHonorsTimeout(t *testing.T) {
	escalator, _, _, _, _, conversations := createTestEscalator()
	ctx := context.Background()

	timeout := 100 * time.Second
	before := time.Now().Add(-timeout)

	conversations.On("FindStaleAssigned", ctx, mock.MatchedBy(func(cutoff time.Time) bool {
		// Cutoff falls within a second of now-timeout
		return cutoff.After(before.Add(-time.Second)) && cutoff.Before(before.Add(time.Second))
	}), escalationBatchSize).Return([]domain.Conversation{}, nil)

	report, err := escalator.RunOnce(ctx, timeout, false)

	assert.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	conversations.AssertExpectations(t)
}

// TestRunOnce_EmptyScan tests a pass with nothing stale
func TestRunOnce_EmptyScan(t *testing.T) {
	escalator, _, _, _, _, conversations := createTestEscalator()
	ctx := context.Background()

	conversations.On("FindStaleAssigned", ctx, mock.AnythingOfType("time.Time"), escalationBatchSize).
		Return([]domain.Conversation{}, nil)

	report, err := escalator.RunOnce(ctx, 0, false)

	assert.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Empty(t, report.Candidates)
}
