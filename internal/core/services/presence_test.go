package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

func createTestPresence() (*Presence, *MockPresenceStore, *MockAgentRepository) {
	cache := new(MockPresenceStore)
	agents := new(MockAgentRepository)
	presence := NewPresence(cache, agents, NewDispatcher())
	return presence, cache, agents
}

// TestGetStatus_CacheHit tests that a cached status never touches the profile
func TestGetStatus_CacheHit(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	cache.On("Get", ctx, int64(7)).Return(domain.PresenceBusy, true, nil)

	status, err := presence.GetStatus(ctx, 7)

	assert.NoError(t, err)
	assert.Equal(t, domain.PresenceBusy, status)
	agents.AssertNotCalled(t, "GetAgent", mock.Anything, mock.Anything)
}

// TestGetStatus_CacheMissFallsBackAndRepopulates tests the profile fallback
func TestGetStatus_CacheMissFallsBackAndRepopulates(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	cache.On("Get", ctx, int64(7)).Return(domain.PresenceStatus(""), false, nil)
	agents.On("GetAgent", ctx, int64(7)).Return(&domain.Agent{ID: 7, Status: domain.PresenceOnline}, nil)
	cache.On("Set", ctx, int64(7), domain.PresenceOnline).Return(nil)

	status, err := presence.GetStatus(ctx, 7)

	assert.NoError(t, err)
	assert.Equal(t, domain.PresenceOnline, status)
	cache.AssertCalled(t, "Set", ctx, int64(7), domain.PresenceOnline)
}

// TestGetStatus_UnknownAgentIsOffline tests the unknown-agent default
func TestGetStatus_UnknownAgentIsOffline(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	cache.On("Get", ctx, int64(99)).Return(domain.PresenceStatus(""), false, nil)
	agents.On("GetAgent", ctx, int64(99)).Return(nil, ports.ErrNotFound)

	status, err := presence.GetStatus(ctx, 99)

	assert.NoError(t, err)
	assert.Equal(t, domain.PresenceOffline, status)
}

// TestGetStatus_CacheErrorFallsBack tests that cache trouble degrades to the
// profile record instead of failing the read
func TestGetStatus_CacheErrorFallsBack(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	cache.On("Get", ctx, int64(7)).Return(domain.PresenceStatus(""), false, errors.New("redis down"))
	agents.On("GetAgent", ctx, int64(7)).Return(&domain.Agent{ID: 7, Status: domain.PresenceAway}, nil)
	cache.On("Set", ctx, int64(7), domain.PresenceAway).Return(nil)

	status, err := presence.GetStatus(ctx, 7)

	assert.NoError(t, err)
	assert.Equal(t, domain.PresenceAway, status)
}

// TestSetStatus_WritesThroughBothLayers tests the write-through order:
// profile first, cache second
func TestSetStatus_WritesThroughBothLayers(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	agents.On("UpdateAgentStatus", ctx, int64(7), domain.PresenceOnline).Return(nil)
	cache.On("Set", ctx, int64(7), domain.PresenceOnline).Return(nil)

	err := presence.SetStatus(ctx, 7, domain.PresenceOnline)

	assert.NoError(t, err)
	agents.AssertExpectations(t)
	cache.AssertExpectations(t)
}

// TestSetStatus_RejectsInvalidStatus tests status validation
func TestSetStatus_RejectsInvalidStatus(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	err := presence.SetStatus(ctx, 7, domain.PresenceStatus("sleeping"))

	assert.Error(t, err)
	agents.AssertNotCalled(t, "UpdateAgentStatus", mock.Anything, mock.Anything, mock.Anything)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

// TestSetStatus_ProfileWriteFailureAborts tests that a failed profile write
// keeps the cache untouched
func TestSetStatus_ProfileWriteFailureAborts(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	agents.On("UpdateAgentStatus", ctx, int64(7), domain.PresenceOnline).Return(errors.New("db down"))

	err := presence.SetStatus(ctx, 7, domain.PresenceOnline)

	assert.Error(t, err)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

// TestOnlineAgentIDs_BatchWithFallback tests the one-round-trip resolution
// with per-agent fallback for cache misses
func TestOnlineAgentIDs_BatchWithFallback(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	cache.On("GetMany", ctx, []int64{1, 2, 3}).Return(map[int64]domain.PresenceStatus{
		1: domain.PresenceOnline,
		2: domain.PresenceOffline,
		// 3 missing: falls back to the profile
	}, nil)
	cache.On("Get", ctx, int64(3)).Return(domain.PresenceStatus(""), false, nil)
	agents.On("GetAgent", ctx, int64(3)).Return(&domain.Agent{ID: 3, Status: domain.PresenceOnline}, nil)
	cache.On("Set", ctx, int64(3), domain.PresenceOnline).Return(nil)

	online, err := presence.OnlineAgentIDs(ctx, []int64{1, 2, 3})

	assert.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, online)
}

// TestOnlineAgentIDs_EmptyInput tests the nil shortcut
func TestOnlineAgentIDs_EmptyInput(t *testing.T) {
	presence, cache, _ := createTestPresence()

	online, err := presence.OnlineAgentIDs(context.Background(), nil)

	assert.NoError(t, err)
	assert.Nil(t, online)
	cache.AssertNotCalled(t, "GetMany", mock.Anything, mock.Anything)
}

// TestOnlineAgents_BranchScoped tests the branch-filtered online listing
func TestOnlineAgents_BranchScoped(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	branch := int64(3)
	agents.On("ListAgentsByBranch", ctx, &branch).Return([]domain.Agent{
		{ID: 1, BranchID: &branch},
		{ID: 2, BranchID: &branch},
	}, nil)
	cache.On("GetMany", ctx, []int64{1, 2}).Return(map[int64]domain.PresenceStatus{
		1: domain.PresenceOnline,
		2: domain.PresenceAway,
	}, nil)

	online, err := presence.OnlineAgents(ctx, &branch)

	assert.NoError(t, err)
	assert.Equal(t, []int64{1}, online)
}

// TestOnlineAgents_AllBranches tests that a nil branch spans every agent
func TestOnlineAgents_AllBranches(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	agents.On("ListAgentsByBranch", ctx, (*int64)(nil)).Return([]domain.Agent{
		{ID: 1}, {ID: 2}, {ID: 3},
	}, nil)
	cache.On("GetMany", ctx, []int64{1, 2, 3}).Return(map[int64]domain.PresenceStatus{
		1: domain.PresenceOnline,
		2: domain.PresenceOffline,
		3: domain.PresenceOnline,
	}, nil)

	online, err := presence.OnlineAgents(ctx, nil)

	assert.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, online)
}

// TestOnlineAgents_ListFailure tests that a profile listing error surfaces
func TestOnlineAgents_ListFailure(t *testing.T) {
	presence, cache, agents := createTestPresence()
	ctx := context.Background()

	agents.On("ListAgentsByBranch", ctx, (*int64)(nil)).
		Return(nil, errors.New("db down"))

	_, err := presence.OnlineAgents(ctx, nil)

	assert.Error(t, err)
	cache.AssertNotCalled(t, "GetMany", mock.Anything, mock.Anything)
}
