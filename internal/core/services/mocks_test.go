package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"livechat-core/internal/core/domain"
)

// ============================================================================
// Mock Repositories
// ============================================================================

// MockInboxRepository mocks InboxRepository interface
type MockInboxRepository struct {
	mock.Mock
}

func (m *MockInboxRepository) GetByWidgetToken(ctx context.Context, widgetToken string) (*domain.Inbox, error) {
	args := m.Called(ctx, widgetToken)
	if result := args.Get(0); result != nil {
		return result.(*domain.Inbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInboxRepository) GetInbox(ctx context.Context, id int64) (*domain.Inbox, error) {
	args := m.Called(ctx, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.Inbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInboxRepository) ListMemberIDs(ctx context.Context, inboxID int64) ([]int64, error) {
	args := m.Called(ctx, inboxID)
	if result := args.Get(0); result != nil {
		return result.([]int64), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockAgentRepository mocks AgentRepository interface
type MockAgentRepository struct {
	mock.Mock
}

func (m *MockAgentRepository) GetAgent(ctx context.Context, id int64) (*domain.Agent, error) {
	args := m.Called(ctx, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAgentRepository) UpdateAgentStatus(ctx context.Context, id int64, status domain.PresenceStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockAgentRepository) ListAgentsByBranch(ctx context.Context, branchID *int64) ([]domain.Agent, error) {
	args := m.Called(ctx, branchID)
	if result := args.Get(0); result != nil {
		return result.([]domain.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockContactRepository mocks ContactRepository interface
type MockContactRepository struct {
	mock.Mock
}

func (m *MockContactRepository) GetOrCreateByExternalID(ctx context.Context, inboxID int64, externalID string) (*domain.Contact, error) {
	args := m.Called(ctx, inboxID, externalID)
	if result := args.Get(0); result != nil {
		return result.(*domain.Contact), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockConversationRepository mocks ConversationRepository interface
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) FindOpen(ctx context.Context, inboxID, contactID int64) (*domain.Conversation, error) {
	args := m.Called(ctx, inboxID, contactID)
	if result := args.Get(0); result != nil {
		return result.(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) GetOrCreateOpen(ctx context.Context, inboxID, contactID int64) (*domain.Conversation, bool, error) {
	args := m.Called(ctx, inboxID, contactID)
	if result := args.Get(0); result != nil {
		return result.(*domain.Conversation), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *MockConversationRepository) Assign(ctx context.Context, conversationID, agentID int64, at time.Time) error {
	args := m.Called(ctx, conversationID, agentID, at)
	return args.Error(0)
}

func (m *MockConversationRepository) ReassignIf(ctx context.Context, conversationID, fromAgentID, toAgentID int64, at time.Time) (bool, error) {
	args := m.Called(ctx, conversationID, fromAgentID, toAgentID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockConversationRepository) FindStaleAssigned(ctx context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error) {
	args := m.Called(ctx, cutoff, limit)
	if result := args.Get(0); result != nil {
		return result.([]domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) UpdateConversationStatus(ctx context.Context, conversationID int64, status string) error {
	args := m.Called(ctx, conversationID, status)
	return args.Error(0)
}

func (m *MockConversationRepository) SetFirstReplyAt(ctx context.Context, conversationID int64, at time.Time) (bool, error) {
	args := m.Called(ctx, conversationID, at)
	return args.Bool(0), args.Error(1)
}

// MockMessageRepository mocks MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Save(ctx context.Context, msg *domain.Message) (int64, error) {
	args := m.Called(ctx, msg)
	return int64(args.Int(0)), args.Error(1)
}

func (m *MockMessageRepository) ListVisibleSince(ctx context.Context, conversationID, sinceID int64, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID, sinceID, limit)
	if result := args.Get(0); result != nil {
		return result.([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// ============================================================================
// Mock Stores
// ============================================================================

// MockQueueStore mocks QueueStore interface
type MockQueueStore struct {
	mock.Mock
}

func (m *MockQueueStore) Next(ctx context.Context, inboxID int64, eligible, allowed []int64) (int64, bool, error) {
	args := m.Called(ctx, inboxID, eligible, allowed)
	return int64(args.Int(0)), args.Bool(1), args.Error(2)
}

func (m *MockQueueStore) Add(ctx context.Context, inboxID, agentID int64) error {
	args := m.Called(ctx, inboxID, agentID)
	return args.Error(0)
}

func (m *MockQueueStore) Remove(ctx context.Context, inboxID, agentID int64) error {
	args := m.Called(ctx, inboxID, agentID)
	return args.Error(0)
}

func (m *MockQueueStore) Reset(ctx context.Context, inboxID int64, memberIDs []int64) error {
	args := m.Called(ctx, inboxID, memberIDs)
	return args.Error(0)
}

func (m *MockQueueStore) Snapshot(ctx context.Context, inboxID int64) ([]int64, error) {
	args := m.Called(ctx, inboxID)
	if result := args.Get(0); result != nil {
		return result.([]int64), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRateLimiter mocks RateLimiter interface
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) CheckLimit(ctx context.Context, agentID int64) (bool, error) {
	args := m.Called(ctx, agentID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRateLimiter) Increment(ctx context.Context, agentID int64) error {
	args := m.Called(ctx, agentID)
	return args.Error(0)
}

func (m *MockRateLimiter) Reset(ctx context.Context, agentID int64) error {
	args := m.Called(ctx, agentID)
	return args.Error(0)
}

// MockPresenceStore mocks PresenceStore interface
type MockPresenceStore struct {
	mock.Mock
}

func (m *MockPresenceStore) Get(ctx context.Context, agentID int64) (domain.PresenceStatus, bool, error) {
	args := m.Called(ctx, agentID)
	return args.Get(0).(domain.PresenceStatus), args.Bool(1), args.Error(2)
}

func (m *MockPresenceStore) Set(ctx context.Context, agentID int64, status domain.PresenceStatus) error {
	args := m.Called(ctx, agentID, status)
	return args.Error(0)
}

func (m *MockPresenceStore) GetMany(ctx context.Context, agentIDs []int64) (map[int64]domain.PresenceStatus, error) {
	args := m.Called(ctx, agentIDs)
	if result := args.Get(0); result != nil {
		return result.(map[int64]domain.PresenceStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSessionStore mocks SessionStore interface
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) FindOrCreate(ctx context.Context, inboxID, contactID int64) (*domain.WidgetSession, error) {
	args := m.Called(ctx, inboxID, contactID)
	if result := args.Get(0); result != nil {
		return result.(*domain.WidgetSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionStore) Get(ctx context.Context, token string) (*domain.WidgetSession, error) {
	args := m.Called(ctx, token)
	if result := args.Get(0); result != nil {
		return result.(*domain.WidgetSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionStore) RequireCaptcha(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockSessionStore) MarkCaptchaPassed(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockSessionStore) AdvanceCursor(ctx context.Context, token string, sinceID int64) error {
	args := m.Called(ctx, token, sinceID)
	return args.Error(0)
}

// MockCaptchaStore mocks CaptchaStore interface
type MockCaptchaStore struct {
	mock.Mock
}

func (m *MockCaptchaStore) Create(ctx context.Context, clientIP string) (*domain.CaptchaChallenge, error) {
	args := m.Called(ctx, clientIP)
	if result := args.Get(0); result != nil {
		return result.(*domain.CaptchaChallenge), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCaptchaStore) Verify(ctx context.Context, token, answer string) (bool, error) {
	args := m.Called(ctx, token, answer)
	return args.Bool(0), args.Error(1)
}

// MockAbuseGuard mocks AbuseGuard interface
type MockAbuseGuard struct {
	mock.Mock
}

func (m *MockAbuseGuard) Hit(ctx context.Context, clientIP string) (bool, error) {
	args := m.Called(ctx, clientIP)
	return args.Bool(0), args.Error(1)
}
