package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"livechat-core/internal/core/domain"
)

func createTestConsole() (*Console, *MockConversationRepository, *MockMessageRepository) {
	conversations := new(MockConversationRepository)
	messages := new(MockMessageRepository)
	console := NewConsole(conversations, messages, NewDispatcher())
	return console, conversations, messages
}

// TestReply_FirstOutboundRecordsFirstReply tests that the first agent reply
// stamps first_reply_at
func TestReply_FirstOutboundRecordsFirstReply(t *testing.T) {
	console, conversations, messages := createTestConsole()
	ctx := context.Background()

	conversations.On("GetConversation", ctx, int64(42)).
		Return(&domain.Conversation{ID: 42, InboxID: 5}, nil)
	messages.On("Save", ctx, mock.MatchedBy(func(msg *domain.Message) bool {
		return msg.Direction == domain.DirectionOut && *msg.SenderAgentID == int64(3)
	})).Return(88, nil)
	conversations.On("SetFirstReplyAt", ctx, int64(42), mock.AnythingOfType("time.Time")).
		Return(true, nil)

	msg, err := console.Reply(ctx, 42, 3, domain.DirectionOut, "on it")

	assert.NoError(t, err)
	assert.Equal(t, int64(88), msg.ID)
	conversations.AssertCalled(t, "SetFirstReplyAt", ctx, int64(42), mock.AnythingOfType("time.Time"))
}

// TestReply_SecondOutboundDoesNotRestamp tests first_reply_at idempotency:
// the repository reports no update and no event follows
func TestReply_SecondOutboundDoesNotRestamp(t *testing.T) {
	console, conversations, messages := createTestConsole()
	ctx := context.Background()

	conversations.On("GetConversation", ctx, int64(42)).
		Return(&domain.Conversation{ID: 42, InboxID: 5}, nil)
	messages.On("Save", ctx, mock.Anything).Return(89, nil)
	conversations.On("SetFirstReplyAt", ctx, int64(42), mock.AnythingOfType("time.Time")).
		Return(false, nil)

	_, err := console.Reply(ctx, 42, 3, domain.DirectionOut, "still here?")

	assert.NoError(t, err)
}

// TestReply_InternalNoteSkipsFirstReply tests that internal notes never
// count as the first reply
func TestReply_InternalNoteSkipsFirstReply(t *testing.T) {
	console, conversations, messages := createTestConsole()
	ctx := context.Background()

	conversations.On("GetConversation", ctx, int64(42)).
		Return(&domain.Conversation{ID: 42, InboxID: 5}, nil)
	messages.On("Save", ctx, mock.MatchedBy(func(msg *domain.Message) bool {
		return msg.Direction == domain.DirectionInternal
	})).Return(90, nil)

	_, err := console.Reply(ctx, 42, 3, domain.DirectionInternal, "customer sounds upset")

	assert.NoError(t, err)
	conversations.AssertNotCalled(t, "SetFirstReplyAt", mock.Anything, mock.Anything, mock.Anything)
}

// TestReply_RejectsInboundDirection tests the sender invariant at the edge
func TestReply_RejectsInboundDirection(t *testing.T) {
	console, conversations, messages := createTestConsole()
	ctx := context.Background()

	conversations.On("GetConversation", ctx, int64(42)).
		Return(&domain.Conversation{ID: 42, InboxID: 5}, nil)

	_, err := console.Reply(ctx, 42, 3, domain.DirectionIn, "nope")

	assert.ErrorIs(t, err, domain.ErrInboundAgentSender)
	messages.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

// TestLifecycleTransitions tests open/resolve/close against the repository
func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		name   string
		call   func(c *Console, ctx context.Context) error
		status string
	}{
		{"open", func(c *Console, ctx context.Context) error { return c.Open(ctx, 42) }, domain.ConversationStatusOpen},
		{"resolve", func(c *Console, ctx context.Context) error { return c.Resolve(ctx, 42) }, domain.ConversationStatusResolved},
		{"close", func(c *Console, ctx context.Context) error { return c.Close(ctx, 42) }, domain.ConversationStatusClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console, conversations, _ := createTestConsole()
			ctx := context.Background()

			conversations.On("UpdateConversationStatus", ctx, int64(42), tt.status).Return(nil)
			conversations.On("GetConversation", ctx, int64(42)).
				Return(&domain.Conversation{ID: 42, InboxID: 5, Status: tt.status}, nil)

			assert.NoError(t, tt.call(console, ctx))
			conversations.AssertExpectations(t)
		})
	}
}
