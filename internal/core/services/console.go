// Package services contains core business logic
package services

import (
	"context"
	"fmt"
	"time"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

// Console implements agent-side conversation operations invoked from the
// agent console: replies, internal notes, and lifecycle transitions.
type Console struct {
	conversations ports.ConversationRepository
	messages      ports.MessageRepository
	bus           ports.EventBus
}

// NewConsole creates the console service with dependencies injected
func NewConsole(conversations ports.ConversationRepository, messages ports.MessageRepository, bus ports.EventBus) *Console {
	return &Console{
		conversations: conversations,
		messages:      messages,
		bus:           bus,
	}
}

// Reply creates an agent message. direction must be "out" or "internal";
// the first outbound reply also records first_reply_at and emits
// first_reply.created.
func (c *Console) Reply(ctx context.Context, conversationID, agentID int64, direction, body string) (*domain.Message, error) {
	conv, err := c.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg, err := domain.NewAgentMessage(conversationID, agentID, direction, body)
	if err != nil {
		return nil, err
	}

	id, err := c.messages.Save(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	msg.ID = id

	c.bus.DispatchAsync(ctx, domain.Event{
		Name: domain.EventMessageCreated,
		At:   msg.CreatedAt,
		Payload: domain.MessageCreatedPayload{
			Message: msg,
			InboxID: conv.InboxID,
		},
	})

	if direction == domain.DirectionOut {
		set, err := c.conversations.SetFirstReplyAt(ctx, conversationID, msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("record first reply: %w", err)
		}
		if set {
			c.bus.DispatchAsync(ctx, domain.Event{
				Name:    domain.EventFirstReplyCreated,
				At:      msg.CreatedAt,
				Payload: domain.ConversationPayload{Conversation: conv},
			})
		}
	}

	return msg, nil
}

// Open marks the conversation opened by its assignee
func (c *Console) Open(ctx context.Context, conversationID int64) error {
	return c.transition(ctx, conversationID, domain.ConversationStatusOpen, domain.EventConversationOpened)
}

// Resolve marks the conversation resolved
func (c *Console) Resolve(ctx context.Context, conversationID int64) error {
	return c.transition(ctx, conversationID, domain.ConversationStatusResolved, domain.EventConversationResolved)
}

// Close marks the conversation closed
func (c *Console) Close(ctx context.Context, conversationID int64) error {
	return c.transition(ctx, conversationID, domain.ConversationStatusClosed, domain.EventConversationClosed)
}

func (c *Console) transition(ctx context.Context, conversationID int64, status, eventName string) error {
	if err := c.conversations.UpdateConversationStatus(ctx, conversationID, status); err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}

	conv, err := c.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	c.bus.DispatchAsync(ctx, domain.Event{
		Name:    eventName,
		At:      time.Now(),
		Payload: domain.ConversationPayload{Conversation: conv},
	})

	return nil
}
