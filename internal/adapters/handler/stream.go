// Package handler implements HTTP request handlers
package handler

import (
	"context"
	"sync"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

const streamBufferSize = 16

// StreamBroker routes dispatched events to open widget streams, keyed by
// conversation ID. Every stream gets its own buffered channel; fan-out is
// non-blocking with a drop-if-full strategy, and clients reconcile missed
// events through the poll watermark.
type StreamBroker struct {
	mu   sync.RWMutex
	subs map[int64]map[chan domain.Event]struct{}
}

// NewStreamBroker creates a broker and registers it as a synchronous
// listener for the conversation-scoped events widgets care about
func NewStreamBroker(bus ports.EventBus) *StreamBroker {
	b := &StreamBroker{
		subs: make(map[int64]map[chan domain.Event]struct{}),
	}

	for _, name := range []string{
		domain.EventMessageCreated,
		domain.EventAssigneeChanged,
		domain.EventConversationResolved,
		domain.EventConversationClosed,
	} {
		bus.Subscribe(name, b.onEvent)
	}

	return b
}

// Subscribe opens a stream for one conversation. Multiple concurrent
// streams per conversation are permitted (one per open page view). The
// returned cancel must be called on disconnect.
func (b *StreamBroker) Subscribe(conversationID int64) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, streamBufferSize)

	b.mu.Lock()
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[chan domain.Event]struct{})
	}
	b.subs[conversationID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[conversationID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, conversationID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// StreamCount reports the number of open streams (dashboard)
func (b *StreamBroker) StreamCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

// onEvent fans an event out to every stream of its conversation
func (b *StreamBroker) onEvent(ctx context.Context, evt domain.Event) {
	convID, ok := conversationIDOf(evt)
	if !ok {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[convID] {
		// Non-blocking: a slow stream must never stall the dispatcher
		select {
		case ch <- evt:
		default:
		}
	}
}

// conversationIDOf extracts the conversation an event belongs to
func conversationIDOf(evt domain.Event) (int64, bool) {
	switch p := evt.Payload.(type) {
	case domain.MessageCreatedPayload:
		if p.Message != nil {
			return p.Message.ConversationID, true
		}
	case domain.AssigneeChangedPayload:
		return p.ConversationID, true
	case domain.ConversationPayload:
		if p.Conversation != nil {
			return p.Conversation.ID, true
		}
	}
	return 0, false
}
