package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/services"
)

func messageEvent(conversationID, messageID int64) domain.Event {
	contactID := int64(10)
	return domain.Event{
		Name: domain.EventMessageCreated,
		At:   time.Now(),
		Payload: domain.MessageCreatedPayload{
			Message: &domain.Message{
				ID:              messageID,
				ConversationID:  conversationID,
				Direction:       domain.DirectionIn,
				SenderContactID: &contactID,
				Body:            "hello",
			},
			InboxID: 5,
		},
	}
}

// TestStreamBroker_DeliversToMatchingConversation tests conversation-scoped
// fan-out
func TestStreamBroker_DeliversToMatchingConversation(t *testing.T) {
	bus := services.NewDispatcher()
	defer bus.Close()
	broker := NewStreamBroker(bus)

	ch, cancel := broker.Subscribe(42)
	defer cancel()
	other, cancelOther := broker.Subscribe(99)
	defer cancelOther()

	bus.Dispatch(context.Background(), messageEvent(42, 7))

	select {
	case evt := <-ch:
		assert.Equal(t, domain.EventMessageCreated, evt.Name)
	default:
		t.Fatal("expected event on conversation 42 stream")
	}

	select {
	case <-other:
		t.Fatal("conversation 99 stream must not receive conversation 42 events")
	default:
	}
}

// TestStreamBroker_MultipleStreamsPerConversation tests concurrent page views
func TestStreamBroker_MultipleStreamsPerConversation(t *testing.T) {
	bus := services.NewDispatcher()
	defer bus.Close()
	broker := NewStreamBroker(bus)

	ch1, cancel1 := broker.Subscribe(42)
	defer cancel1()
	ch2, cancel2 := broker.Subscribe(42)
	defer cancel2()

	bus.Dispatch(context.Background(), messageEvent(42, 7))

	assert.Len(t, ch1, 1)
	assert.Len(t, ch2, 1)
}

// TestStreamBroker_CancelStopsDelivery tests unsubscription
func TestStreamBroker_CancelStopsDelivery(t *testing.T) {
	bus := services.NewDispatcher()
	defer bus.Close()
	broker := NewStreamBroker(bus)

	ch, cancel := broker.Subscribe(42)
	cancel()

	bus.Dispatch(context.Background(), messageEvent(42, 7))

	assert.Len(t, ch, 0)
	assert.Equal(t, 0, broker.StreamCount())
}

// TestStreamBroker_DropsWhenBufferFull tests the non-blocking send: the
// dispatcher never stalls on a slow stream
func TestStreamBroker_DropsWhenBufferFull(t *testing.T) {
	bus := services.NewDispatcher()
	defer bus.Close()
	broker := NewStreamBroker(bus)

	_, cancel := broker.Subscribe(42)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Twice the buffer: overflow must be dropped, not block
		for i := 0; i < streamBufferSize*2; i++ {
			bus.Dispatch(context.Background(), messageEvent(42, int64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full stream buffer")
	}
}

// TestStreamBroker_AssigneeChangedRouted tests routing for non-message events
func TestStreamBroker_AssigneeChangedRouted(t *testing.T) {
	bus := services.NewDispatcher()
	defer bus.Close()
	broker := NewStreamBroker(bus)

	ch, cancel := broker.Subscribe(42)
	defer cancel()

	bus.Dispatch(context.Background(), domain.Event{
		Name: domain.EventAssigneeChanged,
		At:   time.Now(),
		Payload: domain.AssigneeChangedPayload{
			ConversationID: 42,
			InboxID:        5,
			NewAgentID:     3,
		},
	})

	select {
	case evt := <-ch:
		assert.Equal(t, domain.EventAssigneeChanged, evt.Name)
	default:
		t.Fatal("expected assignee.changed on the stream")
	}
}

func TestStreamCount(t *testing.T) {
	bus := services.NewDispatcher()
	defer bus.Close()
	broker := NewStreamBroker(bus)

	assert.Equal(t, 0, broker.StreamCount())

	_, cancel1 := broker.Subscribe(42)
	_, cancel2 := broker.Subscribe(42)
	_, cancel3 := broker.Subscribe(99)
	assert.Equal(t, 3, broker.StreamCount())

	cancel1()
	cancel2()
	cancel3()
	assert.Equal(t, 0, broker.StreamCount())
}
