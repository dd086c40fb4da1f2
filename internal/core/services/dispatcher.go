// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"log/slog"
	"sync"

	"livechat-core/internal/core/domain"
	"livechat-core/internal/core/ports"
)

// Ensure Dispatcher implements EventBus
var _ ports.EventBus = (*Dispatcher)(nil)

const asyncQueueSize = 256

// Dispatcher is the in-process publish/subscribe hub. Synchronous listeners
// run in registration order before Dispatch returns; asynchronous listeners
// run on a single background worker, only for events dispatched with
// DispatchAsync. There is no replay: late subscribers never see past events.
type Dispatcher struct {
	mu             sync.RWMutex
	syncListeners  map[string][]ports.Listener
	asyncListeners map[string][]ports.Listener

	queue chan domain.Event
	done  chan struct{}
}

// NewDispatcher creates a dispatcher instance. Constructed once at process
// start and injected into every component that publishes or subscribes; no
// global singleton.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		syncListeners:  make(map[string][]ports.Listener),
		asyncListeners: make(map[string][]ports.Listener),
		queue:          make(chan domain.Event, asyncQueueSize),
		done:           make(chan struct{}),
	}
	go d.worker()
	return d
}

// Subscribe registers a synchronous listener for eventName
func (d *Dispatcher) Subscribe(eventName string, l ports.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncListeners[eventName] = append(d.syncListeners[eventName], l)
}

// SubscribeAsync registers a deferred listener for eventName
func (d *Dispatcher) SubscribeAsync(eventName string, l ports.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.asyncListeners[eventName] = append(d.asyncListeners[eventName], l)
}

// Dispatch invokes synchronous listeners in registration order. A listener
// panic is caught and logged; remaining listeners still run and the caller
// never sees the failure.
func (d *Dispatcher) Dispatch(ctx context.Context, evt domain.Event) {
	d.mu.RLock()
	listeners := d.syncListeners[evt.Name]
	d.mu.RUnlock()

	for i, l := range listeners {
		d.invoke(ctx, evt, l, i)
	}
}

// DispatchAsync invokes synchronous listeners, then queues the event for
// asynchronous listeners. Non-blocking with a drop-if-full strategy: event
// fan-out must never stall a request handler.
func (d *Dispatcher) DispatchAsync(ctx context.Context, evt domain.Event) {
	d.Dispatch(ctx, evt)

	select {
	case d.queue <- evt:
	default:
		slog.Warn("Async event queue full, dropping event",
			"event", evt.Name,
		)
	}
}

// Close stops the background worker. Queued events that have not been
// delivered yet are dropped.
func (d *Dispatcher) Close() {
	close(d.done)
}

// worker drains the async queue
func (d *Dispatcher) worker() {
	for {
		select {
		case evt := <-d.queue:
			d.mu.RLock()
			listeners := d.asyncListeners[evt.Name]
			d.mu.RUnlock()

			ctx := context.Background()
			for i, l := range listeners {
				d.invoke(ctx, evt, l, i)
			}
		case <-d.done:
			return
		}
	}
}

// invoke runs one listener with panic containment
func (d *Dispatcher) invoke(ctx context.Context, evt domain.Event, l ports.Listener, index int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in event listener",
				"panic", r,
				"event", evt.Name,
				"listener_index", index,
			)
		}
	}()

	l(ctx, evt)
}
