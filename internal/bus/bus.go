// Package bus routes messages between channels and the reply pipeline and
// broadcasts gateway events to observers.
package bus

import (
	"context"
	"sync"
)

const queueSize = 256

// MessageBus is the process-wide router for inbound/outbound messages and
// broadcast events. Safe for concurrent use.
type MessageBus struct {
	outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New creates a MessageBus with a buffered outbound queue.
func New() *MessageBus {
	return &MessageBus{
		outbound: make(chan OutboundMessage, queueSize),
		handlers: make(map[string]EventHandler),
	}
}

// PublishOutbound enqueues a message for delivery by its channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// ConsumeOutbound blocks until an outbound message is available or ctx is
// cancelled. Returns ok=false on cancellation.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

// Subscribe registers an event handler under id, replacing any previous one.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers an event to all subscribed handlers.
// Handlers run synchronously; they must not block.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}
