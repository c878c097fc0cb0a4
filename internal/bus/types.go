package bus

import "context"

// InboundMessage is the normalized form of a message received from a channel.
// It is constructed once from a raw platform event, consumed once by the
// pipeline, and discarded; only its dedupe key outlives processing.
type InboundMessage struct {
	Channel     string            `json:"channel"`
	AccountID   string            `json:"account_id,omitempty"`
	MessageID   int64             `json:"message_id"`
	SenderID    string            `json:"sender_id"`
	SenderName  string            `json:"sender_name,omitempty"`
	SenderEmail string            `json:"sender_email,omitempty"`
	ChatType    string            `json:"chat_type"`        // "direct" or "stream"
	Stream      string            `json:"stream,omitempty"` // stream name (stream messages only)
	Topic       string            `json:"topic,omitempty"`  // topic label (stream messages only)
	Content     string            `json:"content"`
	Timestamp   int64             `json:"timestamp"` // seconds since epoch
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a message to be delivered by a channel.
// Address uses the destination grammar parsed at the send boundary:
// "dm:<userId>" or "stream:<name>:<topic>".
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	AccountID string            `json:"account_id,omitempty"`
	Address   string            `json:"address"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event is a server-side event broadcast to gateway observers.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription so the gateway
// server does not depend on the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts outbound message routing between the pipeline and
// channels. Inbound handling is deliberately not queued here: each account's
// event loop processes its messages in-line to preserve strict ordering.
type MessageRouter interface {
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}
