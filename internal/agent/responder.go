// Package agent defines the reply-generation collaborator boundary.
// The pipeline hands a normalized inbound context to a Responder and
// receives zero or more reply payloads; everything about how replies are
// produced stays behind this interface.
package agent

import "context"

// InboundContext is the normalized view of one accepted inbound message.
type InboundContext struct {
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name,omitempty"`
	SenderEmail string `json:"sender_email,omitempty"`

	// ChatType is "direct" or "stream".
	ChatType string `json:"chat_type"`
	Stream   string `json:"stream,omitempty"`
	Topic    string `json:"topic,omitempty"`

	// Body is the message content with mention markup stripped.
	Body string `json:"body"`

	// ContentKey is a stable per-message key ("zulip:<account>:<messageID>")
	// for idempotence in downstream event logs.
	ContentKey string `json:"content_key"`

	SessionKey string `json:"session_key"`
	AccountID  string `json:"account_id"`

	// Authorized reports whether the sender may trigger command-level
	// actions: always true for admitted DMs; for stream messages, true only
	// if the sender passes the auto-reply allow-list check.
	Authorized bool `json:"authorized"`
}

// ReplyPayload is one piece of a reply. A Responder may subdivide a single
// logical response into multiple payloads (e.g. incremental output).
type ReplyPayload struct {
	Text string
}

// EmitFunc receives reply payloads as they are produced.
type EmitFunc func(ReplyPayload)

// Responder generates replies for inbound messages.
type Responder interface {
	// Respond produces zero or more payloads for the inbound context,
	// calling emit for each in order. A returned error means no further
	// payloads will arrive; payloads already emitted remain deliverable.
	Respond(ctx context.Context, in InboundContext, emit EmitFunc) error
}
