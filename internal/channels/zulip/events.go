package zulip

import (
	"encoding/json"
	"fmt"
)

// Queue identifies a registered server-side event queue.
type Queue struct {
	QueueID     string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
}

// Event is one entry from the event queue. Only message events carry a
// Message; heartbeats and other types are skipped by the loop.
type Event struct {
	ID      int64    `json:"id"`
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// Message is the wire form of a Zulip message.
type Message struct {
	ID             int64  `json:"id"`
	SenderID       int64  `json:"sender_id"`
	SenderFullName string `json:"sender_full_name"`
	SenderEmail    string `json:"sender_email"`
	Type           string `json:"type"` // "stream" or "private"
	Subject        string `json:"subject,omitempty"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`

	// DisplayRecipient is a stream name (string) for stream messages or a
	// recipient list for private messages; decoded lazily.
	DisplayRecipient json.RawMessage `json:"display_recipient,omitempty"`
}

// StreamName returns the stream name for a stream message.
func (m *Message) StreamName() string {
	if m.Type != "stream" || len(m.DisplayRecipient) == 0 {
		return ""
	}
	var name string
	if err := json.Unmarshal(m.DisplayRecipient, &name); err != nil {
		return ""
	}
	return name
}

// Profile is the bot's own identity, captured once at startup.
type Profile struct {
	UserID   int64  `json:"user_id"`
	FullName string `json:"full_name"`
}

// apiResponse is the common envelope of every Zulip REST response.
type apiResponse struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	Code   string `json:"code,omitempty"`
}

// apiError is a non-success REST response.
type apiError struct {
	Code string
	Msg  string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("zulip: %s (%s)", e.Msg, e.Code)
	}
	return "zulip: " + e.Msg
}
