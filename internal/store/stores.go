// Package store defines the storage interfaces consumed by the pipeline.
// File-backed implementations live in store/file.
package store

import "time"

// Stores is the top-level container for all storage backends.
type Stores struct {
	Pairing PairingStore
	Routes  RouteStore
}

// PairingRequest is a pending or approved pairing entry.
type PairingRequest struct {
	SenderID  string    `json:"sender_id"`
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id,omitempty"`
	Code      string    `json:"code"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
}

// PairingStore manages the approval workflow for unknown DM senders.
// Implementations must be safe for concurrent use.
type PairingStore interface {
	// IsPaired reports whether the sender has an approved pairing.
	IsPaired(senderID, channel string) bool

	// RequestPairing registers a pairing request keyed by sender id.
	// Idempotent: a repeat request before approval returns the existing
	// verification code with created=false, never a duplicate entry.
	RequestPairing(senderID, channel, chatID string) (code string, created bool, err error)

	// Approve marks the request with the given code as approved.
	Approve(code string) (*PairingRequest, error)

	// Revoke removes any pairing (approved or pending) for the sender.
	Revoke(senderID, channel string) error

	// ListPaired returns approved sender ids for the channel.
	ListPaired(channel string) []string

	// ListPending returns pending requests for the channel.
	ListPending(channel string) []PairingRequest
}

// RouteStore persists the last known delivery route per session so
// out-of-band proactive replies can find the right destination.
type RouteStore interface {
	SetLastRoute(sessionKey, address string) error
	LastRoute(sessionKey string) (address string, ok bool)
}
