// Package status tracks channel connection state. The tracker is a
// write-only sink: producers publish partial updates, observers eventually
// see the latest merged snapshot.
package status

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/zulipgate/internal/bus"
)

// Update is a partial status change. Nil fields are left untouched.
type Update struct {
	Connected       *bool      `json:"connected,omitempty"`
	LastConnectedAt *time.Time `json:"lastConnectedAt,omitempty"`
	LastError       *string    `json:"lastError,omitempty"`
	LastDisconnect  *time.Time `json:"lastDisconnect,omitempty"`
	LastOutboundAt  *time.Time `json:"lastOutboundAt,omitempty"`
}

// Snapshot is the merged status for one account.
type Snapshot struct {
	AccountID       string     `json:"accountId"`
	Connected       bool       `json:"connected"`
	LastConnectedAt *time.Time `json:"lastConnectedAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	LastDisconnect  *time.Time `json:"lastDisconnect,omitempty"`
	LastOutboundAt  *time.Time `json:"lastOutboundAt,omitempty"`
}

// Sink accepts fire-and-forget status updates.
type Sink interface {
	Publish(accountID string, u Update)
}

// Tracker merges updates into per-account snapshots and broadcasts each
// transition as a "status" event. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	events    bus.EventPublisher // optional
}

// NewTracker creates a Tracker. events may be nil.
func NewTracker(events bus.EventPublisher) *Tracker {
	return &Tracker{
		snapshots: make(map[string]*Snapshot),
		events:    events,
	}
}

// Publish merges the update into the account's snapshot.
func (t *Tracker) Publish(accountID string, u Update) {
	t.mu.Lock()
	s, ok := t.snapshots[accountID]
	if !ok {
		s = &Snapshot{AccountID: accountID}
		t.snapshots[accountID] = s
	}
	if u.Connected != nil {
		s.Connected = *u.Connected
	}
	if u.LastConnectedAt != nil {
		s.LastConnectedAt = u.LastConnectedAt
	}
	if u.LastError != nil {
		s.LastError = *u.LastError
	}
	if u.LastDisconnect != nil {
		s.LastDisconnect = u.LastDisconnect
	}
	if u.LastOutboundAt != nil {
		s.LastOutboundAt = u.LastOutboundAt
	}
	snap := *s
	t.mu.Unlock()

	if t.events != nil {
		t.events.Broadcast(bus.Event{Name: "status", Payload: snap})
	}
}

// Snapshot returns a copy of the account's current status.
func (t *Tracker) Snapshot(accountID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.snapshots[accountID]
	if !ok {
		return Snapshot{}, false
	}
	return *s, true
}

// All returns copies of every account snapshot.
func (t *Tracker) All() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.snapshots))
	for _, s := range t.snapshots {
		out = append(out, *s)
	}
	return out
}

// Helpers for the common transitions.

// Connected marks the account connected now.
func Connected(t Sink, accountID string) {
	now := time.Now()
	yes := true
	empty := ""
	t.Publish(accountID, Update{Connected: &yes, LastConnectedAt: &now, LastError: &empty})
}

// Disconnected marks the account disconnected with the given error.
func Disconnected(t Sink, accountID string, err error) {
	now := time.Now()
	no := false
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.Publish(accountID, Update{Connected: &no, LastDisconnect: &now, LastError: &msg})
}

// Outbound records a successful outbound delivery.
func Outbound(t Sink, accountID string) {
	now := time.Now()
	t.Publish(accountID, Update{LastOutboundAt: &now})
}
