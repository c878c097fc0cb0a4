// Package channels provides the channel abstraction layer connecting
// external chat platforms to the reply pipeline via the message bus.
package channels

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/zulipgate/internal/bus"
)

// DMPolicy controls how direct messages from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyOpen     DMPolicy = "open"     // Accept all senders
	DMPolicyPairing  DMPolicy = "pairing"  // Require pairing approval
	DMPolicyDisabled DMPolicy = "disabled" // Reject all DMs
)

// Channel defines the interface that all channel implementations satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g. "zulip").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively processing messages.
	IsRunning() bool
}

// BaseChannel provides shared functionality for channel implementations.
type BaseChannel struct {
	name    string
	running bool
}

// NewBaseChannel creates a BaseChannel with the given name.
func NewBaseChannel(name string) *BaseChannel {
	return &BaseChannel{name: name}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning reports whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// NormalizeIdentity lowercases an identity token and strips a recognized
// "user:" prefix, so config entries like "user:Alice@example.com" match the
// sender email "alice@example.com".
func NormalizeIdentity(token string) string {
	t := strings.ToLower(strings.TrimSpace(token))
	t = strings.TrimPrefix(t, "user:")
	return t
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
