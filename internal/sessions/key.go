// Package sessions — session key builder and parser.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the conversation:
//
//	DM:           {channel}:{accountId}:direct:{peerId}
//	Stream:       {channel}:{accountId}:stream:{streamName}
//
// Examples:
//
//	agent:default:zulip:main:direct:386246
//	agent:default:zulip:main:stream:general
//
// Keys are pure functions of their inputs so a conversation resumes on the
// same session across reconnects.
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from stream conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerStream PeerKind = "stream"
)

// BuildKey builds the canonical session key for a conversation.
//
//	DM:     agent:{agentId}:{channel}:{accountId}:direct:{peerID}
//	Stream: agent:{agentId}:{channel}:{accountId}:stream:{streamName}
func BuildKey(agentID, channel, accountID string, kind PeerKind, peerID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s:%s", agentID, channel, accountID, kind, peerID)
}

// ParseKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key is not in the expected format.
func ParseKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// PeerKindForChatType maps a chat type ("direct"/"stream") to a PeerKind.
func PeerKindForChatType(chatType string) PeerKind {
	if chatType == "stream" {
		return PeerStream
	}
	return PeerDirect
}
