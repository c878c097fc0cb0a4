package zulip

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/zulipgate/internal/bus"
	"github.com/nextlevelbuilder/zulipgate/internal/sessions"
	"github.com/nextlevelbuilder/zulipgate/internal/store"
)

// Route binds an accepted message to its session and reply destination.
type Route struct {
	SessionKey string
	AccountID  string
	// Address uses the destination grammar: "dm:<userId>" or
	// "stream:<name>:<topic>".
	Address string
}

// Router resolves sessions and reply destinations for inbound messages and
// records the last route per session for proactive sends.
type Router struct {
	agentID string
	channel string
	routes  store.RouteStore
}

// NewRouter creates a Router. routes may be nil (no persistence).
func NewRouter(agentID, channel string, routes store.RouteStore) *Router {
	return &Router{agentID: agentID, channel: channel, routes: routes}
}

// Resolve derives the session key and reply address for an inbound message.
// Direct messages additionally persist the address as the session's last
// route so proactive sends can find the sender; stream routes are derivable
// from the address grammar and are not recorded (a stream session would
// otherwise track whichever topic spoke last). Stream sessions key on the
// stream name so all topics in a stream share one conversation.
func (r *Router) Resolve(msg bus.InboundMessage) Route {
	var peerID, address string
	if msg.ChatType == "stream" {
		peerID = msg.Stream
		address = StreamAddress(msg.Stream, msg.Topic)
	} else {
		peerID = msg.SenderID
		address = DMAddress(msg.SenderID)
	}

	key := sessions.BuildKey(r.agentID, r.channel, msg.AccountID,
		sessions.PeerKindForChatType(msg.ChatType), peerID)

	if msg.ChatType != "stream" && r.routes != nil {
		if err := r.routes.SetLastRoute(key, address); err != nil {
			slog.Warn("persist route failed", "session", key, "error", err)
		}
	}
	return Route{SessionKey: key, AccountID: msg.AccountID, Address: address}
}

// DMAddress formats a direct-message destination.
func DMAddress(userID string) string {
	return "dm:" + userID
}

// StreamAddress formats a stream destination.
func StreamAddress(stream, topic string) string {
	return "stream:" + stream + ":" + topic
}

// Destination is a parsed outbound address.
type Destination struct {
	Kind   string // "dm" or "stream"
	UserID string // dm only
	Stream string // stream only
	Topic  string // stream only
}

// ParseAddress parses the destination grammar at the send boundary.
// Topics may contain colons; only the first two separators split.
func ParseAddress(address string) (Destination, error) {
	switch {
	case strings.HasPrefix(address, "dm:"):
		id := address[len("dm:"):]
		if id == "" {
			return Destination{}, fmt.Errorf("malformed address %q: empty user id", address)
		}
		return Destination{Kind: "dm", UserID: id}, nil

	case strings.HasPrefix(address, "stream:"):
		rest := address[len("stream:"):]
		name, topic, ok := strings.Cut(rest, ":")
		if !ok || name == "" {
			return Destination{}, fmt.Errorf("malformed address %q: want stream:<name>:<topic>", address)
		}
		return Destination{Kind: "stream", Stream: name, Topic: topic}, nil

	default:
		return Destination{}, fmt.Errorf("malformed address %q: unknown scheme", address)
	}
}
