package sessions

import "testing"

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name    string
		agentID string
		kind    PeerKind
		peerID  string
		want    string
	}{
		{"dm", "default", PeerDirect, "42", "agent:default:zulip:main:direct:42"},
		{"stream", "default", PeerStream, "general", "agent:default:zulip:main:stream:general"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildKey(tt.agentID, "zulip", "main", tt.kind, tt.peerID)
			if got != tt.want {
				t.Errorf("BuildKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildKey_Deterministic(t *testing.T) {
	a := BuildKey("default", "zulip", "main", PeerDirect, "42")
	b := BuildKey("default", "zulip", "main", PeerDirect, "42")
	if a != b {
		t.Errorf("same inputs produced different keys: %q vs %q", a, b)
	}
}

func TestParseKey(t *testing.T) {
	agentID, rest := ParseKey("agent:default:zulip:main:direct:42")
	if agentID != "default" || rest != "zulip:main:direct:42" {
		t.Errorf("ParseKey = (%q, %q)", agentID, rest)
	}

	if a, r := ParseKey("not-a-key"); a != "" || r != "" {
		t.Errorf("malformed key should parse to empty, got (%q, %q)", a, r)
	}
}

func TestPeerKindForChatType(t *testing.T) {
	if PeerKindForChatType("stream") != PeerStream {
		t.Error("stream chat type should map to PeerStream")
	}
	if PeerKindForChatType("direct") != PeerDirect {
		t.Error("direct chat type should map to PeerDirect")
	}
	if PeerKindForChatType("") != PeerDirect {
		t.Error("empty chat type should default to PeerDirect")
	}
}
