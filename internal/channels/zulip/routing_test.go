package zulip

import (
	"testing"

	"github.com/nextlevelbuilder/zulipgate/internal/bus"
)

type memRoutes struct {
	m map[string]string
}

func (r *memRoutes) SetLastRoute(sessionKey, address string) error {
	if r.m == nil {
		r.m = make(map[string]string)
	}
	r.m[sessionKey] = address
	return nil
}

func (r *memRoutes) LastRoute(sessionKey string) (string, bool) {
	a, ok := r.m[sessionKey]
	return a, ok
}

func TestResolveDM(t *testing.T) {
	routes := &memRoutes{}
	r := NewRouter("default", "zulip", routes)

	route := r.Resolve(bus.InboundMessage{
		Channel:   "zulip",
		AccountID: "main",
		ChatType:  "direct",
		SenderID:  "42",
	})

	if route.SessionKey != "agent:default:zulip:main:direct:42" {
		t.Errorf("session key = %q", route.SessionKey)
	}
	if route.Address != "dm:42" {
		t.Errorf("address = %q", route.Address)
	}
	if got, ok := routes.LastRoute(route.SessionKey); !ok || got != "dm:42" {
		t.Errorf("persisted route = %q ok=%v", got, ok)
	}
}

func TestResolveStreamDoesNotPersistRoute(t *testing.T) {
	routes := &memRoutes{}
	r := NewRouter("default", "zulip", routes)

	route := r.Resolve(bus.InboundMessage{
		AccountID: "main",
		ChatType:  "stream",
		SenderID:  "42",
		Stream:    "general",
		Topic:     "lunch plans",
	})

	if route.SessionKey != "agent:default:zulip:main:stream:general" {
		t.Errorf("session key = %q", route.SessionKey)
	}
	if route.Address != "stream:general:lunch plans" {
		t.Errorf("address = %q", route.Address)
	}
	// Route persistence is a direct-message side effect only.
	if got, ok := routes.LastRoute(route.SessionKey); ok {
		t.Errorf("stream route persisted: %q", got)
	}
}

func TestStreamSessionSharedAcrossTopics(t *testing.T) {
	routes := &memRoutes{}
	r := NewRouter("default", "zulip", routes)

	a := r.Resolve(bus.InboundMessage{AccountID: "main", ChatType: "stream", Stream: "general", Topic: "one"})
	b := r.Resolve(bus.InboundMessage{AccountID: "main", ChatType: "stream", Stream: "general", Topic: "two"})

	if a.SessionKey != b.SessionKey {
		t.Errorf("topics split sessions: %q vs %q", a.SessionKey, b.SessionKey)
	}
	if len(routes.m) != 0 {
		t.Errorf("stream resolves recorded routes: %v", routes.m)
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		addr    string
		want    Destination
		wantErr bool
	}{
		{"dm:42", Destination{Kind: "dm", UserID: "42"}, false},
		{"stream:general:lunch plans", Destination{Kind: "stream", Stream: "general", Topic: "lunch plans"}, false},
		{"stream:ops:release: 1.2", Destination{Kind: "stream", Stream: "ops", Topic: "release: 1.2"}, false},
		{"dm:", Destination{}, true},
		{"stream:general", Destination{}, true},
		{"stream::topic", Destination{}, true},
		{"email:alice@example.com", Destination{}, true},
		{"", Destination{}, true},
	}
	for _, tt := range tests {
		got, err := ParseAddress(tt.addr)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAddress(%q): expected error", tt.addr)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAddress(%q): %v", tt.addr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.addr, got, tt.want)
		}
	}
}
