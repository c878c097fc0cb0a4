package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/zulipgate/internal/bus"
	"github.com/nextlevelbuilder/zulipgate/internal/config"
	"github.com/nextlevelbuilder/zulipgate/internal/status"
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

func newSendServer(t *testing.T, routes *memRoutes) (*bus.MessageBus, *httptest.Server) {
	t.Helper()
	b := bus.New()
	s := NewServer(config.GatewayConfig{}, b, nil)
	s.SetOutbound(b, routes)
	srv := httptest.NewServer(s.buildMux())
	t.Cleanup(srv.Close)
	return b, srv
}

func postSend(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func consumeOne(t *testing.T, b *bus.MessageBus) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.ConsumeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound message published")
	}
	return msg
}

func TestSendWithExplicitAddress(t *testing.T) {
	b, srv := newSendServer(t, &memRoutes{})

	resp := postSend(t, srv, `{"account_id":"main","address":"dm:42","content":"heads up"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	msg := consumeOne(t, b)
	if msg.Channel != "zulip" || msg.AccountID != "main" || msg.Address != "dm:42" || msg.Content != "heads up" {
		t.Errorf("outbound = %+v", msg)
	}
}

func TestSendResolvesSessionRoute(t *testing.T) {
	routes := &memRoutes{}
	routes.SetLastRoute("agent:default:zulip:main:direct:42", "dm:42")
	b, srv := newSendServer(t, routes)

	resp := postSend(t, srv, `{"session_key":"agent:default:zulip:main:direct:42","content":"ping"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["address"] != "dm:42" {
		t.Errorf("resolved address = %q", body["address"])
	}

	msg := consumeOne(t, b)
	if msg.Address != "dm:42" {
		t.Errorf("outbound address = %q", msg.Address)
	}
}

func TestSendUnknownSessionRejected(t *testing.T) {
	_, srv := newSendServer(t, &memRoutes{})

	resp := postSend(t, srv, `{"session_key":"agent:default:zulip:main:direct:7","content":"ping"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSendRequiresContent(t *testing.T) {
	_, srv := newSendServer(t, &memRoutes{})

	resp := postSend(t, srv, `{"address":"dm:42"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSendMethodNotAllowed(t *testing.T) {
	_, srv := newSendServer(t, &memRoutes{})

	resp, err := http.Get(srv.URL + "/send")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestSendDisabledWithoutOutbound(t *testing.T) {
	s := NewServer(config.GatewayConfig{}, bus.New(), nil)
	srv := httptest.NewServer(s.buildMux())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when /send is not wired", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	b := bus.New()
	tracker := status.NewTracker(b)
	status.Connected(tracker, "main")

	s := NewServer(config.GatewayConfig{}, b, tracker)
	srv := httptest.NewServer(s.buildMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Accounts []status.Snapshot `json:"accounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Accounts) != 1 || body.Accounts[0].AccountID != "main" || !body.Accounts[0].Connected {
		t.Errorf("accounts = %+v", body.Accounts)
	}
}
