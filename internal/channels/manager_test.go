package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/zulipgate/internal/bus"
)

type stubChannel struct {
	name    string
	mu      sync.Mutex
	sent    []bus.OutboundMessage
	running bool
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	return nil
}

func (c *stubChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *stubChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *stubChannel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *stubChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestOutboundDispatchedToChannel(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	ch := &stubChannel{name: "zulip"}
	m.Register(ch)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.StopAll(context.Background())

	b.PublishOutbound(bus.OutboundMessage{Channel: "zulip", Address: "dm:42", Content: "ping"})

	waitFor(t, func() bool { return ch.sentCount() == 1 })
	ch.mu.Lock()
	got := ch.sent[0]
	ch.mu.Unlock()
	if got.Address != "dm:42" || got.Content != "ping" {
		t.Errorf("delivered = %+v", got)
	}
}

func TestOutboundUnknownChannelSkipped(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	ch := &stubChannel{name: "zulip"}
	m.Register(ch)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.StopAll(context.Background())

	// An unroutable message must not kill the dispatch loop.
	b.PublishOutbound(bus.OutboundMessage{Channel: "carrier-pigeon", Address: "dm:1", Content: "coo"})
	b.PublishOutbound(bus.OutboundMessage{Channel: "zulip", Address: "dm:42", Content: "still alive"})

	waitFor(t, func() bool { return ch.sentCount() == 1 })
	ch.mu.Lock()
	got := ch.sent[0]
	ch.mu.Unlock()
	if got.Content != "still alive" {
		t.Errorf("delivered = %+v", got)
	}
}

func TestStopAllStopsChannels(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	ch := &stubChannel{name: "zulip"}
	m.Register(ch)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !ch.IsRunning() {
		t.Fatal("channel not started")
	}
	if err := m.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ch.IsRunning() {
		t.Error("channel still running after StopAll")
	}
}
