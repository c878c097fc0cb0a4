// Package zulip bridges Zulip's server-push event stream to the reply
// pipeline: it registers event queues, long-polls them, gates messages
// through access policy and dispatches generated replies.
package zulip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/zulipgate/internal/agent"
	"github.com/nextlevelbuilder/zulipgate/internal/bus"
	"github.com/nextlevelbuilder/zulipgate/internal/channels"
	"github.com/nextlevelbuilder/zulipgate/internal/config"
	"github.com/nextlevelbuilder/zulipgate/internal/status"
	"github.com/nextlevelbuilder/zulipgate/internal/store"
)

// ChannelName identifies this channel on the bus.
const ChannelName = "zulip"

// Channel runs one event loop per configured Zulip account and delivers
// outbound messages addressed to any of them.
type Channel struct {
	*channels.BaseChannel

	cfg       config.ZulipConfig
	accounts  []config.AccountConfig
	agentID   string
	stores    *store.Stores
	responder agent.Responder
	status    status.Sink

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	dispatchers map[string]*Dispatcher
}

// NewChannel builds the Zulip channel from configuration. statusSink may be
// nil. Fails fast on empty accounts or invalid mention patterns.
func NewChannel(cfg *config.Config, stores *store.Stores,
	responder agent.Responder, statusSink status.Sink) (*Channel, error) {
	accounts := cfg.ResolveAccounts()
	if len(accounts) == 0 {
		return nil, fmt.Errorf("zulip: no accounts configured")
	}
	zc := cfg.Channels.Zulip
	if _, err := NewPolicy(zc, nil, ChannelName); err != nil {
		return nil, err
	}

	agentID := cfg.Agent.AgentID
	if agentID == "" {
		agentID = "default"
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel(ChannelName),
		cfg:         zc,
		accounts:    accounts,
		agentID:     agentID,
		stores:      stores,
		responder:   responder,
		status:      statusSink,
		dispatchers: make(map[string]*Dispatcher),
	}, nil
}

// Start launches one event loop goroutine per account. The channel owns its
// run context; Stop cancels it.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.IsRunning() {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	policy, err := NewPolicy(c.cfg, c.stores.Pairing, ChannelName)
	if err != nil {
		cancel()
		return err
	}
	router := NewRouter(c.agentID, ChannelName, c.stores.Routes)
	dedupe := bus.NewDedupeCache(bus.DefaultDedupeTTL, bus.DefaultDedupeHighWater)

	for _, acct := range c.accounts {
		client := NewClient(acct.Site, acct.Email, acct.APIKey)
		dispatcher := NewDispatcher(acct.ID, client, c.status, c.cfg.MaxMessageChars, c.cfg.ConvertTables)
		c.dispatchers[acct.ID] = dispatcher

		loop := NewLoop(acct.ID, client, policy, router, dispatcher,
			c.responder, c.stores.Pairing, dedupe, c.status)

		c.wg.Add(1)
		go func(accountID string) {
			defer c.wg.Done()
			loop.Run(runCtx)
		}(acct.ID)

		slog.Info("zulip account started", "account", acct.ID, "site", acct.Site)
	}

	c.SetRunning(true)
	return nil
}

// Stop cancels the run context and waits for the loops, bounded by ctx.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.IsRunning() {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("zulip: stop timed out: %w", ctx.Err())
	}

	c.SetRunning(false)
	slog.Info("zulip channel stopped")
	return nil
}

// Send delivers a proactive outbound message. The address must use the
// destination grammar ("dm:<userId>" or "stream:<name>:<topic>").
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	dispatcher, ok := c.dispatchers[c.resolveAccountID(msg.AccountID)]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("zulip: unknown account %q", msg.AccountID)
	}
	return dispatcher.Deliver(ctx, msg.Address, msg.Content)
}

// resolveAccountID defaults an empty account to the first configured one.
func (c *Channel) resolveAccountID(id string) string {
	if id != "" {
		return id
	}
	return c.accounts[0].ID
}
