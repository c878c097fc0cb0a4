package zulip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nextlevelbuilder/zulipgate/internal/agent"
	"github.com/nextlevelbuilder/zulipgate/internal/bus"
	"github.com/nextlevelbuilder/zulipgate/internal/markdown"
	"github.com/nextlevelbuilder/zulipgate/internal/status"
	"github.com/nextlevelbuilder/zulipgate/internal/store"
)

// api is the subset of Client the loop needs.
type api interface {
	RegisterQueue(ctx context.Context) (*Queue, error)
	Events(ctx context.Context, queueID string, lastEventID int64) ([]Event, error)
	OwnProfile(ctx context.Context) (*Profile, error)
}

// Loop runs one account's event pipeline: register a queue, long-poll it,
// and process each message in-line so replies for an account stay strictly
// ordered. Transport failures re-register after exponential backoff; an
// expired queue re-registers immediately.
type Loop struct {
	accountID  string
	client     api
	policy     *Policy
	router     *Router
	dispatcher *Dispatcher
	responder  agent.Responder
	pairing    store.PairingStore
	dedupe     *bus.DedupeCache
	status     status.Sink

	botID   int64
	botName string

	retry *backoff.ExponentialBackOff
}

// NewLoop wires a Loop for one account. statusSink and pairing may be nil.
func NewLoop(accountID string, client api, policy *Policy, router *Router,
	dispatcher *Dispatcher, responder agent.Responder, pairing store.PairingStore,
	dedupe *bus.DedupeCache, statusSink status.Sink) *Loop {
	return &Loop{
		accountID:  accountID,
		client:     client,
		policy:     policy,
		router:     router,
		dispatcher: dispatcher,
		responder:  responder,
		pairing:    pairing,
		dedupe:     dedupe,
		status:     statusSink,
		retry:      newRetryBackoff(),
	}
}

// newRetryBackoff builds the reconnect schedule: 1s, 2s, 4s, 8s, 16s then
// 30s forever, no jitter, never giving up.
func newRetryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run drives the register/poll cycle until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for ctx.Err() == nil {
		queue, err := l.register(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.disconnected(err)
			if !sleepCtx(ctx, l.retry.NextBackOff()) {
				break
			}
			continue
		}

		l.retry.Reset()
		if l.status != nil {
			status.Connected(l.status, l.accountID)
		}
		slog.Info("event queue registered",
			"account", l.accountID, "queue_id", queue.QueueID, "bot", l.botName)

		err = l.poll(ctx, queue)
		switch {
		case ctx.Err() != nil:
			// Shutting down.
		case errors.Is(err, ErrBadEventQueue):
			// Queue expired server-side; skip backoff and re-register.
			slog.Info("event queue expired, re-registering", "account", l.accountID)
		default:
			l.disconnected(err)
			if !sleepCtx(ctx, l.retry.NextBackOff()) {
				return
			}
		}
	}
	slog.Info("event loop stopped", "account", l.accountID)
}

// register fetches the bot identity (once) and a fresh event queue.
func (l *Loop) register(ctx context.Context) (*Queue, error) {
	if l.botID == 0 {
		profile, err := l.client.OwnProfile(ctx)
		if err != nil {
			return nil, err
		}
		l.botID = profile.UserID
		l.botName = profile.FullName
	}
	return l.client.RegisterQueue(ctx)
}

// poll long-polls the queue until an error or cancellation. A successful
// poll, even an empty heartbeat, resets the retry schedule.
func (l *Loop) poll(ctx context.Context, queue *Queue) error {
	lastEventID := queue.LastEventID
	for {
		events, err := l.client.Events(ctx, queue.QueueID, lastEventID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		l.retry.Reset()

		for _, ev := range events {
			if ev.ID > lastEventID {
				lastEventID = ev.ID
			}
			if ev.Type != "message" || ev.Message == nil {
				continue
			}
			l.handleMessage(ctx, ev.Message)
		}
	}
}

func (l *Loop) disconnected(err error) {
	slog.Warn("event loop disconnected", "account", l.accountID, "error", err)
	if l.status != nil {
		status.Disconnected(l.status, l.accountID, err)
	}
}

// handleMessage runs one message through dedupe, policy, routing and reply
// generation. Errors are logged; the loop never dies on a bad message.
func (l *Loop) handleMessage(ctx context.Context, m *Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic handling message",
				"account", l.accountID, "message_id", m.ID, "panic", r)
		}
	}()

	if m.SenderID == l.botID {
		return
	}

	dedupeKey := fmt.Sprintf("zulip|%s|%d", l.accountID, m.ID)
	if l.dedupe != nil && l.dedupe.Seen(dedupeKey) {
		slog.Debug("duplicate message skipped", "account", l.accountID, "message_id", m.ID)
		return
	}

	inbound := l.toInbound(m)
	verdict := l.policy.Evaluate(inbound, l.botName)
	logVerdict(inbound, verdict)

	switch verdict.Action {
	case ActionDrop:
		return

	case ActionPairing:
		l.handlePairing(ctx, inbound)

	case ActionProcess:
		if strings.TrimSpace(verdict.CleanBody) == "" {
			slog.Debug("empty body after mention strip, dropping",
				"account", l.accountID, "message_id", m.ID)
			return
		}
		l.respond(ctx, inbound, verdict)
	}
}

// toInbound normalizes a wire message.
func (l *Loop) toInbound(m *Message) bus.InboundMessage {
	chatType := "direct"
	if m.Type == "stream" {
		chatType = "stream"
	}
	return bus.InboundMessage{
		Channel:     "zulip",
		AccountID:   l.accountID,
		MessageID:   m.ID,
		SenderID:    strconv.FormatInt(m.SenderID, 10),
		SenderName:  m.SenderFullName,
		SenderEmail: m.SenderEmail,
		ChatType:    chatType,
		Stream:      m.StreamName(),
		Topic:       m.Subject,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
	}
}

// handlePairing registers a pairing request and sends the instructions reply
// exactly once, on first creation. Repeat messages before approval stay
// silent so an unknown sender cannot generate reply traffic.
func (l *Loop) handlePairing(ctx context.Context, msg bus.InboundMessage) {
	if l.pairing == nil {
		return
	}
	code, created, err := l.pairing.RequestPairing(msg.SenderID, msg.Channel, msg.SenderID)
	if err != nil {
		slog.Error("pairing request failed",
			"account", l.accountID, "sender", msg.SenderID, "error", err)
		return
	}
	if !created {
		return
	}
	slog.Info("pairing requested",
		"account", l.accountID, "sender", msg.SenderID, "code", code)

	text := fmt.Sprintf(
		"Hi! I don't recognize you yet. Ask my operator to approve you with:\n\n"+
			"```\nzulipgate pairing approve %s\n```", code)
	if err := l.dispatcher.Deliver(ctx, DMAddress(msg.SenderID), text); err != nil {
		slog.Error("pairing instructions failed",
			"account", l.accountID, "sender", msg.SenderID, "error", err)
	}
}

// respond resolves the route, generates the reply and delivers each payload
// in order to the same destination.
func (l *Loop) respond(ctx context.Context, msg bus.InboundMessage, v Verdict) {
	route := l.router.Resolve(msg)

	in := agent.InboundContext{
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		SenderEmail: msg.SenderEmail,
		ChatType:    msg.ChatType,
		Stream:      msg.Stream,
		Topic:       msg.Topic,
		Body:        v.CleanBody,
		ContentKey:  fmt.Sprintf("zulip:%s:%d", msg.AccountID, msg.MessageID),
		SessionKey:  route.SessionKey,
		AccountID:   msg.AccountID,
		Authorized:  v.Authorized,
	}

	l.dispatcher.Typing(ctx, route.Address, "start")
	defer l.dispatcher.Typing(ctx, route.Address, "stop")

	err := l.responder.Respond(ctx, in, func(p agent.ReplyPayload) {
		if markdown.IsSilentReply(p.Text) {
			return
		}
		if err := l.dispatcher.Deliver(ctx, route.Address, p.Text); err != nil {
			slog.Error("reply delivery failed",
				"account", l.accountID, "session", route.SessionKey, "error", err)
		}
	})
	if err != nil {
		slog.Error("responder failed",
			"account", l.accountID, "session", route.SessionKey, "error", err)
	}
}

// sleepCtx waits d or until ctx is done; reports whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
