package zulip

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nextlevelbuilder/zulipgate/internal/markdown"
	"github.com/nextlevelbuilder/zulipgate/internal/status"
)

// sender is the subset of Client the dispatcher needs.
type sender interface {
	SendDirect(ctx context.Context, userID int64, content string) (int64, error)
	SendStream(ctx context.Context, stream, topic, content string) (int64, error)
	SetTyping(ctx context.Context, op string, userID int64) error
}

// Dispatcher delivers reply text to Zulip destinations. Deliveries to the
// same destination are serialized in submission order; distinct destinations
// may proceed concurrently.
type Dispatcher struct {
	accountID     string
	client        sender
	status        status.Sink
	maxChars      int
	convertTables bool

	mu    sync.Mutex
	dests map[string]*destLock
}

// destLock serializes deliveries to one destination. refs counts waiters so
// the entry can be retired once nobody holds or wants it.
type destLock struct {
	mu   sync.Mutex
	refs int
}

// NewDispatcher creates a Dispatcher. statusSink may be nil.
func NewDispatcher(accountID string, client sender, statusSink status.Sink, maxChars int, convertTables bool) *Dispatcher {
	if maxChars <= 0 {
		maxChars = 10000
	}
	return &Dispatcher{
		accountID:     accountID,
		client:        client,
		status:        statusSink,
		maxChars:      maxChars,
		convertTables: convertTables,
		dests:         make(map[string]*destLock),
	}
}

// acquire takes the serialization lock for one destination address.
func (d *Dispatcher) acquire(address string) *destLock {
	d.mu.Lock()
	l, ok := d.dests[address]
	if !ok {
		l = &destLock{}
		d.dests[address] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return l
}

// release unlocks the destination and drops the map entry once idle.
func (d *Dispatcher) release(address string, l *destLock) {
	l.mu.Unlock()

	d.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(d.dests, address)
	}
	d.mu.Unlock()
}

// Deliver sends one reply to the address, chunked to the configured size
// limit. Chunks go out in order; a failed chunk is logged and skipped so the
// remainder still arrives. Returns an error only when nothing was delivered.
func (d *Dispatcher) Deliver(ctx context.Context, address, text string) error {
	dest, err := ParseAddress(address)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	if d.convertTables {
		text = markdown.ConvertTables(text)
	}
	chunks := markdown.Chunk(text, d.maxChars)

	lock := d.acquire(address)
	defer d.release(address, lock)

	sent := 0
	for i, chunk := range chunks {
		id, err := d.sendChunk(ctx, dest, chunk)
		if err != nil {
			slog.Error("send chunk failed",
				"account", d.accountID,
				"address", address,
				"chunk", fmt.Sprintf("%d/%d", i+1, len(chunks)),
				"error", err,
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		sent++
		slog.Debug("chunk sent",
			"account", d.accountID,
			"address", address,
			"message_id", id,
			"chunk", fmt.Sprintf("%d/%d", i+1, len(chunks)),
		)
	}

	if sent == 0 {
		return fmt.Errorf("deliver to %s: all %d chunks failed", address, len(chunks))
	}
	if d.status != nil {
		status.Outbound(d.status, d.accountID)
	}
	return nil
}

func (d *Dispatcher) sendChunk(ctx context.Context, dest Destination, content string) (int64, error) {
	if dest.Kind == "dm" {
		userID, err := strconv.ParseInt(dest.UserID, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("dm user id %q: %w", dest.UserID, err)
		}
		return d.client.SendDirect(ctx, userID, content)
	}
	return d.client.SendStream(ctx, dest.Stream, dest.Topic, content)
}

// Typing toggles the typing indicator toward a DM destination. Stream
// destinations are a no-op (Zulip stream typing is noisy and unneeded).
// Failures are logged, never propagated.
func (d *Dispatcher) Typing(ctx context.Context, address, op string) {
	dest, err := ParseAddress(address)
	if err != nil || dest.Kind != "dm" {
		return
	}
	userID, err := strconv.ParseInt(dest.UserID, 10, 64)
	if err != nil {
		return
	}
	if err := d.client.SetTyping(ctx, op, userID); err != nil {
		slog.Debug("typing indicator failed",
			"account", d.accountID, "address", address, "op", op, "error", err)
	}
}
