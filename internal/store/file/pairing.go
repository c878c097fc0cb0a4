// Package file provides JSON file-backed implementations of the store
// interfaces. Writes go through a temp file + rename so a crash mid-write
// never corrupts state.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/zulipgate/internal/store"
)

// PairingStore persists pairing requests in a single JSON file.
type PairingStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]*store.PairingRequest // keyed by channel|senderID
}

// NewPairingStore loads (or initializes) the pairing store at dir/pairing.json.
func NewPairingStore(dir string) (*PairingStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	p := &PairingStore{
		path:    filepath.Join(dir, "pairing.json"),
		entries: make(map[string]*store.PairingRequest),
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func pairingKey(senderID, channel string) string {
	return channel + "|" + senderID
}

// IsPaired reports whether the sender has an approved pairing.
func (p *PairingStore) IsPaired(senderID, channel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[pairingKey(senderID, channel)]
	return ok && e.Approved
}

// RequestPairing registers a pairing request for the sender. A repeat request
// before approval returns the existing code with created=false.
func (p *PairingStore) RequestPairing(senderID, channel, chatID string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pairingKey(senderID, channel)
	if e, ok := p.entries[key]; ok {
		return e.Code, false, nil
	}

	code := strings.ToUpper(uuid.NewString()[:8])
	p.entries[key] = &store.PairingRequest{
		SenderID:  senderID,
		Channel:   channel,
		ChatID:    chatID,
		Code:      code,
		CreatedAt: time.Now(),
	}
	if err := p.save(); err != nil {
		delete(p.entries, key)
		return "", false, err
	}
	return code, true, nil
}

// Approve marks the request with the given code as approved.
func (p *PairingStore) Approve(code string) (*store.PairingRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	for _, e := range p.entries {
		if e.Code == code {
			if e.Approved {
				return e, nil
			}
			e.Approved = true
			if err := p.save(); err != nil {
				e.Approved = false
				return nil, err
			}
			return e, nil
		}
	}
	return nil, fmt.Errorf("no pairing request with code %s", code)
}

// Revoke removes any pairing entry for the sender.
func (p *PairingStore) Revoke(senderID, channel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pairingKey(senderID, channel)
	if _, ok := p.entries[key]; !ok {
		return fmt.Errorf("no pairing for sender %s", senderID)
	}
	delete(p.entries, key)
	return p.save()
}

// ListPaired returns approved sender ids for the channel.
func (p *PairingStore) ListPaired(channel string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for _, e := range p.entries {
		if e.Channel == channel && e.Approved {
			out = append(out, e.SenderID)
		}
	}
	return out
}

// ListPending returns pending requests for the channel.
func (p *PairingStore) ListPending(channel string) []store.PairingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []store.PairingRequest
	for _, e := range p.entries {
		if e.Channel == channel && !e.Approved {
			out = append(out, *e)
		}
	}
	return out
}

func (p *PairingStore) load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read pairing store: %w", err)
	}
	var entries []*store.PairingRequest
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse pairing store: %w", err)
	}
	for _, e := range entries {
		p.entries[pairingKey(e.SenderID, e.Channel)] = e
	}
	return nil
}

// save persists all entries. Caller holds the lock.
func (p *PairingStore) save() error {
	entries := make([]*store.PairingRequest, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(p.path, data)
}

// writeAtomic writes data to path via a temp file + rename.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
