package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RouteStore persists the last known delivery route per session key in a
// single JSON file.
type RouteStore struct {
	mu     sync.Mutex
	path   string
	routes map[string]string // sessionKey → destination address
}

// NewRouteStore loads (or initializes) the route store at dir/routes.json.
func NewRouteStore(dir string) (*RouteStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	r := &RouteStore{
		path:   filepath.Join(dir, "routes.json"),
		routes: make(map[string]string),
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read route store: %w", err)
	}
	if err := json.Unmarshal(data, &r.routes); err != nil {
		return nil, fmt.Errorf("parse route store: %w", err)
	}
	return r, nil
}

// SetLastRoute records the delivery address for the session.
func (r *RouteStore) SetLastRoute(sessionKey, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.routes[sessionKey] == address {
		return nil
	}
	r.routes[sessionKey] = address

	data, err := json.MarshalIndent(r.routes, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(r.path, data)
}

// LastRoute returns the recorded address for the session, if any.
func (r *RouteStore) LastRoute(sessionKey string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.routes[sessionKey]
	return addr, ok
}
