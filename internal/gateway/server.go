// Package gateway serves the local control surface: a health endpoint, a
// status snapshot API, a WebSocket stream of bus events and a proactive
// send endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/zulipgate/internal/bus"
	"github.com/nextlevelbuilder/zulipgate/internal/channels/zulip"
	"github.com/nextlevelbuilder/zulipgate/internal/config"
	"github.com/nextlevelbuilder/zulipgate/internal/status"
	"github.com/nextlevelbuilder/zulipgate/internal/store"
)

const clientSendBuffer = 32

// Server exposes gateway HTTP and WebSocket endpoints.
type Server struct {
	cfg      config.GatewayConfig
	eventPub bus.EventPublisher
	tracker  *status.Tracker
	outbound bus.MessageRouter // optional: enables /send
	routes   store.RouteStore  // optional: session-key resolution for /send

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	httpServer *http.Server
}

// NewServer creates a gateway server. tracker may be nil.
func NewServer(cfg config.GatewayConfig, eventPub bus.EventPublisher, tracker *status.Tracker) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		tracker:  tracker,
		clients:  make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Local observation surface; the listener binds loopback by default.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// SetOutbound enables the proactive send endpoint. Messages posted to /send
// are resolved against the route store and published for channel delivery.
func (s *Server) SetOutbound(outbound bus.MessageRouter, routes store.RouteStore) {
	s.outbound = outbound
	s.routes = routes
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.outbound != nil {
		mux.HandleFunc("/send", s.handleSend)
	}
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.buildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleStatus returns the merged per-account connection snapshots.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var snapshots []status.Snapshot
	if s.tracker != nil {
		snapshots = s.tracker.All()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"accounts": snapshots})
}

// sendRequest is the body of POST /send. The destination may be named
// directly ("dm:<userId>" / "stream:<name>:<topic>") or resolved from a
// session's last recorded route.
type sendRequest struct {
	Channel    string `json:"channel,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
	Address    string `json:"address,omitempty"`
	Content    string `json:"content"`
}

// handleSend queues a proactive outbound message for channel delivery.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	address := req.Address
	if address == "" && req.SessionKey != "" && s.routes != nil {
		if a, ok := s.routes.LastRoute(req.SessionKey); ok {
			address = a
		}
	}
	if address == "" {
		http.Error(w, "no address given and no route recorded for session", http.StatusNotFound)
		return
	}

	channel := req.Channel
	if channel == "" {
		channel = zulip.ChannelName
	}
	s.outbound.PublishOutbound(bus.OutboundMessage{
		Channel:   channel,
		AccountID: req.AccountID,
		Address:   address,
		Content:   req.Content,
	})
	slog.Info("outbound message queued", "channel", channel, "address", address)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "queued", "address": address})
}

// handleWebSocket upgrades the connection and streams bus events until the
// peer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan bus.Event, clientSendBuffer)}
	s.registerClient(c)
	defer func() {
		s.unregisterClient(c)
		conn.Close()
	}()

	go c.writeLoop()

	// Reads are discarded; the socket exists to push events out. The read
	// loop notices disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) registerClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		select {
		case c.send <- event:
		default:
			// Slow consumer; drop rather than block the broadcaster.
		}
	})

	slog.Info("client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	close(c.send)
	slog.Info("client disconnected", "id", c.id)
}

// client is one WebSocket observer. All writes go through writeLoop so the
// connection sees a single writer.
type client struct {
	id   string
	conn *websocket.Conn
	send chan bus.Event
}

func (c *client) writeLoop() {
	for event := range c.send {
		if err := c.conn.WriteJSON(event); err != nil {
			return
		}
	}
}
