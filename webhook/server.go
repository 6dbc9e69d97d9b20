// Package webhook hosts the inbound side of the agent: the vote callback
// listener, the cross-worker vote relay, and the best-effort registration
// of this process's callback URL with the platform.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fleetpulse/fleetpulse/core"
)

// MessageVote is the marker for in-process vote forwarding. Deployments
// where only one process owns the listener tag forwarded messages with it
// so sibling workers can republish the payload to their own subscribers.
const MessageVote = "fleetpulse:vote"

// Message is an inbound process-to-process message
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Ingest republishes a forwarded vote message to local subscribers. It
// returns false when the message does not carry the vote marker.
func Ingest(bus *core.Bus, msg Message) bool {
	if msg.Type != MessageVote {
		return false
	}
	bus.Publish(core.EventVote, msg.Data)
	return true
}

// Server accepts externally pushed vote callbacks and republishes them to
// local subscribers. It binds a dedicated listener on the configured port
// and serves exactly one path; everything else is not found.
type Server struct {
	addr string
	path string
	bus  *core.Bus
	log  core.Logger

	mu      sync.Mutex
	server  *http.Server
	started bool
}

// NewServer creates the callback server from the agent configuration
func NewServer(cfg *core.Config, bus *core.Bus, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Server{
		addr: fmt.Sprintf(":%d", cfg.WebhookPort),
		path: cfg.WebhookPath,
		bus:  bus,
		log:  logger,
	}
}

// Start binds the listener and begins serving in the background. Binding
// errors surface synchronously; serve errors after that are logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return core.ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return core.NewAgentError("webhook.Start", "webhook", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.started = true

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("Webhook server stopped", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	s.log.Info("Webhook listener started", map[string]interface{}{
		"addr": s.addr,
		"path": s.path,
	})
	return nil
}

// Stop shuts the listener down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.server.Shutdown(ctx)
}

// Handler returns the callback handler for tests and for embedding into an
// existing mux instead of the dedicated listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)
	return mux
}

// handleCallback accepts POSTs on the fixed callback path. The body is
// parsed as JSON; a nested "details" object is extracted when present,
// otherwise the whole body is republished as the vote payload.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		s.log.Warn("Discarding malformed callback body", map[string]interface{}{
			"error": err.Error(),
		})
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	payload := json.RawMessage(body)
	if details, ok := fields["details"]; ok {
		payload = details
	}

	s.bus.Publish(core.EventVote, payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		s.log.Error("Failed to encode callback response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
