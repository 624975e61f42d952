// Package debugsrv is an optional localhost sidecar exposing read-only
// snapshots of the sync engine: health, metrics, store state, and a live
// event relay for debugging stream issues without a TUI in the way.
package debugsrv

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strandtui/strand/pkg/conn"
	"github.com/strandtui/strand/pkg/observability"
	"github.com/strandtui/strand/pkg/store"
	"github.com/strandtui/strand/pkg/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Localhost debugging tool; browsers on the same machine are fine.
	CheckOrigin: func(*http.Request) bool { return true },
}

// EventSource is the slice of the connection manager the sidecar needs.
type EventSource interface {
	Messages() (<-chan wire.ControlMessage, func())
	State() conn.State
}

// Server serves the debug endpoints over one listener.
type Server struct {
	store  *store.Store
	source EventSource
	log    *observability.Logger

	httpServer *http.Server
}

// New wires a Server for the given store and event source. The source may be
// nil in REST-only sessions.
func New(addr string, st *store.Store, source EventSource) *Server {
	s := &Server{
		store:  st,
		source: source,
		log:    observability.NewLogger("debugsrv"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/state/threads", s.handleThreads)
	r.Get("/state/threads/{threadID}/messages", s.handleMessages)
	r.Get("/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("debug sidecar listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := "detached"
	if s.source != nil {
		state = s.source.State().String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"connection": state,
		"threads":    s.store.ThreadCount(),
	})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"threads": s.store.Threads(),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if _, ok := s.store.Thread(threadID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown thread"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": s.store.ResolveThreadID(threadID),
		"messages":  s.store.Messages(threadID),
	})
}

// handleEvents upgrades to WebSocket and relays the manager's incoming frames
// until the client goes away. A slow client is cut off, never buffered
// without bound.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no live connection"})
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("event relay upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	frames, cancel := s.source.Messages()
	defer cancel()

	// Drain client frames so close handshakes and pings are processed.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for msg := range frames {
		payload, err := encodeRelayFrame(msg)
		if err != nil {
			continue
		}
		ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func encodeRelayFrame(msg wire.ControlMessage) ([]byte, error) {
	if raw, ok := msg.(wire.RawControl); ok {
		return raw.Raw, nil
	}
	return json.Marshal(map[string]any{
		"type":    msg.ControlType(),
		"message": msg,
	})
}
