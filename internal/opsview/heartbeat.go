// Package opsview exposes an optional, one-way liveness heartbeat over
// websocket. It accepts no inbound queries and serves no table data — it
// exists purely so an operator can watch the coordinator's pulse without
// the core having to expose the query API spec.md's Non-goals rule out.
package opsview

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/parsl-go/monitordb/internal/coordinator"
)

// Server pushes one coordinator.HeartbeatFrame to every connected client
// per coordinator iteration. It implements coordinator.Heartbeat.
type Server struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	httpServer *http.Server
}

type client struct {
	send chan []byte
}

// New builds a heartbeat server bound to addr. Call Start to begin serving;
// Push is safe to call before Start returns, frames are simply dropped if
// no client is connected yet.
func New(addr string) *Server {
	s := &Server{clients: make(map[*client]struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/heartbeat", s.handleWebSocket)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start serves until ctx is cancelled, then shuts down. It blocks, so
// callers run it in its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = s.httpServer.Shutdown(context.Background())
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Push implements coordinator.Heartbeat: it fans frame out to every
// connected client, dropping it for any client whose send buffer is full
// rather than blocking the coordinator.
func (s *Server) Push(frame coordinator.HeartbeatFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("opsview: failed to marshal heartbeat frame", "err", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("opsview: heartbeat client buffer full, dropping frame")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		slog.Error("opsview: websocket accept failed", "err", err)
		return
	}

	c := &client{send: make(chan []byte, 8)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
