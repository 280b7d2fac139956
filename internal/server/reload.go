package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tinkerbench/sketch/internal/logging"
	"github.com/tinkerbench/sketch/internal/pipeline"
)

// reloadMessage is pushed to every connected client after a pipeline run.
type reloadMessage struct {
	Type     string `json:"type"`
	RunID    uint64 `json:"run_id"`
	Revision uint64 `json:"revision"`
	Failures int    `json:"failures"`
}

// reloadHub tracks websocket clients and fans reload notices out to them.
type reloadHub struct {
	logger logging.Logger

	mutex   sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newReloadHub(logger logging.Logger) *reloadHub {
	return &reloadHub{
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (h *reloadHub) add(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *reloadHub) remove(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.clients, conn)
}

func (h *reloadHub) count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// broadcastReload notifies every client that a new run is live. Slow
// clients are dropped rather than allowed to stall the pipeline callback.
func (h *reloadHub) broadcastReload(result pipeline.Result) {
	payload, err := json.Marshal(reloadMessage{
		Type:     "full_reload",
		RunID:    result.RunID,
		Revision: result.Revision,
		Failures: len(result.Failures),
	})
	if err != nil {
		return
	}

	h.mutex.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mutex.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			h.logger.Debug(context.Background(), "dropping websocket client", "error", err)
			h.remove(conn)
			_ = conn.Close(websocket.StatusPolicyViolation, "write timeout")
		}
	}
}

func (h *reloadHub) closeAll() {
	h.mutex.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mutex.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.allowedOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was validated above against the configured allow list.
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}

	s.hub.add(conn)
	s.logger.Debug(r.Context(), "websocket client connected", "remote", r.RemoteAddr)

	// Clients never send application messages; CloseRead surfaces
	// disconnects and keeps control frames flowing.
	ctx := conn.CloseRead(context.Background())
	<-ctx.Done()

	s.hub.remove(conn)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
