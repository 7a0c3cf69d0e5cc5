package localapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fogwarden/agent/internal/broker"
)

// socketWriteTimeout bounds each outbound frame write so a wedged peer
// can't hold the handler hostage.
const socketWriteTimeout = 10 * time.Second

// handleControlSocket upgrades to a websocket that pushes one
// {"event":"config_changed"} JSON frame each time id's configuration
// changes, so the workload knows to call /v2/config/get again.
func (s *Server) handleControlSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Log.Warn("control socket upgrade failed", "uuid", id, "error", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.notifier.subscribe(id)
	defer cancel()

	go drainIncoming(conn)

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteJSON(map[string]string{"event": "config_changed"}); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleMessageSocket upgrades to a websocket and registers it as id's
// real-time sink: every message the Routing Core delivers to id is
// pushed immediately, in addition to the existing /v2/messages/next
// polling path.
func (s *Server) handleMessageSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Log.Warn("message socket upgrade failed", "uuid", id, "error", err)
		return
	}
	defer conn.Close()

	sink := make(chan broker.Message, 64)
	if !s.deps.Routing.EnableRealtime(id, func(m broker.Message) {
		select {
		case sink <- m:
		default:
		}
	}) {
		conn.WriteJSON(map[string]string{"error": "unknown receiver"})
		return
	}
	defer s.deps.Routing.DisableRealtime(id)

	go drainIncoming(conn)

	for {
		select {
		case m := <-sink:
			conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// drainIncoming reads and discards frames from the peer so the
// connection's read side stays serviced (required by gorilla/websocket
// to process control frames/pings) until the peer disconnects.
func drainIncoming(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
