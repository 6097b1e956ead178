// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades GET requests to WebSocket and hands the connection
// to s. From then on the client speaks the same handshake and envelopes as a
// TCP client and shares the same registry.
func WebSocketHandler(s *Server) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		s.logger.Printf("Connection accepted from %s (websocket)", r.RemoteAddr)
		s.ServeConn(NewWebSocketFramer(conn, s.cfg.MaxMessageSize))
	}
}

// HealthHandler responds with a plain text status line including the number
// of registered clients.
func HealthHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "igloo chat server is running! %d users connected", s.registry.Len())
	}
}
