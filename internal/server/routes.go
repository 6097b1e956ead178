// Package server wires HTTP handlers into a ServeMux for the WebSocket entry
// point via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux for s.
// It sets up handlers for the health check and the WebSocket endpoint.
func SetupRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler(s))
	mux.HandleFunc("/ws", WebSocketHandler(s))
	return mux
}
