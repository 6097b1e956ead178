// Package server implements the igloo chat server: a registry of connected
// clients, the per-connection dispatch loop, and the TCP and WebSocket entry
// points that feed it.
//
// The implementation is organized into specialized files for the envelope
// codec, transports, connection handles, the registry, sessions, the
// listener lifecycle, and configuration.
package server
