// Package server defines the envelope exchanged between chat clients and the
// server, along with the JSON frame codec shared by every transport.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind tags an Envelope with the action the client is requesting.
type Kind string

// Envelope kinds understood by the dispatch loop.
const (
	KindMessage Kind = "MESSAGE"
	KindLogout  Kind = "LOGOUT"
	KindWhoIsIn Kind = "WHOISIN"
)

// Valid reports whether k is one of the known envelope kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindLogout, KindWhoIsIn:
		return true
	}
	return false
}

// Envelope is one client-to-server message unit. Body is chat text for
// MESSAGE and ignored for LOGOUT and WHOISIN.
type Envelope struct {
	Kind Kind   `json:"kind"`
	Body string `json:"body,omitempty"`
}

// NewEnvelope builds an Envelope with a normalized kind.
func NewEnvelope(kind Kind, body string) Envelope {
	return Envelope{Kind: normalizeKind(kind), Body: body}
}

func normalizeKind(kind Kind) Kind {
	return Kind(strings.ToUpper(strings.TrimSpace(string(kind))))
}

// Sentinel errors for the connection taxonomy. Transport code wraps these
// with %w so callers can match them with errors.Is.
var (
	ErrHandshake        = errors.New("handshake failed")
	ErrProtocol         = errors.New("protocol error")
	ErrConnectionClosed = errors.New("connection closed")
	ErrRead             = errors.New("read error")
	ErrWrite            = errors.New("write error")
)

// decodeUsername parses the handshake frame, which must be a JSON string
// holding a non-blank username.
func decodeUsername(frame []byte) (string, error) {
	var username string
	if err := json.Unmarshal(frame, &username); err != nil {
		return "", fmt.Errorf("%w: handshake frame is not a string: %v", ErrProtocol, err)
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("%w: empty username", ErrProtocol)
	}
	return username, nil
}

func decodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: invalid envelope: %v", ErrRead, err)
	}
	return NewEnvelope(env.Kind, env.Body), nil
}

// encodeText renders a server-to-client line as a JSON string frame.
func encodeText(text string) ([]byte, error) {
	return json.Marshal(text)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "transport endpoint is not connected") ||
		strings.Contains(errStr, "io: read/write on closed pipe")
}
