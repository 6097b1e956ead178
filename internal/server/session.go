package server

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// State is a session's position in its lifecycle.
type State int32

// Session lifecycle states.
const (
	StateHandshake State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "HANDSHAKE"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

const timeLayout = "15:04:05"

// Session drives one connection from handshake to teardown.
type Session struct {
	handle   *Handle
	registry *Registry
	logger   *log.Logger
	state    atomic.Int32
	entry    *ClientEntry
}

// NewSession binds a handle to the registry it will join.
func NewSession(h *Handle, registry *Registry, logger *log.Logger) *Session {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Session{handle: h, registry: registry, logger: logger}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(next State) {
	s.state.Store(int32(next))
}

// Run performs the handshake, serves envelopes until the connection ends,
// and leaves the session CLOSED.
func (s *Session) Run() {
	username, err := s.handle.Handshake()
	if err != nil {
		s.logger.Printf("Exception creating new I/O streams for %s: %v", s.handle.RemoteAddr(), err)
		s.closeHandle()
		s.setState(StateClosed)
		return
	}

	s.entry = NewClientEntry(s.handle, username)
	s.registry.Register(s.entry)
	s.logger.Printf("%s has joined the chat.", username)
	s.registry.Announce(username + " has joined the chat.\nEnter 'WHOISIN' to see list of connected users.")
	s.setState(StateActive)

	for s.State() == StateActive {
		env, err := s.handle.Receive()
		if err != nil {
			s.logReceiveError(err)
			s.setState(StateClosing)
			break
		}
		s.dispatch(env)
	}

	s.registry.Remove(s.entry.ID)
	s.registry.Announce(username + " has disconnected.")
	s.closeHandle()
	s.setState(StateClosed)
}

func (s *Session) dispatch(env Envelope) {
	username := s.entry.Username

	switch env.Kind {
	case KindMessage:
		s.registry.Broadcast(username + ": " + env.Body)
	case KindLogout:
		s.logger.Printf("%s intentionally disconnected.", username)
		s.registry.Announce(username + " has disconnected.")
		s.setState(StateClosing)
	case KindWhoIsIn:
		s.sendRoster()
	default:
		s.logger.Printf("Ignoring envelope of unknown kind %q from %s", env.Kind, username)
	}
}

// sendRoster writes the user list to the requester only.
func (s *Session) sendRoster() {
	members := s.registry.Members()
	if !s.handle.Send("List of the users connected at " + time.Now().Format(timeLayout)) {
		return
	}
	for i, m := range members {
		line := fmt.Sprintf("%d) %s since %s", i+1, m.Username, m.JoinedAt.Format(timeLayout))
		if !s.handle.Send(line) {
			return
		}
	}
}

func (s *Session) logReceiveError(err error) {
	switch {
	case errors.Is(err, ErrConnectionClosed):
		s.logger.Printf("Connection closed for user '%s': %v", s.entry.Username, err)
	case errors.Is(err, ErrRead):
		s.logger.Printf("Exception reading input stream for user '%s': %v", s.entry.Username, err)
	default:
		s.logger.Printf("Unexpected error for user '%s': %v", s.entry.Username, err)
	}
}

func (s *Session) closeHandle() {
	if err := s.handle.Close(); err != nil {
		s.logger.Printf("Error closing connection for %s: %v", s.handle.RemoteAddr(), err)
	}
}
