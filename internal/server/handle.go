// Package server manages individual chat connections, handling the username
// handshake, framed reads, best-effort writes, and idempotent teardown.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Handle wraps one accepted transport. Reads belong to the owning session;
// Send and Close may be called from any goroutine.
type Handle struct {
	id               uint64
	framer           Framer
	logger           *log.Logger
	addr             string
	writeTimeout     time.Duration
	handshakeTimeout time.Duration

	writeMu  sync.Mutex
	username atomic.Value
	dead     atomic.Bool
	closed   atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// NewHandle creates a Handle for the connection with the given server-issued id.
func NewHandle(id uint64, framer Framer, cfg Config, logger *log.Logger) *Handle {
	cfg = sanitizeConfig(cfg)
	if logger == nil {
		logger = NewLogger(nil)
	}
	h := &Handle{
		id:               id,
		framer:           framer,
		logger:           logger,
		addr:             framer.RemoteAddr(),
		writeTimeout:     cfg.WriteTimeout,
		handshakeTimeout: cfg.HandshakeTimeout,
	}
	h.username.Store("")
	return h
}

// ID returns the server-issued connection id.
func (h *Handle) ID() uint64 {
	return h.id
}

// RemoteAddr returns the peer address captured at accept time.
func (h *Handle) RemoteAddr() string {
	return h.addr
}

// Username returns the name received during the handshake, or "" before it.
func (h *Handle) Username() string {
	return h.username.Load().(string)
}

// Closed reports whether Close has run.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// Handshake reads the first frame, which must carry the client's username.
func (h *Handle) Handshake() (string, error) {
	if err := h.framer.SetReadDeadline(time.Now().Add(h.handshakeTimeout)); err != nil {
		return "", fmt.Errorf("%w: setting handshake deadline for %s: %v", ErrHandshake, h.addr, err)
	}

	frame, err := h.framer.ReadFrame()
	if err != nil {
		if isTooLong(err) {
			return "", fmt.Errorf("%w: handshake from %s exceeds size limit", ErrProtocol, h.addr)
		}
		return "", fmt.Errorf("%w: %s sent no username: %v", ErrHandshake, h.addr, err)
	}

	username, err := decodeUsername(frame)
	if err != nil {
		return "", err
	}

	if err := h.framer.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("%w: clearing handshake deadline for %s: %v", ErrHandshake, h.addr, err)
	}

	h.username.Store(username)
	return username, nil
}

// Receive blocks until the next envelope arrives or the connection fails.
func (h *Handle) Receive() (Envelope, error) {
	frame, err := h.framer.ReadFrame()
	if err != nil {
		return Envelope{}, h.classifyReadError(err)
	}
	return decodeEnvelope(frame)
}

// classifyReadError maps transport errors onto ErrConnectionClosed or ErrRead.
func (h *Handle) classifyReadError(err error) error {
	if h.closed.Load() {
		return fmt.Errorf("%w: handle closed locally: %v", ErrConnectionClosed, err)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || isExpectedCloseError(err) {
		h.dead.Store(true)
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		h.dead.Store(true)
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	if isTooLong(err) {
		return fmt.Errorf("%w: message exceeded maximum size: %v", ErrRead, err)
	}

	return fmt.Errorf("%w: %v", ErrRead, err)
}

func isTooLong(err error) bool {
	return errors.Is(err, websocket.ErrReadLimit) || errors.Is(err, bufio.ErrTooLong)
}

// Send writes one line to the peer. It returns false, and closes the handle,
// only when the peer is already known to be gone. A failed write is logged
// and marks the handle dead, so the peer is dropped on the next Send.
func (h *Handle) Send(text string) bool {
	if h.closed.Load() || h.dead.Load() {
		h.closeQuietly()
		return false
	}

	frame, err := encodeText(text)
	if err != nil {
		h.logger.Printf("Error encoding message for %s: %v", h.describe(), err)
		return true
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if err := h.framer.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		h.logWriteError(err)
		return true
	}

	if err := h.framer.WriteFrame(frame); err != nil {
		h.logWriteError(err)
	}
	return true
}

func (h *Handle) logWriteError(err error) {
	h.dead.Store(true)
	if h.closed.Load() {
		return
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		h.logger.Printf("Exception writing to the output stream for user %s: %v", h.describe(),
			fmt.Errorf("%w: write timed out after %s", ErrWrite, h.writeTimeout))
		return
	}
	h.logger.Printf("Exception writing to the output stream for user %s: %v", h.describe(),
		fmt.Errorf("%w: %v", ErrWrite, err))
}

// Close releases every transport resource. Each resource is released even if
// an earlier one fails. Calls after the first return the first result.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)

		var errs []error
		for _, res := range h.framer.Resources() {
			if err := res.Close(); err != nil && !isExpectedCloseError(err) {
				errs = append(errs, fmt.Errorf("closing %s: %w", res.Name, err))
			}
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

func (h *Handle) closeQuietly() {
	if err := h.Close(); err != nil {
		h.logger.Printf("Error closing connection for %s: %v", h.describe(), err)
	}
}

func (h *Handle) describe() string {
	if name := h.Username(); name != "" {
		return fmt.Sprintf("'%s' (%s)", name, h.addr)
	}
	return h.addr
}
