// Package server accepts chat connections, runs a session per connection, and
// coordinates graceful shutdown of the listener and every open handle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultShutdownTimeout bounds how long Stop waits for sessions triggered by
// context cancellation to finish.
const DefaultShutdownTimeout = 5 * time.Second

// Server owns the TCP listener, the optional WebSocket entry point, the
// registry, and every handle it has accepted.
type Server struct {
	cfg      Config
	logger   *log.Logger
	registry *Registry
	origins  *originPolicy

	running atomic.Bool

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	handles    map[uint64]*Handle
	stopping   bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Server for cfg. A nil cfg uses NewConfig defaults.
func New(cfg *Config, logger *log.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = NewLogger(nil)
	}
	sanitized := sanitizeConfig(*cfg)

	s := &Server{
		cfg:      sanitized,
		logger:   logger,
		registry: NewRegistry(logger),
		origins:  newOriginPolicy(sanitized.AllowedOrigins, logger),
		handles:  make(map[uint64]*Handle),
		done:     make(chan struct{}),
	}
	s.running.Store(true)
	return s
}

// Registry returns the server's client registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the bound TCP address, or nil before Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of open connections, including those
// still in the handshake.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Start binds the configured TCP port, and the WebSocket address if one is
// set, then serves until Stop is called or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		s.logger.Printf("Exception on new server socket: %v", err)
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}

	if s.cfg.WebSocketAddr != "" {
		if err := s.startWebSocket(); err != nil {
			_ = ln.Close()
			return err
		}
	}

	return s.Serve(ctx, ln)
}

func (s *Server) startWebSocket() error {
	wsListener, err := net.Listen("tcp", s.cfg.WebSocketAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.WebSocketAddr, err)
	}

	httpServer := CreateServer(s.cfg.WebSocketAddr, SetupRoutes(s))

	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	go func() {
		s.logger.Printf("WebSocket endpoint listening on %s", wsListener.Addr())
		if err := httpServer.Serve(wsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("WebSocket server error: %v", err)
		}
	}()
	return nil
}

// Serve accepts connections on ln until Stop is called or ctx is cancelled.
// It returns nil after a requested stop and the accept error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			if err := s.Stop(DefaultShutdownTimeout); err != nil {
				s.logger.Printf("Shutdown error: %v", err)
			}
		case <-s.done:
		}
	}()

	s.logger.Printf("server waiting for clients on %s.", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			s.logger.Printf("Exception accepting connection: %v", err)
			s.stop()
			return fmt.Errorf("accept: %w", err)
		}

		if !s.running.Load() {
			_ = conn.Close()
			return nil
		}

		s.logger.Printf("Connection accepted from %s", conn.RemoteAddr())
		s.ServeConn(NewLineFramer(conn, s.cfg.MaxMessageSize))
	}
}

// ServeConn wraps framer in a Handle and runs its session on a new goroutine.
func (s *Server) ServeConn(framer Framer) {
	h := NewHandle(s.registry.NextID(), framer, s.cfg, s.logger)

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = h.Close()
		return
	}
	s.handles[h.ID()] = h
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.untrack(h.ID())
		NewSession(h, s.registry, s.logger).Run()
	}()
}

func (s *Server) untrack(id uint64) {
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
}

// Stop closes the listeners, force-closes every open handle, and waits up to
// timeout for sessions to finish. Sessions blocked in a read observe the stop
// only through their closed transport.
func (s *Server) Stop(timeout time.Duration) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Println("Server shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		s.logger.Println("Server shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}

func (s *Server) stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)

		s.mu.Lock()
		s.stopping = true
		ln := s.listener
		httpServer := s.httpServer
		handles := make([]*Handle, 0, len(s.handles))
		for _, h := range s.handles {
			handles = append(handles, h)
		}
		s.mu.Unlock()

		if ln != nil {
			if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
				s.logger.Printf("Exception closing the server: %v", err)
			}
		}

		if httpServer != nil {
			if err := ShutdownServer(httpServer, DefaultShutdownTimeout, s.logger); err != nil {
				s.logger.Printf("WebSocket server shutdown error: %v", err)
			}
		}

		for _, h := range handles {
			_ = h.Close()
		}
		s.logger.Printf("Closed %d client connections", len(handles))

		close(s.done)
	})
}
