package control

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/netchat/events"
	"github.com/opd-ai/netchat/registry"
	"github.com/opd-ai/netchat/transport"
	"github.com/sirupsen/logrus"
)

// ServiceName identifies the control service in logs.
const ServiceName = "control"

// ErrNotListening is returned by Serve before Listen succeeded.
var ErrNotListening = errors.New("control: server is not listening")

// Server accepts control connections and runs one Session per connection.
// Per-client state lives in the registry, not here.
type Server struct {
	registry    *registry.Registry
	publisher   events.Publisher
	idleTimeout time.Duration

	stream *transport.StreamServer
	mu     sync.Mutex
}

// NewServer creates a control server routing through reg.
func NewServer(reg *registry.Registry, publisher events.Publisher) *Server {
	return &Server{
		registry:  reg,
		publisher: publisher,
	}
}

// SetIdleTimeout disconnects clients that stay silent longer than timeout.
// Zero, the default, lets a session block on read indefinitely.
func (s *Server) SetIdleTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimeout = timeout
	if s.stream != nil {
		s.stream.SetIdleTimeout(timeout)
	}
}

// Listen binds the control port.
func (s *Server) Listen(addr string) error {
	stream, err := transport.Listen(ServiceName, addr, s.handleConnection)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stream = stream
	stream.SetIdleTimeout(s.idleTimeout)
	s.mu.Unlock()
	return nil
}

// Serve runs the accept loop until Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return ErrNotListening
	}
	return stream.Serve()
}

// ListenAndServe binds addr and serves until Close.
func (s *Server) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	return s.stream.Addr()
}

// Registry returns the registry sessions register with.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Close stops accepting and disconnects every client.
func (s *Server) Close() error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	return stream.Close()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	session := NewSession(conn, s.registry, s.publisher)
	if err := session.Run(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleConnection",
			"client":   session.Name(),
			"remote":   conn.RemoteAddr().String(),
			"error":    err.Error(),
		}).Debug("Control session ended with error")
	}
}
