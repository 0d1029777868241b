package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrServerClosed is returned by Serve after Close has been called.
var ErrServerClosed = errors.New("transport: server closed")

// ConnHandler owns one accepted connection for its whole lifetime.
// The server closes the connection after the handler returns.
type ConnHandler func(ctx context.Context, conn net.Conn)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// StreamServer accepts TCP connections and runs one handler goroutine per
// connection. It holds no per-client state beyond the set of open connections
// it needs to close on shutdown.
type StreamServer struct {
	name        string
	listener    net.Listener
	handler     ConnHandler
	idleTimeout time.Duration

	conns  map[net.Conn]struct{}
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// Listen binds addr and returns a server ready to Serve. A bind failure is
// returned to the caller and affects only this server.
func Listen(name, addr string, handler ConnHandler) (*StreamServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Listen",
			"service":  name,
			"address":  addr,
			"error":    err.Error(),
		}).Error("Failed to bind listening socket")
		return nil, fmt.Errorf("%s: bind %s: %w", name, addr, err)
	}

	return NewStreamServer(name, listener, handler), nil
}

// NewStreamServer wraps an existing listener.
func NewStreamServer(name string, listener net.Listener, handler ConnHandler) *StreamServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &StreamServer{
		name:     name,
		listener: listener,
		handler:  handler,
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetIdleTimeout sets the read idle timeout applied to connections accepted
// after the call. Zero disables it.
func (s *StreamServer) SetIdleTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimeout = timeout
}

// Addr returns the bound listening address.
func (s *StreamServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until Close is called. Transient accept errors
// are logged and retried with a bounded backoff.
func (s *StreamServer) Serve() error {
	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"service":  s.name,
		"address":  s.listener.Addr().String(),
	}).Info("Accepting connections")

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}

			backoff = nextBackoff(backoff)
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"service":  s.name,
				"error":    err.Error(),
				"backoff":  backoff,
			}).Warn("Accept failed, continuing")

			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return ErrServerClosed
			}
			continue
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection runs the handler and releases the connection.
func (s *StreamServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	logrus.WithFields(logrus.Fields{
		"function": "handleConnection",
		"service":  s.name,
		"remote":   conn.RemoteAddr().String(),
	}).Debug("Connection accepted")

	s.mu.Lock()
	timeout := s.idleTimeout
	s.mu.Unlock()

	s.handler(s.ctx, WithIdleTimeout(conn, timeout))
}

// track registers conn unless the server is already closed.
func (s *StreamServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *StreamServer) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *StreamServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ActiveConnections returns the number of connections currently handled.
func (s *StreamServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops the accept loop, closes every open connection and waits for
// their handlers to return.
func (s *StreamServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	err := s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"service":  s.name,
	}).Info("Server stopped")

	return err
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptBackoff
	}
	current *= 2
	if current > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return current
}
