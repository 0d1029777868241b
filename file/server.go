package file

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/netchat/events"
	"github.com/opd-ai/netchat/transport"
	"github.com/sirupsen/logrus"
)

// ServiceName identifies the file service in logs.
const ServiceName = "file"

// ErrNotListening is returned by Serve before Listen succeeded.
var ErrNotListening = errors.New("file: server is not listening")

// Server accepts file transfer connections. Each connection carries one
// request handled by a Session.
type Server struct {
	store       *Store
	publisher   events.Publisher
	onUpload    UploadHandler
	idleTimeout time.Duration

	stream *transport.StreamServer
	mu     sync.Mutex
}

// NewServer creates a file server over store. publisher may be nil.
func NewServer(store *Store, publisher events.Publisher) *Server {
	return &Server{
		store:     store,
		publisher: publisher,
	}
}

// OnUpload sets a function called after each completed upload.
func (s *Server) OnUpload(fn UploadHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpload = fn
}

// SetIdleTimeout bounds how long a request may stall on read. Zero disables it.
func (s *Server) SetIdleTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimeout = timeout
	if s.stream != nil {
		s.stream.SetIdleTimeout(timeout)
	}
}

// Listen binds the file port.
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

// Store returns the backing store.
func (s *Server) Store() *Store {
	return s.store
}

// Close stops accepting and aborts in-flight requests.
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
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.mu.Lock()
	onUpload := s.onUpload
	s.mu.Unlock()

	session := NewSession(conn, s.store, s.publisher, onUpload)
	if err := session.Run(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "handleConnection",
			"client":   session.Client(),
			"remote":   conn.RemoteAddr().String(),
			"error":    err.Error(),
		}).Warn("File session failed")
	}
}
