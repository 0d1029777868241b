package control

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/netchat/events"
	"github.com/opd-ai/netchat/registry"
	"github.com/opd-ai/netchat/transport"
	"github.com/sirupsen/logrus"
)

// SessionState is the lifecycle state of a control session.
type SessionState uint8

const (
	// SessionStateInit waits for the client's display name.
	SessionStateInit SessionState = iota
	// SessionStateActive is registered and processing commands.
	SessionStateActive
	// SessionStateClosed is terminal.
	SessionStateClosed
)

// String returns a short name for logging.
func (s SessionState) String() string {
	switch s {
	case SessionStateInit:
		return "init"
	case SessionStateActive:
		return "active"
	default:
		return "closed"
	}
}

// Session owns one control connection from handshake to close.
type Session struct {
	conn      net.Conn
	reader    *bufio.Reader
	sink      *connSink
	registry  *registry.Registry
	publisher events.Publisher

	name   string
	handle *registry.Handle
	state  SessionState
	mu     sync.Mutex
}

// NewSession prepares a session for conn. publisher may be nil.
func NewSession(conn net.Conn, reg *registry.Registry, publisher events.Publisher) *Session {
	return &Session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		sink:      newConnSink(conn, DefaultWriteTimeout),
		registry:  reg,
		publisher: publisher,
		state:     SessionStateInit,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the declared display name, empty before the handshake.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Run drives the session until the peer quits, the connection fails or ctx
// is cancelled. It always leaves the session closed and unregistered. The
// returned error is nil for a voluntary QUIT or a clean disconnect.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	name, err := transport.ReadString(s.reader)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"remote":   s.conn.RemoteAddr().String(),
			"error":    err.Error(),
		}).Debug("Connection closed before display name was received")
		s.close()
		return cleanDisconnect(err)
	}

	s.mu.Lock()
	s.name = name
	s.state = SessionStateActive
	s.mu.Unlock()

	s.handle = s.registry.Add(name, s.sink)
	defer s.close()

	for {
		payload, err := transport.ReadString(s.reader)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"client":   name,
				"error":    err.Error(),
			}).Info("Client disconnected")
			return cleanDisconnect(err)
		}

		if quit := s.dispatch(payload); quit {
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"client":   name,
			}).Info("Client quit")
			return nil
		}
	}
}

// dispatch handles one command and reports whether the session should end.
func (s *Session) dispatch(payload string) bool {
	cmd := ParseCommand(payload)

	switch cmd.Kind {
	case CommandPrivateMessage:
		s.routePrivateMessage(cmd.Target, cmd.Message)
	case CommandQuitSession:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"client":   s.name,
			"command":  truncate(cmd.Raw, 64),
		}).Warn("Unrecognized command ignored")
	}
	return false
}

// routePrivateMessage delivers a PM to the first client named target.
// A miss is logged only; the sender gets no reply.
func (s *Session) routePrivateMessage(target, text string) {
	recipient, ok := s.registry.FindByName(target)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "routePrivateMessage",
			"from":     s.name,
			"to":       target,
		}).Info("Private message target not found")
		s.publish(events.RoutingMiss{From: s.name, To: target, At: time.Now()})
		return
	}

	if err := recipient.Send(FormatPrivateMessage(s.name, text)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "routePrivateMessage",
			"from":     s.name,
			"to":       target,
			"error":    err.Error(),
		}).Warn("Failed to deliver private message")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "routePrivateMessage",
		"from":     s.name,
		"to":       target,
		"size":     len(text),
	}).Debug("Private message delivered")
	s.publish(events.PrivateMessageRouted{From: s.name, To: target, Size: len(text), At: time.Now()})
}

// close unregisters the session and closes the connection.
func (s *Session) close() {
	s.mu.Lock()
	if s.state == SessionStateClosed {
		s.mu.Unlock()
		return
	}
	s.state = SessionStateClosed
	s.mu.Unlock()

	if s.handle != nil {
		s.registry.Remove(s.handle)
	}
	s.conn.Close()
}

func (s *Session) publish(ev events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ev)
	}
}

// cleanDisconnect maps a normal end of stream to nil.
func cleanDisconnect(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
