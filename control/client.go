package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/opd-ai/netchat/limits"
	"github.com/opd-ai/netchat/transport"
	"github.com/sirupsen/logrus"
)

// ErrClientClosed is returned when using a closed Client.
var ErrClientClosed = errors.New("control: client closed")

// EventType classifies a client-side event.
type EventType uint8

const (
	// EventClientList carries a full replacement list of connected names.
	EventClientList EventType = iota
	// EventPrivateMessage carries a private message addressed to this client.
	EventPrivateMessage
	// EventDisconnected is the last event; the channel closes after it.
	EventDisconnected
)

// Event is delivered on Client.Events in the order the server sent it.
type Event struct {
	Type    EventType
	Clients []string
	From    string
	Text    string
	Err     error
}

// Client is the presentation-side end of a control connection.
type Client struct {
	name   string
	conn   net.Conn
	sink   *connSink
	events chan Event

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// Dial connects to a control server and declares name.
func Dial(ctx context.Context, addr, name string) (*Client, error) {
	return DialVia(ctx, &net.Dialer{}, addr, name)
}

// DialVia is Dial over a caller-supplied dialer, such as a proxy dialer
// from transport.NewDialer.
func DialVia(ctx context.Context, dialer transport.Dialer, addr, name string) (*Client, error) {
	if err := limits.ValidateDisplayName(name); err != nil {
		return nil, fmt.Errorf("display name: %w", err)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(conn, name)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// NewClient runs the handshake on an established connection and starts the
// reader goroutine.
func NewClient(conn net.Conn, name string) (*Client, error) {
	c := &Client{
		name:   name,
		conn:   conn,
		sink:   newConnSink(conn, DefaultWriteTimeout),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}

	if err := c.sink.Send(name); err != nil {
		return nil, fmt.Errorf("sending display name: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewClient",
		"name":     name,
		"server":   conn.RemoteAddr().String(),
	}).Info("Connected to control server")

	go c.readLoop()
	return c, nil
}

// Name returns the declared display name.
func (c *Client) Name() string {
	return c.name
}

// Events returns the channel of server-pushed events. It is closed after
// the EventDisconnected event.
func (c *Client) Events() <-chan Event {
	return c.events
}

// SendPrivate sends text to the first client registered as target. The
// server gives no feedback when target is not connected.
func (c *Client) SendPrivate(target, text string) error {
	if err := validateTarget(target); err != nil {
		return err
	}
	if err := limits.ValidatePrivateMessage(text); err != nil {
		return err
	}
	return c.send(FormatPrivateMessage(target, text))
}

// SendRaw sends an arbitrary frame. It exists for protocol tooling.
func (c *Client) SendRaw(payload string) error {
	return c.send(payload)
}

// Quit asks the server to end the session, then closes the connection.
func (c *Client) Quit() error {
	err := c.send(CommandQuit)
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close closes the connection without sending QUIT.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) send(payload string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}
	return c.sink.Send(payload)
}

// readLoop converts server frames into events until the connection ends.
func (c *Client) readLoop() {
	defer close(c.events)

	reader := bufio.NewReader(c.conn)
	for {
		payload, err := transport.ReadString(reader)
		if err != nil {
			c.emit(Event{Type: EventDisconnected, Err: cleanDisconnect(err)})
			return
		}

		msg := ParseServerMessage(payload)
		switch msg.Kind {
		case ServerMessageClientList:
			c.emit(Event{Type: EventClientList, Clients: msg.Clients})
		case ServerMessagePrivate:
			c.emit(Event{Type: EventPrivateMessage, From: msg.From, Text: msg.Text})
		default:
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"name":     c.name,
				"payload":  truncate(payload, 64),
			}).Debug("Ignoring unrecognized server frame")
		}
	}
}

// emit blocks until the event is consumed or the client is closed, so no
// event is lost while the consumer keeps up.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
