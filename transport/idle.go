package transport

import (
	"net"
	"time"
)

// idleConn refreshes the read deadline before every read so that a peer
// that stays silent for longer than timeout is disconnected.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

// WithIdleTimeout wraps conn so each Read fails once the peer has been silent
// for timeout. A zero or negative timeout returns conn unchanged, which keeps
// the blocking read-forever behaviour.
func WithIdleTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &idleConn{Conn: conn, timeout: timeout}
}

// Read implements net.Conn.
func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}
