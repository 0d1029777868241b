package control

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/netchat/transport"
)

// DefaultWriteTimeout bounds a single frame write to a client.
const DefaultWriteTimeout = 5 * time.Second

// connSink serializes frame writes to one connection. Writes come from the
// owning session and from other sessions routing messages or broadcasting
// the client list.
type connSink struct {
	conn         net.Conn
	w            *bufio.Writer
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newConnSink(conn net.Conn, writeTimeout time.Duration) *connSink {
	return &connSink{
		conn:         conn,
		w:            bufio.NewWriter(conn),
		writeTimeout: writeTimeout,
	}
}

// Send writes one framed string and flushes it.
func (s *connSink) Send(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}

	if err := transport.WriteString(s.w, payload); err != nil {
		return err
	}
	return s.w.Flush()
}
