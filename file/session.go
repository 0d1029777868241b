package file

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/opd-ai/netchat/events"
	"github.com/opd-ai/netchat/transport"
	"github.com/sirupsen/logrus"
)

// Command tags sent by the client after its name.
const (
	CommandUpload   = "UPLOAD"
	CommandList     = "LIST"
	CommandDownload = "DOWNLOAD"
)

// Status strings sent by the server.
const (
	StatusOK             = "OK"
	StatusNotFound       = "NOT_FOUND"
	StatusUnknownCommand = "ERR_UNKNOWN_COMMAND"
)

// CopyBufferSize is the buffer used to move file bodies.
const CopyBufferSize = 16 * 1024

var (
	// ErrUnknownCommand indicates an unrecognized command tag.
	ErrUnknownCommand = errors.New("unknown file command")

	// ErrNegativeSize indicates a negative declared upload size.
	ErrNegativeSize = errors.New("negative file size")
)

// UploadHandler is called after an upload has been stored and acknowledged.
type UploadHandler func(entry Entry, client string)

// Session serves the single request carried by one connection.
type Session struct {
	conn      net.Conn
	r         *bufio.Reader
	w         *bufio.Writer
	store     *Store
	publisher events.Publisher
	onUpload  UploadHandler

	client string
}

// NewSession prepares a session. publisher and onUpload may be nil.
func NewSession(conn net.Conn, store *Store, publisher events.Publisher, onUpload UploadHandler) *Session {
	return &Session{
		conn:      conn,
		r:         bufio.NewReaderSize(conn, CopyBufferSize),
		w:         bufio.NewWriterSize(conn, CopyBufferSize),
		store:     store,
		publisher: publisher,
		onUpload:  onUpload,
	}
}

// Client returns the name the peer declared, empty before it was read.
func (s *Session) Client() string {
	return s.client
}

// Run reads the client name and command and dispatches it. The caller
// closes the connection afterwards.
func (s *Session) Run() error {
	client, err := transport.ReadString(s.r)
	if err != nil {
		return fmt.Errorf("reading client name: %w", err)
	}
	s.client = client

	cmd, err := transport.ReadString(s.r)
	if err != nil {
		return fmt.Errorf("reading command: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"client":   client,
		"remote":   s.conn.RemoteAddr().String(),
		"command":  cmd,
	}).Info("File request received")

	switch cmd {
	case CommandUpload:
		err = s.handleUpload()
	case CommandList:
		err = s.handleList()
	case CommandDownload:
		err = s.handleDownload()
	default:
		if err := s.reply(StatusUnknownCommand); err != nil {
			return err
		}
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	if err != nil {
		return err
	}
	return s.w.Flush()
}

// handleUpload stores up to the declared number of bytes. A stream that
// ends early is stored as received and acknowledged.
func (s *Session) handleUpload() error {
	name, err := transport.ReadString(s.r)
	if err != nil {
		return fmt.Errorf("reading upload name: %w", err)
	}
	size, err := transport.ReadInt64(s.r)
	if err != nil {
		return fmt.Errorf("reading upload size: %w", err)
	}
	if size < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeSize, size)
	}

	dst, err := s.store.Create(name)
	if err != nil {
		return err
	}

	buf := make([]byte, CopyBufferSize)
	n, copyErr := io.CopyBuffer(dst, io.LimitReader(s.r, size), buf)
	if closeErr := dst.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleUpload",
			"client":   s.client,
			"file":     dst.Name(),
			"received": n,
			"declared": size,
			"error":    copyErr.Error(),
		}).Warn("Upload aborted, partial file left in place")
		return fmt.Errorf("receiving %s: %w", dst.Name(), copyErr)
	}

	if n < size {
		logrus.WithFields(logrus.Fields{
			"function": "handleUpload",
			"client":   s.client,
			"file":     dst.Name(),
			"received": n,
			"declared": size,
		}).Warn("Upload stream ended early, storing received bytes")
	}

	if err := s.reply(StatusOK); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}

	entry := Entry{Name: dst.Name(), Size: n}
	logrus.WithFields(logrus.Fields{
		"function": "handleUpload",
		"client":   s.client,
		"file":     entry.Name,
		"size":     entry.Size,
	}).Info("File uploaded")

	if s.publisher != nil {
		s.publisher.Publish(events.FileUploaded{
			Name:     entry.Name,
			Size:     entry.Size,
			Declared: size,
			Client:   s.client,
			At:       time.Now(),
		})
	}
	if s.onUpload != nil {
		s.onUpload(entry, s.client)
	}
	return nil
}

func (s *Session) handleList() error {
	entries, err := s.store.List()
	if err != nil {
		return err
	}

	if err := transport.WriteInt32(s.w, int32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := transport.WriteString(s.w, e.Name); err != nil {
			return err
		}
		if err := transport.WriteInt64(s.w, e.Size); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleDownload() error {
	name, err := transport.ReadString(s.r)
	if err != nil {
		return fmt.Errorf("reading download name: %w", err)
	}

	src, err := s.store.Open(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidFileName) || errors.Is(err, ErrFileNameTooLong) {
			logrus.WithFields(logrus.Fields{
				"function": "handleDownload",
				"client":   s.client,
				"file":     name,
			}).Info("Requested file not found")
			return s.reply(StatusNotFound)
		}
		return err
	}
	defer src.Close()

	entry := src.Entry()
	if err := s.reply(StatusOK); err != nil {
		return err
	}
	if err := transport.WriteInt64(s.w, entry.Size); err != nil {
		return err
	}

	buf := make([]byte, CopyBufferSize)
	if _, err := io.CopyBuffer(s.w, src, buf); err != nil {
		return fmt.Errorf("sending %s: %w", entry.Name, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleDownload",
		"client":   s.client,
		"file":     entry.Name,
		"size":     entry.Size,
	}).Info("File downloaded")
	return nil
}

func (s *Session) reply(status string) error {
	return transport.WriteString(s.w, status)
}
