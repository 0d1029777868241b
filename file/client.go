package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/opd-ai/netchat/transport"
	"github.com/sirupsen/logrus"
)

// ErrUnexpectedStatus indicates a status reply other than the expected one.
var ErrUnexpectedStatus = errors.New("unexpected server status")

// Client performs file requests against a file server, one connection per
// request.
type Client struct {
	addr   string
	name   string
	dialer transport.Dialer
}

// NewClient returns a client that identifies itself as name.
func NewClient(addr, name string) *Client {
	return &Client{addr: addr, name: name, dialer: &net.Dialer{}}
}

// SetDialer routes future requests through d, for example a proxy dialer
// from transport.NewDialer.
func (c *Client) SetDialer(d transport.Dialer) {
	if d == nil {
		d = &net.Dialer{}
	}
	c.dialer = d
}

// conn is one request-scoped connection.
type conn struct {
	net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	stop func() bool
}

func (c *Client) open(ctx context.Context, command string) (*conn, error) {
	nc, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		nc.SetDeadline(deadline)
	}

	fc := &conn{
		Conn: nc,
		r:    bufio.NewReaderSize(nc, CopyBufferSize),
		w:    bufio.NewWriterSize(nc, CopyBufferSize),
		stop: context.AfterFunc(ctx, func() { nc.Close() }),
	}

	if err := transport.WriteString(fc.w, c.name); err != nil {
		fc.Close()
		return nil, err
	}
	if err := transport.WriteString(fc.w, command); err != nil {
		fc.Close()
		return nil, err
	}
	return fc, nil
}

func (fc *conn) Close() error {
	fc.stop()
	return fc.Conn.Close()
}

// Upload sends size bytes read from r and stores them as name.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeSize, size)
	}

	fc, err := c.open(ctx, CommandUpload)
	if err != nil {
		return err
	}
	defer fc.Close()

	if err := transport.WriteString(fc.w, name); err != nil {
		return err
	}
	if err := transport.WriteInt64(fc.w, size); err != nil {
		return err
	}

	buf := make([]byte, CopyBufferSize)
	if _, err := io.CopyBuffer(fc.w, io.LimitReader(r, size), buf); err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}
	if err := fc.w.Flush(); err != nil {
		return err
	}

	if err := expectStatus(fc.r, StatusOK); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Upload",
		"client":   c.name,
		"file":     name,
		"size":     size,
	}).Info("File uploaded")
	return nil
}

// UploadFile uploads the local file at path under its base name.
func (c *Client) UploadFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return c.Upload(ctx, filepath.Base(path), f, info.Size())
}

// List returns the server's stored files.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	fc, err := c.open(ctx, CommandList)
	if err != nil {
		return nil, err
	}
	defer fc.Close()

	if err := fc.w.Flush(); err != nil {
		return nil, err
	}

	count, err := transport.ReadInt32(fc.r)
	if err != nil {
		return nil, fmt.Errorf("reading entry count: %w", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative entry count %d", ErrUnexpectedStatus, count)
	}

	entries := make([]Entry, 0, min(int(count), 1024))
	for i := int32(0); i < count; i++ {
		name, err := transport.ReadString(fc.r)
		if err != nil {
			return nil, fmt.Errorf("reading entry %d: %w", i, err)
		}
		size, err := transport.ReadInt64(fc.r)
		if err != nil {
			return nil, fmt.Errorf("reading entry %d: %w", i, err)
		}
		entries = append(entries, Entry{Name: name, Size: size})
	}
	return entries, nil
}

// Download writes the named file to w and returns the number of bytes
// written. A missing file yields ErrNotFound and writes nothing.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	fc, err := c.open(ctx, CommandDownload)
	if err != nil {
		return 0, err
	}
	defer fc.Close()

	if err := transport.WriteString(fc.w, name); err != nil {
		return 0, err
	}
	if err := fc.w.Flush(); err != nil {
		return 0, err
	}

	status, err := transport.ReadString(fc.r)
	if err != nil {
		return 0, fmt.Errorf("reading status: %w", err)
	}
	switch status {
	case StatusOK:
	case StatusNotFound:
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnexpectedStatus, status)
	}

	size, err := transport.ReadInt64(fc.r)
	if err != nil {
		return 0, fmt.Errorf("reading size: %w", err)
	}
	if size < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeSize, size)
	}

	buf := make([]byte, CopyBufferSize)
	n, err := io.CopyBuffer(w, io.LimitReader(fc.r, size), buf)
	if err != nil {
		return n, err
	}
	if n < size {
		return n, fmt.Errorf("receiving %s: %w", name, io.ErrUnexpectedEOF)
	}
	return n, nil
}

func expectStatus(r io.Reader, want string) error {
	status, err := transport.ReadString(r)
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}
	if status != want {
		return fmt.Errorf("%w: %q", ErrUnexpectedStatus, status)
	}
	return nil
}
