package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProxyURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *ProxyConfig
		wantErr bool
	}{
		{"empty is direct", "", nil, false},
		{"socks5", "socks5://127.0.0.1:1080", &ProxyConfig{Type: "socks5", Host: "127.0.0.1", Port: 1080}, false},
		{"http with auth", "http://u:p@proxy.lan:3128", &ProxyConfig{Type: "http", Host: "proxy.lan", Port: 3128, Username: "u", Password: "p"}, false},
		{"unsupported scheme", "ftp://h:21", nil, true},
		{"missing port", "socks5://h", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProxyURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewDialerRejectsUnknownType(t *testing.T) {
	_, err := NewDialer(&ProxyConfig{Type: "gopher", Host: "h", Port: 70})
	assert.ErrorIs(t, err, ErrUnsupportedProxy)
}

func TestDirectDialer(t *testing.T) {
	target := echoServer(t)

	d, err := NewDialer(nil)
	require.NoError(t, err)
	assertEcho(t, d, target)
}

func TestHTTPConnectDialer(t *testing.T) {
	target := echoServer(t)

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()

	authSeen := make(chan string, 1)
	go func() {
		conn, err := proxyLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		authSeen <- req.Header.Get("Proxy-Authorization")

		upstream, err := net.Dial("tcp", req.Host)
		if err != nil {
			io.WriteString(conn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
			return
		}
		defer upstream.Close()
		io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
		pipe(conn, upstream)
	}()

	_, port, _ := net.SplitHostPort(proxyLn.Addr().String())
	p, _ := strconv.Atoi(port)
	d, err := NewDialer(&ProxyConfig{Type: "http", Host: "127.0.0.1", Port: uint16(p), Username: "u", Password: "p"})
	require.NoError(t, err)

	assertEcho(t, d, target)
	assert.Equal(t, "Basic dTpw", <-authSeen)
}

func TestHTTPConnectRejected(t *testing.T) {
	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()

	go func() {
		conn, err := proxyLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		http.ReadRequest(bufio.NewReader(conn))
		io.WriteString(conn, "HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n")
	}()

	_, port, _ := net.SplitHostPort(proxyLn.Addr().String())
	p, _ := strconv.Atoi(port)
	d, err := NewDialer(&ProxyConfig{Type: "http", Host: "127.0.0.1", Port: uint16(p)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = d.DialContext(ctx, "tcp", "127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSOCKS5Dialer(t *testing.T) {
	target := echoServer(t)

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()

	go func() {
		conn, err := proxyLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serveSOCKS5(conn)
	}()

	_, port, _ := net.SplitHostPort(proxyLn.Addr().String())
	p, _ := strconv.Atoi(port)
	d, err := NewDialer(&ProxyConfig{Type: "socks5", Host: "127.0.0.1", Port: uint16(p)})
	require.NoError(t, err)

	assertEcho(t, d, target)
}

// serveSOCKS5 handles one no-auth CONNECT request for an IPv4 target.
func serveSOCKS5(conn net.Conn) {
	r := bufio.NewReader(conn)

	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return
	}
	methods := make([]byte, header[1])
	if _, err := io.ReadFull(r, methods); err != nil {
		return
	}
	conn.Write([]byte{0x05, 0x00})

	req := make([]byte, 4)
	if _, err := io.ReadFull(r, req); err != nil || req[3] != 0x01 {
		return
	}
	addr := make([]byte, 6)
	if _, err := io.ReadFull(r, addr); err != nil {
		return
	}
	target := net.JoinHostPort(net.IP(addr[:4]).String(), strconv.Itoa(int(binary.BigEndian.Uint16(addr[4:]))))

	upstream, err := net.Dial("tcp", target)
	if err != nil {
		conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer upstream.Close()
	conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 127, 0, 0, 1, 0, 0})

	go io.Copy(upstream, r)
	io.Copy(conn, upstream)
}

func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func assertEcho(t *testing.T, d Dialer, target string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := d.DialContext(ctx, "tcp", target)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, WriteString(conn, "ping"))
	got, err := ReadString(bufio.NewReader(conn))
	require.NoError(t, err)
	assert.Equal(t, "ping", got)
}

func pipe(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() { io.Copy(a, b); done <- struct{}{} }()
	go func() { io.Copy(b, a); done <- struct{}{} }()
	<-done
}
