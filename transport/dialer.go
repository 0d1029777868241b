package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// DefaultDialTimeout bounds connecting to a proxy when ctx has no deadline.
const DefaultDialTimeout = 10 * time.Second

// ErrUnsupportedProxy is returned for proxy types other than socks5 and http.
var ErrUnsupportedProxy = errors.New("transport: unsupported proxy type")

// Dialer opens outbound stream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// ProxyConfig describes an outbound proxy for control and file clients.
type ProxyConfig struct {
	Type     string // "socks5" or "http"
	Host     string
	Port     uint16
	Username string
	Password string
}

// Addr returns host:port of the proxy.
func (c *ProxyConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// ParseProxyURL parses socks5://[user[:pass]@]host:port or
// http://[user[:pass]@]host:port. An empty string yields nil, meaning direct.
func ParseProxyURL(raw string) (*ProxyConfig, error) {
	if raw == "" {
		return nil, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy URL: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxy, u.Scheme)
	}

	port, err := strconv.ParseUint(u.Port(), 10, 16)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("proxy URL %q: invalid port", raw)
	}

	config := &ProxyConfig{
		Type: u.Scheme,
		Host: u.Hostname(),
		Port: uint16(port),
	}
	if u.User != nil {
		config.Username = u.User.Username()
		config.Password, _ = u.User.Password()
	}
	return config, nil
}

// NewDialer returns a direct dialer for a nil config, otherwise one that
// tunnels every connection through the configured proxy.
func NewDialer(config *ProxyConfig) (Dialer, error) {
	if config == nil {
		return &net.Dialer{}, nil
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewDialer",
		"proxy_type": config.Type,
		"proxy_addr": config.Addr(),
	}).Debug("Creating proxy dialer")

	switch config.Type {
	case "socks5":
		var auth *proxy.Auth
		if config.Username != "" || config.Password != "" {
			auth = &proxy.Auth{
				User:     config.Username,
				Password: config.Password,
			}
		}

		dialer, err := proxy.SOCKS5("tcp", config.Addr(), auth, &net.Dialer{Timeout: DefaultDialTimeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd, nil
		}
		return contextlessDialer{dialer}, nil

	case "http":
		proxyURL := &url.URL{Scheme: "http", Host: config.Addr()}
		if config.Username != "" {
			proxyURL.User = url.UserPassword(config.Username, config.Password)
		}
		return &httpProxyDialer{proxyURL: proxyURL}, nil

	default:
		return nil, fmt.Errorf("%w: %q (must be 'socks5' or 'http')", ErrUnsupportedProxy, config.Type)
	}
}

// contextlessDialer adapts a proxy.Dialer without DialContext.
type contextlessDialer struct {
	proxy.Dialer
}

func (d contextlessDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Dial(network, addr)
}

// httpProxyDialer tunnels TCP through an HTTP CONNECT proxy.
type httpProxyDialer struct {
	proxyURL *url.URL
}

// DialContext connects to addr via the proxy's CONNECT method.
func (d *httpProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("HTTP CONNECT proxy only supports TCP, got: %s", network)
	}

	dialer := &net.Dialer{Timeout: DefaultDialTimeout}
	proxyConn, err := dialer.DialContext(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultDialTimeout)
	}
	if err := proxyConn.SetDeadline(deadline); err != nil {
		proxyConn.Close()
		return nil, err
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.proxyURL.User != nil {
		probe := &http.Request{Header: make(http.Header)}
		password, _ := d.proxyURL.User.Password()
		probe.SetBasicAuth(d.proxyURL.User.Username(), password)
		connectReq.Header.Set("Proxy-Authorization", probe.Header.Get("Authorization"))
	}

	if err := connectReq.Write(proxyConn); err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	reader := bufio.NewReader(proxyConn)
	resp, err := http.ReadResponse(reader, connectReq)
	if err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		proxyConn.Close()
		return nil, fmt.Errorf("proxy returned non-200 status: %s", resp.Status)
	}

	if err := proxyConn.SetDeadline(time.Time{}); err != nil {
		proxyConn.Close()
		return nil, err
	}

	if reader.Buffered() > 0 {
		return &bufferedConn{Conn: proxyConn, reader: reader}, nil
	}
	return proxyConn, nil
}

// bufferedConn keeps bytes the proxy sent right after its CONNECT reply.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}
