// Package transport holds the stream plumbing shared by the control and file
// services.
//
// # Framing
//
// Every string on the wire is a big-endian uint16 byte length followed by
// that many bytes of UTF-8. Integers are big-endian int32 or int64:
//
//	transport.WriteString(w, "LIST")
//	size, err := transport.ReadInt64(r)
//
// # Servers
//
// StreamServer runs one goroutine per accepted TCP connection and closes
// every open connection on Close. An optional idle timeout wraps each
// connection so a silent peer is disconnected instead of holding its
// goroutine forever.
//
// # Dialing
//
// Clients dial through a Dialer. NewDialer returns a direct dialer or one
// that tunnels through a SOCKS5 or HTTP CONNECT proxy.
package transport
