package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/opd-ai/netchat/limits"
)

// ErrInvalidUTF8 indicates a framed string whose payload is neither modified
// nor standard UTF-8.
var ErrInvalidUTF8 = errors.New("framed string is not valid UTF-8")

// stringPrefixSize is the size of the length prefix of a framed string.
const stringPrefixSize = 2

// WriteString writes s as a framed string: a 2-byte big-endian length
// followed by the modified UTF-8 bytes, the encoding of Java's
// DataOutput.writeUTF. NUL is written as 0xC0 0x80 and characters outside
// the BMP as a surrogate pair of 3-byte sequences. The prefix and payload
// go out in one write so concurrent writers guarded by a single lock never
// interleave frames.
func WriteString(w io.Writer, s string) error {
	if err := limits.ValidateFramedString(s); err != nil {
		return err
	}

	payload := encodeModifiedUTF8(s)
	if len(payload) > limits.MaxFramedString {
		return fmt.Errorf("%w: encoded string size %d exceeds limit %d",
			limits.ErrMessageTooLarge, len(payload), limits.MaxFramedString)
	}

	buf := make([]byte, stringPrefixSize+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[stringPrefixSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadString reads one framed string. The payload may be modified UTF-8 or
// standard UTF-8.
func ReadString(r io.Reader) (string, error) {
	var prefix [stringPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return "", err
	}

	length := binary.BigEndian.Uint16(prefix[:])
	if length == 0 {
		return "", nil
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", fmt.Errorf("reading %d byte string payload: %w", length, unexpectedEOF(err))
	}

	return decodeModifiedUTF8(data)
}

func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r == 0:
			out = append(out, 0xC0, 0x80)
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			out = appendSurrogate(out, hi)
			out = appendSurrogate(out, lo)
		default:
			out = utf8.AppendRune(out, r)
		}
	}
	return out
}

func appendSurrogate(out []byte, c rune) []byte {
	return append(out, 0xE0|byte(c>>12), 0x80|byte(c>>6)&0x3F, 0x80|byte(c)&0x3F)
}

// surrogateAt decodes a 3-byte encoded surrogate at the start of data.
func surrogateAt(data []byte) (rune, bool) {
	if len(data) < 3 || data[0] != 0xED || data[1]&0xE0 != 0xA0 || data[2]&0xC0 != 0x80 {
		return 0, false
	}
	return 0xD000 | rune(data[1]&0x3F)<<6 | rune(data[2]&0x3F), true
}

func decodeModifiedUTF8(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] == 0xC0 && i+1 < len(data) && data[i+1] == 0x80 {
			out = append(out, 0)
			i += 2
			continue
		}

		if hi, ok := surrogateAt(data[i:]); ok {
			lo, ok := surrogateAt(data[i+3:])
			if !ok {
				return "", ErrInvalidUTF8
			}
			r := utf16.DecodeRune(hi, lo)
			if r == utf8.RuneError {
				return "", ErrInvalidUTF8
			}
			out = utf8.AppendRune(out, r)
			i += 6
			continue
		}

		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return "", ErrInvalidUTF8
		}
		out = append(out, data[i:i+size]...)
		i += size
	}
	return string(out), nil
}

// WriteInt32 writes v as a 4-byte big-endian integer.
func WriteInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadInt32 reads a 4-byte big-endian integer.
func ReadInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// WriteInt64 writes v as an 8-byte big-endian integer.
func WriteInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadInt64 reads an 8-byte big-endian integer.
func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// unexpectedEOF converts a clean EOF in the middle of a frame into
// io.ErrUnexpectedEOF so callers can tell truncation from a closed peer.
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
