package video

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/netchat/limits"
)

const (
	// MaxDatagramPayload is the largest datagram the endpoint sends.
	MaxDatagramPayload = limits.MaxDatagramPayload

	// FragmentHeaderSize is the size of the (sequence, total) prefix.
	FragmentHeaderSize = limits.FragmentHeaderSize

	// MaxFragmentPayload is the number of frame bytes per fragment.
	MaxFragmentPayload = limits.MaxFragmentPayload

	// maxFragments bounds total so a forged header cannot claim a frame
	// larger than limits.MaxEncodedFrame.
	maxFragments = (limits.MaxEncodedFrame + MaxFragmentPayload - 1) / MaxFragmentPayload
)

var (
	// ErrFrameEmpty indicates an attempt to send an empty frame.
	ErrFrameEmpty = errors.New("video: empty frame")

	// ErrFrameTooLarge indicates an encoded frame above limits.MaxEncodedFrame.
	ErrFrameTooLarge = errors.New("video: frame too large")

	// ErrShortFragment indicates a datagram too small to hold a fragment.
	ErrShortFragment = errors.New("video: fragment shorter than header")

	// ErrInvalidFragment indicates an inconsistent fragment header.
	ErrInvalidFragment = errors.New("video: invalid fragment header")
)

// Fragment is one piece of an encoded frame too large for a single datagram.
type Fragment struct {
	Sequence uint32
	Total    uint32
	Payload  []byte
}

// Marshal returns the datagram bytes for f.
func (f Fragment) Marshal() []byte {
	buf := make([]byte, FragmentHeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], f.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], f.Total)
	copy(buf[FragmentHeaderSize:], f.Payload)
	return buf
}

// ParseFragment decodes a fragment datagram. The payload aliases datagram.
func ParseFragment(datagram []byte) (Fragment, error) {
	if len(datagram) < FragmentHeaderSize {
		return Fragment{}, fmt.Errorf("%w: %d bytes", ErrShortFragment, len(datagram))
	}

	f := Fragment{
		Sequence: binary.BigEndian.Uint32(datagram[0:4]),
		Total:    binary.BigEndian.Uint32(datagram[4:8]),
		Payload:  datagram[FragmentHeaderSize:],
	}
	if f.Total == 0 || f.Total > maxFragments || f.Sequence >= f.Total {
		return Fragment{}, fmt.Errorf("%w: sequence %d of %d", ErrInvalidFragment, f.Sequence, f.Total)
	}
	if len(f.Payload) > MaxFragmentPayload {
		return Fragment{}, fmt.Errorf("%w: payload %d exceeds %d", ErrInvalidFragment, len(f.Payload), MaxFragmentPayload)
	}
	return f, nil
}

// FragmentCount returns how many fragments a frame of size bytes needs
// when it does not fit in one datagram.
func FragmentCount(size int) int {
	return (size + MaxFragmentPayload - 1) / MaxFragmentPayload
}

// Split cuts frame into fragments regardless of its size.
func Split(frame []byte) []Fragment {
	total := FragmentCount(len(frame))
	fragments := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * MaxFragmentPayload
		end := min(start+MaxFragmentPayload, len(frame))
		fragments = append(fragments, Fragment{
			Sequence: uint32(i),
			Total:    uint32(total),
			Payload:  frame[start:end],
		})
	}
	return fragments
}

// Packetize returns the datagrams that carry frame: the frame itself when
// it fits in one datagram, otherwise one datagram per fragment.
func Packetize(frame []byte) ([][]byte, error) {
	if len(frame) == 0 {
		return nil, ErrFrameEmpty
	}
	if len(frame) > limits.MaxEncodedFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}

	if len(frame) <= MaxDatagramPayload {
		return [][]byte{frame}, nil
	}

	fragments := Split(frame)
	datagrams := make([][]byte, len(fragments))
	for i, f := range fragments {
		datagrams[i] = f.Marshal()
	}
	return datagrams, nil
}

// IsWholeFrame reports whether datagram starts with the JPEG start-of-image
// marker and is therefore an unfragmented frame.
func IsWholeFrame(datagram []byte) bool {
	return len(datagram) >= 2 && datagram[0] == 0xFF && datagram[1] == 0xD8
}
