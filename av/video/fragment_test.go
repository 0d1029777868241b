package video

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/opd-ai/netchat/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOfSize(n int) []byte {
	frame := make([]byte, n)
	rng := rand.New(rand.NewSource(int64(n)))
	rng.Read(frame)
	// Never start with the JPEG marker so the shape is decided by size only.
	frame[0] = 0x00
	return frame
}

func TestPacketizeDatagramCount(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		datagrams int
		fragments bool
	}{
		{"one byte", 1, 1, false},
		{"exactly max datagram", MaxDatagramPayload, 1, false},
		{"one over max datagram", MaxDatagramPayload + 1, 2, true},
		{"two full fragments", 2 * MaxFragmentPayload, 2, true},
		{"two full fragments plus one", 2*MaxFragmentPayload + 1, 3, true},
		{"129990 bytes", 129990, 3, true},
		{"200000 bytes", 200000, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := frameOfSize(tt.size)
			datagrams, err := Packetize(frame)
			require.NoError(t, err)
			require.Len(t, datagrams, tt.datagrams)

			if !tt.fragments {
				assert.Equal(t, frame, datagrams[0])
				return
			}

			var rebuilt []byte
			for i, d := range datagrams {
				assert.LessOrEqual(t, len(d), MaxDatagramPayload)
				assert.Equal(t, uint32(i), binary.BigEndian.Uint32(d[0:4]))
				assert.Equal(t, uint32(tt.datagrams), binary.BigEndian.Uint32(d[4:8]))
				if i < len(datagrams)-1 {
					assert.Len(t, d, MaxDatagramPayload, "all but the last fragment are full")
				}
				rebuilt = append(rebuilt, d[FragmentHeaderSize:]...)
			}
			assert.True(t, bytes.Equal(frame, rebuilt))
		})
	}
}

func TestFragmentCount(t *testing.T) {
	assert.Equal(t, 1, FragmentCount(1))
	assert.Equal(t, 1, FragmentCount(MaxFragmentPayload))
	assert.Equal(t, 2, FragmentCount(MaxFragmentPayload+1))
	assert.Equal(t, 0, FragmentCount(0))
}

func TestPacketizeRejects(t *testing.T) {
	_, err := Packetize(nil)
	assert.ErrorIs(t, err, ErrFrameEmpty)

	_, err = Packetize(make([]byte, limits.MaxEncodedFrame+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestParseFragment(t *testing.T) {
	f := Fragment{Sequence: 2, Total: 5, Payload: []byte("abc")}
	parsed, err := ParseFragment(f.Marshal())
	require.NoError(t, err)
	assert.Equal(t, f, parsed)

	tests := []struct {
		name     string
		datagram []byte
		wantErr  error
	}{
		{"short", []byte{0, 0, 0}, ErrShortFragment},
		{"zero total", Fragment{Sequence: 0, Total: 0}.Marshal(), ErrInvalidFragment},
		{"sequence past total", Fragment{Sequence: 3, Total: 3}.Marshal(), ErrInvalidFragment},
		{"forged total", Fragment{Sequence: 0, Total: 1 << 30}.Marshal(), ErrInvalidFragment},
		{"oversized payload", Fragment{Sequence: 0, Total: 2, Payload: make([]byte, MaxFragmentPayload+1)}.Marshal(), ErrInvalidFragment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFragment(tt.datagram)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIsWholeFrame(t *testing.T) {
	assert.True(t, IsWholeFrame([]byte{0xFF, 0xD8, 0xFF, 0xE0}))
	assert.False(t, IsWholeFrame([]byte{0xFF}))
	assert.False(t, IsWholeFrame(Fragment{Sequence: 0, Total: 2}.Marshal()))
}
