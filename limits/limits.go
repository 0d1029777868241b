// Package limits provides centralized size limits for the netchat protocols.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxFramedString is the largest payload of a length-prefixed string.
	// The prefix is an unsigned 16-bit big-endian byte count.
	MaxFramedString = 65535

	// MaxPrivateMessage is the largest message body accepted in a PM frame.
	MaxPrivateMessage = 60000

	// MaxDisplayName bounds the display name a client declares on connect.
	MaxDisplayName = 256

	// MaxFileNameLength matches typical filesystem limits for a base name.
	MaxFileNameLength = 255

	// MaxDatagramPayload is the ceiling for one video datagram.
	MaxDatagramPayload = 65000

	// FragmentHeaderSize is the size of the (sequence, total) fragment prefix.
	FragmentHeaderSize = 8

	// MaxFragmentPayload is the number of frame bytes carried per fragment.
	MaxFragmentPayload = MaxDatagramPayload - FragmentHeaderSize

	// MaxEncodedFrame caps the size of one encoded video frame (16MB).
	// This prevents memory exhaustion from a forged fragment total.
	MaxEncodedFrame = 16 * 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateFramedString checks that s fits in a single framed string.
// Empty strings are valid on the wire and are accepted here.
func ValidateFramedString(s string) error {
	if len(s) > MaxFramedString {
		return fmt.Errorf("%w: framed string size %d exceeds limit %d", ErrMessageTooLarge, len(s), MaxFramedString)
	}
	return nil
}

// ValidatePrivateMessage validates the text of a private message.
func ValidatePrivateMessage(text string) error {
	if len(text) == 0 {
		return ErrMessageEmpty
	}
	if len(text) > MaxPrivateMessage {
		return fmt.Errorf("%w: private message size %d exceeds limit %d", ErrMessageTooLarge, len(text), MaxPrivateMessage)
	}
	return nil
}

// ValidateDisplayName validates a client display name.
func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrMessageEmpty
	}
	if len(name) > MaxDisplayName {
		return fmt.Errorf("%w: display name size %d exceeds limit %d", ErrMessageTooLarge, len(name), MaxDisplayName)
	}
	return nil
}

// ValidateDatagram validates data against the datagram payload ceiling.
func ValidateDatagram(data []byte) error {
	return ValidateMessageSize(data, MaxDatagramPayload)
}
