// Package limits provides centralized size constants and validation functions
// for the netchat wire protocols. Every component that frames, fragments or
// stores untrusted input checks it against the values defined here.
//
// # Size Hierarchy
//
//   - MaxFramedString (65535 bytes): the largest UTF-8 payload a framed string
//     can carry, bounded by its 16-bit length prefix. Control frames, file names
//     and status tags all travel as framed strings.
//
//   - MaxPrivateMessage (60000 bytes): the largest message text accepted in a
//     PM frame. It leaves room for the "PM|" tag and both names inside one
//     framed string.
//
//   - MaxDatagramPayload (65000 bytes): the ceiling for a single video datagram.
//     Encoded frames above it are split into fragments.
//
//   - FragmentHeaderSize (8 bytes): two big-endian uint32 fields, sequence number
//     and fragment total, prefixed to every fragment.
//
//   - MaxFragmentPayload (64992 bytes): MaxDatagramPayload minus the header.
//
// # Validation Functions
//
//	if err := limits.ValidateFramedString(s); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// For custom limits use ValidateMessageSize.
package limits
