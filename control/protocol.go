package control

import (
	"errors"
	"strings"

	"github.com/opd-ai/netchat/limits"
	"github.com/opd-ai/netchat/registry"
)

const (
	// CommandPM tags a private message frame.
	CommandPM = "PM"
	// CommandQuit asks the server to close the session.
	CommandQuit = "QUIT"

	fieldSeparator = "|"
	pmPrefix       = CommandPM + fieldSeparator
)

// ErrInvalidTarget indicates a private message target that cannot be framed.
var ErrInvalidTarget = errors.New("invalid private message target")

// CommandKind classifies a frame received from a client.
type CommandKind uint8

const (
	// CommandUnknown is any frame the server does not understand.
	CommandUnknown CommandKind = iota
	// CommandPrivateMessage is a well-formed PM frame.
	CommandPrivateMessage
	// CommandQuitSession is a QUIT frame.
	CommandQuitSession
)

// String returns a short name for logging.
func (k CommandKind) String() string {
	switch k {
	case CommandPrivateMessage:
		return "pm"
	case CommandQuitSession:
		return "quit"
	default:
		return "unknown"
	}
}

// Command is a parsed client frame.
type Command struct {
	Kind    CommandKind
	Target  string
	Message string
	Raw     string
}

// ParseCommand classifies a client frame. A PM frame must carry three
// fields; the message field keeps any further separators verbatim.
func ParseCommand(payload string) Command {
	cmd := Command{Kind: CommandUnknown, Raw: payload}

	switch {
	case strings.HasPrefix(payload, pmPrefix):
		parts := strings.SplitN(payload, fieldSeparator, 3)
		if len(parts) == 3 {
			cmd.Kind = CommandPrivateMessage
			cmd.Target = parts[1]
			cmd.Message = parts[2]
		}
	case strings.EqualFold(payload, CommandQuit):
		cmd.Kind = CommandQuitSession
	}

	return cmd
}

// FormatPrivateMessage renders "PM|<peer>|<text>". On the client side peer
// is the target; on the server side it is the sender.
func FormatPrivateMessage(peer, text string) string {
	return pmPrefix + peer + fieldSeparator + text
}

// ServerMessageKind classifies a frame pushed by the server.
type ServerMessageKind uint8

const (
	ServerMessageUnknown ServerMessageKind = iota
	ServerMessageClientList
	ServerMessagePrivate
)

// ServerMessage is a parsed server frame.
type ServerMessage struct {
	Kind    ServerMessageKind
	Clients []string
	From    string
	Text    string
	Raw     string
}

// ParseServerMessage classifies a frame received from the server.
func ParseServerMessage(payload string) ServerMessage {
	msg := ServerMessage{Kind: ServerMessageUnknown, Raw: payload}

	if names, ok := registry.ParseClientList(payload); ok {
		msg.Kind = ServerMessageClientList
		msg.Clients = names
		return msg
	}

	if strings.HasPrefix(payload, pmPrefix) {
		parts := strings.SplitN(payload, fieldSeparator, 3)
		if len(parts) == 3 {
			msg.Kind = ServerMessagePrivate
			msg.From = parts[1]
			msg.Text = parts[2]
		}
	}
	return msg
}

// validateTarget rejects names that would break PM framing.
func validateTarget(target string) error {
	if target == "" || strings.Contains(target, fieldSeparator) {
		return ErrInvalidTarget
	}
	return limits.ValidateDisplayName(target)
}
