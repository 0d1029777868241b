package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		kind    CommandKind
		target  string
		message string
	}{
		{"private message", "PM|bob|hello", CommandPrivateMessage, "bob", "hello"},
		{"message keeps separators", "PM|bob|a|b|c", CommandPrivateMessage, "bob", "a|b|c"},
		{"empty message", "PM|bob|", CommandPrivateMessage, "bob", ""},
		{"missing message field", "PM|bob", CommandUnknown, "", ""},
		{"quit", "QUIT", CommandQuitSession, "", ""},
		{"quit lower case", "quit", CommandQuitSession, "", ""},
		{"unknown", "HELLO", CommandUnknown, "", ""},
		{"pm without separator", "PM bob hello", CommandUnknown, "", ""},
		{"empty", "", CommandUnknown, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := ParseCommand(tt.payload)
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, tt.target, cmd.Target)
			assert.Equal(t, tt.message, cmd.Message)
			assert.Equal(t, tt.payload, cmd.Raw)
		})
	}
}

func TestParseServerMessage(t *testing.T) {
	msg := ParseServerMessage("CLIENTS|alice,bob,")
	assert.Equal(t, ServerMessageClientList, msg.Kind)
	assert.Equal(t, []string{"alice", "bob"}, msg.Clients)

	msg = ParseServerMessage("PM|alice|hi there")
	assert.Equal(t, ServerMessagePrivate, msg.Kind)
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "hi there", msg.Text)

	msg = ParseServerMessage("NOPE")
	assert.Equal(t, ServerMessageUnknown, msg.Kind)
}

func TestFormatPrivateMessage(t *testing.T) {
	assert.Equal(t, "PM|alice|hello", FormatPrivateMessage("alice", "hello"))
}

func TestValidateTarget(t *testing.T) {
	assert.NoError(t, validateTarget("bob"))
	assert.ErrorIs(t, validateTarget(""), ErrInvalidTarget)
	assert.ErrorIs(t, validateTarget("b|ob"), ErrInvalidTarget)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "init", SessionStateInit.String())
	assert.Equal(t, "active", SessionStateActive.String())
	assert.Equal(t, "closed", SessionStateClosed.String())
	assert.Equal(t, "pm", CommandPrivateMessage.String())
	assert.Equal(t, "quit", CommandQuitSession.String())
	assert.Equal(t, "unknown", CommandUnknown.String())
}
