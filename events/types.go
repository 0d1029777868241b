package events

import "time"

// Kind names an event type on the wire (for example in the websocket feed).
type Kind string

const (
	KindClientsChanged       Kind = "clients_changed"
	KindPrivateMessageRouted Kind = "private_message_routed"
	KindRoutingMiss          Kind = "routing_miss"
	KindFileUploaded         Kind = "file_uploaded"
)

// Event is implemented by every notification published on a Bus.
type Event interface {
	Kind() Kind
}

// ClientsChanged is published after a client joins or leaves. Names is the
// full list of connected display names at that moment.
type ClientsChanged struct {
	Names  []string  `json:"names"`
	Joined string    `json:"joined,omitempty"`
	Left   string    `json:"left,omitempty"`
	At     time.Time `json:"at"`
}

// Kind implements Event.
func (ClientsChanged) Kind() Kind { return KindClientsChanged }

// PrivateMessageRouted is published after a private message was handed to
// its recipient's connection.
type PrivateMessageRouted struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	Size int       `json:"size"`
	At   time.Time `json:"at"`
}

// Kind implements Event.
func (PrivateMessageRouted) Kind() Kind { return KindPrivateMessageRouted }

// RoutingMiss is published when a private message names no connected client.
type RoutingMiss struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// Kind implements Event.
func (RoutingMiss) Kind() Kind { return KindRoutingMiss }

// FileUploaded is published once an upload has been stored.
type FileUploaded struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Declared int64     `json:"declared"`
	Client   string    `json:"client"`
	At       time.Time `json:"at"`
}

// Kind implements Event.
func (FileUploaded) Kind() Kind { return KindFileUploaded }
