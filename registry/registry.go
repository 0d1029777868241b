package registry

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/netchat/events"
	"github.com/sirupsen/logrus"
)

// ClientListPrefix tags the presence payload pushed on every join and leave.
const ClientListPrefix = "CLIENTS|"

// Sink is the writable end of a client connection.
type Sink interface {
	Send(payload string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(payload string) error

// Send implements Sink.
func (f SinkFunc) Send(payload string) error { return f(payload) }

// Handle is one registered client connection.
type Handle struct {
	ID       uuid.UUID
	Name     string
	JoinedAt time.Time

	sink Sink
}

// Send writes payload to the client.
func (h *Handle) Send(payload string) error {
	return h.sink.Send(payload)
}

// Registry is the set of connected clients.
//
// mu guards handles for both mutation and snapshotting. broadcastMu
// serializes presence broadcasts so that the last list each client receives
// matches the final registry state.
type Registry struct {
	handles     []*Handle
	publisher   events.Publisher
	mu          sync.Mutex
	broadcastMu sync.Mutex
}

// New creates an empty registry. publisher may be nil.
func New(publisher events.Publisher) *Registry {
	return &Registry{publisher: publisher}
}

// Add registers a client and broadcasts the new client list.
// No uniqueness check is made on name.
func (r *Registry) Add(name string, sink Sink) *Handle {
	h := &Handle{
		ID:       uuid.New(),
		Name:     name,
		JoinedAt: time.Now(),
		sink:     sink,
	}

	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	r.mu.Lock()
	r.handles = append(r.handles, h)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Add",
		"client":    name,
		"handle_id": h.ID.String(),
		"clients":   len(snapshot),
	}).Info("Client joined")

	r.announce(snapshot, events.ClientsChanged{Joined: name})
	return h
}

// Remove unregisters h and broadcasts the new client list. It reports
// whether h was registered. A different handle with the same name is left
// untouched.
func (r *Registry) Remove(h *Handle) bool {
	if h == nil {
		return false
	}

	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	r.mu.Lock()
	removed := false
	for i, candidate := range r.handles {
		if candidate == h {
			r.handles = append(r.handles[:i], r.handles[i+1:]...)
			removed = true
			break
		}
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if !removed {
		logrus.WithFields(logrus.Fields{
			"function":  "Remove",
			"client":    h.Name,
			"handle_id": h.ID.String(),
		}).Debug("Handle not registered")
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Remove",
		"client":    h.Name,
		"handle_id": h.ID.String(),
		"clients":   len(snapshot),
	}).Info("Client left")

	r.announce(snapshot, events.ClientsChanged{Left: h.Name})
	return true
}

// Broadcast sends payload to every registered client and returns the number
// of successful deliveries. A failing client is logged and skipped.
func (r *Registry) Broadcast(payload string) int {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	r.mu.Lock()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	return deliver(snapshot, payload)
}

// FindByName returns the earliest registered handle with the given name.
func (r *Registry) FindByName(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handles {
		if h.Name == name {
			return h, true
		}
	}
	return nil, false
}

// Names returns the display names of all registered clients in
// registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return namesOf(r.handles)
}

// ClientInfo describes a registered client without its sink.
type ClientInfo struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// Clients returns a snapshot of the registered clients in registration order.
func (r *Registry) Clients() []ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ClientInfo, len(r.handles))
	for i, h := range r.handles {
		out[i] = ClientInfo{ID: h.ID, Name: h.Name, JoinedAt: h.JoinedAt}
	}
	return out
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// FormatClientList renders the presence payload, "CLIENTS|a,b,".
func FormatClientList(names []string) string {
	var sb strings.Builder
	sb.WriteString(ClientListPrefix)
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteByte(',')
	}
	return sb.String()
}

// ParseClientList is the inverse of FormatClientList.
func ParseClientList(payload string) ([]string, bool) {
	body, ok := strings.CutPrefix(payload, ClientListPrefix)
	if !ok {
		return nil, false
	}

	names := []string{}
	for _, name := range strings.Split(body, ",") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names, true
}

// snapshotLocked copies the handle slice. r.mu must be held.
func (r *Registry) snapshotLocked() []*Handle {
	snapshot := make([]*Handle, len(r.handles))
	copy(snapshot, r.handles)
	return snapshot
}

// announce pushes the client list to snapshot and publishes the change.
func (r *Registry) announce(snapshot []*Handle, change events.ClientsChanged) {
	names := namesOf(snapshot)
	deliver(snapshot, FormatClientList(names))

	if r.publisher != nil {
		change.Names = names
		change.At = time.Now()
		r.publisher.Publish(change)
	}
}

func deliver(snapshot []*Handle, payload string) int {
	delivered := 0
	for _, h := range snapshot {
		if err := h.Send(payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "deliver",
				"client":    h.Name,
				"handle_id": h.ID.String(),
				"error":     err.Error(),
			}).Warn("Failed to deliver payload, continuing with remaining clients")
			continue
		}
		delivered++
	}
	return delivered
}

func namesOf(handles []*Handle) []string {
	names := make([]string, len(handles))
	for i, h := range handles {
		names[i] = h.Name
	}
	return names
}
