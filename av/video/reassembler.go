package video

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReassemblyTimeout bounds how long an incomplete fragment set is kept.
const DefaultReassemblyTimeout = time.Second

// Reassembler rebuilds frames from received datagrams. It tracks a single
// fragment set at a time, matching a sender that emits the fragments of one
// frame back to back, and accepts those fragments in any order.
type Reassembler struct {
	timeout      time.Duration
	timeProvider TimeProvider

	current *fragmentSet
	dropped uint64
	mu      sync.Mutex
}

type fragmentSet struct {
	total    uint32
	parts    [][]byte
	received uint32
	size     int
	started  time.Time
}

// NewReassembler creates a reassembler with the given set timeout.
func NewReassembler(timeout time.Duration) *Reassembler {
	return NewReassemblerWithTimeProvider(timeout, DefaultTimeProvider{})
}

// NewReassemblerWithTimeProvider creates a reassembler with a custom time
// provider. Use this for deterministic testing.
func NewReassemblerWithTimeProvider(timeout time.Duration, tp TimeProvider) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	return &Reassembler{
		timeout:      timeout,
		timeProvider: tp,
	}
}

// Push consumes one datagram. It returns the complete encoded frame and true
// when datagram is a whole frame or completes a fragment set. A malformed
// fragment is returned as an error and leaves the pending set untouched.
func (r *Reassembler) Push(datagram []byte) ([]byte, bool, error) {
	if IsWholeFrame(datagram) {
		r.mu.Lock()
		r.discardLocked("whole frame arrived")
		r.mu.Unlock()

		frame := make([]byte, len(datagram))
		copy(frame, datagram)
		return frame, true, nil
	}

	f, err := ParseFragment(datagram)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()

	// Fragments of one set may arrive in any order. A different total, or a
	// second first fragment, means the sender has moved on to the next frame.
	if set := r.current; set != nil {
		if set.total != f.Total {
			r.discardLocked("fragment total changed")
		} else if f.Sequence == 0 && set.parts[0] != nil {
			r.discardLocked("new fragment set started")
		}
	}
	if r.current == nil {
		r.current = &fragmentSet{
			total:   f.Total,
			parts:   make([][]byte, f.Total),
			started: r.timeProvider.Now(),
		}
	}

	set := r.current
	if set.parts[f.Sequence] != nil {
		return nil, false, nil
	}

	part := make([]byte, len(f.Payload))
	copy(part, f.Payload)
	set.parts[f.Sequence] = part
	set.received++
	set.size += len(part)

	if set.received < set.total {
		return nil, false, nil
	}

	frame := make([]byte, 0, set.size)
	for _, p := range set.parts {
		frame = append(frame, p...)
	}
	r.current = nil
	return frame, true, nil
}

// Expire drops the pending set if it is older than the timeout.
func (r *Reassembler) Expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
}

// Pending reports whether an incomplete set is buffered.
func (r *Reassembler) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Dropped returns the number of fragments and sets discarded so far.
func (r *Reassembler) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Reassembler) expireLocked() {
	if r.current != nil && r.timeProvider.Since(r.current.started) > r.timeout {
		r.discardLocked("fragment set timed out")
	}
}

func (r *Reassembler) discardLocked(reason string) {
	if r.current == nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Reassembler",
		"reason":   reason,
		"received": r.current.received,
		"total":    r.current.total,
	}).Debug("Discarding incomplete frame")

	r.current = nil
	r.dropped++
}
