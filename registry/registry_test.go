package registry

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/opd-ai/netchat/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink stores every payload sent to it.
type recordingSink struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (s *recordingSink) Send(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.payloads) == 0 {
		return ""
	}
	return s.payloads[len(s.payloads)-1]
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

func TestAddBroadcastsClientList(t *testing.T) {
	reg := New(nil)
	alice := &recordingSink{}
	bob := &recordingSink{}

	reg.Add("alice", alice)
	assert.Equal(t, "CLIENTS|alice,", alice.last())

	reg.Add("bob", bob)
	assert.Equal(t, "CLIENTS|alice,bob,", alice.last())
	assert.Equal(t, "CLIENTS|alice,bob,", bob.last())
}

func TestRemoveBroadcastsClientList(t *testing.T) {
	reg := New(nil)
	alice := &recordingSink{}
	bob := &recordingSink{}

	reg.Add("alice", alice)
	hb := reg.Add("bob", bob)

	require.True(t, reg.Remove(hb))
	assert.Equal(t, "CLIENTS|alice,", alice.last())
	assert.Equal(t, "CLIENTS|alice,bob,", bob.last(), "removed client gets no further updates")

	assert.False(t, reg.Remove(hb), "second removal is a no-op")
	assert.False(t, reg.Remove(nil))
}

func TestRemoveByIdentityNotName(t *testing.T) {
	reg := New(nil)
	first := reg.Add("carol", &recordingSink{})
	second := reg.Add("carol", &recordingSink{})
	require.NotEqual(t, first.ID, second.ID)

	require.True(t, reg.Remove(second))

	found, ok := reg.FindByName("carol")
	require.True(t, ok)
	assert.Same(t, first, found)
}

func TestFindByNameFirstMatchWins(t *testing.T) {
	reg := New(nil)
	first := reg.Add("dave", &recordingSink{})
	reg.Add("dave", &recordingSink{})

	found, ok := reg.FindByName("dave")
	require.True(t, ok)
	assert.Same(t, first, found)

	_, ok = reg.FindByName("nobody")
	assert.False(t, ok)
}

func TestBroadcastSkipsFailingHandles(t *testing.T) {
	reg := New(nil)
	good1 := &recordingSink{}
	bad := &recordingSink{}
	good2 := &recordingSink{}

	reg.Add("a", good1)
	reg.Add("b", bad)
	reg.Add("c", good2)
	bad.err = errors.New("broken pipe")

	delivered := reg.Broadcast("hello")
	assert.Equal(t, 2, delivered)
	assert.Equal(t, "hello", good1.last())
	assert.Equal(t, "hello", good2.last())
}

// TestAdvertisedListMatchesRegisteredSet applies random join/leave sequences
// and checks the last advertised list against the registered set.
func TestAdvertisedListMatchesRegisteredSet(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		reg := New(nil)
		observer := &recordingSink{}
		reg.Add("observer", observer)

		var live []*Handle
		expected := map[string]int{"observer": 1}

		for op := 0; op < 50; op++ {
			if len(live) == 0 || rng.Intn(3) > 0 {
				name := fmt.Sprintf("user%d", rng.Intn(10))
				live = append(live, reg.Add(name, &recordingSink{}))
				expected[name]++
			} else {
				i := rng.Intn(len(live))
				h := live[i]
				live = append(live[:i], live[i+1:]...)
				require.True(t, reg.Remove(h))
				expected[h.Name]--
			}

			advertised, ok := ParseClientList(observer.last())
			require.True(t, ok)

			got := map[string]int{}
			for _, n := range advertised {
				got[n]++
			}
			for name, count := range expected {
				if count == 0 {
					delete(expected, name)
				}
			}
			assert.Equal(t, expected, got, "round %d op %d", round, op)
		}
	}
}

func TestConcurrentJoinLeaveFinalListIsConsistent(t *testing.T) {
	reg := New(nil)
	observer := &recordingSink{}
	reg.Add("observer", observer)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := reg.Add(fmt.Sprintf("w%d", i), &recordingSink{})
			if i%2 == 0 {
				reg.Remove(h)
			}
		}(i)
	}
	wg.Wait()

	advertised, ok := ParseClientList(observer.last())
	require.True(t, ok)
	assert.ElementsMatch(t, reg.Names(), advertised)
	assert.Equal(t, 11, reg.Len())
}

func TestRegistryPublishesEvents(t *testing.T) {
	bus := events.NewBus(8)
	sub := bus.Subscribe()
	defer sub.Close()

	reg := New(bus)
	h := reg.Add("alice", &recordingSink{})
	reg.Remove(h)

	joined := (<-sub.C()).(events.ClientsChanged)
	assert.Equal(t, "alice", joined.Joined)
	assert.Equal(t, []string{"alice"}, joined.Names)

	left := (<-sub.C()).(events.ClientsChanged)
	assert.Equal(t, "alice", left.Left)
	assert.Empty(t, left.Names)
}

func TestFormatAndParseClientList(t *testing.T) {
	assert.Equal(t, "CLIENTS|", FormatClientList(nil))
	assert.Equal(t, "CLIENTS|a,b,", FormatClientList([]string{"a", "b"}))

	names, ok := ParseClientList("CLIENTS|a,b,")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, names)

	names, ok = ParseClientList("CLIENTS|")
	require.True(t, ok)
	assert.Empty(t, names)

	_, ok = ParseClientList("PM|a|b")
	assert.False(t, ok)
}

func TestSinkFunc(t *testing.T) {
	var got string
	reg := New(nil)
	reg.Add("f", SinkFunc(func(p string) error {
		got = p
		return nil
	}))
	assert.Equal(t, "CLIENTS|f,", got)
}

func TestClientsSnapshot(t *testing.T) {
	reg := New(nil)
	nop := SinkFunc(func(string) error { return nil })

	a := reg.Add("a", nop)
	b := reg.Add("b", nop)

	clients := reg.Clients()
	require.Len(t, clients, 2)
	assert.Equal(t, a.ID, clients[0].ID)
	assert.Equal(t, "b", clients[1].Name)
	assert.Equal(t, b.JoinedAt, clients[1].JoinedAt)

	reg.Remove(a)
	assert.Len(t, reg.Clients(), 1)
}
