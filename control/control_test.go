package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/opd-ai/netchat/events"
	"github.com/opd-ai/netchat/registry"
	"github.com/opd-ai/netchat/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func startServer(t *testing.T, bus *events.Bus) *Server {
	t.Helper()

	srv := NewServer(registry.New(bus), bus)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dial(t *testing.T, srv *Server, name string) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	c, err := Dial(ctx, srv.Addr().String(), name)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// waitFor returns the first event matching match, failing after testTimeout.
func waitFor(t *testing.T, c *Client, match func(Event) bool) Event {
	t.Helper()

	deadline := time.After(testTimeout)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "event channel closed")
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event on %s", c.Name())
		}
	}
}

func clientListEquals(names ...string) func(Event) bool {
	return func(ev Event) bool {
		if ev.Type != EventClientList || len(ev.Clients) != len(names) {
			return false
		}
		return assert.ObjectsAreEqual(sortedCopy(ev.Clients), sortedCopy(names))
	}
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func waitForRegistryLen(t *testing.T, reg *registry.Registry, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return reg.Len() == n }, testTimeout, 5*time.Millisecond)
}

// TestAliceBobScenario walks through join, private message and leave.
func TestAliceBobScenario(t *testing.T) {
	srv := startServer(t, nil)

	alice := dial(t, srv, "alice")
	waitFor(t, alice, clientListEquals("alice"))

	bob := dial(t, srv, "bob")
	waitFor(t, alice, clientListEquals("alice", "bob"))
	waitFor(t, bob, clientListEquals("alice", "bob"))

	require.NoError(t, alice.SendPrivate("bob", "hello"))
	pm := waitFor(t, bob, func(ev Event) bool { return ev.Type == EventPrivateMessage })
	assert.Equal(t, "alice", pm.From)
	assert.Equal(t, "hello", pm.Text)

	require.NoError(t, bob.Quit())
	waitFor(t, alice, clientListEquals("alice"))
}

func TestPrivateMessageDeliveredExactlyOnce(t *testing.T) {
	srv := startServer(t, nil)

	sender := dial(t, srv, "sender")
	recipient := dial(t, srv, "recipient")
	waitForRegistryLen(t, srv.Registry(), 2)
	waitFor(t, recipient, clientListEquals("sender", "recipient"))

	text := "multi|part|message with ünïcode"
	require.NoError(t, sender.SendPrivate("recipient", text))
	require.NoError(t, sender.SendPrivate("recipient", "marker"))

	var received []Event
	for {
		ev := waitFor(t, recipient, func(ev Event) bool { return ev.Type == EventPrivateMessage })
		if ev.Text == "marker" {
			break
		}
		received = append(received, ev)
	}

	require.Len(t, received, 1)
	assert.Equal(t, "sender", received[0].From)
	assert.Equal(t, text, received[0].Text)
}

func TestPrivateMessageToUnknownTargetIsDropped(t *testing.T) {
	bus := events.NewBus(16)
	sub := bus.Subscribe()
	defer sub.Close()

	srv := startServer(t, bus)
	sender := dial(t, srv, "sender")
	bystander := dial(t, srv, "bystander")
	waitForRegistryLen(t, srv.Registry(), 2)

	require.NoError(t, sender.SendPrivate("ghost", "anyone?"))

	deadline := time.After(testTimeout)
	for {
		select {
		case ev := <-sub.C():
			if miss, ok := ev.(events.RoutingMiss); ok {
				assert.Equal(t, "sender", miss.From)
				assert.Equal(t, "ghost", miss.To)
				goto checked
			}
		case <-deadline:
			t.Fatal("routing miss was not published")
		}
	}
checked:

	for _, c := range []*Client{sender, bystander} {
		select {
		case ev := <-c.Events():
			assert.NotEqual(t, EventPrivateMessage, ev.Type, "no delivery or reply expected")
		case <-time.After(50 * time.Millisecond):
		}
	}
	assert.Equal(t, 2, srv.Registry().Len(), "sender stays connected")
}

func TestUnrecognizedCommandKeepsConnectionOpen(t *testing.T) {
	srv := startServer(t, nil)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	waitForRegistryLen(t, srv.Registry(), 2)

	require.NoError(t, alice.SendRaw("DANCE|now"))
	require.NoError(t, alice.SendPrivate("bob", "still here"))

	pm := waitFor(t, bob, func(ev Event) bool { return ev.Type == EventPrivateMessage })
	assert.Equal(t, "still here", pm.Text)
	assert.Equal(t, 2, srv.Registry().Len())
}

func TestAbruptDisconnectUnregisters(t *testing.T) {
	srv := startServer(t, nil)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	waitForRegistryLen(t, srv.Registry(), 2)

	require.NoError(t, bob.Close())
	waitFor(t, alice, clientListEquals("alice"))
	waitForRegistryLen(t, srv.Registry(), 1)
}

func TestDisconnectBeforeNameDoesNotRegister(t *testing.T) {
	bus := events.NewBus(4)
	sub := bus.Subscribe()
	defer sub.Close()

	srv := startServer(t, bus)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, srv.Registry().Len())
}

func TestSessionStateTransitions(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	reg := registry.New(nil)
	session := NewSession(serverSide, reg, nil)
	assert.Equal(t, SessionStateInit, session.State())

	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()

	go func() {
		for {
			if _, err := transport.ReadString(clientSide); err != nil {
				return
			}
		}
	}()

	require.NoError(t, transport.WriteString(clientSide, "pipe-user"))
	require.Eventually(t, func() bool { return session.State() == SessionStateActive }, testTimeout, time.Millisecond)
	assert.Equal(t, "pipe-user", session.Name())
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, transport.WriteString(clientSide, "QUIT"))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("session did not end after QUIT")
	}
	assert.Equal(t, SessionStateClosed, session.State())
	assert.Equal(t, 0, reg.Len())
	clientSide.Close()
}

func TestSessionEndsOnContextCancel(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	session := NewSession(serverSide, registry.New(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("session ignored context cancellation")
	}
	assert.Equal(t, SessionStateClosed, session.State())
}

func TestDuplicateNamesRouteToFirstRegistered(t *testing.T) {
	srv := startServer(t, nil)

	first := dial(t, srv, "twin")
	waitForRegistryLen(t, srv.Registry(), 1)
	second := dial(t, srv, "twin")
	sender := dial(t, srv, "sender")
	waitForRegistryLen(t, srv.Registry(), 3)

	require.NoError(t, sender.SendPrivate("twin", "which one?"))
	pm := waitFor(t, first, func(ev Event) bool { return ev.Type == EventPrivateMessage })
	assert.Equal(t, "which one?", pm.Text)

	select {
	case ev := <-second.Events():
		assert.NotEqual(t, EventPrivateMessage, ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientValidation(t *testing.T) {
	srv := startServer(t, nil)
	c := dial(t, srv, "val")

	assert.ErrorIs(t, c.SendPrivate("", "x"), ErrInvalidTarget)
	assert.Error(t, c.SendPrivate("bob", ""))

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.SendPrivate("bob", "x"), ErrClientClosed)

	_, err := Dial(context.Background(), srv.Addr().String(), "")
	assert.Error(t, err)
}

func TestServeBeforeListen(t *testing.T) {
	srv := NewServer(registry.New(nil), nil)
	assert.ErrorIs(t, srv.Serve(), ErrNotListening)
	assert.Nil(t, srv.Addr())
	assert.NoError(t, srv.Close())
}
