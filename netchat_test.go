package netchat

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/netchat/control"
	"github.com/opd-ai/netchat/events"
	"github.com/opd-ai/netchat/file"
	"github.com/opd-ai/netchat/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func loopbackOptions(t *testing.T) *Options {
	t.Helper()
	options := NewOptions()
	options.ControlAddr = "127.0.0.1:0"
	options.FileAddr = "127.0.0.1:0"
	options.StorageDir = filepath.Join(t.TempDir(), "server_files")
	return options
}

func TestNewOptionsDefaults(t *testing.T) {
	options := NewOptions()

	assert.Equal(t, ":6000", options.ControlAddr)
	assert.Equal(t, ":5001", options.FileAddr)
	assert.Equal(t, "server_files", options.StorageDir)
	assert.Empty(t, options.APIAddr)
	assert.Empty(t, options.MailDBPath)
	assert.Zero(t, options.IdleTimeout)
	assert.Equal(t, 0.5, options.SpamThreshold)
	assert.NoError(t, options.Validate())
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"no services", func(o *Options) { o.ControlAddr, o.FileAddr = "", "" }},
		{"file without storage", func(o *Options) { o.StorageDir = "" }},
		{"negative idle timeout", func(o *Options) { o.IdleTimeout = -time.Second }},
		{"zero event buffer", func(o *Options) { o.EventBuffer = 0 }},
		{"signing key without mail", func(o *Options) { o.SigningKeyPath = "key" }},
		{"spam threshold above one", func(o *Options) { o.SpamThreshold = 1.2 }},
		{"negative spam threshold", func(o *Options) { o.SpamThreshold = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			options := NewOptions()
			tt.modify(options)

			assert.ErrorIs(t, options.Validate(), ErrInvalidOptions)
			_, err := New(options)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestStartServesControlAndFile(t *testing.T) {
	server, err := New(loopbackOptions(t))
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	assert.True(t, server.IsRunning())
	require.NotNil(t, server.ControlAddr())
	require.NotNil(t, server.FileAddr())
	assert.Nil(t, server.APIAddr())

	sub := server.Events().Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := control.Dial(ctx, server.ControlAddr().String(), "alice")
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return server.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	files := file.NewClient(server.FileAddr().String(), "alice")
	require.NoError(t, files.Upload(ctx, "notes.txt", strings.NewReader("hello"), 5))

	entry, err := server.Files().Stat("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), entry.Size)

	var buf bytes.Buffer
	n, err := files.Download(ctx, "notes.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "hello", buf.String())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C():
			if up, ok := ev.(events.FileUploaded); ok {
				assert.Equal(t, "notes.txt", up.Name)
				assert.Equal(t, "alice", up.Client)
				return
			}
		case <-deadline:
			t.Fatal("no FileUploaded event")
		}
	}
}

func TestBindFailureDoesNotStopOtherService(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	options := loopbackOptions(t)
	options.FileAddr = occupied.Addr().String()

	server, err := New(options)
	require.NoError(t, err)

	err = server.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
	assert.NotErrorIs(t, err, ErrNoServices)
	defer server.Stop()

	assert.True(t, server.IsRunning())
	assert.Nil(t, server.FileAddr())
	require.NotNil(t, server.ControlAddr())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := control.Dial(ctx, server.ControlAddr().String(), "bob")
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return server.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestAllBindsFail(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	options := loopbackOptions(t)
	options.ControlAddr = occupied.Addr().String()
	options.FileAddr = occupied.Addr().String()

	server, err := New(options)
	require.NoError(t, err)

	err = server.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoServices)
	assert.False(t, server.IsRunning())
	assert.NoError(t, server.Stop())
}

func TestStartTwiceAndAfterStop(t *testing.T) {
	server, err := New(loopbackOptions(t))
	require.NoError(t, err)

	require.NoError(t, server.Start(context.Background()))
	assert.ErrorIs(t, server.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, server.Stop())
	assert.NoError(t, server.Stop())
	assert.False(t, server.IsRunning())
	assert.ErrorIs(t, server.Start(context.Background()), ErrStopped)
}

func TestStopsWhenContextDone(t *testing.T) {
	server, err := New(loopbackOptions(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, server.Start(ctx))
	addr := server.ControlAddr().String()

	cancel()
	require.Eventually(t, func() bool { return !server.IsRunning() }, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return true
		}
		conn.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMailAndAPI(t *testing.T) {
	dir := t.TempDir()
	options := loopbackOptions(t)
	options.APIAddr = "127.0.0.1:0"
	options.MailDBPath = filepath.Join(dir, "mail.db")
	options.SigningKeyPath = filepath.Join(dir, "signing.key")

	server, err := New(options)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	require.NotNil(t, server.Mail())
	require.NotNil(t, server.APIAddr())
	assert.FileExists(t, options.SigningKeyPath)

	resp, err := http.Get("http://" + server.APIAddr().String() + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	store := server.Mail()
	store.SetHashCost(bcrypt.MinCost)
	require.NoError(t, store.CreateUser("alice", "pw", "Alice"))
	require.NoError(t, store.CreateUser("bob", "pw", "Bob"))
	msg := &mail.Message{Sender: "alice", Recipient: "bob", Subject: "URGENT winner", Body: "claim your free prize"}
	require.NoError(t, store.Send(msg))
	assert.True(t, msg.Spam)
	assert.NotEmpty(t, msg.Signature)
}

func TestSpamThresholdOption(t *testing.T) {
	options := loopbackOptions(t)
	options.MailDBPath = filepath.Join(t.TempDir(), "mail.db")
	options.SpamThreshold = 1

	server, err := New(options)
	require.NoError(t, err)
	defer server.Stop()

	store := server.Mail()
	store.SetHashCost(bcrypt.MinCost)
	require.NoError(t, store.CreateUser("alice", "pw", "Alice"))
	require.NoError(t, store.CreateUser("bob", "pw", "Bob"))

	msg := &mail.Message{Sender: "alice", Recipient: "bob", Subject: "URGENT winner", Body: "claim your free prize"}
	require.NoError(t, store.Send(msg))
	assert.Greater(t, msg.SpamScore, 0.9)
	assert.False(t, msg.Spam, "nothing scores above a threshold of 1")
}
