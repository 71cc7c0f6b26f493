package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/procflow/internal/notify"
	"github.com/rendis/procflow/internal/streaming"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("alice", "session-abc")
	sid, ok := r.SessionFor("alice")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)

	_, ok = r.SessionFor("bob")
	assert.False(t, ok)
}

func TestSessionRegistry_Reconnect(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("alice", "session-old")
	r.Register("alice", "session-new")

	sid, ok := r.SessionFor("alice")
	assert.True(t, ok)
	assert.Equal(t, "session-new", sid)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("alice", "session-abc")
	r.Register("bob", "session-abc")
	r.Register("carol", "session-xyz")

	r.Remove("session-abc")

	_, ok := r.SessionFor("alice")
	assert.False(t, ok)
	_, ok = r.SessionFor("bob")
	assert.False(t, ok)

	sid, ok := r.SessionFor("carol")
	assert.True(t, ok)
	assert.Equal(t, "session-xyz", sid)
}

func TestSessionSink(t *testing.T) {
	srv := NewServer(ServerDeps{})
	sink := NewSessionSink(srv)
	n := notify.Notification{Kind: notify.KindTaskReady, RunID: "r-1", Recipient: "alice"}

	// Not connected.
	require.NoError(t, sink.Notify(context.Background(), n))

	// Registered, but the session is gone: the stale mapping is dropped.
	srv.sessions.Register("alice", "expired-session")
	require.NoError(t, sink.Notify(context.Background(), n))
	_, ok := srv.sessions.SessionFor("alice")
	assert.False(t, ok)
}

func TestSessionSink_Forward(t *testing.T) {
	srv := NewServer(ServerDeps{})
	sink := NewSessionSink(srv)
	hub := streaming.NewMemoryHub()
	srv.sessions.Register("alice", "expired-session")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Forward(ctx, hub) }()

	// The forwarded notification hits the expired session and drops it.
	require.Eventually(t, func() bool {
		_ = notify.NewHubSink(hub).Notify(ctx, notify.Notification{Kind: notify.KindTaskReady, RunID: "r-1", Recipient: "alice"})
		_, ok := srv.sessions.SessionFor("alice")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
