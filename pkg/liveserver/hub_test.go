package liveserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(nil)

	session := NewSession("s1")
	require.True(t, hub.Register(session))
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(session)
	assert.Equal(t, 0, hub.ClientCount())

	_, ok := <-session.Outbox()
	assert.False(t, ok, "outbox should be closed")
	assert.False(t, session.Enqueue(NewMessage(TypeResult, nil)))

	// A second unregister is harmless
	hub.Unregister(session)
}

func TestHubUnregisterKeepsReplacement(t *testing.T) {
	hub := NewHub(nil)

	old := NewSession("same")
	replacement := NewSession("same")
	require.True(t, hub.Register(old))
	require.True(t, hub.Register(replacement))

	hub.Unregister(old)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)

	sessions := []*Session{NewSession("a"), NewSession("b")}
	for _, s := range sessions {
		require.True(t, hub.Register(s))
	}

	assert.Equal(t, 2, hub.Broadcast(NewMessage(TypeShutdown, nil)))

	for _, s := range sessions {
		select {
		case msg := <-s.Outbox():
			assert.Equal(t, TypeShutdown, msg.Type)
		default:
			t.Fatalf("session %s did not receive broadcast", s.ID())
		}
	}
}

func TestHubBroadcastDropsSlowSession(t *testing.T) {
	hub := NewHub(nil)

	slow := NewSession("slow")
	for i := 0; i < sessionQueueSize; i++ {
		require.True(t, slow.Enqueue(NewMessage(TypeResult, i)))
	}
	fast := NewSession("fast")
	require.True(t, hub.Register(slow))
	require.True(t, hub.Register(fast))

	assert.Equal(t, 1, hub.Broadcast(NewMessage(TypeShutdown, nil)))
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubStopsSessionsOnShutdown(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	session := NewSession("s1")
	require.True(t, hub.Register(session))

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	assert.Equal(t, 0, hub.ClientCount())
	assert.False(t, hub.Register(NewSession("late")))

	msg, ok := <-session.Outbox()
	require.True(t, ok, "shutdown notice should be queued before the outbox closes")
	assert.Equal(t, TypeShutdown, msg.Type)

	_, ok = <-session.Outbox()
	assert.False(t, ok)
	hub.Unregister(session)
}

func TestHubShutdownNotifiesOnce(t *testing.T) {
	hub := NewHub(nil)

	session := NewSession("s1")
	require.True(t, hub.Register(session))

	assert.Equal(t, 1, hub.Shutdown())
	assert.Equal(t, 0, hub.Shutdown())

	var got []string
	for msg := range session.Outbox() {
		got = append(got, msg.Type)
	}
	assert.Equal(t, []string{TypeShutdown}, got)
}

func TestHubShutdownSkipsFullSession(t *testing.T) {
	hub := NewHub(nil)

	full := NewSession("full")
	for i := 0; i < sessionQueueSize; i++ {
		require.True(t, full.Enqueue(NewMessage(TypeResult, i)))
	}
	require.True(t, hub.Register(full))
	require.True(t, hub.Register(NewSession("idle")))

	assert.Equal(t, 1, hub.Shutdown())
	assert.Equal(t, 0, hub.ClientCount())
}

func TestSessionOutboxFull(t *testing.T) {
	session := NewSession("slow")
	for i := 0; i < sessionQueueSize; i++ {
		require.True(t, session.Enqueue(NewMessage(TypeResult, i)))
	}
	assert.False(t, session.Enqueue(NewMessage(TypeResult, "overflow")))
}
