package telechat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Reconnector
// ============================================================================

func TestReconnectorBackoff(t *testing.T) {
	r := newReconnector(&RealtimeConfig{
		ReconnectBaseDelay:   100 * time.Millisecond,
		ReconnectMaxDelay:    time.Second,
		MaxReconnectAttempts: 10,
	})

	d0 := r.nextDelay()
	assert.GreaterOrEqual(t, d0, 100*time.Millisecond)
	assert.Less(t, d0, 150*time.Millisecond)

	d1 := r.nextDelay()
	assert.GreaterOrEqual(t, d1, 200*time.Millisecond)
	assert.Less(t, d1, 250*time.Millisecond)

	// Enough attempts to saturate the cap.
	var last time.Duration
	for i := 0; i < 6; i++ {
		last = r.nextDelay()
	}
	assert.Equal(t, time.Second, last)
}

func TestReconnectorAttemptLimit(t *testing.T) {
	r := newReconnector(&RealtimeConfig{
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    time.Millisecond,
		MaxReconnectAttempts: 2,
	})

	assert.True(t, r.shouldReconnect())
	r.nextDelay()
	assert.True(t, r.shouldReconnect())
	r.nextDelay()
	assert.False(t, r.shouldReconnect())
}

// ============================================================================
// Event Dispatcher
// ============================================================================

func TestDispatcherRoutesByType(t *testing.T) {
	d := &eventDispatcher{}

	var gotMessage MessageReceivedPayload
	var typingEvents []TypingChangedPayload
	d.onMessage = append(d.onMessage, func(p MessageReceivedPayload) { gotMessage = p })
	d.onTyping = append(d.onTyping, func(p TypingChangedPayload) { typingEvents = append(typingEvents, p) })

	payload, _ := json.Marshal(MessageReceivedPayload{ID: "m1", ConversationID: "conv-1", Content: "hi"})
	d.dispatch(Envelope{Type: "message.received", Payload: payload})
	assert.Equal(t, "m1", gotMessage.ID)

	payload, _ = json.Marshal(TypingChangedPayload{ConversationID: "conv-1", UserID: "doctor-1", IsTyping: true})
	d.dispatch(Envelope{Type: "typing.changed", Payload: payload})
	require.Len(t, typingEvents, 1)
	assert.True(t, typingEvents[0].IsTyping)

	// Unknown event types are ignored, not fatal.
	d.dispatch(Envelope{Type: "something.else", Payload: json.RawMessage(`{}`)})
	assert.Equal(t, "m1", gotMessage.ID)
}

func TestDispatcherMalformedPayload(t *testing.T) {
	d := &eventDispatcher{}
	called := false
	d.onMessage = append(d.onMessage, func(MessageReceivedPayload) { called = true })

	d.dispatch(Envelope{Type: "message.received", Payload: json.RawMessage(`"not an object"`)})
	assert.False(t, called)
}

// ============================================================================
// RealtimeClient (against the fake backend)
// ============================================================================

func TestRealtimeConnectAndPing(t *testing.T) {
	backend := newChatBackend(t)
	client := NewClient("echo", WithBaseURL(backend.URL))
	rt := NewRealtimeClient(client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, rt.Connect(ctx))
	assert.True(t, rt.Connected())
	assert.Equal(t, StateConnected, rt.State())

	// Connect is idempotent while connected.
	require.NoError(t, rt.Connect(ctx))

	pong, err := rt.Ping(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, pong.RequestID)

	require.NoError(t, rt.Disconnect())
	assert.False(t, rt.Connected())
	assert.Equal(t, StateDisconnected, rt.State())
}

func TestRealtimeSendWhileDisconnected(t *testing.T) {
	backend := newChatBackend(t)
	client := NewClient("echo", WithBaseURL(backend.URL))
	rt := NewRealtimeClient(client, nil)

	err := rt.SendMessage(context.Background(), "doctor-1", "hi", "corr-1")
	require.Error(t, err)
}

func TestRealtimeConnectedEvents(t *testing.T) {
	backend := newChatBackend(t)
	client := NewClient("echo", WithBaseURL(backend.URL))
	rt := NewRealtimeClient(client, nil)

	connected := make(chan struct{}, 1)
	rt.OnConnected(func() { connected <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Connect(ctx))
	defer rt.Disconnect()

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("connected event never fired")
	}
}
