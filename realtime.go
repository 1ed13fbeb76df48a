package telechat

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Event Payload Types
// ============================================================================

// MessageReceivedPayload is sent when a message arrives. CorrelationID is
// populated only when the message originated from this client, in which
// case the event doubles as the delivery confirmation.
type MessageReceivedPayload struct {
	ID             string    `json:"id"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessageDeliveredPayload is sent when the peer's client acknowledges
// receipt of a message. The signal is optional; servers that do not
// track delivery never emit it.
type MessageDeliveredPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// MessageReadPayload is sent when the peer opens the conversation.
type MessageReadPayload struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
}

// PresenceChangedPayload is sent when a user's presence changes.
type PresenceChangedPayload struct {
	UserID     string        `json:"userId"`
	State      PresenceState `json:"state"`
	LastSeenAt time.Time     `json:"lastSeenAt"`
}

// TypingChangedPayload is sent when a user starts or stops typing in a
// conversation.
type TypingChangedPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// PongPayload is the response to a ping command.
type PongPayload struct {
	RequestID string `json:"requestId"`
}

// RealtimeErrorPayload is sent when a server-side error occurs.
type RealtimeErrorPayload struct {
	Message string `json:"message"`
}

// Envelope is the wire format for all realtime events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server realtime frame.
type Command struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime client.
type RealtimeConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

type eventDispatcher struct {
	mu             sync.RWMutex
	onMessage      []func(MessageReceivedPayload)
	onDelivered    []func(MessageDeliveredPayload)
	onRead         []func(MessageReadPayload)
	onPresence     []func(PresenceChangedPayload)
	onTyping       []func(TypingChangedPayload)
	onError        []func(RealtimeErrorPayload)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

// dispatch runs handlers inline on the read loop goroutine so events
// apply in arrival order. Reconciliation depends on that ordering.
func (d *eventDispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case "message.received":
		var p MessageReceivedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onMessage {
				h(p)
			}
		}
	case "message.delivered":
		var p MessageDeliveredPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onDelivered {
				h(p)
			}
		}
	case "message.read":
		var p MessageReadPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onRead {
				h(p)
			}
		}
	case "presence.changed":
		var p PresenceChangedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onPresence {
				h(p)
			}
		}
	case "typing.changed":
		var p TypingChangedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onTyping {
				h(p)
			}
		}
	case "error":
		var p RealtimeErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onError {
				h(p)
			}
		}
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	// A connection that held for a minute resets the backoff.
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient is the primary delivery channel: a persistent WebSocket
// with auto-reconnect and heartbeat. Sends over it are fire-and-confirm;
// success means the frame was accepted by the socket, and the actual
// confirmation arrives later as a message.received event carrying the
// same correlation ID.
type RealtimeClient struct {
	baseURL string
	token   func() string
	config  *RealtimeConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc

	dispatcher *eventDispatcher
	recon      *reconnector

	pingCounter  int
	pendingPings map[string]chan PongPayload
	pendingMu    sync.Mutex
}

// NewRealtimeClient creates a realtime client bound to the API client's
// endpoint and token. Call Connect to establish the connection.
func NewRealtimeClient(client *Client, config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &RealtimeClient{
		baseURL:      client.baseURL,
		token:        func() string { return client.token },
		config:       &cfg,
		state:        StateDisconnected,
		dispatcher:   &eventDispatcher{},
		recon:        newReconnector(&cfg),
		pendingPings: make(map[string]chan PongPayload),
	}
}

// OnMessageReceived registers a handler for inbound messages.
func (rt *RealtimeClient) OnMessageReceived(h func(MessageReceivedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onMessage = append(rt.dispatcher.onMessage, h)
	rt.dispatcher.mu.Unlock()
}

// OnMessageDelivered registers a handler for delivery acknowledgements.
func (rt *RealtimeClient) OnMessageDelivered(h func(MessageDeliveredPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onDelivered = append(rt.dispatcher.onDelivered, h)
	rt.dispatcher.mu.Unlock()
}

// OnMessageRead registers a handler for read receipts.
func (rt *RealtimeClient) OnMessageRead(h func(MessageReadPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onRead = append(rt.dispatcher.onRead, h)
	rt.dispatcher.mu.Unlock()
}

// OnPresenceChanged registers a handler for presence changes.
func (rt *RealtimeClient) OnPresenceChanged(h func(PresenceChangedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onPresence = append(rt.dispatcher.onPresence, h)
	rt.dispatcher.mu.Unlock()
}

// OnTypingChanged registers a handler for typing indicators.
func (rt *RealtimeClient) OnTypingChanged(h func(TypingChangedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onTyping = append(rt.dispatcher.onTyping, h)
	rt.dispatcher.mu.Unlock()
}

// OnError registers a handler for server errors.
func (rt *RealtimeClient) OnError(h func(RealtimeErrorPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onError = append(rt.dispatcher.onError, h)
	rt.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (rt *RealtimeClient) OnConnected(h func()) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConnected = append(rt.dispatcher.onConnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (rt *RealtimeClient) OnDisconnected(h func(reason string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onDisconnected = append(rt.dispatcher.onDisconnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onReconnecting = append(rt.dispatcher.onReconnecting, h)
	rt.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Connected reports whether the channel is usable right now. The router
// checks this before attempting the primary path.
func (rt *RealtimeClient) Connected() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state == StateConnected && rt.conn != nil
}

// Connect establishes the WebSocket connection.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws/chat?token=" + rt.token()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.mu.Unlock()
	rt.recon.markConnected()
	rt.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(context.Background())
	rt.mu.Lock()
	rt.cancelFn = cancel
	rt.mu.Unlock()

	go rt.readLoop(connCtx, conn)
	go rt.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	rt.clearPendingPings()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	rt.dispatcher.emitDisconnected("client disconnect")
	return nil
}

// SendMessage pushes a message over the realtime channel. The correlation
// ID travels with the frame and comes back on the confirming
// message.received event.
func (rt *RealtimeClient) SendMessage(ctx context.Context, receiverID, content, correlationID string) error {
	return rt.send(ctx, &Command{
		Type: "message.send",
		Payload: map[string]string{
			"receiverId":    receiverID,
			"content":       content,
			"correlationId": correlationID,
		},
	})
}

// SendTyping broadcasts the local typing state for a conversation.
func (rt *RealtimeClient) SendTyping(ctx context.Context, conversationID string, isTyping bool) error {
	kind := "typing.stop"
	if isTyping {
		kind = "typing.start"
	}
	return rt.send(ctx, &Command{
		Type:    kind,
		Payload: map[string]string{"conversationId": conversationID},
	})
}

// SendReadReceipt reports the conversation as read to the peer.
func (rt *RealtimeClient) SendReadReceipt(ctx context.Context, conversationID string) error {
	return rt.send(ctx, &Command{
		Type:    "conversation.read",
		Payload: map[string]string{"conversationId": conversationID},
	})
}

func (rt *RealtimeClient) send(ctx context.Context, cmd *Command) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Ping sends a ping and waits for the matching pong.
func (rt *RealtimeClient) Ping(ctx context.Context) (*PongPayload, error) {
	rt.pendingMu.Lock()
	rt.pingCounter++
	requestID := fmt.Sprintf("ping-%d", rt.pingCounter)
	ch := make(chan PongPayload, 1)
	rt.pendingPings[requestID] = ch
	rt.pendingMu.Unlock()

	err := rt.send(ctx, &Command{
		Type:    "ping",
		Payload: map[string]string{"requestId": requestID},
	})
	if err != nil {
		rt.dropPendingPing(requestID)
		return nil, err
	}

	select {
	case pong, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		return &pong, nil
	case <-time.After(10 * time.Second):
		rt.dropPendingPing(requestID)
		return nil, fmt.Errorf("ping timeout")
	case <-ctx.Done():
		rt.dropPendingPing(requestID)
		return nil, ctx.Err()
	}
}

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.conn = nil
			rt.mu.Unlock()
			rt.clearPendingPings()

			rt.dispatcher.emitDisconnected(err.Error())

			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				go rt.scheduleReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		if env.Type == "pong" {
			var p PongPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.RequestID != "" {
				rt.pendingMu.Lock()
				ch, ok := rt.pendingPings[p.RequestID]
				if ok {
					delete(rt.pendingPings, p.RequestID)
				}
				rt.pendingMu.Unlock()
				if ok {
					ch <- p
				}
			}
			continue
		}

		rt.dispatcher.dispatch(env)
	}
}

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !rt.Connected() {
				return
			}
			if _, err := rt.Ping(ctx); err != nil {
				// Heartbeat failed; force close so the read loop
				// notices and schedules a reconnect.
				rt.mu.Lock()
				conn := rt.conn
				rt.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (rt *RealtimeClient) scheduleReconnect() {
	delay := rt.recon.nextDelay()
	rt.mu.Lock()
	rt.state = StateReconnecting
	rt.mu.Unlock()

	rt.dispatcher.emitReconnecting(rt.recon.attempt, delay)

	time.Sleep(delay)

	rt.mu.Lock()
	if rt.intentionalClose {
		rt.mu.Unlock()
		return
	}
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if err := rt.Connect(context.Background()); err != nil {
		if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
			rt.scheduleReconnect()
		} else {
			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.mu.Unlock()
		}
	}
}

func (rt *RealtimeClient) dropPendingPing(requestID string) {
	rt.pendingMu.Lock()
	delete(rt.pendingPings, requestID)
	rt.pendingMu.Unlock()
}

func (rt *RealtimeClient) clearPendingPings() {
	rt.pendingMu.Lock()
	for k, ch := range rt.pendingPings {
		close(ch)
		delete(rt.pendingPings, k)
	}
	rt.pendingMu.Unlock()
}
