package telechat

import (
	"context"
	"fmt"
)

// ============================================================================
// Channel contracts
// ============================================================================

// PrimaryChannel is the best-effort realtime push link. Accepting a frame
// is not delivery; confirmation arrives later as an inbound event
// carrying the same correlation ID.
type PrimaryChannel interface {
	Connected() bool
	SendMessage(ctx context.Context, receiverID, content, correlationID string) error
	SendTyping(ctx context.Context, conversationID string, isTyping bool) error
	SendReadReceipt(ctx context.Context, conversationID string) error
}

// SecondaryChannel is the guaranteed request/response fallback. It knows
// nothing of correlation IDs; the router threads them client-side.
type SecondaryChannel interface {
	SendMessage(ctx context.Context, receiverID, content string) (*Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

var (
	_ PrimaryChannel   = (*RealtimeClient)(nil)
	_ SecondaryChannel = (*Client)(nil)
)

// ============================================================================
// TransportRouter
// ============================================================================

// TransportRouter routes outbound traffic over the primary channel with a
// synchronous fallback to the secondary, and is the single ingestion
// path for inbound events. Stores never read the transport directly;
// everything funnels through here so correlation-keyed dedup sees every
// event exactly once.
//
// The two paths are never raced: the secondary is tried only when the
// primary is known-down or its send raises immediately, which rules out
// double delivery by construction.
type TransportRouter struct {
	primary    PrimaryChannel
	secondary  SecondaryChannel
	store      *MessageStore
	reconciler *Reconciler
	tracker    *PresenceTracker

	// onInboundMessage observes every change produced by an inbound
	// message event, after reconciliation. The session uses it to drive
	// unread counters.
	onInboundMessage func(Change)
}

// NewTransportRouter wires the router to its collaborators.
func NewTransportRouter(primary PrimaryChannel, secondary SecondaryChannel, store *MessageStore, reconciler *Reconciler, tracker *PresenceTracker) *TransportRouter {
	return &TransportRouter{
		primary:          primary,
		secondary:        secondary,
		store:            store,
		reconciler:       reconciler,
		tracker:          tracker,
		onInboundMessage: func(Change) {},
	}
}

// SetInboundObserver installs the post-reconciliation observer for
// inbound message events. Must be set before Bind.
func (r *TransportRouter) SetInboundObserver(fn func(Change)) {
	if fn == nil {
		fn = func(Change) {}
	}
	r.onInboundMessage = fn
}

// Bind subscribes the router's ingestion path to a realtime client's
// inbound events.
func (r *TransportRouter) Bind(rt *RealtimeClient) {
	rt.OnMessageReceived(func(p MessageReceivedPayload) {
		change := r.reconciler.HandleInbound(p)
		r.onInboundMessage(change)
	})
	rt.OnMessageDelivered(func(p MessageDeliveredPayload) {
		r.reconciler.HandleDelivered(p)
	})
	rt.OnMessageRead(func(p MessageReadPayload) {
		r.reconciler.HandleRead(p)
	})
	rt.OnPresenceChanged(func(p PresenceChangedPayload) {
		r.tracker.SetPresence(p.UserID, p.State, p.LastSeenAt)
	})
	rt.OnTypingChanged(func(p TypingChangedPayload) {
		r.tracker.RefreshTyping(p.ConversationID, p.UserID, p.IsTyping)
	})
}

// Send attempts delivery of an already-stored provisional message:
// primary first when connected, otherwise (or on an immediate send
// error) one synchronous fallback to the secondary channel.
//
// Primary success resolves later via the confirming inbound event.
// Secondary success resolves here with its definitive response. If both
// paths fail the entry is marked failed and kept for a user-initiated
// retry; the router never retries on its own, so a delayed confirmation
// after a manual retry still dedupes by correlation ID.
func (r *TransportRouter) Send(ctx context.Context, receiverID, content, correlationID string) error {
	if r.primary != nil && r.primary.Connected() {
		if err := r.primary.SendMessage(ctx, receiverID, content, correlationID); err == nil {
			return nil
		}
		// Fall through: a synchronous send error is treated the same as
		// a known-down channel.
	}

	server, err := r.secondary.SendMessage(ctx, receiverID, content)
	if err != nil {
		r.store.MarkFailed(correlationID)
		return fmt.Errorf("message delivery failed: %w", err)
	}
	r.reconciler.ConfirmFallback(correlationID, *server)
	return nil
}

// SendTyping broadcasts the local typing state. Best-effort: typing is
// decorative and never worth a fallback request.
func (r *TransportRouter) SendTyping(ctx context.Context, conversationID string, isTyping bool) {
	if r.primary != nil && r.primary.Connected() {
		_ = r.primary.SendTyping(ctx, conversationID, isTyping)
	}
}

// SendReadReceipt announces the conversation as read, falling back to
// the request/response call so the unread reset is never lost.
func (r *TransportRouter) SendReadReceipt(ctx context.Context, conversationID string) error {
	if r.primary != nil && r.primary.Connected() {
		if err := r.primary.SendReadReceipt(ctx, conversationID); err == nil {
			return nil
		}
	}
	return r.secondary.MarkConversationRead(ctx, conversationID)
}
