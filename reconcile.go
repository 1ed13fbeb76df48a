package telechat

// Reconciler merges server-confirmed messages into the local store
// without duplication or reordering. State is keyed by correlation ID
// (identity, not the most recent status transition), so a confirmation
// that arrives after a timeout-failure still resolves the entry.
type Reconciler struct {
	store *MessageStore
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store *MessageStore) *Reconciler {
	return &Reconciler{store: store}
}

// HandleInbound processes a message.received event. An event carrying a
// known correlation ID confirms the matching provisional (or failed)
// entry in place. Anything else, a peer's message or an echo of a send
// from another session of this user, appends as a normal inbound
// message. Returns the resulting change.
func (r *Reconciler) HandleInbound(p MessageReceivedPayload) Change {
	server := Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		Content:        p.Content,
		Status:         StatusSent,
		CreatedAt:      p.CreatedAt,
	}

	if p.CorrelationID != "" {
		if r.store.MarkConfirmed(p.CorrelationID, server) {
			msg, _ := r.store.ByCorrelation(p.CorrelationID)
			return Change{Kind: ChangeReplaced, Message: msg}
		}
		// The echo beat the local append, or the send came from another
		// session. Keep the correlation ID so a later local append still
		// dedupes against this entry.
		server.CorrelationID = p.CorrelationID
	}

	return r.store.Append(server)
}

// ConfirmFallback resolves a provisional entry with the secondary
// channel's synchronous response. If the entry vanished (the realtime
// echo already confirmed it) the call is a no-op.
func (r *Reconciler) ConfirmFallback(correlationID string, server Message) {
	if !r.store.MarkConfirmed(correlationID, server) {
		server.CorrelationID = correlationID
		r.store.Append(server)
	}
}

// HandleDelivered processes a delivery acknowledgement from the peer.
func (r *Reconciler) HandleDelivered(p MessageDeliveredPayload) {
	r.store.MarkDelivered(p.ConversationID, p.MessageID)
}

// HandleRead processes a read receipt: every confirmed message the
// reader received moves to read.
func (r *Reconciler) HandleRead(p MessageReadPayload) {
	r.store.MarkReadBy(p.ConversationID, p.ReaderID)
}
