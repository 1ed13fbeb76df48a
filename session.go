package telechat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionOptions tunes a session's presence behavior.
type SessionOptions struct {
	// SelfID overrides the user identity normally fetched from /me.
	SelfID string

	TypingTimeout time.Duration
	TypingPause   time.Duration
}

// Session is the process-wide synchronization context for one logged-in
// user: it owns the store, tracker, index, and router, and ties their
// lifecycle to login (Init) and logout (Teardown). All inbound mutation
// funnels through the router's ingestion path.
type Session struct {
	client   *Client
	realtime *RealtimeClient

	Store   *MessageStore
	Tracker *PresenceTracker
	Index   *ConversationIndex
	Router  *TransportRouter

	reconciler *Reconciler
	typing     *TypingNotifier

	mu       sync.Mutex
	selfID   string
	active   string // conversation currently open in the UI, "" if none
	onChange func(Change)
}

// NewSession assembles a session over the API client and realtime
// channel. realtime may be nil, in which case every send takes the
// secondary path.
func NewSession(client *Client, realtime *RealtimeClient, opts *SessionOptions) *Session {
	store := NewMessageStore()
	tracker := NewPresenceTracker()
	index := NewConversationIndex()
	reconciler := NewReconciler(store)

	var primary PrimaryChannel
	if realtime != nil {
		primary = realtime
	}
	router := NewTransportRouter(primary, client, store, reconciler, tracker)

	s := &Session{
		client:     client,
		realtime:   realtime,
		Store:      store,
		Tracker:    tracker,
		Index:      index,
		Router:     router,
		reconciler: reconciler,
	}

	if opts != nil {
		s.selfID = opts.SelfID
		if opts.TypingTimeout > 0 {
			tracker.TypingTimeout = opts.TypingTimeout
		}
	}

	s.typing = NewTypingNotifier(func(conversationID string, isTyping bool) {
		router.SendTyping(context.Background(), conversationID, isTyping)
	})
	if opts != nil && opts.TypingPause > 0 {
		s.typing.Pause = opts.TypingPause
	}

	// Store mutations refresh the index preview; unread deltas are
	// applied separately by the inbound observer below.
	store.SetNotify(func(change Change) {
		msg := change.Message
		s.Index.Upsert(msg.ConversationID, s.participantOf(msg), &LastMessage{
			Content:   msg.Content,
			SenderID:  msg.SenderID,
			CreatedAt: msg.CreatedAt,
			Read:      msg.Status == StatusRead,
		}, 0)

		s.mu.Lock()
		notify := s.onChange
		s.mu.Unlock()
		if notify != nil {
			notify(change)
		}
	})

	index.SetReadReceipt(func(conversationID string) {
		// The receipt may block on the HTTP fallback; keep the event
		// path responsive.
		go func() {
			_ = router.SendReadReceipt(context.Background(), conversationID)
		}()
	})

	router.SetInboundObserver(func(change Change) {
		if change.Kind != ChangeAppended {
			return
		}
		msg := change.Message
		if msg.SenderID == s.SelfID() {
			return
		}
		if s.ActiveConversation() == msg.ConversationID {
			// Reading as it arrives: keep unread at zero and let the
			// peer know.
			s.Index.MarkAllRead(msg.ConversationID)
			return
		}
		s.Index.Upsert(msg.ConversationID, msg.SenderID, nil, 1)
	})

	if realtime != nil {
		router.Bind(realtime)
	}

	return s
}

// Init bootstraps the session: resolves the user identity, seeds the
// conversation index, starts presence expiry, and connects the realtime
// channel. A realtime connect failure is not fatal: sends degrade to
// the secondary channel and the client keeps reconnecting if configured
// to.
func (s *Session) Init(ctx context.Context) error {
	if s.SelfID() == "" {
		profile, err := s.client.Me(ctx)
		if err != nil {
			return fmt.Errorf("session init: %w", err)
		}
		s.mu.Lock()
		s.selfID = profile.UserID
		s.mu.Unlock()
	}

	convos, err := s.client.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("session init: %w", err)
	}
	s.Index.Seed(convos)

	s.Tracker.Start()

	if s.realtime != nil {
		_ = s.realtime.Connect(ctx)
	}
	return nil
}

// Teardown releases the session on logout. Pending sends are not
// aborted; their outcomes are simply no longer observed.
func (s *Session) Teardown() {
	s.typing.Close()
	s.Tracker.Stop()
	if s.realtime != nil {
		_ = s.realtime.Disconnect()
	}
}

// SelfID returns the authenticated user's ID.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// ActiveConversation returns the conversation currently open in the UI.
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// OpenConversation makes a conversation the active one: fetches its
// history into the store, resets its unread counter, and emits a read
// receipt. Returns the seeded history in display order.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) ([]Message, error) {
	msgs, err := s.client.FetchMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("open conversation: %w", err)
	}
	s.Store.Seed(conversationID, msgs)

	s.mu.Lock()
	s.active = conversationID
	s.mu.Unlock()

	s.Index.MarkAllRead(conversationID)
	return s.Store.Messages(conversationID), nil
}

// CloseConversation clears the active conversation. Pending sends keep
// reconciling in the background; navigation never aborts them.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

// SendMessage creates a provisional entry, visible immediately with
// status sending, and hands it to the router. The returned message
// reflects the entry's state after the delivery attempt: sent when the
// secondary confirmed synchronously, sending while a primary
// confirmation is still in flight, failed when both paths failed.
func (s *Session) SendMessage(ctx context.Context, conversationID, receiverID, content string) (Message, error) {
	s.typing.Stop(conversationID)

	msg := s.Store.CreateProvisional(conversationID, s.SelfID(), receiverID, content)
	err := s.Router.Send(ctx, receiverID, content, msg.CorrelationID)

	current, ok := s.Store.ByCorrelation(msg.CorrelationID)
	if !ok {
		current = msg
	}
	return current, err
}

// ResendMessage retries a failed entry under its original correlation
// ID, so a confirmation of the first attempt that arrives after the
// retry still resolves to a single message.
func (s *Session) ResendMessage(ctx context.Context, correlationID string) (Message, error) {
	entry, ok := s.Store.ByCorrelation(correlationID)
	if !ok {
		return Message{}, fmt.Errorf("resend: no message with correlation ID %s", correlationID)
	}
	if entry.Status != StatusFailed {
		return entry, nil
	}

	s.Store.MarkSending(correlationID)
	err := s.Router.Send(ctx, entry.ReceiverID, entry.Content, correlationID)

	current, _ := s.Store.ByCorrelation(correlationID)
	return current, err
}

// SetOnChange installs a UI callback fired after every store mutation,
// once the index has been updated. Called from the ingestion path; keep
// it fast.
func (s *Session) SetOnChange(fn func(Change)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// InputChanged records a keystroke in a conversation's composer; the
// debounced typing signal goes out on state transitions only.
func (s *Session) InputChanged(conversationID string) {
	s.typing.InputChanged(conversationID)
}

// participantOf resolves the other party of a message relative to the
// session user.
func (s *Session) participantOf(msg Message) string {
	if msg.SenderID == s.SelfID() {
		return msg.ReceiverID
	}
	return msg.SenderID
}

// StartConversation creates (or fetches) the conversation with a user
// and registers it in the index.
func (s *Session) StartConversation(ctx context.Context, userID string) (*Conversation, error) {
	convo, err := s.client.StartConversation(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.Index.Upsert(convo.ID, convo.ParticipantID, convo.LastMessage, 0)
	return convo, nil
}

// RequestConversation files a patient-initiated chat request.
func (s *Session) RequestConversation(ctx context.Context, doctorID string) (bool, error) {
	return s.client.RequestConversation(ctx, doctorID)
}
