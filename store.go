package telechat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Change notifications
// ============================================================================

// ChangeKind classifies a store mutation for downstream consumers.
type ChangeKind string

const (
	// ChangeAppended means a genuinely new entry joined the sequence.
	ChangeAppended ChangeKind = "appended"
	// ChangeReplaced means an existing entry was replaced by its
	// correlation-keyed counterpart.
	ChangeReplaced ChangeKind = "replaced"
	// ChangeStatus means only the delivery status of an entry moved.
	ChangeStatus ChangeKind = "status"
)

// Change describes a single store mutation. Every mutation produces one,
// so the conversation index can re-derive its preview and ordering.
type Change struct {
	Kind    ChangeKind
	Message Message
}

// ============================================================================
// MessageStore
// ============================================================================

// MessageStore holds the ordered, deduplicated message sequences that the
// UI renders. It is the client-side source of truth: provisional entries
// appear here before any network attempt completes, and reconciliation
// rewrites them in place.
//
// Invariants: within a conversation the sequence is non-decreasing by
// CreatedAt; at most one entry exists per correlation ID; a provisional
// entry and its confirmed counterpart never coexist.
type MessageStore struct {
	mu             sync.Mutex
	byConversation map[string][]*Message
	byCorrelation  map[string]*Message
	notify         func(Change)
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byConversation: make(map[string][]*Message),
		byCorrelation:  make(map[string]*Message),
		notify:         func(Change) {},
	}
}

// SetNotify installs the mutation listener. The session points this at
// the conversation index; it must be set before any mutation and is not
// safe to swap concurrently with use.
func (s *MessageStore) SetNotify(fn func(Change)) {
	if fn == nil {
		fn = func(Change) {}
	}
	s.notify = fn
}

// CreateProvisional synthesizes a local message with a fresh correlation
// ID and appends it immediately, before any delivery attempt. This is
// what gives the UI zero-latency feedback on send.
func (s *MessageStore) CreateProvisional(conversationID, senderID, receiverID, content string) Message {
	msg := Message{
		CorrelationID:  uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Status:         StatusSending,
		Provisional:    true,
		CreatedAt:      time.Now(),
	}
	s.Append(msg)
	return msg
}

// Append inserts a message maintaining CreatedAt order. If an entry with
// the same correlation ID already exists it is replaced in place, same
// slice position and no duplicate, rather than inserted again.
func (s *MessageStore) Append(msg Message) Change {
	s.mu.Lock()
	var change Change
	if msg.CorrelationID != "" {
		if existing, ok := s.byCorrelation[msg.CorrelationID]; ok {
			*existing = msg
			change = Change{Kind: ChangeReplaced, Message: msg}
			s.mu.Unlock()
			s.notify(change)
			return change
		}
	}

	entry := msg
	s.insertOrdered(&entry)
	if entry.CorrelationID != "" {
		s.byCorrelation[entry.CorrelationID] = &entry
	}
	change = Change{Kind: ChangeAppended, Message: entry}
	s.mu.Unlock()
	s.notify(change)
	return change
}

// insertOrdered places the entry at the latest position that keeps the
// sequence non-decreasing by CreatedAt. Callers hold s.mu.
func (s *MessageStore) insertOrdered(entry *Message) {
	seq := s.byConversation[entry.ConversationID]
	i := len(seq)
	for i > 0 && seq[i-1].CreatedAt.After(entry.CreatedAt) {
		i--
	}
	seq = append(seq, nil)
	copy(seq[i+1:], seq[i:])
	seq[i] = entry
	s.byConversation[entry.ConversationID] = seq
}

// MarkConfirmed resolves a provisional entry with its server counterpart:
// the entry adopts the server ID and timestamp and becomes sent, keeping
// its original slice position so a delayed confirmation never reorders
// the display. Returns false when no entry carries that correlation ID.
func (s *MessageStore) MarkConfirmed(correlationID string, server Message) bool {
	s.mu.Lock()
	entry, ok := s.byCorrelation[correlationID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	entry.ID = server.ID
	if !server.CreatedAt.IsZero() {
		entry.CreatedAt = server.CreatedAt
	}
	if server.Content != "" {
		entry.Content = server.Content
	}
	entry.Provisional = false
	// A confirmation always wins over sending or failed, but never
	// demotes an entry the peer already saw.
	if entry.Status.rank() < StatusSent.rank() {
		entry.Status = StatusSent
	}
	change := Change{Kind: ChangeReplaced, Message: *entry}
	s.mu.Unlock()
	s.notify(change)
	return true
}

// MarkFailed transitions a provisional entry to failed. The entry stays
// in the sequence with a retry affordance; failed sends are never
// silently dropped.
func (s *MessageStore) MarkFailed(correlationID string) bool {
	s.mu.Lock()
	entry, ok := s.byCorrelation[correlationID]
	if !ok || !entry.Provisional {
		s.mu.Unlock()
		return false
	}
	entry.Status = StatusFailed
	change := Change{Kind: ChangeStatus, Message: *entry}
	s.mu.Unlock()
	s.notify(change)
	return true
}

// MarkSending re-enters a failed entry into the sending state for a
// user-initiated retry under the same correlation ID.
func (s *MessageStore) MarkSending(correlationID string) bool {
	s.mu.Lock()
	entry, ok := s.byCorrelation[correlationID]
	if !ok || entry.Status != StatusFailed {
		s.mu.Unlock()
		return false
	}
	entry.Status = StatusSending
	change := Change{Kind: ChangeStatus, Message: *entry}
	s.mu.Unlock()
	s.notify(change)
	return true
}

// MarkDelivered advances a confirmed message to delivered.
func (s *MessageStore) MarkDelivered(conversationID, messageID string) bool {
	s.mu.Lock()
	var change *Change
	for _, entry := range s.byConversation[conversationID] {
		if entry.ID == messageID && entry.Status.rank() < StatusDelivered.rank() && !entry.Provisional {
			entry.Status = StatusDelivered
			change = &Change{Kind: ChangeStatus, Message: *entry}
			break
		}
	}
	s.mu.Unlock()
	if change != nil {
		s.notify(*change)
		return true
	}
	return false
}

// MarkReadBy advances every confirmed message addressed to the reader to
// read. Status only moves forward; provisional or failed entries are
// untouched because the peer has never seen them.
func (s *MessageStore) MarkReadBy(conversationID, readerID string) int {
	s.mu.Lock()
	var changes []Change
	for _, entry := range s.byConversation[conversationID] {
		if entry.SenderID == readerID || entry.Provisional {
			continue
		}
		if entry.Status.rank() >= StatusSent.rank() && entry.Status.rank() < StatusRead.rank() {
			entry.Status = StatusRead
			changes = append(changes, Change{Kind: ChangeStatus, Message: *entry})
		}
	}
	s.mu.Unlock()
	for _, c := range changes {
		s.notify(c)
	}
	return len(changes)
}

// Seed replaces a conversation's history with server-fetched messages,
// ordered by CreatedAt. Bootstrap only; it does not emit change
// notifications because the index is seeded from ListConversations.
func (s *MessageStore) Seed(conversationID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, old := range s.byConversation[conversationID] {
		if old.CorrelationID != "" {
			delete(s.byCorrelation, old.CorrelationID)
		}
	}
	s.byConversation[conversationID] = nil

	for i := range msgs {
		entry := msgs[i]
		if entry.CorrelationID != "" {
			if _, dup := s.byCorrelation[entry.CorrelationID]; dup {
				continue
			}
		}
		e := entry
		s.insertOrdered(&e)
		if e.CorrelationID != "" {
			s.byCorrelation[e.CorrelationID] = &e
		}
	}
}

// Messages returns a copy of a conversation's sequence in display order.
func (s *MessageStore) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.byConversation[conversationID]
	out := make([]Message, len(seq))
	for i, m := range seq {
		out[i] = *m
	}
	return out
}

// ByCorrelation looks up an entry by its correlation ID.
func (s *MessageStore) ByCorrelation(correlationID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byCorrelation[correlationID]
	if !ok {
		return Message{}, false
	}
	return *entry, true
}
