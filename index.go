package telechat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ConversationIndex is the conversation list: preview snapshots, unread
// counters, and recency ordering. It consumes change notifications from
// the store and presence events via the router; it never talks to the
// transport itself except to emit read receipts on MarkAllRead.
type ConversationIndex struct {
	mu          sync.Mutex
	byID        map[string]*Conversation
	readReceipt func(conversationID string)
}

// NewConversationIndex creates an empty index.
func NewConversationIndex() *ConversationIndex {
	return &ConversationIndex{
		byID:        make(map[string]*Conversation),
		readReceipt: func(string) {},
	}
}

// SetReadReceipt installs the callback MarkAllRead uses to announce the
// read to the peer. The session points this at the transport router.
func (x *ConversationIndex) SetReadReceipt(fn func(conversationID string)) {
	if fn == nil {
		fn = func(string) {}
	}
	x.readReceipt = fn
}

// Seed replaces the index with server-listed conversations.
func (x *ConversationIndex) Seed(convos []Conversation) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byID = make(map[string]*Conversation, len(convos))
	for i := range convos {
		c := convos[i]
		x.byID[c.ID] = &c
	}
}

// Upsert updates a conversation's preview snapshot and applies the
// unread delta. A negative-going total clamps at zero. deltaUnread of
// zero leaves the counter alone, which is what outbound and
// status-only changes want.
func (x *ConversationIndex) Upsert(conversationID, participantID string, last *LastMessage, deltaUnread int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	c, ok := x.byID[conversationID]
	if !ok {
		c = &Conversation{ID: conversationID, ParticipantID: participantID}
		x.byID[conversationID] = c
	}
	if participantID != "" {
		c.ParticipantID = participantID
	}
	// Only a snapshot at least as new as the current preview replaces
	// it; a status change on an older message must not regress the
	// preview.
	if last != nil && (c.LastMessage == nil || !last.CreatedAt.Before(c.LastMessage.CreatedAt)) {
		c.LastMessage = last
		if last.CreatedAt.After(c.UpdatedAt) {
			c.UpdatedAt = last.CreatedAt
		}
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	c.UnreadCount += deltaUnread
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
}

// MarkAllRead resets the unread counter when a conversation becomes the
// active one and announces the read to the peer.
func (x *ConversationIndex) MarkAllRead(conversationID string) {
	x.mu.Lock()
	c, ok := x.byID[conversationID]
	if ok {
		c.UnreadCount = 0
		if c.LastMessage != nil {
			c.LastMessage.Read = true
		}
	}
	x.mu.Unlock()

	if ok {
		x.readReceipt(conversationID)
	}
}

// Get returns a conversation by ID.
func (x *ConversationIndex) Get(conversationID string) (Conversation, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	c, ok := x.byID[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// List returns the conversations ordered by most recent activity.
func (x *ConversationIndex) List() []Conversation {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]Conversation, 0, len(x.byID))
	for _, c := range x.byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// TotalUnread sums unread counters across all conversations.
func (x *ConversationIndex) TotalUnread() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	total := 0
	for _, c := range x.byID {
		total += c.UnreadCount
	}
	return total
}

// Filter is a stateless projection of List by participant name,
// case-insensitive substring match. Not part of the sync contract.
func (x *ConversationIndex) Filter(name string) []Conversation {
	all := x.List()
	if name == "" {
		return all
	}
	q := strings.ToLower(name)
	var out []Conversation
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.ParticipantName), q) {
			out = append(out, c)
		}
	}
	return out
}
