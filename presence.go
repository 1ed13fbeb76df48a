package telechat

import (
	"sync"
	"time"
)

const (
	// DefaultTypingTimeout is how long an inbound typing indicator stays
	// alive without a refresh.
	DefaultTypingTimeout = 4 * time.Second

	// DefaultTypingPause is the outbound idle window after the last
	// keystroke before typing=false is broadcast.
	DefaultTypingPause = 3 * time.Second

	// typingSweepInterval bounds how long an expired entry can linger
	// before the background sweep drops it.
	typingSweepInterval = 2 * time.Second
)

// ============================================================================
// PresenceTracker
// ============================================================================

// PresenceTracker holds the session-wide presence and typing state.
// Presence is per user; typing is scoped to a (user, conversation) pair
// and decays after TypingTimeout so a peer that disconnects mid-type
// never leaves a stuck indicator. Entries expire lazily on query and are
// additionally reaped by a background sweep while the tracker runs.
type PresenceTracker struct {
	TypingTimeout time.Duration

	mu       sync.Mutex
	presence map[string]PresenceEntry
	typing   map[string]map[string]time.Time // conversationID → userID → expiresAt
	stopCh   chan struct{}
	stopped  bool
}

// NewPresenceTracker creates a tracker with the default typing timeout.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		TypingTimeout: DefaultTypingTimeout,
		presence:      make(map[string]PresenceEntry),
		typing:        make(map[string]map[string]time.Time),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background expiry sweep.
func (t *PresenceTracker) Start() {
	go t.sweepLoop()
}

// Stop halts the background sweep. State remains queryable.
func (t *PresenceTracker) Stop() {
	t.mu.Lock()
	if !t.stopped {
		t.stopped = true
		close(t.stopCh)
	}
	t.mu.Unlock()
}

// SetPresence records a presence change.
func (t *PresenceTracker) SetPresence(userID string, state PresenceState, lastSeenAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presence[userID] = PresenceEntry{UserID: userID, State: state, LastSeenAt: lastSeenAt}
}

// IsOnline reports whether the user is known to be online. Absence
// defaults to offline.
func (t *PresenceTracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presence[userID].State == PresenceOnline
}

// LastSeen returns the last known presence entry for a user.
func (t *PresenceTracker) LastSeen(userID string) (PresenceEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.presence[userID]
	return entry, ok
}

// RefreshTyping applies an inbound typing event. typing=true refreshes
// the entry's expiry to now+TypingTimeout; typing=false clears it.
func (t *PresenceTracker) RefreshTyping(conversationID, userID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isTyping {
		delete(t.typing[conversationID], userID)
		return
	}
	if t.typing[conversationID] == nil {
		t.typing[conversationID] = make(map[string]time.Time)
	}
	t.typing[conversationID][userID] = time.Now().Add(t.TypingTimeout)
}

// IsTyping reports whether the user is currently composing in that
// conversation. Typing in conversation A never shows in conversation B.
func (t *PresenceTracker) IsTyping(userID, conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	expiresAt, ok := t.typing[conversationID][userID]
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		delete(t.typing[conversationID], userID)
		return false
	}
	return true
}

func (t *PresenceTracker) sweepLoop() {
	ticker := time.NewTicker(typingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *PresenceTracker) sweep() {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for convID, users := range t.typing {
		for userID, expiresAt := range users {
			if now.After(expiresAt) {
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(t.typing, convID)
		}
	}
}

// ============================================================================
// TypingNotifier
// ============================================================================

// TypingNotifier coalesces local input events into at most two outbound
// signals per composing burst: typing=true on the idle→typing transition
// and typing=false after Pause with no further input. Broadcasting every
// keystroke would saturate the realtime channel.
type TypingNotifier struct {
	Pause time.Duration

	send func(conversationID string, isTyping bool)

	mu     sync.Mutex
	timers map[string]*time.Timer // conversationID → idle timer
}

// NewTypingNotifier creates a notifier that emits through send. The
// callback fires outside the notifier's lock and is best-effort; typing
// signals are never worth a fallback request.
func NewTypingNotifier(send func(conversationID string, isTyping bool)) *TypingNotifier {
	return &TypingNotifier{
		Pause:  DefaultTypingPause,
		send:   send,
		timers: make(map[string]*time.Timer),
	}
}

// InputChanged records a local keystroke in the conversation's composer.
func (n *TypingNotifier) InputChanged(conversationID string) {
	n.mu.Lock()
	timer, composing := n.timers[conversationID]
	if composing {
		timer.Reset(n.Pause)
		n.mu.Unlock()
		return
	}
	n.timers[conversationID] = time.AfterFunc(n.Pause, func() {
		n.expire(conversationID)
	})
	n.mu.Unlock()

	n.send(conversationID, true)
}

// Stop ends the composing burst immediately, e.g. when the drafted
// message is sent or the user navigates away.
func (n *TypingNotifier) Stop(conversationID string) {
	n.mu.Lock()
	timer, composing := n.timers[conversationID]
	if composing {
		timer.Stop()
		delete(n.timers, conversationID)
	}
	n.mu.Unlock()

	if composing {
		n.send(conversationID, false)
	}
}

// Close stops all pending idle timers without emitting.
func (n *TypingNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for convID, timer := range n.timers {
		timer.Stop()
		delete(n.timers, convID)
	}
}

func (n *TypingNotifier) expire(conversationID string) {
	n.mu.Lock()
	_, composing := n.timers[conversationID]
	delete(n.timers, conversationID)
	n.mu.Unlock()

	if composing {
		n.send(conversationID, false)
	}
}
