package telechat

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a platform API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// APIResult is the generic platform API response envelope.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Message
// ============================================================================

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// rank orders statuses along the delivery ladder. Failed and sending sit
// below sent so a late confirmation can always move an entry forward.
func (s MessageStatus) rank() int {
	switch s {
	case StatusSending, StatusFailed:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Message is a single chat message between a patient and a doctor.
//
// ID is server-assigned and empty while the message is provisional.
// CorrelationID is a client-generated token present only on messages this
// client created; it exists solely to match a provisional entry to its
// server confirmation and is never sent over the secondary channel.
type Message struct {
	ID             string        `json:"id,omitempty"`
	CorrelationID  string        `json:"correlationId,omitempty"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	ReceiverID     string        `json:"receiverId,omitempty"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	Provisional    bool          `json:"provisional,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// ============================================================================
// Conversation
// ============================================================================

// LastMessage is the preview snapshot shown in the conversation list.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
}

// Conversation is a two-party patient/doctor conversation.
type Conversation struct {
	ID              string       `json:"id"`
	ParticipantID   string       `json:"participantId"`
	ParticipantName string       `json:"participantName,omitempty"`
	LastMessage     *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount     int          `json:"unreadCount"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// ============================================================================
// Presence
// ============================================================================

// PresenceState is a user's binary online state.
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// PresenceEntry records the last known presence of a user.
type PresenceEntry struct {
	UserID     string        `json:"userId"`
	State      PresenceState `json:"state"`
	LastSeenAt time.Time     `json:"lastSeenAt"`
}

// TypingEntry records that a user is composing a message in one
// conversation. The entry is dead once ExpiresAt has passed.
type TypingEntry struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	ExpiresAt      time.Time `json:"expiresAt"`
}
