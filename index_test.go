package telechat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexUpsertCreates(t *testing.T) {
	idx := NewConversationIndex()
	at := time.Now()

	idx.Upsert("conv-1", "doctor-1", &LastMessage{Content: "hi", SenderID: "doctor-1", CreatedAt: at}, 1)

	c, ok := idx.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, "doctor-1", c.ParticipantID)
	assert.Equal(t, 1, c.UnreadCount)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "hi", c.LastMessage.Content)
}

func TestIndexUnreadAccumulatesAndClamps(t *testing.T) {
	idx := NewConversationIndex()

	idx.Upsert("conv-1", "doctor-1", nil, 1)
	idx.Upsert("conv-1", "doctor-1", nil, 1)
	c, _ := idx.Get("conv-1")
	assert.Equal(t, 2, c.UnreadCount)

	idx.Upsert("conv-1", "doctor-1", nil, -5)
	c, _ = idx.Get("conv-1")
	assert.Equal(t, 0, c.UnreadCount, "unread never goes negative")
}

func TestIndexPreviewNeverRegresses(t *testing.T) {
	idx := NewConversationIndex()
	base := time.Now()

	idx.Upsert("conv-1", "doctor-1", &LastMessage{Content: "newer", CreatedAt: base.Add(time.Minute)}, 0)
	// A status change on an older message re-emits its snapshot.
	idx.Upsert("conv-1", "doctor-1", &LastMessage{Content: "older", CreatedAt: base}, 0)

	c, _ := idx.Get("conv-1")
	assert.Equal(t, "newer", c.LastMessage.Content)
}

func TestIndexListRecencyOrder(t *testing.T) {
	idx := NewConversationIndex()
	base := time.Now()

	idx.Upsert("conv-a", "u1", &LastMessage{Content: "x", CreatedAt: base}, 0)
	idx.Upsert("conv-b", "u2", &LastMessage{Content: "y", CreatedAt: base.Add(time.Minute)}, 0)
	idx.Upsert("conv-c", "u3", &LastMessage{Content: "z", CreatedAt: base.Add(2 * time.Minute)}, 0)

	list := idx.List()
	require.Len(t, list, 3)
	assert.Equal(t, "conv-c", list[0].ID)
	assert.Equal(t, "conv-b", list[1].ID)
	assert.Equal(t, "conv-a", list[2].ID)

	// New activity moves a conversation to the top.
	idx.Upsert("conv-a", "u1", &LastMessage{Content: "x2", CreatedAt: base.Add(3 * time.Minute)}, 1)
	list = idx.List()
	assert.Equal(t, "conv-a", list[0].ID)
}

func TestIndexListTiebreakIsStable(t *testing.T) {
	idx := NewConversationIndex()
	at := time.Now()

	idx.Upsert("conv-b", "u2", &LastMessage{CreatedAt: at}, 0)
	idx.Upsert("conv-a", "u1", &LastMessage{CreatedAt: at}, 0)

	list := idx.List()
	require.Len(t, list, 2)
	assert.Equal(t, "conv-a", list[0].ID)
	assert.Equal(t, "conv-b", list[1].ID)
}

func TestIndexMarkAllRead(t *testing.T) {
	idx := NewConversationIndex()

	var receipts []string
	idx.SetReadReceipt(func(conversationID string) { receipts = append(receipts, conversationID) })

	idx.Upsert("conv-1", "doctor-1", &LastMessage{Content: "hi", CreatedAt: time.Now()}, 3)
	idx.MarkAllRead("conv-1")

	c, _ := idx.Get("conv-1")
	assert.Equal(t, 0, c.UnreadCount)
	assert.True(t, c.LastMessage.Read)
	assert.Equal(t, []string{"conv-1"}, receipts)

	// Unknown conversation emits nothing.
	idx.MarkAllRead("conv-unknown")
	assert.Len(t, receipts, 1)
}

func TestIndexSeed(t *testing.T) {
	idx := NewConversationIndex()
	idx.Upsert("stale", "u0", nil, 9)

	idx.Seed([]Conversation{
		{ID: "conv-1", ParticipantID: "doctor-1", ParticipantName: "Dr. Okafor", UnreadCount: 2, UpdatedAt: time.Now()},
		{ID: "conv-2", ParticipantID: "doctor-2", ParticipantName: "Dr. Lindgren", UpdatedAt: time.Now().Add(-time.Hour)},
	})

	_, ok := idx.Get("stale")
	assert.False(t, ok, "seed replaces the whole index")
	assert.Equal(t, 2, idx.TotalUnread())
}

func TestIndexFilter(t *testing.T) {
	idx := NewConversationIndex()
	idx.Seed([]Conversation{
		{ID: "conv-1", ParticipantID: "doctor-1", ParticipantName: "Dr. Okafor", UpdatedAt: time.Now()},
		{ID: "conv-2", ParticipantID: "doctor-2", ParticipantName: "Dr. Lindgren", UpdatedAt: time.Now().Add(-time.Hour)},
	})

	matches := idx.Filter("okaf")
	require.Len(t, matches, 1)
	assert.Equal(t, "conv-1", matches[0].ID)

	assert.Len(t, idx.Filter(""), 2)
	assert.Empty(t, idx.Filter("nobody"))
}
