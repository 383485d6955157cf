package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/moodjournal/dmsync/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUnread(t *testing.T) {
	T := at(100)
	fromOther := Conversation{ID: "A", LastMessageAt: T, LastMessageSenderID: "other"}
	fromSelf := Conversation{ID: "A", LastMessageAt: T, LastMessageSenderID: "self"}

	tests := []struct {
		name     string
		conv     Conversation
		lastSeen time.Time
		ok       bool
		want     bool
	}{
		{"seen before last message", fromOther, T.Add(-time.Second), true, true},
		{"seen exactly at last message", fromOther, T, true, false},
		{"seen after last message", fromOther, T.Add(time.Minute), true, false},
		{"no record", fromOther, time.Time{}, false, true},
		{"own message, stale record", fromSelf, T.Add(-time.Hour), true, false},
		{"own message, no record", fromSelf, time.Time{}, false, false},
		{"no messages yet", Conversation{ID: "A"}, time.Time{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUnread(tt.conv, "self", tt.lastSeen, tt.ok))
		})
	}
}

func TestHasUnreadSkipsViewedConversation(t *testing.T) {
	r := NewReadTracker(kvstore.NewMemory(), nil)
	require.NoError(t, r.Load(context.Background(), "self"))
	r.MarkSeen("A", at(1))
	r.MarkSeen("B", at(50))

	convs := []Conversation{
		{ID: "A", LastMessageAt: at(10), LastMessageSenderID: "ann"},
		{ID: "B", LastMessageAt: at(10), LastMessageSenderID: "bob"},
	}

	assert.True(t, HasUnread(convs, "self", r, ""))
	assert.False(t, HasUnread(convs, "self", r, "A"))
	assert.False(t, HasUnread(nil, "self", r, ""))
}

func TestPartnerName(t *testing.T) {
	c := Conversation{
		Participants:     []string{"me", "you"},
		ParticipantNames: map[string]string{"me": "moi", "you": "toi"},
	}
	assert.Equal(t, "toi", c.PartnerName("me"))
	assert.Equal(t, "moi", c.PartnerName("you"))

	c.ParticipantNames = nil
	assert.Equal(t, "User", c.PartnerName("me"))
}
