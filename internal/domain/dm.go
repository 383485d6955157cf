package domain

import (
	"time"

	"github.com/google/uuid"
)

// DMConversation is a private conversation between exactly two users.
// User1ID < User2ID (canonical order), so a pair maps to one conversation.
type DMConversation struct {
	ID                   uuid.UUID         `json:"id"`
	User1ID              uuid.UUID         `json:"-"`
	User2ID              uuid.UUID         `json:"-"`
	Participants         []uuid.UUID       `json:"participants"`
	ParticipantUsernames map[string]string `json:"participant_usernames"`
	LastMessageAt        *time.Time        `json:"last_message_at"`
	LastMessageSenderID  *uuid.UUID        `json:"last_message_sender_id"`
	CreatedAt            time.Time         `json:"created_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *DMConversation) HasParticipant(userID uuid.UUID) bool {
	return c.User1ID == userID || c.User2ID == userID
}

type DMMessage struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	ClientID       *string   `json:"client_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	// Joined fields
	SenderUsername string `json:"sender_username,omitempty"`
}

// CanonicalPair orders two user ids so user1 < user2.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}
