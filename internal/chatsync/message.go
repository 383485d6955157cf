// Package chatsync keeps a local, optimistic view of private conversations in
// step with a polling REST backend.
package chatsync

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNoConversation    = errors.New("no conversation is open")
	ErrEmptyMessage      = errors.New("message text is empty")
	ErrSessionClosed     = errors.New("session is not active")
	ErrSessionActive     = errors.New("session already initialized")
	ErrUnknownMessage    = errors.New("no failed message with that client id")
	ErrDuplicateClientID = errors.New("client id already in store")
	ErrMissingClientID   = errors.New("optimistic message has no client id")
)

type DeliveryState int

const (
	Pending DeliveryState = iota
	Confirmed
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one entry of a conversation. ServerID is empty until the
// backend has reported the message back.
type Message struct {
	ServerID       string
	ClientID       string
	ConversationID string
	SenderID       string
	SenderName     string
	Text           string
	CreatedAt      time.Time
	State          DeliveryState
}

// Conversation is a summary row from the conversation list.
type Conversation struct {
	ID                  string
	Participants        []string
	ParticipantNames    map[string]string
	LastMessageAt       time.Time
	LastMessageSenderID string
}

// PartnerName returns the username of the participant that is not self.
func (c Conversation) PartnerName(self string) string {
	for _, id := range c.Participants {
		if id == self {
			continue
		}
		if name := c.ParticipantNames[id]; name != "" {
			return name
		}
	}
	return "User"
}

// Transport is the request surface of the conversation API. Implementations
// must return an error wrapping ErrUnauthorized for a 401.
type Transport interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	CreateConversation(ctx context.Context, otherUserID string) (string, error)
	// ListMessages returns messages created strictly after since, oldest first.
	// A nil since returns the full history.
	ListMessages(ctx context.Context, conversationID string, since *time.Time) ([]Message, error)
	SendMessage(ctx context.Context, conversationID, text, clientID string) error
}
