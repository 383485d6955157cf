package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/moodjournal/dmsync/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// DMRepository persists conversations and their messages. Getters return
// (nil, nil) when nothing matches.
type DMRepository interface {
	CreateConversation(ctx context.Context, conv *domain.DMConversation) error
	GetConversationByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.DMConversation, error)
	GetConversationByID(ctx context.Context, id uuid.UUID) (*domain.DMConversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.DMConversation, error)
	// CreateMessage stores msg and bumps the conversation's last message fields.
	CreateMessage(ctx context.Context, msg *domain.DMMessage) error
	GetMessageByID(ctx context.Context, id uuid.UUID) (*domain.DMMessage, error)
	GetMessageByClientID(ctx context.Context, conversationID uuid.UUID, clientID string) (*domain.DMMessage, error)
	// ListMessagesSince returns messages with created_at > since (all when since is nil),
	// oldest first.
	ListMessagesSince(ctx context.Context, conversationID uuid.UUID, since *time.Time, limit int) ([]domain.DMMessage, error)
}
