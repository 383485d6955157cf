package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moodjournal/dmsync/internal/domain"
	"github.com/moodjournal/dmsync/internal/repository"
)

var (
	ErrDMConversationNotFound = errors.New("dm conversation not found")
	ErrDMNotParticipant       = errors.New("you are not a participant of this conversation")
	ErrCannotDMSelf           = errors.New("cannot start a conversation with yourself")
	ErrUserNotFound           = errors.New("user not found")
)

// MessagePageSize caps how many messages one since-query returns.
const MessagePageSize = 50

type DMService struct {
	dmRepo   repository.DMRepository
	userRepo repository.UserRepository

	clockMu sync.Mutex
	now     func() time.Time
	last    time.Time
}

func NewDMService(dmRepo repository.DMRepository, userRepo repository.UserRepository) *DMService {
	return &DMService{
		dmRepo:   dmRepo,
		userRepo: userRepo,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for message timestamps.
func (s *DMService) SetClock(now func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.now = now
}

// GetOrCreateConversation finds or creates a DM conversation between two users.
func (s *DMService) GetOrCreateConversation(ctx context.Context, userID, otherUserID uuid.UUID) (*domain.DMConversation, error) {
	if userID == otherUserID {
		return nil, ErrCannotDMSelf
	}

	other, err := s.userRepo.GetByID(ctx, otherUserID)
	if err != nil {
		return nil, err
	}
	if other == nil {
		return nil, ErrUserNotFound
	}

	u1, u2 := domain.CanonicalPair(userID, otherUserID)

	conv, err := s.dmRepo.GetConversationByUsers(ctx, u1, u2)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	conv = &domain.DMConversation{
		ID:        uuid.New(),
		User1ID:   u1,
		User2ID:   u2,
		CreatedAt: s.stamp(),
	}

	if err := s.dmRepo.CreateConversation(ctx, conv); err != nil {
		// Lost a create race for the same pair.
		if existing, getErr := s.dmRepo.GetConversationByUsers(ctx, u1, u2); getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("creating dm conversation: %w", err)
	}

	return s.dmRepo.GetConversationByID(ctx, conv.ID)
}

// ListConversations returns all DM conversations for a user.
func (s *DMService) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.DMConversation, error) {
	convs, err := s.dmRepo.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []domain.DMConversation{}
	}
	return convs, nil
}

// SendMessage stores a DM message. A repeated clientID within the same
// conversation returns the message stored by the first attempt.
func (s *DMService) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, text string, clientID *string) (*domain.DMMessage, error) {
	if err := s.checkParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	if clientID != nil {
		existing, err := s.dmRepo.GetMessageByClientID(ctx, conversationID, *clientID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	msg := &domain.DMMessage{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       userID,
		ClientID:       clientID,
		Text:           text,
		CreatedAt:      s.stamp(),
	}

	if err := s.dmRepo.CreateMessage(ctx, msg); err != nil {
		if clientID != nil {
			if existing, getErr := s.dmRepo.GetMessageByClientID(ctx, conversationID, *clientID); getErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("creating dm message: %w", err)
	}

	return s.dmRepo.GetMessageByID(ctx, msg.ID)
}

// ListMessagesSince returns up to MessagePageSize messages newer than since, oldest first.
func (s *DMService) ListMessagesSince(ctx context.Context, userID, conversationID uuid.UUID, since *time.Time) ([]domain.DMMessage, error) {
	if err := s.checkParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.dmRepo.ListMessagesSince(ctx, conversationID, since, MessagePageSize)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.DMMessage{}
	}
	return messages, nil
}

func (s *DMService) checkParticipant(ctx context.Context, userID, conversationID uuid.UUID) error {
	conv, err := s.dmRepo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrDMConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		return ErrDMNotParticipant
	}
	return nil
}

// stamp returns a UTC timestamp at database precision that is strictly after
// the previous one, so a since-cursor never hides a message sharing its instant.
func (s *DMService) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}
