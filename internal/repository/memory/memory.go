// Package memory provides in-process repositories for tests and the
// database-less server mode.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moodjournal/dmsync/internal/domain"
)

var ErrDuplicate = errors.New("duplicate key")

type UserRepo struct {
	mu    sync.RWMutex
	users map[uuid.UUID]domain.User
}

func NewUserRepo() *UserRepo {
	return &UserRepo{users: make(map[uuid.UUID]domain.User)}
}

func (r *UserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == user.ID || u.Email == user.Email || u.Username == user.Username {
			return ErrDuplicate
		}
	}
	r.users[user.ID] = *user
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == email }), nil
}

func (r *UserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Username == username }), nil
}

func (r *UserRepo) find(match func(domain.User) bool) *domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			return &u
		}
	}
	return nil
}

func (r *UserRepo) username(id uuid.UUID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[id].Username
}

// DMRepo keeps conversations and messages in maps. Usernames are joined from
// the UserRepo it was built with.
type DMRepo struct {
	users *UserRepo

	mu            sync.RWMutex
	conversations map[uuid.UUID]*domain.DMConversation
	messages      map[uuid.UUID][]domain.DMMessage
}

func NewDMRepo(users *UserRepo) *DMRepo {
	return &DMRepo{
		users:         users,
		conversations: make(map[uuid.UUID]*domain.DMConversation),
		messages:      make(map[uuid.UUID][]domain.DMMessage),
	}
}

func (r *DMRepo) CreateConversation(_ context.Context, conv *domain.DMConversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conversations {
		if c.ID == conv.ID || (c.User1ID == conv.User1ID && c.User2ID == conv.User2ID) {
			return ErrDuplicate
		}
	}
	stored := *conv
	r.conversations[conv.ID] = &stored
	return nil
}

func (r *DMRepo) GetConversationByUsers(_ context.Context, user1ID, user2ID uuid.UUID) (*domain.DMConversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conversations {
		if c.User1ID == user1ID && c.User2ID == user2ID {
			return r.joined(c), nil
		}
	}
	return nil, nil
}

func (r *DMRepo) GetConversationByID(_ context.Context, id uuid.UUID) (*domain.DMConversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.conversations[id]; ok {
		return r.joined(c), nil
	}
	return nil, nil
}

func (r *DMRepo) ListConversations(_ context.Context, userID uuid.UUID) ([]domain.DMConversation, error) {
	r.mu.RLock()
	var convs []domain.DMConversation
	for _, c := range r.conversations {
		if c.HasParticipant(userID) {
			convs = append(convs, *r.joined(c))
		}
	}
	r.mu.RUnlock()

	// Most recent activity first, conversations without messages last.
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastMessageAt, convs[j].LastMessageAt
		switch {
		case a != nil && b != nil:
			return a.After(*b)
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

func (r *DMRepo) joined(c *domain.DMConversation) *domain.DMConversation {
	out := *c
	out.Participants = []uuid.UUID{c.User1ID, c.User2ID}
	out.ParticipantUsernames = map[string]string{
		c.User1ID.String(): r.users.username(c.User1ID),
		c.User2ID.String(): r.users.username(c.User2ID),
	}
	return &out
}

func (r *DMRepo) CreateMessage(_ context.Context, msg *domain.DMMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[msg.ConversationID]
	if !ok {
		return errors.New("conversation does not exist")
	}
	for _, m := range r.messages[msg.ConversationID] {
		if m.ClientID != nil && msg.ClientID != nil && *m.ClientID == *msg.ClientID {
			return ErrDuplicate
		}
	}
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], *msg)

	at, sender := msg.CreatedAt, msg.SenderID
	conv.LastMessageAt = &at
	conv.LastMessageSenderID = &sender
	return nil
}

func (r *DMRepo) GetMessageByID(_ context.Context, id uuid.UUID) (*domain.DMMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, msgs := range r.messages {
		for _, m := range msgs {
			if m.ID == id {
				return r.withSender(m), nil
			}
		}
	}
	return nil, nil
}

func (r *DMRepo) GetMessageByClientID(_ context.Context, conversationID uuid.UUID, clientID string) (*domain.DMMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.messages[conversationID] {
		if m.ClientID != nil && *m.ClientID == clientID {
			return r.withSender(m), nil
		}
	}
	return nil, nil
}

func (r *DMRepo) ListMessagesSince(_ context.Context, conversationID uuid.UUID, since *time.Time, limit int) ([]domain.DMMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.DMMessage
	for _, m := range r.messages[conversationID] {
		if since != nil && !m.CreatedAt.After(*since) {
			continue
		}
		out = append(out, *r.withSender(m))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *DMRepo) withSender(m domain.DMMessage) *domain.DMMessage {
	m.SenderUsername = r.users.username(m.SenderID)
	return &m
}
