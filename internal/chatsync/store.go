package chatsync

import (
	"slices"
	"sync"
	"time"
)

type entry struct {
	msg Message
	seq uint64
}

func (e *entry) before(o *entry) bool {
	if !e.msg.CreatedAt.Equal(o.msg.CreatedAt) {
		return e.msg.CreatedAt.Before(o.msg.CreatedAt)
	}
	return e.seq < o.seq
}

type thread struct {
	entries []*entry
}

func (t *thread) sort() {
	slices.SortFunc(t.entries, func(a, b *entry) int {
		switch {
		case a.before(b):
			return -1
		case b.before(a):
			return 1
		}
		return 0
	})
}

func (t *thread) byClientID(clientID string) *entry {
	if clientID == "" {
		return nil
	}
	for _, e := range t.entries {
		if e.msg.ClientID == clientID {
			return e
		}
	}
	return nil
}

// Store holds the messages of every conversation seen in a session, each
// ordered by CreatedAt with ties kept in insertion order.
type Store struct {
	mu      sync.Mutex
	threads map[string]*thread
	seq     uint64
}

func NewStore() *Store {
	return &Store{threads: make(map[string]*thread)}
}

func (s *Store) thread(conversationID string) *thread {
	t, ok := s.threads[conversationID]
	if !ok {
		t = &thread{}
		s.threads[conversationID] = t
	}
	return t
}

func (s *Store) next() uint64 {
	s.seq++
	return s.seq
}

// Append inserts an optimistic message as Pending.
func (s *Store) Append(m Message) error {
	if m.ClientID == "" {
		return ErrMissingClientID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.thread(m.ConversationID)
	if t.byClientID(m.ClientID) != nil {
		return ErrDuplicateClientID
	}
	m.ServerID = ""
	m.State = Pending
	t.entries = append(t.entries, &entry{msg: m, seq: s.next()})
	t.sort()
	return nil
}

// ListOrdered returns a copy of the conversation's messages in display order.
func (s *Store) ListOrdered(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.msg
	}
	return out
}

// Cursor is the CreatedAt of the newest confirmed message. Pending and failed
// entries are unknown to the server and never move it.
func (s *Store) Cursor(conversationID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		cursor time.Time
		found  bool
	)
	if t, ok := s.threads[conversationID]; ok {
		for _, e := range t.entries {
			if e.msg.State == Confirmed && (!found || e.msg.CreatedAt.After(cursor)) {
				cursor, found = e.msg.CreatedAt, true
			}
		}
	}
	return cursor, found
}

// Latest is the CreatedAt of the last message in display order, in any state.
func (s *Store) Latest(conversationID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[conversationID]
	if !ok || len(t.entries) == 0 {
		return time.Time{}, false
	}
	return t.entries[len(t.entries)-1].msg.CreatedAt, true
}

// MarkFailed flags a still-pending optimistic message as failed. It reports
// false when the entry is gone or was already confirmed by a fetch.
func (s *Store) MarkFailed(conversationID, clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[conversationID]
	if !ok {
		return false
	}
	e := t.byClientID(clientID)
	if e == nil || e.msg.State != Pending {
		return false
	}
	e.msg.State = Failed
	return true
}

// MarkPending moves a failed message back to Pending and returns it for resending.
func (s *Store) MarkPending(clientID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.threads {
		if e := t.byClientID(clientID); e != nil && e.msg.State == Failed {
			e.msg.State = Pending
			return e.msg, nil
		}
	}
	return Message{}, ErrUnknownMessage
}

// Clear drops every conversation.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = make(map[string]*thread)
}
