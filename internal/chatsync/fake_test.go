package chatsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// fakeServer is an in-memory conversation API that echoes client ids.
type fakeServer struct {
	mu sync.Mutex

	self     string
	clock    time.Time
	nextID   int
	convs    map[string]*Conversation
	messages map[string][]Message

	listErr error
	pollErr error
	sendErr error
	// stores the message before failing, like a dropped response
	sendErrAfterStore bool

	listCalls int
	pollCalls map[string]int
	sinces    map[string][]*time.Time
	sends     []sentRequest
}

type sentRequest struct {
	ConversationID, Text, ClientID string
}

func newFakeServer(self string) *fakeServer {
	return &fakeServer{
		self:      self,
		clock:     epoch,
		convs:     make(map[string]*Conversation),
		messages:  make(map[string][]Message),
		pollCalls: make(map[string]int),
		sinces:    make(map[string][]*time.Time),
	}
}

func (f *fakeServer) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeServer) addConversation(id, other string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[id] = &Conversation{
		ID:               id,
		Participants:     []string{f.self, other},
		ParticipantNames: map[string]string{f.self: "me", other: other},
	}
}

// post stores a message as if sender had sent it and returns the stored copy.
func (f *fakeServer) post(conversationID, sender, text, clientID string) Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.postLocked(conversationID, sender, text, clientID)
}

func (f *fakeServer) postLocked(conversationID, sender, text, clientID string) Message {
	for _, m := range f.messages[conversationID] {
		if clientID != "" && m.ClientID == clientID {
			return m
		}
	}
	f.nextID++
	m := Message{
		ServerID:       fmt.Sprintf("s%d", f.nextID),
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       sender,
		Text:           text,
		CreatedAt:      f.tick(),
		State:          Confirmed,
	}
	f.messages[conversationID] = append(f.messages[conversationID], m)
	if c, ok := f.convs[conversationID]; ok {
		c.LastMessageAt = m.CreatedAt
		c.LastMessageSenderID = sender
	}
	return m
}

func (f *fakeServer) set(fn func(f *fakeServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeServer) polls(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls[conversationID]
}

func (f *fakeServer) sent() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentRequest(nil), f.sends...)
}

func (f *fakeServer) ListConversations(ctx context.Context) ([]Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Conversation, 0, len(f.convs))
	for _, c := range f.convs {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeServer) CreateConversation(ctx context.Context, otherUserID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.convs {
		for _, p := range c.Participants {
			if p == otherUserID {
				return id, nil
			}
		}
	}
	id := "conv-" + otherUserID
	f.convs[id] = &Conversation{ID: id, Participants: []string{f.self, otherUserID}}
	return id, nil
}

func (f *fakeServer) ListMessages(ctx context.Context, conversationID string, since *time.Time) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls[conversationID]++
	f.sinces[conversationID] = append(f.sinces[conversationID], since)
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	var out []Message
	for _, m := range f.messages[conversationID] {
		if since == nil || m.CreatedAt.After(*since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeServer) SendMessage(ctx context.Context, conversationID, text, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentRequest{conversationID, text, clientID})
	if f.sendErr != nil && !f.sendErrAfterStore {
		return f.sendErr
	}
	f.postLocked(conversationID, f.self, text, clientID)
	return f.sendErr
}

func ticks(s *Session, poller string) int {
	return int(testutil.ToFloat64(s.metrics.PollTicks.WithLabelValues(poller)))
}

func (f *fakeServer) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}
