package chatsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moodjournal/dmsync/internal/kvstore"
	"github.com/moodjournal/dmsync/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultMessageInterval      = 3 * time.Second
	DefaultConversationInterval = 5 * time.Second
)

// View is the screen the user is on, as far as unread tracking cares.
type View int

const (
	ViewElsewhere View = iota
	ViewMessages
)

func (v View) String() string {
	if v == ViewMessages {
		return "messages"
	}
	return "elsewhere"
}

// Options tunes a Session. Callbacks run on the goroutine that caused the
// event, often a poll loop, and must not call Dispose, SetView,
// OpenConversation or CloseConversation synchronously.
type Options struct {
	MessageInterval      time.Duration
	ConversationInterval time.Duration
	// MaxBackoff above an interval enables exponential backoff on poll failures.
	MaxBackoff time.Duration
	// KeepReadState leaves the persisted last-seen map in place on Dispose.
	// By default Dispose deletes it, like a logout, and the next login starts
	// with every conversation that has messages from others unread.
	KeepReadState bool

	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Sync

	OnExpired  func(error)
	OnMessages func(conversationID string, admitted []Message)
	OnUnread   func(bool)
}

// Session is the per-login synchronization state: the message store, the
// read tracker and the two poll loops that feed them.
type Session struct {
	transport Transport
	store     *Store
	tracker   *ReadTracker
	opts      Options
	log       *zap.Logger
	metrics   *metrics.Sync

	mu         sync.Mutex
	base       context.Context
	userID     string
	active     bool
	view       View
	openID     string
	convs      []Conversation
	unread     bool
	draft      string
	msgPoller  *messagePoller
	convPoller *conversationPoller
	// canceled loops not yet waited for
	retired []*Handle
}

func NewSession(transport Transport, kv kvstore.Store, opts Options) *Session {
	if opts.MessageInterval <= 0 {
		opts.MessageInterval = DefaultMessageInterval
	}
	if opts.ConversationInterval <= 0 {
		opts.ConversationInterval = DefaultConversationInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSync(nil)
	}
	return &Session{
		transport: transport,
		store:     NewStore(),
		tracker:   NewReadTracker(kv, opts.Logger),
		opts:      opts,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Init starts a session for userID: it loads the persisted read map and
// starts the conversation poller. ctx bounds the lifetime of both poll loops.
func (s *Session) Init(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("chatsync: empty user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID != "" {
		return ErrSessionActive
	}
	if err := s.tracker.Load(ctx, userID); err != nil {
		return err
	}

	s.base = ctx
	s.userID = userID
	s.active = true
	s.view = ViewElsewhere

	p := &conversationPoller{s: s}
	p.handle = startLoop(ctx, loopConfig{interval: s.opts.ConversationInterval, maxBackoff: s.opts.MaxBackoff}, p.tick)
	s.convPoller = p

	s.log.Info("session started", zap.String("user_id", userID))
	return nil
}

// Dispose stops both pollers, waits for them, and drops all session state.
// It is a no-op on a session that was never initialized.
func (s *Session) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return nil
	}

	handles := s.retired
	s.retired = nil
	if h := s.stopMessagePollerLocked(); h != nil {
		handles = append(handles, h)
	}
	if s.convPoller != nil {
		s.convPoller.handle.Cancel()
		handles = append(handles, s.convPoller.handle)
		s.convPoller = nil
	}

	userID := s.userID
	s.base = nil
	s.userID = ""
	s.active = false
	s.view = ViewElsewhere
	s.openID = ""
	s.convs = nil
	s.unread = false
	s.draft = ""
	s.store.Clear()
	err := s.tracker.Reset(ctx, !s.opts.KeepReadState)
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	s.log.Info("session disposed", zap.String("user_id", userID))
	return err
}

// expire stops both pollers without waiting and reports err to OnExpired.
// Dispose still has to be called to release the session.
func (s *Session) expire(err error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	if h := s.stopMessagePollerLocked(); h != nil {
		s.retired = append(s.retired, h)
	}
	if s.convPoller != nil {
		s.convPoller.handle.Cancel()
		s.retired = append(s.retired, s.convPoller.handle)
		s.convPoller = nil
	}
	onExpired := s.opts.OnExpired
	s.mu.Unlock()

	s.log.Error("session expired", zap.Error(err))
	if onExpired != nil {
		onExpired(err)
	}
}

// SetView records which screen the user is on. Entering the messages view
// clears the unread flag, opens (or auto-selects) a conversation and starts
// its poller; leaving it stops the poller.
func (s *Session) SetView(ctx context.Context, v View) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	prev := s.view
	s.view = v

	var (
		old     *Handle
		marked  bool
		cleared bool
	)
	if v == ViewMessages {
		cleared = s.unread
		s.unread = false
		if prev != ViewMessages || s.msgPoller == nil {
			switch {
			case len(s.convs) > 0 && !containsConversation(s.convs, s.openID):
				old, marked = s.openLocked(s.convs[0].ID)
			case s.openID != "":
				old, marked = s.openLocked(s.openID)
			}
		}
	} else {
		old = s.stopMessagePollerLocked()
	}
	s.mu.Unlock()

	old.wait()
	if marked {
		s.persist(ctx)
	}
	if cleared {
		s.notifyUnread(false)
	}
	return nil
}

// OpenConversation makes id the open conversation, replacing the previous
// message poller. The poller only runs while the messages view is shown.
func (s *Session) OpenConversation(ctx context.Context, id string) error {
	if id == "" {
		return ErrNoConversation
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old, marked := s.openLocked(id)
	s.mu.Unlock()

	old.wait()
	if marked {
		s.persist(ctx)
	}
	return nil
}

// CloseConversation leaves no conversation open.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	old := s.stopMessagePollerLocked()
	s.openID = ""
	s.mu.Unlock()

	old.wait()
}

// StartConversation creates (or finds) the conversation with otherUserID,
// switches to the messages view and opens it.
func (s *Session) StartConversation(ctx context.Context, otherUserID string) (string, error) {
	if !s.isActive() {
		return "", ErrSessionClosed
	}

	id, err := s.transport.CreateConversation(ctx, otherUserID)
	if err != nil {
		return "", s.actionFailed("creating conversation", err)
	}

	if err := s.RefreshConversations(ctx); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "", err
		}
		s.log.Warn("refreshing conversations after create failed", zap.Error(err))
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.view = ViewMessages
	cleared := s.unread
	s.unread = false
	old, marked := s.openLocked(id)
	s.mu.Unlock()

	old.wait()
	if marked {
		s.persist(ctx)
	}
	if cleared {
		s.notifyUnread(false)
	}
	return id, nil
}

// RefreshConversations fetches the conversation list now, outside the
// conversation poller's schedule. Errors are returned, not just logged.
func (s *Session) RefreshConversations(ctx context.Context) error {
	if !s.isActive() {
		return ErrSessionClosed
	}
	convs, err := s.transport.ListConversations(ctx)
	if err != nil {
		return s.actionFailed("listing conversations", err)
	}
	s.applyConversations(ctx, nil, convs)
	return nil
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Send sends the current draft. See SendText.
func (s *Session) Send(ctx context.Context) (Message, error) {
	return s.SendText(ctx, s.Draft())
}

// SendText appends text to the open conversation as a pending message, clears
// the draft, marks the conversation seen and then posts it. The poller
// confirms the message later by its client id. When the request fails the
// message stays in the store as Failed and can be resent with Retry.
func (s *Session) SendText(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return Message{}, ErrSessionClosed
	}
	if s.openID == "" {
		s.mu.Unlock()
		return Message{}, ErrNoConversation
	}

	now := s.opts.Now()
	msg := Message{
		ClientID:       uuid.NewString(),
		ConversationID: s.openID,
		SenderID:       s.userID,
		Text:           text,
		CreatedAt:      now,
		State:          Pending,
	}
	if err := s.store.Append(msg); err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	s.draft = ""
	marked := s.advanceLocked(msg.ConversationID, now)
	s.mu.Unlock()

	if marked {
		s.persist(ctx)
	}
	return s.deliver(ctx, msg)
}

// Retry resends a failed message with the same client id, so the server
// stores it at most once even if the failed attempt did reach it.
func (s *Session) Retry(ctx context.Context, clientID string) (Message, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return Message{}, ErrSessionClosed
	}
	msg, err := s.store.MarkPending(clientID)
	s.mu.Unlock()
	if err != nil {
		return Message{}, err
	}
	return s.deliver(ctx, msg)
}

func (s *Session) deliver(ctx context.Context, msg Message) (Message, error) {
	err := s.transport.SendMessage(ctx, msg.ConversationID, msg.Text, msg.ClientID)
	if err == nil {
		return msg, nil
	}

	if s.store.MarkFailed(msg.ConversationID, msg.ClientID) {
		msg.State = Failed
	}
	s.metrics.SendFailures.Inc()
	s.log.Warn("send failed",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("client_id", msg.ClientID),
		zap.Error(err),
	)
	return msg, s.actionFailed("sending message", err)
}

// Messages returns the open conversation's messages in display order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	id := s.openID
	s.mu.Unlock()
	if id == "" {
		return nil
	}
	return s.store.ListOrdered(id)
}

// MessagesIn returns any conversation's cached messages in display order.
func (s *Session) MessagesIn(conversationID string) []Message {
	return s.store.ListOrdered(conversationID)
}

func (s *Session) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.convs)
}

// HasUnread is the global unread badge.
func (s *Session) HasUnread() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// IsConversationUnread is the per-conversation badge. The conversation on
// screen is never unread.
func (s *Session) IsConversationUnread(c Conversation) bool {
	s.mu.Lock()
	userID := s.userID
	viewing := s.viewingLocked(c.ID)
	s.mu.Unlock()
	if viewing {
		return false
	}
	seen, ok := s.tracker.LastSeen(c.ID)
	return IsUnread(c, userID, seen, ok)
}

func (s *Session) LastSeen(conversationID string) (time.Time, bool) {
	return s.tracker.LastSeen(conversationID)
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) OpenConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openID
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) viewingLocked(conversationID string) bool {
	return s.view == ViewMessages && s.openID == conversationID
}

// openLocked switches the open conversation and returns the canceled poller
// handle, which the caller waits on after unlocking, and whether the read
// map changed.
func (s *Session) openLocked(id string) (*Handle, bool) {
	old := s.stopMessagePollerLocked()
	s.openID = id
	if s.view != ViewMessages {
		return old, false
	}

	p := &messagePoller{s: s, conversationID: id}
	p.handle = startLoop(s.base, loopConfig{interval: s.opts.MessageInterval, maxBackoff: s.opts.MaxBackoff}, p.tick)
	s.msgPoller = p

	latest, ok := s.store.Latest(id)
	if !ok {
		return old, false
	}
	return old, s.advanceLocked(id, latest)
}

func (s *Session) stopMessagePollerLocked() *Handle {
	if s.msgPoller == nil {
		return nil
	}
	h := s.msgPoller.handle
	h.Cancel()
	s.msgPoller = nil
	return h
}

// advanceLocked marks the conversation seen at at unless the tracker already
// holds a later time.
func (s *Session) advanceLocked(conversationID string, at time.Time) bool {
	if prev, ok := s.tracker.LastSeen(conversationID); ok && !at.After(prev) {
		return false
	}
	s.tracker.MarkSeen(conversationID, at)
	return true
}

func (s *Session) persist(ctx context.Context) {
	err := s.tracker.Persist(ctx)
	if err == nil || errors.Is(err, ErrSessionClosed) || ctx.Err() != nil {
		return
	}
	s.log.Warn("persisting last-seen map failed", zap.Error(err))
}

func (s *Session) notifyUnread(unread bool) {
	if unread {
		s.metrics.UnreadRaised.Inc()
	}
	if s.opts.OnUnread != nil {
		s.opts.OnUnread(unread)
	}
}

// actionFailed expires the session on ErrUnauthorized and wraps err for the caller.
func (s *Session) actionFailed(what string, err error) error {
	if errors.Is(err, ErrUnauthorized) {
		s.expire(err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func containsConversation(convs []Conversation, id string) bool {
	if id == "" {
		return false
	}
	return slices.ContainsFunc(convs, func(c Conversation) bool { return c.ID == id })
}
