package chatsync

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const conversationPollerName = "conversations"

// conversationPoller refreshes the conversation list for the whole session so
// the unread badge stays correct on any view.
type conversationPoller struct {
	s      *Session
	handle *Handle
}

func (p *conversationPoller) tick(ctx context.Context) error {
	s := p.s

	convs, err := s.transport.ListConversations(ctx)
	if err != nil {
		return s.pollFailed(ctx, conversationPollerName, "", err)
	}
	s.applyConversations(ctx, p, convs)
	s.metrics.PollTicks.WithLabelValues(conversationPollerName).Inc()
	return nil
}

// applyConversations stores a fetched list, recomputes the unread flag while
// the user is away from the messages view, and auto-selects the first
// conversation when the messages view has none open. A nil owner marks a
// user-initiated refresh.
func (s *Session) applyConversations(ctx context.Context, owner *conversationPoller, convs []Conversation) {
	s.mu.Lock()
	if !s.active || (owner != nil && s.convPoller != owner) {
		s.mu.Unlock()
		return
	}

	s.convs = convs

	changed := false
	if s.view != ViewMessages {
		unread := HasUnread(convs, s.userID, s.tracker, "")
		changed = unread != s.unread
		s.unread = unread
	}
	unread := s.unread

	var (
		old    *Handle
		marked bool
	)
	if s.view == ViewMessages && len(convs) > 0 && !containsConversation(convs, s.openID) {
		old, marked = s.openLocked(convs[0].ID)
	}
	s.mu.Unlock()

	old.wait()
	if marked {
		s.persist(ctx)
	}
	if changed {
		s.notifyUnread(unread)
	}
}

// pollFailed logs a failed fetch and expires the session on ErrUnauthorized.
// The returned error tells the loop whether to back off or stop.
func (s *Session) pollFailed(ctx context.Context, poller, conversationID string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.metrics.PollFailures.WithLabelValues(poller).Inc()

	fields := []zap.Field{zap.String("poller", poller), zap.Error(err)}
	if conversationID != "" {
		fields = append(fields, zap.String("conversation_id", conversationID))
	}

	if errors.Is(err, ErrUnauthorized) {
		s.log.Error("poll unauthorized", fields...)
		s.expire(err)
		return err
	}
	s.log.Warn("poll failed", fields...)
	return err
}
