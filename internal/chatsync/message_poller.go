package chatsync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const messagePollerName = "messages"

// messagePoller fetches new messages for one conversation. A session has at
// most one current messagePoller; a tick whose poller has been replaced
// discards its batch.
type messagePoller struct {
	s              *Session
	conversationID string
	handle         *Handle
}

func (p *messagePoller) tick(ctx context.Context) error {
	s := p.s

	var since *time.Time
	if cursor, ok := s.store.Cursor(p.conversationID); ok {
		since = &cursor
	}

	batch, err := s.transport.ListMessages(ctx, p.conversationID, since)
	if err != nil {
		return s.pollFailed(ctx, messagePollerName, p.conversationID, err)
	}
	s.applyMessages(ctx, p, batch)
	s.metrics.PollTicks.WithLabelValues(messagePollerName).Inc()
	return nil
}

// applyMessages merges a batch, then raises the unread flag or marks the
// conversation seen, as one step under the session lock.
func (s *Session) applyMessages(ctx context.Context, p *messagePoller, batch []Message) {
	s.mu.Lock()
	if !s.active || s.msgPoller != p {
		s.mu.Unlock()
		return
	}

	admitted := s.store.Merge(p.conversationID, batch)
	viewing := s.viewingLocked(p.conversationID)

	var (
		latest     time.Time
		fromOthers bool
	)
	for _, m := range admitted {
		if m.CreatedAt.After(latest) {
			latest = m.CreatedAt
		}
		if m.SenderID != s.userID {
			fromOthers = true
		}
	}

	raised := fromOthers && !viewing && !s.unread
	if raised {
		s.unread = true
	}
	marked := viewing && len(admitted) > 0 && s.advanceLocked(p.conversationID, latest)
	onMessages := s.opts.OnMessages
	s.mu.Unlock()

	if len(admitted) == 0 {
		return
	}
	s.metrics.MessagesAdmitted.Add(float64(len(admitted)))
	s.log.Debug("admitted messages",
		zap.String("conversation_id", p.conversationID),
		zap.Int("count", len(admitted)),
	)
	if marked {
		s.persist(ctx)
	}
	if raised {
		s.notifyUnread(true)
	}
	if onMessages != nil {
		onMessages(p.conversationID, admitted)
	}
}
