package chatsync

import "time"

// IsUnread reports whether c has a message from someone other than self newer
// than lastSeen. A conversation with no record (ok false) and at least one
// message from the partner counts as unread.
func IsUnread(c Conversation, self string, lastSeen time.Time, ok bool) bool {
	if c.LastMessageAt.IsZero() || c.LastMessageSenderID == self {
		return false
	}
	if !ok {
		return true
	}
	return c.LastMessageAt.After(lastSeen)
}

// HasUnread evaluates IsUnread over convs against tracker, skipping the
// conversation currently being viewed (empty viewing skips none).
func HasUnread(convs []Conversation, self string, tracker *ReadTracker, viewing string) bool {
	for _, c := range convs {
		if viewing != "" && c.ID == viewing {
			continue
		}
		seen, ok := tracker.LastSeen(c.ID)
		if IsUnread(c, self, seen, ok) {
			return true
		}
	}
	return false
}
