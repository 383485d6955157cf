package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/moodjournal/dmsync/internal/kvstore"
	"go.uber.org/zap"
)

const lastSeenKeyPrefix = "moodJournalLastSeen:"

// StorageKey is the kv key holding userID's last-seen map.
func StorageKey(userID string) string {
	return lastSeenKeyPrefix + userID
}

// ReadTracker remembers, per conversation, the newest message time the user
// has seen. MarkSeen does not enforce monotonicity; callers pass the current
// time or the newest message time.
type ReadTracker struct {
	kv  kvstore.Store
	log *zap.Logger

	mu     sync.Mutex
	userID string
	seen   map[string]time.Time

	// held across the write so snapshots reach the store in order
	persistMu sync.Mutex
}

func NewReadTracker(kv kvstore.Store, log *zap.Logger) *ReadTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReadTracker{kv: kv, log: log, seen: make(map[string]time.Time)}
}

// Load replaces the in-memory map with userID's persisted map. A missing or
// unreadable entry yields an empty map.
func (r *ReadTracker) Load(ctx context.Context, userID string) error {
	seen := make(map[string]time.Time)

	raw, err := r.kv.Get(ctx, StorageKey(userID))
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading last-seen map: %w", err)
	default:
		if err := json.Unmarshal(raw, &seen); err != nil {
			r.log.Warn("discarding corrupt last-seen map", zap.String("user_id", userID), zap.Error(err))
			seen = make(map[string]time.Time)
		}
	}

	r.mu.Lock()
	r.userID = userID
	r.seen = seen
	r.mu.Unlock()
	return nil
}

func (r *ReadTracker) MarkSeen(conversationID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[conversationID] = at
}

func (r *ReadTracker) LastSeen(conversationID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.seen[conversationID]
	return t, ok
}

func (r *ReadTracker) Snapshot() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.seen)
}

// Persist writes the current map under the loaded user's key.
func (r *ReadTracker) Persist(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	userID := r.userID
	raw, err := json.Marshal(r.seen)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if userID == "" {
		return ErrSessionClosed
	}

	if err := r.kv.Put(ctx, StorageKey(userID), raw); err != nil {
		return fmt.Errorf("persisting last-seen map: %w", err)
	}
	return nil
}

// Reset empties the in-memory map and, when forget is set, deletes the
// persisted copy as well.
func (r *ReadTracker) Reset(ctx context.Context, forget bool) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	userID := r.userID
	r.userID = ""
	r.seen = make(map[string]time.Time)
	r.mu.Unlock()

	if !forget || userID == "" {
		return nil
	}
	if err := r.kv.Delete(ctx, StorageKey(userID)); err != nil {
		return fmt.Errorf("forgetting last-seen map: %w", err)
	}
	return nil
}
