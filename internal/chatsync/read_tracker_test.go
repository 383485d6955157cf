package chatsync

import (
	"context"
	"testing"

	"github.com/moodjournal/dmsync/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStorageKeyIsPerUser(t *testing.T) {
	assert.Equal(t, "moodJournalLastSeen:u1", StorageKey("u1"))
	assert.NotEqual(t, StorageKey("u1"), StorageKey("u2"))
}

func TestReadTrackerPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()

	r := NewReadTracker(kv, zaptest.NewLogger(t))
	require.NoError(t, r.Load(ctx, "u1"))
	_, ok := r.LastSeen("A")
	assert.False(t, ok)

	r.MarkSeen("A", at(10))
	r.MarkSeen("B", at(20))
	require.NoError(t, r.Persist(ctx))

	restored := NewReadTracker(kv, nil)
	require.NoError(t, restored.Load(ctx, "u1"))
	assert.Equal(t, r.Snapshot(), restored.Snapshot())

	seen, ok := restored.LastSeen("A")
	require.True(t, ok)
	assert.True(t, seen.Equal(at(10)))
}

func TestReadTrackerUsersDoNotShareMaps(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()

	r := NewReadTracker(kv, nil)
	require.NoError(t, r.Load(ctx, "u1"))
	r.MarkSeen("A", at(10))
	require.NoError(t, r.Persist(ctx))
	require.NoError(t, r.Reset(ctx, false))

	require.NoError(t, r.Load(ctx, "u2"))
	assert.Empty(t, r.Snapshot())

	require.NoError(t, r.Load(ctx, "u1"))
	assert.Len(t, r.Snapshot(), 1)
}

func TestReadTrackerDoesNotEnforceMonotonicity(t *testing.T) {
	r := NewReadTracker(kvstore.NewMemory(), nil)
	r.MarkSeen("A", at(10))
	r.MarkSeen("A", at(5))

	seen, _ := r.LastSeen("A")
	assert.Equal(t, at(5), seen)
}

func TestReadTrackerCorruptEntryStartsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	require.NoError(t, kv.Put(ctx, StorageKey("u1"), []byte("{not json")))

	r := NewReadTracker(kv, zaptest.NewLogger(t))
	require.NoError(t, r.Load(ctx, "u1"))
	assert.Empty(t, r.Snapshot())
}

func TestReadTrackerReset(t *testing.T) {
	ctx := context.Background()

	for _, forget := range []bool{false, true} {
		kv := kvstore.NewMemory()
		r := NewReadTracker(kv, nil)
		require.NoError(t, r.Load(ctx, "u1"))
		r.MarkSeen("A", at(1))
		require.NoError(t, r.Persist(ctx))

		require.NoError(t, r.Reset(ctx, forget))
		assert.Empty(t, r.Snapshot())
		assert.ErrorIs(t, r.Persist(ctx), ErrSessionClosed)

		_, err := kv.Get(ctx, StorageKey("u1"))
		if forget {
			assert.ErrorIs(t, err, kvstore.ErrNotFound)
		} else {
			assert.NoError(t, err)
		}
	}
}
