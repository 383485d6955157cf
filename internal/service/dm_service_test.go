package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moodjournal/dmsync/internal/domain"
	memoryrepo "github.com/moodjournal/dmsync/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDMFixture(t *testing.T, names ...string) (*DMService, map[string]uuid.UUID) {
	t.Helper()
	users := memoryrepo.NewUserRepo()
	ids := make(map[string]uuid.UUID)
	for _, n := range names {
		u := &domain.User{ID: uuid.New(), Email: n + "@example.com", Username: n}
		require.NoError(t, users.Create(context.Background(), u))
		ids[n] = u.ID
	}
	return NewDMService(memoryrepo.NewDMRepo(users), users), ids
}

func ptr(s string) *string { return &s }

func TestGetOrCreateConversation(t *testing.T) {
	ctx := context.Background()
	svc, ids := newDMFixture(t, "ana", "ben")

	conv, err := svc.GetOrCreateConversation(ctx, ids["ana"], ids["ben"])
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{ids["ana"], ids["ben"]}, conv.Participants)
	assert.Equal(t, "ben", conv.ParticipantUsernames[ids["ben"].String()])
	assert.Nil(t, conv.LastMessageAt)

	again, err := svc.GetOrCreateConversation(ctx, ids["ben"], ids["ana"])
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	_, err = svc.GetOrCreateConversation(ctx, ids["ana"], ids["ana"])
	assert.ErrorIs(t, err, ErrCannotDMSelf)

	_, err = svc.GetOrCreateConversation(ctx, ids["ana"], uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSendMessageUpdatesSummary(t *testing.T) {
	ctx := context.Background()
	svc, ids := newDMFixture(t, "ana", "ben")
	conv, err := svc.GetOrCreateConversation(ctx, ids["ana"], ids["ben"])
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, ids["ben"], conv.ID, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "ben", msg.SenderUsername)

	convs, err := svc.ListConversations(ctx, ids["ana"])
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LastMessageAt)
	assert.True(t, convs[0].LastMessageAt.Equal(msg.CreatedAt))
	assert.Equal(t, ids["ben"], *convs[0].LastMessageSenderID)
}

func TestSendMessageIdempotentOnClientID(t *testing.T) {
	ctx := context.Background()
	svc, ids := newDMFixture(t, "ana", "ben")
	conv, err := svc.GetOrCreateConversation(ctx, ids["ana"], ids["ben"])
	require.NoError(t, err)

	first, err := svc.SendMessage(ctx, ids["ana"], conv.ID, "hi", ptr("c1"))
	require.NoError(t, err)
	second, err := svc.SendMessage(ctx, ids["ana"], conv.ID, "hi", ptr("c1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	msgs, err := svc.ListMessagesSince(ctx, ids["ben"], conv.ID, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSendMessageRejectsOutsiders(t *testing.T) {
	ctx := context.Background()
	svc, ids := newDMFixture(t, "ana", "ben", "cy")
	conv, err := svc.GetOrCreateConversation(ctx, ids["ana"], ids["ben"])
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, ids["cy"], conv.ID, "hi", nil)
	assert.ErrorIs(t, err, ErrDMNotParticipant)

	_, err = svc.ListMessagesSince(ctx, ids["ana"], uuid.New(), nil)
	assert.ErrorIs(t, err, ErrDMConversationNotFound)
}

func TestTimestampsStrictlyIncreaseUnderFrozenClock(t *testing.T) {
	ctx := context.Background()
	svc, ids := newDMFixture(t, "ana", "ben")
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	svc.SetClock(func() time.Time { return frozen })

	conv, err := svc.GetOrCreateConversation(ctx, ids["ana"], ids["ben"])
	require.NoError(t, err)

	for i := range 5 {
		_, err := svc.SendMessage(ctx, ids["ana"], conv.ID, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	msgs, err := svc.ListMessagesSince(ctx, ids["ben"], conv.ID, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt))
		assert.Zero(t, msgs[i].CreatedAt.Nanosecond()%1000)
	}

	since := msgs[2].CreatedAt
	newer, err := svc.ListMessagesSince(ctx, ids["ben"], conv.ID, &since)
	require.NoError(t, err)
	require.Len(t, newer, 2)
	assert.Equal(t, "m3", newer[0].Text)
}

func TestListMessagesPageLimit(t *testing.T) {
	ctx := context.Background()
	svc, ids := newDMFixture(t, "ana", "ben")
	conv, err := svc.GetOrCreateConversation(ctx, ids["ana"], ids["ben"])
	require.NoError(t, err)

	for i := range MessagePageSize + 5 {
		_, err := svc.SendMessage(ctx, ids["ana"], conv.ID, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	page, err := svc.ListMessagesSince(ctx, ids["ana"], conv.ID, nil)
	require.NoError(t, err)
	require.Len(t, page, MessagePageSize)
	assert.Equal(t, "m0", page[0].Text)

	cursor := page[len(page)-1].CreatedAt
	rest, err := svc.ListMessagesSince(ctx, ids["ana"], conv.ID, &cursor)
	require.NoError(t, err)
	assert.Len(t, rest, 5)
}
