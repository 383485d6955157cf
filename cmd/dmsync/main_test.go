package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moodjournal/dmsync/internal/chatsync"
	"github.com/moodjournal/dmsync/internal/config"
	"github.com/moodjournal/dmsync/internal/domain"
	memoryrepo "github.com/moodjournal/dmsync/internal/repository/memory"
	"github.com/moodjournal/dmsync/internal/service"
	"github.com/moodjournal/dmsync/internal/transport/http/handlers"
	"github.com/moodjournal/dmsync/internal/transport/http/middleware"
	"github.com/moodjournal/dmsync/internal/transport/rest"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const secret = "cli-test-secret"

func token(t *testing.T, id uuid.UUID) string {
	t.Helper()
	tok, err := service.IssueToken([]byte(secret), id, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestIdentity(t *testing.T) {
	id := uuid.New()
	tok := token(t, id)

	_, _, err := identity(&config.Config{})
	assert.ErrorIs(t, err, errNoToken)

	_, userID, err := identity(&config.Config{Token: tok})
	require.NoError(t, err)
	assert.Equal(t, id.String(), userID)

	_, userID, err = identity(&config.Config{Token: tok, UserID: "explicit"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", userID)

	_, _, err = identity(&config.Config{Token: "garbage"})
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, cmd.ParseFlags([]string{"--api-url", "http://api", "--message-poll", "1s", "--keep-read-state"}))
	t.Cleanup(func() {
		flagAPIURL, flagMessagePoll, flagKeepReadState = "", 0, false
	})

	c := &config.Config{APIURL: "env", MessagePoll: 3 * time.Second, ConversationPoll: 5 * time.Second, StateBackend: "pebble"}
	applyFlags(cmd, c)
	assert.Equal(t, "http://api", c.APIURL)
	assert.Equal(t, time.Second, c.MessagePoll)
	assert.True(t, c.KeepReadState)
	assert.Equal(t, 5*time.Second, c.ConversationPoll)
	assert.Equal(t, "pebble", c.StateBackend)
}

func TestWatchCommandDocumentsREPL(t *testing.T) {
	assert.Contains(t, watchCmd.Long, watchHelp)
	for _, c := range []string{"/list", "/open", "/new", "/view", "/retry", "/refresh", "/quit"} {
		assert.Contains(t, watchHelp, c)
	}
}

func TestPrintConversations(t *testing.T) {
	var buf bytes.Buffer
	printConversations(&buf, nil, "me", func(chatsync.Conversation) bool { return false })
	assert.Equal(t, "no conversations\n", buf.String())

	buf.Reset()
	convs := []chatsync.Conversation{
		{ID: "c1", Participants: []string{"me", "u1"}, ParticipantNames: map[string]string{"u1": "ann"}},
		{ID: "c2", Participants: []string{"me", "u2"}},
	}
	printConversations(&buf, convs, "me", func(c chatsync.Conversation) bool { return c.ID == "c2" })
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "  1"))
	assert.Contains(t, lines[0], "ann")
	assert.True(t, strings.HasPrefix(lines[1], "* 2"))
	assert.Contains(t, lines[1], "User")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch(t *testing.T) {
	users := memoryrepo.NewUserRepo()
	ann := &domain.User{ID: uuid.New(), Email: "ann@example.com", Username: "ann"}
	bob := &domain.User{ID: uuid.New(), Email: "bob@example.com", Username: "bob"}
	require.NoError(t, users.Create(context.Background(), ann))
	require.NoError(t, users.Create(context.Background(), bob))

	mux := http.NewServeMux()
	handlers.NewDMHandler(service.NewDMService(memoryrepo.NewDMRepo(users), users), zap.NewNop()).
		Routes(mux, "/api/v1", middleware.Auth(secret))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	annClient := rest.New(srv.URL+"/api/v1", token(t, ann.ID))
	convID, err := annClient.CreateConversation(ctx, bob.ID.String())
	require.NoError(t, err)
	require.NoError(t, annClient.SendMessage(ctx, convID, "hi bob", "a-1"))

	cfg = &config.Config{
		APIURL:           srv.URL + "/api/v1",
		Token:            token(t, bob.ID),
		StateBackend:     "memory",
		MessagePoll:      20 * time.Millisecond,
		ConversationPoll: 20 * time.Millisecond,
	}
	log = zaptest.NewLogger(t)

	in, feed := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, in, out) }()

	send := func(line string) {
		_, err := io.WriteString(feed, line+"\n")
		require.NoError(t, err)
	}
	waitFor := func(s string) {
		require.Eventually(t, func() bool { return strings.Contains(out.String(), s) }, 3*time.Second, 10*time.Millisecond, out.String())
	}

	waitFor("* new messages")
	send("/refresh")
	waitFor("* 1")
	send("/open 1")
	waitFor("ann: hi bob")

	send("hello ann")
	require.Eventually(t, func() bool {
		msgs, err := annClient.ListMessages(ctx, convID, nil)
		return err == nil && len(msgs) == 2 && msgs[1].Text == "hello ann"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, annClient.SendMessage(ctx, convID, "how are you", "a-2"))
	waitFor("ann: how are you")

	send("/help")
	waitFor("/retry [client]")

	send("/bogus")
	waitFor("unknown command /bogus")

	send("/quit")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not exit")
	}
	feed.Close()
}
