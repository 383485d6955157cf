package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/moodjournal/dmsync/internal/chatsync"
	"github.com/moodjournal/dmsync/internal/kvstore"
	"github.com/moodjournal/dmsync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const watchHelp = `Plain text is sent to the open conversation. Commands:
  /list             list conversations (* = unread)
  /open <n|id>      open conversation n from /list, or by id
  /new <user-id>    start (or find) a conversation with a user
  /view messages    show the open conversation; /view away hides it
  /retry [client]   resend a failed message (latest failed by default)
  /refresh          reload the conversation list now
  /help             show this text
  /quit             exit`

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive session: read and send messages as they arrive",
	Long:  "watch starts a session and reads commands from stdin.\n\n" + watchHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context(), os.Stdin, cmd.OutOrStdout())
	},
}

func runWatch(ctx context.Context, in io.Reader, out io.Writer) error {
	token, userID, err := identity(cfg)
	if err != nil {
		return err
	}

	kv, err := kvstore.Open(ctx, cfg.StateBackend, cfg.StateDir, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer kv.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := &repl{out: out, self: userID}
	session := chatsync.NewSession(newClient(token), kv, chatsync.Options{
		MessageInterval:      cfg.MessagePoll,
		ConversationInterval: cfg.ConversationPoll,
		MaxBackoff:           cfg.MaxBackoff,
		KeepReadState:        cfg.KeepReadState,
		Logger:               log.Named("chatsync"),
		Metrics:              metrics.NewSync(reg),
		OnMessages:           r.printMessages,
		OnUnread:             r.printUnread,
		OnExpired: func(err error) {
			r.printf("session expired: %v\n", err)
			cancel(err)
		},
	})
	r.session = session

	g, gctx := errgroup.WithContext(ctx)
	if err := session.Init(gctx, userID); err != nil {
		return err
	}
	defer func() {
		if err := session.Dispose(context.Background()); err != nil {
			log.Warn("disposing session", zap.Error(err))
		}
	}()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// The scanner cannot be interrupted, so it lives outside the group.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		defer cancel(nil)
		r.printf("type /help for commands\n")
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				quit, err := r.handle(gctx, line)
				if err != nil {
					r.printf("error: %v\n", err)
				}
				if quit {
					return nil
				}
			}
		}
	})

	err = g.Wait()
	if cause := context.Cause(ctx); errors.Is(cause, chatsync.ErrUnauthorized) {
		return cause
	}
	return err
}

// repl turns input lines into session calls and prints session events.
type repl struct {
	session *chatsync.Session
	self    string

	mu  sync.Mutex
	out io.Writer
	// conversations as last printed by /list, for /open n
	listed []chatsync.Conversation
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) handle(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		msg, err := r.session.SendText(ctx, line)
		if err != nil && msg.State == chatsync.Failed {
			r.printf("not delivered, /retry %s\n", msg.ClientID)
		}
		return false, err
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "q":
		return true, nil
	case "help":
		r.printf("%s\n", watchHelp)
	case "list":
		r.list()
	case "refresh":
		if err := r.session.RefreshConversations(ctx); err != nil {
			return false, err
		}
		r.list()
	case "open":
		return false, r.open(ctx, arg)
	case "new":
		if arg == "" {
			return false, errors.New("usage: /new <user-id>")
		}
		id, err := r.session.StartConversation(ctx, arg)
		if err != nil {
			return false, err
		}
		r.printf("opened %s\n", id)
		r.history()
	case "view":
		switch arg {
		case "messages", "m":
			if err := r.session.SetView(ctx, chatsync.ViewMessages); err != nil {
				return false, err
			}
			r.history()
		case "away", "elsewhere":
			return false, r.session.SetView(ctx, chatsync.ViewElsewhere)
		default:
			return false, errors.New("usage: /view messages|away")
		}
	case "retry":
		clientID := arg
		if clientID == "" {
			clientID = r.lastFailed()
		}
		if clientID == "" {
			return false, errors.New("nothing to retry")
		}
		_, err := r.session.Retry(ctx, clientID)
		return false, err
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}

func (r *repl) list() {
	convs := r.session.Conversations()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listed = convs
	printConversations(r.out, convs, r.self, r.session.IsConversationUnread)
}

func (r *repl) open(ctx context.Context, arg string) error {
	if arg == "" {
		return errors.New("usage: /open <n|id>")
	}
	id := arg
	if n, err := strconv.Atoi(arg); err == nil {
		r.mu.Lock()
		listed := r.listed
		r.mu.Unlock()
		if n < 1 || n > len(listed) {
			return fmt.Errorf("no conversation %d, run /list", n)
		}
		id = listed[n-1].ID
	}
	if err := r.session.OpenConversation(ctx, id); err != nil {
		return err
	}
	if err := r.session.SetView(ctx, chatsync.ViewMessages); err != nil {
		return err
	}
	r.history()
	return nil
}

func (r *repl) history() {
	for _, m := range r.session.Messages() {
		r.printMessage(m)
	}
}

func (r *repl) lastFailed() string {
	msgs := r.session.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].State == chatsync.Failed {
			return msgs[i].ClientID
		}
	}
	return ""
}

func (r *repl) printMessages(conversationID string, admitted []chatsync.Message) {
	if conversationID != r.session.OpenConversationID() {
		return
	}
	for _, m := range admitted {
		r.printMessage(m)
	}
}

func (r *repl) printMessage(m chatsync.Message) {
	who := m.SenderName
	if m.SenderID == r.self {
		who = "you"
	} else if who == "" {
		who = "User"
	}
	suffix := ""
	if m.State != chatsync.Confirmed {
		suffix = " (" + m.State.String() + ")"
	}
	r.printf("%s %s: %s%s\n", m.CreatedAt.Local().Format(time.TimeOnly), who, m.Text, suffix)
}

func (r *repl) printUnread(unread bool) {
	if unread {
		r.printf("* new messages, /list to see where\n")
	}
}
