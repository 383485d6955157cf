package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/moodjournal/dmsync/internal/chatsync"
	"github.com/moodjournal/dmsync/internal/kvstore"
	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations once, with unread markers from the saved state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		token, userID, err := identity(cfg)
		if err != nil {
			return err
		}

		kv, err := kvstore.Open(ctx, cfg.StateBackend, cfg.StateDir, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer kv.Close()

		tracker := chatsync.NewReadTracker(kv, log)
		if err := tracker.Load(ctx, userID); err != nil {
			return err
		}

		convs, err := newClient(token).ListConversations(ctx)
		if err != nil {
			return err
		}
		printConversations(cmd.OutOrStdout(), convs, userID, func(c chatsync.Conversation) bool {
			seen, ok := tracker.LastSeen(c.ID)
			return chatsync.IsUnread(c, userID, seen, ok)
		})
		return nil
	},
}

func printConversations(w io.Writer, convs []chatsync.Conversation, self string, unread func(chatsync.Conversation) bool) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "no conversations")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, c := range convs {
		mark := " "
		if unread(c) {
			mark = "*"
		}
		last := "-"
		if !c.LastMessageAt.IsZero() {
			last = c.LastMessageAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s %d\t%s\t%s\t%s\n", mark, i+1, c.PartnerName(self), last, c.ID)
	}
	tw.Flush()
}
