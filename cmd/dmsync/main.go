package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/moodjournal/dmsync/internal/config"
	"github.com/moodjournal/dmsync/internal/logger"
	"github.com/moodjournal/dmsync/internal/transport/rest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg *config.Config
	log *zap.Logger

	flagAPIURL           string
	flagToken            string
	flagUserID           string
	flagStateBackend     string
	flagStateDir         string
	flagRedisURL         string
	flagMetricsAddr      string
	flagLogLevel         string
	flagMessagePoll      time.Duration
	flagConversationPoll time.Duration
	flagMaxBackoff       time.Duration
	flagKeepReadState    bool
)

var rootCmd = &cobra.Command{
	Use:   "dmsync",
	Short: "Private conversations over the polling REST API",
	Long: `dmsync keeps a local view of your private conversations in step with
the conversation API by polling it.

Settings come from the environment (and .env); flags override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		applyFlags(cmd, cfg)

		var err error
		log, err = logger.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&flagAPIURL, "api-url", "", "Conversation API base URL (DMSYNC_API_URL)")
	f.StringVar(&flagToken, "token", "", "Bearer token (DMSYNC_TOKEN)")
	f.StringVar(&flagUserID, "user-id", "", "Your user id; read from the token when empty (DMSYNC_USER_ID)")
	f.StringVar(&flagStateBackend, "state-backend", "", "Where last-seen state lives: pebble, redis or memory (DMSYNC_STATE_BACKEND)")
	f.StringVar(&flagStateDir, "state-dir", "", "Pebble directory (DMSYNC_STATE_DIR)")
	f.StringVar(&flagRedisURL, "redis-url", "", "Redis URL for the redis backend (REDIS_URL)")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (METRICS_ADDR)")
	f.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	f.DurationVar(&flagMessagePoll, "message-poll", 0, "Message poll interval (DMSYNC_MESSAGE_POLL)")
	f.DurationVar(&flagConversationPoll, "conversation-poll", 0, "Conversation list poll interval (DMSYNC_CONVERSATION_POLL)")
	f.DurationVar(&flagMaxBackoff, "max-backoff", 0, "Back off failing polls up to this delay; 0 keeps the interval fixed (DMSYNC_MAX_BACKOFF)")
	f.BoolVar(&flagKeepReadState, "keep-read-state", false, "Keep the persisted last-seen map when watch exits (DMSYNC_KEEP_READ_STATE)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlags copies explicitly set flags over the environment values.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	changed := cmd.Flags().Changed
	if changed("api-url") {
		c.APIURL = flagAPIURL
	}
	if changed("token") {
		c.Token = flagToken
	}
	if changed("user-id") {
		c.UserID = flagUserID
	}
	if changed("state-backend") {
		c.StateBackend = flagStateBackend
	}
	if changed("state-dir") {
		c.StateDir = flagStateDir
	}
	if changed("redis-url") {
		c.RedisURL = flagRedisURL
	}
	if changed("metrics-addr") {
		c.MetricsAddr = flagMetricsAddr
	}
	if changed("log-level") {
		c.LogLevel = flagLogLevel
	}
	if changed("message-poll") {
		c.MessagePoll = flagMessagePoll
	}
	if changed("conversation-poll") {
		c.ConversationPoll = flagConversationPoll
	}
	if changed("max-backoff") {
		c.MaxBackoff = flagMaxBackoff
	}
	if changed("keep-read-state") {
		c.KeepReadState = flagKeepReadState
	}
}

var errNoToken = errors.New("no token: run `dmsync login` or set DMSYNC_TOKEN")

// identity returns the configured token and user id. Without an explicit
// user id it is taken from the token's subject; the server verifies the
// signature, so the client does not.
func identity(c *config.Config) (token, userID string, err error) {
	if c.Token == "" {
		return "", "", errNoToken
	}
	if c.UserID != "" {
		return c.Token, c.UserID, nil
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return "", "", fmt.Errorf("reading user id from token: %w", err)
	}
	if claims.Subject == "" {
		return "", "", errors.New("token has no subject; set DMSYNC_USER_ID")
	}
	return c.Token, claims.Subject, nil
}

func newClient(token string) *rest.Client {
	return rest.New(cfg.APIURL, token, rest.WithLogger(log.Named("rest")))
}
