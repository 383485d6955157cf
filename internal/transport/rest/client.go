// Package rest is the HTTP transport for the conversation API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/moodjournal/dmsync/internal/chatsync"
	"go.uber.org/zap"
)

// StatusError is a non-2xx response. Code and Message come from the
// {"error":{"code","message"}} body when the server sent one.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap lets errors.Is match chatsync.ErrUnauthorized on a 401.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return chatsync.ErrUnauthorized
	}
	return nil
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client implements chatsync.Transport against baseURL (for example
// http://localhost:8080/api/v1) with a bearer token.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger

	mu    sync.RWMutex
	token string
}

var _ chatsync.Transport = (*Client)(nil)

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     zap.NewNop(),
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after a re-login.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Credentials is the result of a successful login.
type Credentials struct {
	Token    string
	UserID   string
	Username string
}

// Login exchanges email and password for a bearer token. It does not change
// the client's own token.
func (c *Client) Login(ctx context.Context, email, password string) (Credentials, error) {
	var resp struct {
		User struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: resp.AccessToken, UserID: resp.User.ID, Username: resp.User.Username}, nil
}

type wireConversation struct {
	ID                   string            `json:"id"`
	Participants         []string          `json:"participants"`
	ParticipantUsernames map[string]string `json:"participant_usernames"`
	LastMessageAt        *time.Time        `json:"last_message_at"`
	LastMessageSenderID  *string           `json:"last_message_sender_id"`
}

type wireMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	ClientID       *string   `json:"client_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

func (c *Client) ListConversations(ctx context.Context) ([]chatsync.Conversation, error) {
	var resp struct {
		Conversations []wireConversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]chatsync.Conversation, 0, len(resp.Conversations))
	for _, w := range resp.Conversations {
		conv := chatsync.Conversation{
			ID:               w.ID,
			Participants:     w.Participants,
			ParticipantNames: w.ParticipantUsernames,
		}
		if w.LastMessageAt != nil {
			conv.LastMessageAt = *w.LastMessageAt
		}
		if w.LastMessageSenderID != nil {
			conv.LastMessageSenderID = *w.LastMessageSenderID
		}
		out = append(out, conv)
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, otherUserID string) (string, error) {
	var resp struct {
		ConversationID string `json:"conversation_id"`
	}
	body := map[string]string{"other_user_id": otherUserID}
	if err := c.do(ctx, http.MethodPost, "/conversations", body, &resp); err != nil {
		return "", err
	}
	if resp.ConversationID == "" {
		return "", errors.New("create conversation: response has no conversation_id")
	}
	return resp.ConversationID, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, since *time.Time) ([]chatsync.Message, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if since != nil {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	var resp struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]chatsync.Message, 0, len(resp.Messages))
	for _, w := range resp.Messages {
		m := chatsync.Message{
			ServerID:       w.ID,
			ConversationID: w.ConversationID,
			SenderID:       w.SenderID,
			SenderName:     w.SenderUsername,
			Text:           w.Text,
			CreatedAt:      w.CreatedAt,
			State:          chatsync.Confirmed,
		}
		if w.ClientID != nil {
			m.ClientID = *w.ClientID
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, text, clientID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	body := map[string]string{"text": text, "client_id": clientID}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); json.Unmarshal(raw, &envelope) == nil {
			serr.Code, serr.Message = envelope.Error.Code, envelope.Error.Message
		}
		c.log.Debug("api error", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%s %s: %w", method, path, serr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
