// Package rest is the thin bearer-token JSON client for the chat backend's
// non-realtime endpoints. It supplements the websocket stream; it never
// mutates local state itself.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/merchantdesk/chatsync/internal/chat"
	"github.com/merchantdesk/chatsync/internal/wire"
)

const defaultTimeout = 10 * time.Second

// User is a directory entry returned by the user search endpoint.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Client talks to the chat REST API with a bearer token.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a client for the given API base URL
// (e.g. https://api.example.com).
func NewClient(base, token string) *Client {
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: defaultTimeout},
	}
}

// Conversations fetches the conversation list, normalized the same way as a
// conversations_list frame.
func (c *Client) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	var rows []wire.ConversationSummary
	if err := c.get(ctx, "/api/chat/conversations", nil, &rows); err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	out := make([]chat.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToConversation())
	}
	return out, nil
}

// MarkRead marks every message in a conversation as read on the server. The
// caller resets the local unread count; the next list refresh would reflect
// it anyway.
func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	path := "/api/chat/mark-read/" + strconv.FormatInt(conversationID, 10)
	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mark read: %s", resp.Status)
	}
	return nil
}

// SearchUsers looks up directory users by name or email fragment.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	q := url.Values{"q": {query}}
	if err := c.get(ctx, "/api/chat/search-users", q, &users); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}
