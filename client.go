// Package chatsync implements the conversation synchronization core of the
// Pickleball Community client: the conversation list, per-conversation message
// timelines with backward pagination, optimistic sends, typing indicators, and
// the reconciliation of realtime push events into that local state.
//
// The usual entry point is a Session:
//
//	api := chatsync.NewClient("https://api.pickleball.community", token)
//	sess := chatsync.NewSession(api, chatsync.Identity{UserID: 12, DisplayName: "Sam"})
//	if err := sess.Start(ctx); err != nil { ... }
//	defer sess.Stop()
//
//	sess.SelectConversation(ctx, 42)
//	sess.Sends().Send(ctx, 42, "see you at court 3")
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every REST call made by the client.
const DefaultTimeout = 30 * time.Second

// Client is the REST API client for the community chat endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithClientLogger attaches a structured logger to the client.
func WithClientLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a REST client for the given API base URL and auth token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the auth token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ChannelURL returns the realtime channel endpoint derived from the base URL.
func (c *Client) ChannelURL() string {
	ws := strings.Replace(c.baseURL, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return ws + "/chat/channel"
}

// Token returns the current auth token.
func (c *Client) Token() string {
	return c.token
}

// ============================================================================
// Request plumbing
// ============================================================================

// result is the normalized response envelope every chat endpoint returns.
type result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query map[string]string) (*result, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var res result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, &ShapeError{Endpoint: path, Reason: "response is not the {ok,data,error} envelope"}
	}
	return &res, nil
}

// call performs a request and decodes the envelope data into out. A non-OK
// envelope surfaces the server's APIError; a missing or mismatched data field
// surfaces a ShapeError. Pass nil out for endpoints with no payload.
func (c *Client) call(ctx context.Context, method, path string, body any, query map[string]string, out any) error {
	res, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return err
	}
	if !res.OK {
		if res.Error != nil {
			return res.Error
		}
		return &ShapeError{Endpoint: path, Reason: "ok=false without error detail"}
	}
	if out == nil {
		return nil
	}
	if res.Data == nil {
		return &ShapeError{Endpoint: path, Reason: "missing data field"}
	}
	if err := json.Unmarshal(res.Data, out); err != nil {
		return &ShapeError{Endpoint: path, Reason: err.Error()}
	}
	return nil
}

// ============================================================================
// Endpoints
// ============================================================================

// ListConversations fetches the full conversation list.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convos []Conversation
	if err := c.call(ctx, http.MethodGet, "/api/chat/conversations", nil, nil, &convos); err != nil {
		return nil, err
	}
	return convos, nil
}

// GetMessages fetches one backward page of messages. beforeID 0 requests the
// most recent page; otherwise it is the exclusive cursor.
func (c *Client) GetMessages(ctx context.Context, conversationID, beforeID int64) (*MessagePage, error) {
	var query map[string]string
	if beforeID > 0 {
		query = map[string]string{"before": strconv.FormatInt(beforeID, 10)}
	}
	var page MessagePage
	path := fmt.Sprintf("/api/chat/conversations/%d/messages", conversationID)
	if err := c.call(ctx, http.MethodGet, path, nil, query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetConversationDetail fetches the participant roster and type.
func (c *Client) GetConversationDetail(ctx context.Context, conversationID int64) (*ConversationDetail, error) {
	var detail ConversationDetail
	path := fmt.Sprintf("/api/chat/conversations/%d", conversationID)
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// SendMessage submits a new message and returns the server-confirmed record.
// replyToID 0 means no reply reference.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content, kind string, replyToID int64) (*Message, error) {
	body := map[string]any{"content": content, "kind": kind}
	if replyToID > 0 {
		body["replyToId"] = replyToID
	}
	var msg Message
	path := fmt.Sprintf("/api/chat/conversations/%d/messages", conversationID)
	if err := c.call(ctx, http.MethodPost, path, body, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage updates a message's content and returns the updated record.
func (c *Client) EditMessage(ctx context.Context, conversationID, messageID int64, content string) (*Message, error) {
	var msg Message
	path := fmt.Sprintf("/api/chat/conversations/%d/messages/%d", conversationID, messageID)
	if err := c.call(ctx, http.MethodPatch, path, map[string]string{"content": content}, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage tombstones a message server-side.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID int64) error {
	path := fmt.Sprintf("/api/chat/conversations/%d/messages/%d", conversationID, messageID)
	return c.call(ctx, http.MethodDelete, path, nil, nil, nil)
}

// MarkRead acknowledges the conversation as read.
func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/api/chat/conversations/%d/read", conversationID)
	return c.call(ctx, http.MethodPost, path, nil, nil, nil)
}

// MuteConversation sets the mute flag.
func (c *Client) MuteConversation(ctx context.Context, conversationID int64, muted bool) error {
	path := fmt.Sprintf("/api/chat/conversations/%d/mute", conversationID)
	return c.call(ctx, http.MethodPost, path, map[string]bool{"muted": muted}, nil, nil)
}

// AddParticipants adds users to a conversation.
func (c *Client) AddParticipants(ctx context.Context, conversationID int64, userIDs []int64) error {
	path := fmt.Sprintf("/api/chat/conversations/%d/participants", conversationID)
	return c.call(ctx, http.MethodPost, path, map[string]any{"userIds": userIDs}, nil, nil)
}
