// Package telechat implements the conversation synchronization core of the
// Telvia telemedicine chat: optimistic message delivery reconciled with
// server confirmations, a realtime push channel with request/response
// fallback, decaying presence and typing signals, and a recency-ordered
// conversation index.
//
// Example:
//
//	client := telechat.NewClient("tv-token-...")
//	rt := telechat.NewRealtimeClient(client, &telechat.RealtimeConfig{AutoReconnect: true})
//
//	session := telechat.NewSession(client, rt, nil)
//	session.Init(ctx)
//	defer session.Teardown()
//
//	session.OpenConversation(ctx, "conv-123")
//	session.SendMessage(ctx, "conv-123", "doctor-7", "Hello")
package telechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production Telvia API endpoint.
	DefaultBaseURL = "https://api.telvia.health"

	// DefaultTimeout bounds every secondary-channel request.
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the request/response API client. It doubles as the secondary
// delivery channel: strictly slower than the realtime channel but a
// definitive request/response, used when the realtime link is down.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new Telvia chat client authenticated with the
// session token issued at login.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
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

// BaseURL returns the configured API endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
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
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
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
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result APIResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func resultErr(result *APIResult, op string) error {
	if result.Error != nil {
		return fmt.Errorf("%s: %w", op, result.Error)
	}
	return fmt.Errorf("%s failed", op)
}

// ============================================================================
// Secondary delivery channel
// ============================================================================

// SendMessage delivers a message over the request/response channel and
// returns the server-confirmed message. The wire call has no notion of a
// correlation ID; the caller threads it through client-side.
func (c *Client) SendMessage(ctx context.Context, receiverID, content string) (*Message, error) {
	result, err := c.doRequest(ctx, "POST", "/api/chat/messages", map[string]string{
		"receiverId": receiverID,
		"content":    content,
	}, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultErr(result, "send message")
	}
	var msg Message
	if err := result.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

// ============================================================================
// Conversation bootstrap
// ============================================================================

// FetchMessages returns the message history of a conversation, oldest
// first. These seed the MessageStore when a conversation is opened.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]Message, error) {
	result, err := c.doRequest(ctx, "GET", "/api/chat/conversations/"+conversationID+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultErr(result, "fetch messages")
	}
	var msgs []Message
	if err := result.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}

// ListConversations returns the user's conversations with preview
// snapshots and unread counts.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	result, err := c.doRequest(ctx, "GET", "/api/chat/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultErr(result, "list conversations")
	}
	var convos []Conversation
	if err := result.Decode(&convos); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return convos, nil
}

// StartConversation creates (or returns the existing) conversation with
// another user.
func (c *Client) StartConversation(ctx context.Context, userID string) (*Conversation, error) {
	result, err := c.doRequest(ctx, "POST", "/api/chat/conversations", map[string]string{
		"userId": userID,
	}, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultErr(result, "start conversation")
	}
	var convo Conversation
	if err := result.Decode(&convo); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &convo, nil
}

// RequestConversation files a patient-initiated chat request that the
// doctor must accept before messaging begins. Returns whether the
// request was accepted (an already-accepted pair returns true).
func (c *Client) RequestConversation(ctx context.Context, doctorID string) (bool, error) {
	result, err := c.doRequest(ctx, "POST", "/api/chat/requests", map[string]string{
		"doctorId": doctorID,
	}, nil)
	if err != nil {
		return false, err
	}
	if !result.OK {
		return false, resultErr(result, "request conversation")
	}
	var accepted struct {
		Accepted bool `json:"accepted"`
	}
	if err := result.Decode(&accepted); err != nil {
		return false, fmt.Errorf("failed to decode request result: %w", err)
	}
	return accepted.Accepted, nil
}

// MarkConversationRead reports the conversation as read. Used as the
// read-receipt fallback when the realtime channel is down.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	result, err := c.doRequest(ctx, "POST", "/api/chat/conversations/"+conversationID+"/read", nil, nil)
	if err != nil {
		return err
	}
	if !result.OK {
		return resultErr(result, "mark conversation read")
	}
	return nil
}

// Me returns the authenticated user's chat profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	result, err := c.doRequest(ctx, "GET", "/api/chat/me", nil, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultErr(result, "fetch profile")
	}
	var profile Profile
	if err := result.Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

// Profile is the authenticated user's chat identity.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"` // "patient" or "doctor"
}
