// Package teamchat provides a Go client for the TeamChat workspace
// messaging backend: REST access to conversations, messages, and users, plus
// a realtime client that keeps a conversation's local state live over
// STOMP/WebSocket.
//
// Example:
//
//	client := teamchat.NewClient(token)
//
//	convs, _ := client.Conversations.Mine(ctx)
//	page, _ := client.Messages.GetMessages(ctx, convs[0].ID, 0, 20)
//
//	rt := client.Realtime(nil)
//	rt.Connect(ctx)
//	rt.Subscribe(ctx, teamchat.ConversationTopic(convs[0].ID), "ui", handler)
package teamchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger

	Users         *UsersClient
	Conversations *ConversationsClient
	Messages      *MessagesClient
	Interactions  *InteractionsClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient creates a new TeamChat client authenticated with the given
// bearer token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Users = &UsersClient{client: c}
	c.Conversations = &ConversationsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	c.Interactions = &InteractionsClient{client: c}
	return c
}

// SetToken replaces the auth token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Realtime creates the realtime client for this backend. A nil config uses
// the REST client's token and sensible defaults.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Token == "" {
		cfg.Token = c.token
	}
	if cfg.HTTPClient == nil {
		// The REST timeout would sever a long-lived WebSocket.
		hc := *c.httpClient
		hc.Timeout = 0
		cfg.HTTPClient = &hc
	}
	if cfg.Logger == nil {
		cfg.Logger = c.log
	}
	return NewRealtimeClient(c.baseURL, &cfg)
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
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
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// doEnvelope performs a request and unwraps the {code, message, data}
// response envelope, turning non-success codes into *APIError.
func (c *Client) doEnvelope(ctx context.Context, method, path string, body interface{}, query map[string]string) (json.RawMessage, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !env.OK() {
		return nil, env.Err()
	}
	return env.Data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func pageQuery(page, size int) map[string]string {
	return map[string]string{
		"page": strconv.Itoa(page),
		"size": strconv.Itoa(size),
	}
}

// ============================================================================
// Users
// ============================================================================

// UsersClient handles identity and user directory lookups.
type UsersClient struct{ client *Client }

// Me returns the authenticated user's profile.
func (u *UsersClient) Me(ctx context.Context) (*UserProfile, error) {
	data, err := u.client.doEnvelope(ctx, "GET", "/api/users/me", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[UserProfile](data)
}

// List pages through the workspace user directory.
func (u *UsersClient) List(ctx context.Context, page, size int) (*PaginatedUsers, error) {
	data, err := u.client.doEnvelope(ctx, "GET", "/api/users", nil, pageQuery(page, size))
	if err != nil {
		return nil, err
	}
	return decodeJSON[PaginatedUsers](data)
}

// Search finds users by name or email.
func (u *UsersClient) Search(ctx context.Context, keyword string, page, size int) (*PaginatedUsers, error) {
	q := pageQuery(page, size)
	q["keyword"] = keyword
	data, err := u.client.doEnvelope(ctx, "GET", "/api/users/search", nil, q)
	if err != nil {
		return nil, err
	}
	return decodeJSON[PaginatedUsers](data)
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationsClient handles conversation membership and metadata.
type ConversationsClient struct{ client *Client }

// Mine lists the conversations the caller belongs to.
func (cv *ConversationsClient) Mine(ctx context.Context) ([]Conversation, error) {
	data, err := cv.client.doEnvelope(ctx, "GET", "/api/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return convs, nil
}

// Get returns one conversation with its member list.
func (cv *ConversationsClient) Get(ctx context.Context, conversationID int64) (*Conversation, error) {
	data, err := cv.client.doEnvelope(ctx, "GET", "/api/conversations/"+formatID(conversationID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// Create creates a channel or a direct conversation.
func (cv *ConversationsClient) Create(ctx context.Context, req *CreateConversationRequest) (*Conversation, error) {
	data, err := cv.client.doEnvelope(ctx, "POST", "/api/conversations", req, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// Join adds the caller to a public channel.
func (cv *ConversationsClient) Join(ctx context.Context, conversationID int64) (*Conversation, error) {
	data, err := cv.client.doEnvelope(ctx, "POST", "/api/conversations/"+formatID(conversationID)+"/join", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// AddMembers invites users into a conversation.
func (cv *ConversationsClient) AddMembers(ctx context.Context, conversationID int64, userIDs []int64) error {
	_, err := cv.client.doEnvelope(ctx, "POST", "/api/conversations/"+formatID(conversationID)+"/members",
		map[string][]int64{"memberIds": userIDs}, nil)
	return err
}

// RemoveMember removes one user from a conversation.
func (cv *ConversationsClient) RemoveMember(ctx context.Context, conversationID, userID int64) error {
	_, err := cv.client.doEnvelope(ctx, "DELETE",
		"/api/conversations/"+formatID(conversationID)+"/members/"+formatID(userID), nil, nil)
	return err
}

// SetReadMessage advances the caller's read marker in a conversation.
func (cv *ConversationsClient) SetReadMessage(ctx context.Context, conversationID, messageID int64) error {
	_, err := cv.client.doEnvelope(ctx, "POST",
		"/api/conversations/"+formatID(conversationID)+"/read/"+formatID(messageID), nil, nil)
	return err
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles message history and message-level operations. It
// satisfies MessageFetcher and plugs straight into a Paginator.
type MessagesClient struct{ client *Client }

// GetMessages loads one history page, newest-first. Page 0 holds the newest
// messages.
func (m *MessagesClient) GetMessages(ctx context.Context, conversationID int64, page, size int) (*PaginatedMessages, error) {
	data, err := m.client.doEnvelope(ctx, "GET", "/api/messages/"+formatID(conversationID), nil, pageQuery(page, size))
	if err != nil {
		return nil, err
	}
	return decodeJSON[PaginatedMessages](data)
}

// GetMessageContext loads the server-computed page containing a specific
// message, for jump-to-message navigation.
func (m *MessagesClient) GetMessageContext(ctx context.Context, messageID int64, size int) (*PaginatedMessages, error) {
	data, err := m.client.doEnvelope(ctx, "GET", "/api/messages/context/"+formatID(messageID), nil,
		map[string]string{"size": strconv.Itoa(size)})
	if err != nil {
		return nil, err
	}
	return decodeJSON[PaginatedMessages](data)
}

// GetThreadMessages loads a thread root and all its replies.
func (m *MessagesClient) GetThreadMessages(ctx context.Context, threadID int64) ([]Message, error) {
	data, err := m.client.doEnvelope(ctx, "GET", "/api/messages/thread/"+formatID(threadID), nil, nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return msgs, nil
}

// UpdateMessage edits a message's content.
func (m *MessagesClient) UpdateMessage(ctx context.Context, messageID int64, content string) (*Message, error) {
	data, err := m.client.doEnvelope(ctx, "PUT", "/api/messages/"+formatID(messageID),
		map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// RevokeMessage recalls a message for everyone. Revoking twice is harmless.
func (m *MessagesClient) RevokeMessage(ctx context.Context, messageID int64) error {
	_, err := m.client.doEnvelope(ctx, "POST", "/api/messages/revoke/"+formatID(messageID), nil, nil)
	return err
}

// DeleteForMe hides a message from the caller only.
func (m *MessagesClient) DeleteForMe(ctx context.Context, messageID int64) error {
	_, err := m.client.doEnvelope(ctx, "DELETE", "/api/messages/"+formatID(messageID), nil, nil)
	return err
}

// SearchMessages full-text searches within one conversation.
func (m *MessagesClient) SearchMessages(ctx context.Context, conversationID int64, keyword string, page, size int) (*PaginatedMessages, error) {
	q := pageQuery(page, size)
	q["keyword"] = keyword
	data, err := m.client.doEnvelope(ctx, "GET", "/api/messages/search/"+formatID(conversationID), nil, q)
	if err != nil {
		return nil, err
	}
	return decodeJSON[PaginatedMessages](data)
}

// ============================================================================
// Interactions
// ============================================================================

// InteractionsClient handles attachment uploads and pin auxiliary queries.
// Reactions, pins, and typing travel over the realtime client, not REST.
type InteractionsClient struct{ client *Client }

// AttachmentUpload is one file to attach to a message.
type AttachmentUpload struct {
	FileName string
	Data     []byte
}

// UploadAttachments uploads files and returns the stored attachment records
// whose ids go into SendMessageRequest.URLs.
func (in *InteractionsClient) UploadAttachments(ctx context.Context, uploads []AttachmentUpload) ([]Attachment, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("no files to upload")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, up := range uploads {
		name := up.FileName
		if name == "" {
			return nil, fmt.Errorf("fileName is required")
		}
		part, err := w.CreateFormFile("files", filepath.Base(name))
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(up.Data); err != nil {
			return nil, fmt.Errorf("failed to write file data: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", in.client.baseURL+"/api/attachments", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if in.client.token != "" {
		req.Header.Set("Authorization", "Bearer "+in.client.token)
	}

	resp, err := in.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("upload failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if !env.OK() {
		return nil, env.Err()
	}
	var attachments []Attachment
	if err := json.Unmarshal(env.Data, &attachments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return attachments, nil
}

// PinLimitReached reports whether a conversation is at its pinned-message
// cap, so the client can refuse before publishing a pin.
func (in *InteractionsClient) PinLimitReached(ctx context.Context, conversationID int64) (bool, error) {
	data, err := in.client.doEnvelope(ctx, "GET", "/api/messages/pins/limit/"+formatID(conversationID), nil, nil)
	if err != nil {
		return false, err
	}
	var reached bool
	if err := json.Unmarshal(data, &reached); err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return reached, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
