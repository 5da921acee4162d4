// Package deskchat is the client side of the deskchat customer-service chat:
// a REST action client, a real-time event stream, and the synchronization
// engine that folds both into one consistent roster and message view.
package deskchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultMessageLimit is the size of the single initial message load.
const DefaultMessageLimit = 50

// ActionClient is the request/response surface the Engine consumes.
type ActionClient interface {
	ListChats(ctx context.Context) ([]Chat, error)
	ListArchivedChats(ctx context.Context) ([]Chat, error)
	ListAvailableAgents(ctx context.Context) ([]User, error)
	ListAvailableCustomers(ctx context.Context) ([]User, error)
	CreateChat(ctx context.Context, customerID, agentID string) (*Chat, error)
	SendMessage(ctx context.Context, chatID, content string, typ MessageType) (*Message, error)
	ListMessages(ctx context.Context, chatID string, limit, offset int) ([]Message, error)
	ArchiveChat(ctx context.Context, chatID string) error
	UnarchiveChat(ctx context.Context, chatID string) error
}

// Client is a deskchat REST API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Token      string
	User       *User
	HTTPClient *http.Client
}

var _ ActionClient = (*Client)(nil)

// Session is the persisted login of the CLI.
type Session struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// NewClient creates a client for the server at baseURL and loads a saved
// session if one exists.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("DESKCHAT_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".deskchat")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadSession()
	return c
}

// LoadSession loads the saved token and identity from disk.
func (c *Client) LoadSession() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "session.json"))
	if err != nil {
		return err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	c.Token = s.Token
	c.User = s.User
	return nil
}

// SaveSession writes the token and identity to disk.
func (c *Client) SaveSession() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Session{Token: c.Token, User: c.User}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "session.json"), data, 0600)
}

// ClearSession forgets the token and removes the saved session.
func (c *Client) ClearSession() error {
	c.Token = ""
	c.User = nil
	err := os.Remove(filepath.Join(c.ConfigDir, "session.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// StreamURL returns the websocket URL of the event stream, carrying the
// session token.
func (c *Client) StreamURL() string {
	u := c.BaseURL + "/api/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if c.Token != "" {
		u += "?token=" + url.QueryEscape(c.Token)
	}
	return u
}

// envelope is the body of every API response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// doRequest performs an API call and decodes the envelope's data into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode >= 400 {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return decodeErr
	}
	if !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// RegisterRequest is the request body for account registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     Role   `json:"role,omitempty"`
}

// AuthResponse is returned by login and registration.
type AuthResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Register creates an account and keeps its token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/auth/register", req, &resp); err != nil {
		return nil, err
	}
	if err := checkIdentity(resp.User); err != nil {
		return nil, fmt.Errorf("auth response: %w", err)
	}
	c.Token, c.User = resp.Token, &resp.User
	return &resp, nil
}

// Login authenticates and keeps the token.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	body := map[string]string{"username": username, "password": password}

	var resp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return nil, err
	}
	if err := checkIdentity(resp.User); err != nil {
		return nil, fmt.Errorf("auth response: %w", err)
	}
	c.Token, c.User = resp.Token, &resp.User
	return &resp, nil
}

// checkIdentity rejects a signed-in user the engine could not act for.
func checkIdentity(u User) error {
	if u.ID == "" {
		return errors.New("identity has no id")
	}
	_, err := ParseRole(string(u.Role))
	return err
}

// Logout revokes the session on the server and drops the token.
func (c *Client) Logout(ctx context.Context) error {
	err := c.doRequest(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.Token, c.User = "", nil
	return err
}

// Me returns the signed-in identity.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.doRequest(ctx, http.MethodGet, "/api/users/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers lists every user.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := c.doRequest(ctx, http.MethodGet, "/api/users", nil, &users)
	return users, err
}

// UpdateStatus sets the signed-in user's online flag.
func (c *Client) UpdateStatus(ctx context.Context, online bool) error {
	return c.doRequest(ctx, http.MethodPut, "/api/users/status", map[string]bool{"isOnline": online}, nil)
}

// ListChats lists the active chats visible to the signed-in user.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	err := c.doRequest(ctx, http.MethodGet, "/api/chats", nil, &chats)
	return chats, err
}

// ListArchivedChats lists the archived chats visible to the signed-in user.
func (c *Client) ListArchivedChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	err := c.doRequest(ctx, http.MethodGet, "/api/archived-chats", nil, &chats)
	return chats, err
}

// ListAvailableAgents lists agents a customer can start a chat with.
func (c *Client) ListAvailableAgents(ctx context.Context) ([]User, error) {
	var users []User
	err := c.doRequest(ctx, http.MethodGet, "/api/available-agents", nil, &users)
	return users, err
}

// ListAvailableCustomers lists customers an agent can start a chat with.
func (c *Client) ListAvailableCustomers(ctx context.Context) ([]User, error) {
	var users []User
	err := c.doRequest(ctx, http.MethodGet, "/api/available-customers", nil, &users)
	return users, err
}

// GetChat fetches one chat.
func (c *Client) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var chat Chat
	if err := c.doRequest(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID), nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateChatRequest is the request body for chat creation.
type CreateChatRequest struct {
	CustomerID string  `json:"customerId"`
	AgentID    *string `json:"agentId,omitempty"`
}

// CreateChat opens a chat for customerID, assigned to agentID when set.
func (c *Client) CreateChat(ctx context.Context, customerID, agentID string) (*Chat, error) {
	req := CreateChatRequest{CustomerID: customerID}
	if agentID != "" {
		req.AgentID = &agentID
	}

	var chat Chat
	if err := c.doRequest(ctx, http.MethodPost, "/api/chats", req, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// SendMessageRequest is the request body for posting a message.
type SendMessageRequest struct {
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
}

// SendMessage posts a message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID, content string, typ MessageType) (*Message, error) {
	path := fmt.Sprintf("/api/chats/%s/messages", url.PathEscape(chatID))

	var msg Message
	if err := c.doRequest(ctx, http.MethodPost, path, SendMessageRequest{Content: content, Type: typ}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns up to limit messages of a chat in chronological order.
func (c *Client) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]Message, error) {
	path := fmt.Sprintf("/api/chats/%s/messages?limit=%s&offset=%s",
		url.PathEscape(chatID), strconv.Itoa(limit), strconv.Itoa(offset))

	var messages []Message
	err := c.doRequest(ctx, http.MethodGet, path, nil, &messages)
	return messages, err
}

// UpdateChatStatus sets a chat's status directly.
func (c *Client) UpdateChatStatus(ctx context.Context, chatID string, status ChatStatus) error {
	path := fmt.Sprintf("/api/chats/%s/status", url.PathEscape(chatID))
	return c.doRequest(ctx, http.MethodPut, path, map[string]ChatStatus{"status": status}, nil)
}

// ArchiveChat archives a chat.
func (c *Client) ArchiveChat(ctx context.Context, chatID string) error {
	return c.doRequest(ctx, http.MethodPut, fmt.Sprintf("/api/chats/%s/archive", url.PathEscape(chatID)), nil, nil)
}

// UnarchiveChat restores an archived chat.
func (c *Client) UnarchiveChat(ctx context.Context, chatID string) error {
	return c.doRequest(ctx, http.MethodPut, fmt.Sprintf("/api/chats/%s/unarchive", url.PathEscape(chatID)), nil, nil)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. It reads the body even on 503 so a degraded
// server still reports its checks.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, err
	}
	return &h, nil
}
