package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotAuthenticated is returned when a chat session is required but the
	// client never completed authentication.
	ErrNotAuthenticated = errors.New("chat client is not authenticated")
	// ErrAuthRejected means the login endpoint did not report status "success".
	ErrAuthRejected = errors.New("chat login rejected")
	// ErrAuthIncomplete means login succeeded but authToken or userId was missing.
	ErrAuthIncomplete = errors.New("chat login response missing credentials")
	// ErrAuthInProgress is returned when Authenticate is called concurrently.
	ErrAuthInProgress = errors.New("chat authentication already in progress")
)

// Authentication modes reported by ChatClient.Mode.
const (
	AuthModeToken    = "token"
	AuthModePassword = "password"
)

const defaultChatHTTPTimeout = 30 * time.Second

// AuthState is the session lifecycle of a ChatClient.
type AuthState int

const (
	AuthUnauthenticated AuthState = iota
	AuthAuthenticating
	AuthAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case AuthAuthenticating:
		return "authenticating"
	case AuthAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// ChatSession is the resolved token pair used on authenticated calls.
type ChatSession struct {
	UserID    string
	AuthToken string
}

// ChatClient holds credentials for the chat REST API.
// Credentials do not change once authentication succeeded.
type ChatClient struct {
	httpClient *http.Client
	baseURL    string
	useToken   bool
	username   string
	password   string

	mu        sync.RWMutex
	state     AuthState
	authToken string
	userID    string
	lastErr   error
}

// ChatClientOption customises a ChatClient before it authenticates.
type ChatClientOption func(*ChatClient)

// WithHTTPClient replaces the default HTTP client (30s timeout).
func WithHTTPClient(client *http.Client) ChatClientOption {
	return func(c *ChatClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithChatTimeout sets the timeout of the default HTTP client.
func WithChatTimeout(d time.Duration) ChatClientOption {
	return func(c *ChatClient) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// ChatClientOptions returns the client options derived from process config.
func ChatClientOptions(cfg Config) []ChatClientOption {
	return []ChatClientOption{WithChatTimeout(cfg.ChatHTTPTimeout)}
}

// NewChatClient builds a client from settings. In static token mode it is
// authenticated immediately without any request; otherwise it logs in once.
// A failed login is not returned as an error: the client stays unauthenticated
// and the reason is available from LastAuthError.
func NewChatClient(ctx context.Context, settings ChatSettings, opts ...ChatClientOption) (*ChatClient, error) {
	if strings.TrimSpace(settings.Host) == "" {
		return nil, fmt.Errorf("%w: chat host is empty", ErrInvalidSetting)
	}

	c := &ChatClient{
		httpClient: &http.Client{Timeout: defaultChatHTTPTimeout},
		baseURL:    settings.BaseURL(),
		useToken:   settings.UseToken,
		username:   settings.Username,
		password:   settings.Password,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.useToken {
		c.userID = settings.Username
		c.authToken = settings.Password
		c.state = AuthAuthenticated
		log.Printf("chat client using static token user=%s url=%s", c.userID, c.baseURL)
		return c, nil
	}

	if err := c.Authenticate(ctx); err != nil {
		log.Printf("chat login failed user=%s url=%s: %v", c.username, c.baseURL, err)
	}
	return c, nil
}

// Authenticate exchanges username/password for a session token.
// It is a no-op on an authenticated client.
func (c *ChatClient) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case AuthAuthenticated:
		c.mu.Unlock()
		return nil
	case AuthAuthenticating:
		c.mu.Unlock()
		return ErrAuthInProgress
	}
	c.state = AuthAuthenticating
	c.mu.Unlock()

	token, userID, err := c.requestLoginCredentials(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = AuthUnauthenticated
		c.lastErr = err
		return err
	}
	c.authToken = token
	c.userID = userID
	c.state = AuthAuthenticated
	c.lastErr = nil
	log.Printf("chat login succeeded user=%s token=%s", userID, MaskSecret(token))
	return nil
}

func (c *ChatClient) requestLoginCredentials(ctx context.Context) (string, string, error) {
	req := loginRequest{User: c.username, Password: c.password}
	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/login", false, req, &resp); err != nil {
		var chatErr *ChatError
		if errors.As(err, &chatErr) {
			return "", "", fmt.Errorf("%w: %w", ErrAuthRejected, err)
		}
		return "", "", fmt.Errorf("chat: login request failed: %w", err)
	}
	if resp.Status != "success" {
		return "", "", fmt.Errorf("%w: status %q", ErrAuthRejected, resp.Status)
	}
	if resp.Data.AuthToken == "" || resp.Data.UserID == "" {
		return "", "", ErrAuthIncomplete
	}
	return resp.Data.AuthToken, resp.Data.UserID, nil
}

// AuthenticationHeaders returns X-Auth-Token and X-User-Id built from the
// current credentials. Before authentication the values are empty; use
// Session when the caller needs to know.
func (c *ChatClient) AuthenticationHeaders() http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := http.Header{}
	h.Set("X-Auth-Token", c.authToken)
	h.Set("X-User-Id", c.userID)
	return h
}

// Session returns the token pair, or ErrNotAuthenticated wrapping the last
// login failure.
func (c *ChatClient) Session() (ChatSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != AuthAuthenticated {
		if c.lastErr != nil {
			return ChatSession{}, fmt.Errorf("%w: %w", ErrNotAuthenticated, c.lastErr)
		}
		return ChatSession{}, ErrNotAuthenticated
	}
	return ChatSession{UserID: c.userID, AuthToken: c.authToken}, nil
}

func (c *ChatClient) Authenticated() bool {
	return c.State() == AuthAuthenticated
}

func (c *ChatClient) State() AuthState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastAuthError is the reason of the most recent failed login, if any.
func (c *ChatClient) LastAuthError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *ChatClient) BaseURL() string { return c.baseURL }

// Mode reports whether the client uses a static token or a password login.
func (c *ChatClient) Mode() string {
	if c.useToken {
		return AuthModeToken
	}
	return AuthModePassword
}
