package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ChatErrRoomNotFound is the errorType reported by groups.info for unknown rooms.
const ChatErrRoomNotFound = "error-room-not-found"

const maxChatResponseBytes = 8 << 20

// ChatAPI is the subset of the chat REST API used by the synchronizer.
type ChatAPI interface {
	Session() (ChatSession, error)
	GroupInfo(ctx context.Context, name string) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	CreateGroup(ctx context.Context, name string) (*Room, error)
}

var _ ChatAPI = (*ChatClient)(nil)

// Room is a chat room as returned by groups.info, rooms.get and groups.create.
type Room struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Type string `json:"t,omitempty"` // "p" private group, "c" channel, "d" direct
}

// ChatError is a failed chat API call. Callers can use errors.As:
//
//	var chatErr *ChatError
//	if errors.As(err, &chatErr) && chatErr.Code == ChatErrRoomNotFound { ... }
type ChatError struct {
	// Code is the remote errorType (may be empty).
	Code string
	// Message is the remote error text.
	Message string
	// StatusCode is the HTTP status of the response.
	StatusCode int
}

func (e *ChatError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("chat: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("chat: (%d): %s", e.StatusCode, e.Message)
}

// IsChatError reports whether err is a *ChatError with the given code.
func IsChatError(err error, code string) bool {
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr.Code == code
	}
	return false
}

// chat REST payloads

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	Status string `json:"status"`
	Data   struct {
		AuthToken string `json:"authToken"`
		UserID    string `json:"userId"`
	} `json:"data"`
}

type chatStatus struct {
	Success   bool   `json:"success"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
	Message   string `json:"message,omitempty"`
}

type groupResponse struct {
	chatStatus
	Group *Room `json:"group"`
}

type roomsResponse struct {
	chatStatus
	Update []Room `json:"update"`
}

type createGroupRequest struct {
	Name string `json:"name"`
}

// GroupInfo looks up a private group by name. A response without success or
// without group._id is returned as *ChatError.
func (c *ChatClient) GroupInfo(ctx context.Context, name string) (*Room, error) {
	var resp groupResponse
	path := "/api/v1/groups.info?roomName=" + url.QueryEscape(name)
	if err := c.doJSON(ctx, http.MethodGet, path, true, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Group == nil || resp.Group.ID == "" {
		return nil, resp.asError(http.StatusOK, "group info without group id")
	}
	return resp.Group, nil
}

// ListRooms returns every room visible to the authenticated user.
func (c *ChatClient) ListRooms(ctx context.Context) ([]Room, error) {
	var resp roomsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/rooms.get", true, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, resp.asError(http.StatusOK, "room listing failed")
	}
	return resp.Update, nil
}

// CreateGroup creates a private group.
func (c *ChatClient) CreateGroup(ctx context.Context, name string) (*Room, error) {
	var resp groupResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/groups.create", true, createGroupRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, resp.asError(http.StatusOK, "group creation failed")
	}
	if resp.Group == nil {
		return &Room{Name: name, Type: "p"}, nil
	}
	return resp.Group, nil
}

func (s chatStatus) asError(status int, fallback string) *ChatError {
	msg := firstNonEmpty(s.Error, s.Message, fallback)
	return &ChatError{Code: s.ErrorType, Message: msg, StatusCode: status}
}

// doJSON performs one request against the chat server. Responses with status
// >= 300 become *ChatError, using the JSON error body when there is one.
func (c *ChatClient) doJSON(ctx context.Context, method, path string, authenticated bool, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authenticated {
		for k, v := range c.AuthenticationHeaders() {
			req.Header[k] = v
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChatResponseBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var st chatStatus
		_ = json.Unmarshal(data, &st)
		return st.asError(resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("chat: decode %s response: %w", path, err)
	}
	return nil
}
