// Package api is the REST counterpart of the websocket channel: history,
// queue snapshots, room lifecycle and credentials.
package api

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

	"github.com/vovakirdan/supportline/internal/proto"
)

// ErrNoToken rejects authenticated calls before Login or SetToken.
var ErrNoToken = errors.New("api: no credential")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Client talks to the REST API. It is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client

	mu    sync.RWMutex
	token string
}

// New builds a client for baseURL, e.g. http://localhost:8080.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: u, http: httpClient}, nil
}

// SetToken installs the bearer credential.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current credential.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Register creates an account and keeps the returned credential.
func (c *Client) Register(ctx context.Context, username, password string, role proto.Role) (proto.AuthResponse, error) {
	var out proto.AuthResponse
	body := proto.Credentials{Username: username, Password: password, Role: role}
	if err := c.do(ctx, http.MethodPost, "/api/register", false, body, &out); err != nil {
		return proto.AuthResponse{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// Login exchanges a password for a credential and keeps it.
func (c *Client) Login(ctx context.Context, username, password string) (proto.AuthResponse, error) {
	var out proto.AuthResponse
	body := proto.Credentials{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/login", false, body, &out); err != nil {
		return proto.AuthResponse{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// Me returns the identity behind the current credential.
func (c *Client) Me(ctx context.Context) (proto.Sender, error) {
	var out proto.Sender
	if err := c.do(ctx, http.MethodGet, "/api/me", true, nil, &out); err != nil {
		return proto.Sender{}, fmt.Errorf("me: %w", err)
	}
	return out, nil
}

// Rooms lists the rooms the caller takes part in, newest first.
func (c *Client) Rooms(ctx context.Context) ([]proto.Room, error) {
	var out []proto.Room
	if err := c.do(ctx, http.MethodGet, "/api/rooms", true, nil, &out); err != nil {
		return nil, fmt.Errorf("rooms: %w", err)
	}
	return out, nil
}

// Metrics returns the admin dashboard snapshot.
func (c *Client) Metrics(ctx context.Context) (proto.MetricsSnapshot, error) {
	var out proto.MetricsSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/admin/metrics", true, nil, &out); err != nil {
		return proto.MetricsSnapshot{}, fmt.Errorf("metrics: %w", err)
	}
	return out, nil
}

// History returns a room's messages, oldest first.
func (c *Client) History(ctx context.Context, roomID string) ([]proto.Message, error) {
	var out []proto.Message
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID)+"/messages", true, nil, &out); err != nil {
		return nil, fmt.Errorf("history %s: %w", roomID, err)
	}
	return out, nil
}

// QueueSnapshot returns the waiting queue.
func (c *Client) QueueSnapshot(ctx context.Context) ([]proto.QueueEntry, error) {
	var out []proto.QueueEntry
	if err := c.do(ctx, http.MethodGet, "/api/queue", true, nil, &out); err != nil {
		return nil, fmt.Errorf("queue snapshot: %w", err)
	}
	return out, nil
}

// CreateRoom opens a support request for the authenticated student.
func (c *Client) CreateRoom(ctx context.Context, topic string, urgency proto.Urgency) (proto.Room, error) {
	var out proto.Room
	body := proto.CreateRoomRequest{Topic: topic, Urgency: urgency}
	if err := c.do(ctx, http.MethodPost, "/api/rooms", true, body, &out); err != nil {
		return proto.Room{}, fmt.Errorf("create room: %w", err)
	}
	return out, nil
}

// Resolve marks a room resolved.
func (c *Client) Resolve(ctx context.Context, roomID string) (proto.Room, error) {
	return c.transition(ctx, roomID, "resolve")
}

// CloseRoom closes a room without resolution.
func (c *Client) CloseRoom(ctx context.Context, roomID string) (proto.Room, error) {
	return c.transition(ctx, roomID, "close")
}

func (c *Client) transition(ctx context.Context, roomID, action string) (proto.Room, error) {
	var out proto.Room
	path := "/api/rooms/" + url.PathEscape(roomID) + "/" + action
	if err := c.do(ctx, http.MethodPost, path, true, nil, &out); err != nil {
		return proto.Room{}, fmt.Errorf("%s %s: %w", action, roomID, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, authed bool, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := c.Token()
		if token == "" {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er proto.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &er) != nil || er.Error == "" {
			er.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: er.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
