// Package backend talks to the commentary backend over HTTP and WebSocket.
package backend

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

	"github.com/dgnsrekt/sportscaster/internal/config"
)

// Session is the reply to POST /api/start.
type Session struct {
	SessionID string  `json:"session_id"`
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	VideoURL  string  `json:"video_url"`
}

// ChatMessage is one turn of the onboarding chat.
type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ChatReply is the reply to POST /api/profile-chat. Profile is set once the
// backend decides onboarding is done.
type ChatReply struct {
	Text    string          `json:"text"`
	Audio   string          `json:"audio,omitempty"`
	Done    bool            `json:"done"`
	Profile *config.Profile `json:"profile,omitempty"`
}

// APIError is a non-2xx backend reply.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("Server error: %d", e.Status)
}

// Client is the backend HTTP client.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// NewClient parses baseURL (for example http://localhost:8000).
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse backend url: unsupported scheme %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{baseURL: u, http: httpClient}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// LiveURL is the socket the capture helper streams frames to.
func (c *Client) LiveURL() string { return c.wsURL("/ws/live") }

// SessionURL is the socket a downloaded-video session reads commentary from.
func (c *Client) SessionURL(sessionID string) string {
	return c.wsURL("/ws/" + url.PathEscape(sessionID))
}

// ResolveURL resolves a backend-relative path such as a video_url.
func (c *Client) ResolveURL(ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.baseURL.ResolveReference(r).String()
}

func (c *Client) wsURL(path string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

// Health returns nil when the backend answers /api/health with status ok.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("backend unhealthy: status %q", out.Status)
	}
	return nil
}

// Start asks the backend to fetch a video and open a commentary session.
func (c *Client) Start(ctx context.Context, videoURL string) (Session, error) {
	var out Session
	body := map[string]string{"url": videoURL}
	if err := c.do(ctx, http.MethodPost, "/api/start", body, &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

// ProfileChat sends the conversation so far and returns the next turn.
func (c *Client) ProfileChat(ctx context.Context, history []ChatMessage) (ChatReply, error) {
	if history == nil {
		history = []ChatMessage{}
	}
	var out ChatReply
	body := map[string]any{"messages": history}
	if err := c.do(ctx, http.MethodPost, "/api/profile-chat", body, &out); err != nil {
		return ChatReply{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// apiError prefers the backend's detail field when it is a plain string.
func apiError(status int, body []byte) error {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	e := &APIError{Status: status}
	if json.Unmarshal(body, &payload) == nil && len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			e.Detail = s
		}
	}
	return e
}
