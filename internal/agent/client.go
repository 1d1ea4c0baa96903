// internal/agent/client.go
// Package agent is the client for the native agent service: REST calls for
// sessions and history, a WebSocket for live task events.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"ineffable/internal/session"
	"ineffable/internal/transcript"
)

// Client talks to one agent service endpoint
type Client struct {
	baseURL string
	http    *retryClient
	dialer  *websocket.Dialer
	log     *slog.Logger
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, retry RetryConfig, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newRetryClient(retry, timeout),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		log: slog.Default().With("component", "agent"),
	}
}

// BaseURL returns the endpoint the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListSessions returns all sessions on the server
func (c *Client) ListSessions(ctx context.Context) ([]session.Info, error) {
	body, err := c.get(ctx, "/api/sessions")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	list := gjson.ParseBytes(body)
	if !list.IsArray() {
		list = list.Get("sessions")
	}
	var sessions []session.Info
	list.ForEach(func(_, value gjson.Result) bool {
		sessions = append(sessions, decodeSession(value))
		return true
	})
	return sessions, nil
}

// CreateSession starts a new session with the given title
func (c *Client) CreateSession(ctx context.Context, title string) (session.Info, error) {
	payload, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return session.Info{}, fmt.Errorf("encode session: %w", err)
	}
	body, err := c.send(ctx, http.MethodPost, "/api/sessions", payload)
	if err != nil {
		return session.Info{}, fmt.Errorf("create session: %w", err)
	}
	s := decodeSession(gjson.ParseBytes(body))
	if s.ID == "" {
		return session.Info{}, fmt.Errorf("create session: response has no id")
	}
	return s, nil
}

// GetSession fetches one session
func (c *Client) GetSession(ctx context.Context, id string) (session.Info, error) {
	body, err := c.get(ctx, "/api/sessions/"+url.PathEscape(id))
	if err != nil {
		return session.Info{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return decodeSession(gjson.ParseBytes(body)), nil
}

// Title returns the current session title
func (c *Client) Title(ctx context.Context, sessionID string) (string, error) {
	s, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return s.Title, nil
}

// History returns the persisted records of a session
func (c *Client) History(ctx context.Context, sessionID string) ([]transcript.Record, error) {
	body, err := c.get(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/messages")
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", sessionID, err)
	}

	list := gjson.ParseBytes(body)
	if !list.IsArray() {
		list = list.Get("messages")
	}
	var records []transcript.Record
	list.ForEach(func(_, value gjson.Result) bool {
		rec := transcript.Record{
			Role:    value.Get("role").String(),
			Content: value.Get("content").String(),
		}
		if ts := value.Get("timestamp"); ts.Exists() && ts.Type == gjson.Number {
			v := ts.Float()
			rec.Timestamp = &v
		}
		records = append(records, rec)
		return true
	})
	return records, nil
}

// Submit posts a prompt; the response arrives on the event stream
func (c *Client) Submit(ctx context.Context, sessionID, prompt string) error {
	payload, err := json.Marshal(map[string]string{"content": prompt})
	if err != nil {
		return fmt.Errorf("encode prompt: %w", err)
	}
	if _, err := c.send(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/messages", payload); err != nil {
		return fmt.Errorf("submit to %s: %w", sessionID, err)
	}
	return nil
}

// Cancel asks the service to stop the session's running task
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	if _, err := c.send(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/cancel", nil); err != nil {
		return fmt.Errorf("cancel %s: %w", sessionID, err)
	}
	return nil
}

// OpenStream connects to the session's live event WebSocket
func (c *Client) OpenStream(ctx context.Context, sessionID string) (session.EventStream, error) {
	u, err := url.Parse(c.baseURL + "/api/sessions/" + url.PathEscape(sessionID) + "/events")
	if err != nil {
		return nil, fmt.Errorf("event url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial events: %w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial events: %w", err)
	}
	c.log.Debug("event stream open", "session", sessionID)
	return newStream(conn, c.log.With("session", sessionID)), nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, nil)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	req, err := newRequestWithBody(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = string(bytes.TrimSpace(body))
		}
		if msg == "" {
			return nil, statusError(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", statusError(resp.StatusCode), msg)
	}
	return body, nil
}

func decodeSession(v gjson.Result) session.Info {
	title := v.Get("title").String()
	if title == "" {
		title = v.Get("name").String()
	}
	return session.Info{
		ID:        v.Get("id").String(),
		Title:     title,
		CreatedAt: decodeTime(v.Get("created_at")),
		UpdatedAt: decodeTime(v.Get("updated_at")),
	}
}

// decodeTime accepts RFC 3339 strings and unix seconds or milliseconds
func decodeTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		n := v.Int()
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, v.String())
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}
