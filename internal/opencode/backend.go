// internal/opencode/backend.go
// Package opencode adapts an opencode server to the session collaborator
// contracts: prompts, aborts, server-sent events and message history.
package opencode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
	"github.com/tidwall/gjson"

	"ineffable/internal/session"
	"ineffable/internal/transcript"
)

// Config selects the server, working directory and model
type Config struct {
	BaseURL    string
	Directory  string
	ProviderID string
	ModelID    string
	Timeout    time.Duration
}

// Backend talks to an opencode server
type Backend struct {
	client *opencode.Client
	http   *http.Client
	cfg    Config
	log    *slog.Logger

	mu      sync.Mutex
	streams map[string]*eventStream // open stream per session
}

// New creates a backend for the server in cfg
func New(cfg Config) *Backend {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Backend{
		client:  opencode.NewClient(option.WithBaseURL(cfg.BaseURL)),
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		log:     slog.Default().With("component", "opencode"),
		streams: make(map[string]*eventStream),
	}
}

// CreateSession creates a session in the configured directory. opencode
// names sessions itself, so title is only logged.
func (b *Backend) CreateSession(ctx context.Context, title string) (session.Info, error) {
	params := opencode.SessionNewParams{}
	if b.cfg.Directory != "" {
		params.Directory = opencode.F(b.cfg.Directory)
	}
	s, err := b.client.Session.New(ctx, params)
	if err != nil {
		return session.Info{}, fmt.Errorf("create session: %w", err)
	}
	b.log.Debug("created session", "session", s.ID, "requested_title", title)
	return session.Info{ID: s.ID, Title: s.Title, CreatedAt: time.Now()}, nil
}

// ListSessions returns the server's sessions
func (b *Backend) ListSessions(ctx context.Context) ([]session.Info, error) {
	body, err := b.get(ctx, "/session")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []session.Info
	gjson.ParseBytes(body).ForEach(func(_, v gjson.Result) bool {
		out = append(out, decodeSession(v))
		return true
	})
	return out, nil
}

// GetSession fetches one session
func (b *Backend) GetSession(ctx context.Context, id string) (session.Info, error) {
	body, err := b.get(ctx, "/session/"+url.PathEscape(id))
	if err != nil {
		return session.Info{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return decodeSession(gjson.ParseBytes(body)), nil
}

// Title returns the current session title
func (b *Backend) Title(ctx context.Context, sessionID string) (string, error) {
	s, err := b.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return s.Title, nil
}

// History returns the session's messages flattened into persisted records
func (b *Backend) History(ctx context.Context, sessionID string) ([]transcript.Record, error) {
	body, err := b.get(ctx, "/session/"+url.PathEscape(sessionID)+"/message")
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", sessionID, err)
	}
	return decodeHistory(body), nil
}

// OpenStream subscribes to the server's event feed for one session
func (b *Backend) OpenStream(ctx context.Context, sessionID string) (session.EventStream, error) {
	params := opencode.EventListParams{}
	if b.cfg.Directory != "" {
		params.Directory = opencode.F(b.cfg.Directory)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := newEventStream(sessionID, cancel, b.log.With("session", sessionID))
	b.track(sessionID, s)

	go s.readLoop(b.client.Event.ListStreaming(streamCtx, params))
	return s, nil
}

// track makes s the session's open stream until it is closed
func (b *Backend) track(sessionID string, s *eventStream) {
	s.onClose = func() {
		b.mu.Lock()
		if b.streams[sessionID] == s {
			delete(b.streams, sessionID)
		}
		b.mu.Unlock()
	}
	b.mu.Lock()
	b.streams[sessionID] = s
	b.mu.Unlock()
}

// Submit sends the prompt. The prompt call blocks until the model is done,
// so it runs in the background and a failure is delivered on the stream that
// was open when Submit was called. A later submission's stream never sees it.
func (b *Backend) Submit(ctx context.Context, sessionID, prompt string) error {
	params := opencode.SessionPromptParams{
		Parts: opencode.F([]opencode.SessionPromptParamsPartUnion{
			&opencode.TextPartInputParam{
				Type: opencode.F(opencode.TextPartInputTypeText),
				Text: opencode.F(prompt),
			},
		}),
	}
	if b.cfg.Directory != "" {
		params.Directory = opencode.F(b.cfg.Directory)
	}
	if b.cfg.ProviderID != "" && b.cfg.ModelID != "" {
		params.Model = opencode.F(opencode.SessionPromptParamsModel{
			ProviderID: opencode.F(b.cfg.ProviderID),
			ModelID:    opencode.F(b.cfg.ModelID),
		})
	}

	// The run's context ends when its stream does, which may be before the
	// prompt call returns.
	promptCtx := context.WithoutCancel(ctx)
	b.mu.Lock()
	s := b.streams[sessionID]
	b.mu.Unlock()
	go func() {
		if _, err := b.client.Session.Prompt(promptCtx, sessionID, params); err != nil {
			b.log.Warn("prompt failed", "session", sessionID, "error", err)
			if s != nil && !s.inject(transcript.Failure(err.Error())) {
				b.log.Debug("dropping prompt failure for closed stream", "session", sessionID)
			}
		}
	}()
	return nil
}

// Cancel aborts the session's running task
func (b *Backend) Cancel(ctx context.Context, sessionID string) error {
	params := opencode.SessionAbortParams{}
	if b.cfg.Directory != "" {
		params.Directory = opencode.F(b.cfg.Directory)
	}
	if _, err := b.client.Session.Abort(ctx, sessionID, params); err != nil {
		return fmt.Errorf("abort %s: %w", sessionID, err)
	}
	return nil
}

func (b *Backend) get(ctx context.Context, path string) ([]byte, error) {
	u := b.cfg.BaseURL + path
	if b.cfg.Directory != "" {
		u += "?directory=" + url.QueryEscape(b.cfg.Directory)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func decodeSession(v gjson.Result) session.Info {
	info := session.Info{
		ID:    v.Get("id").String(),
		Title: v.Get("title").String(),
	}
	if ms := v.Get("time.created"); ms.Exists() {
		info.CreatedAt = time.UnixMilli(ms.Int())
	}
	if ms := v.Get("time.updated"); ms.Exists() {
		info.UpdatedAt = time.UnixMilli(ms.Int())
	}
	return info
}
