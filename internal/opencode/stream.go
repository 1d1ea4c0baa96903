// internal/opencode/stream.go
package opencode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/sst/opencode-sdk-go"
	"github.com/tidwall/gjson"

	"ineffable/internal/transcript"
)

// ErrStreamClosed is returned by Next after Close
var ErrStreamClosed = errors.New("event stream closed")

// Part types and tool states sent by the server
const (
	partText      = "text"
	partReasoning = "reasoning"
	partTool      = "tool"

	toolRunning   = "running"
	toolCompleted = "completed"
	toolError     = "error"
)

// sseSource is the server-sent event iterator returned by the SDK
type sseSource interface {
	Next() bool
	Current() opencode.EventListResponse
	Err() error
	Close() error
}

// eventStream turns the server's event feed into protocol events for one
// session
type eventStream struct {
	tr      *translator
	cancel  context.CancelFunc
	events  chan transcript.Event
	errc    chan error
	closed  chan struct{}
	once    sync.Once
	onClose func()
	log     *slog.Logger
}

func newEventStream(sessionID string, cancel context.CancelFunc, log *slog.Logger) *eventStream {
	return &eventStream{
		tr:     newTranslator(sessionID),
		cancel: cancel,
		events: make(chan transcript.Event, 64),
		errc:   make(chan error, 1),
		closed: make(chan struct{}),
		log:    log,
	}
}

func (s *eventStream) readLoop(src sseSource) {
	defer src.Close()

	for src.Next() {
		ev := src.Current()
		props := gjson.Parse(ev.JSON.Properties.Raw())

		if ev.Type == opencode.EventListResponseTypeServerConnected {
			s.log.Debug("event feed connected")
			continue
		}

		for _, out := range s.tr.translate(string(ev.Type), props) {
			if !s.inject(out) {
				return
			}
		}
	}

	err := src.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case s.errc <- err:
	default:
	}
}

// inject queues an event, reporting false once the stream is closed
func (s *eventStream) inject(ev transcript.Event) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.closed:
		return false
	}
}

// Next returns the next event for the session
func (s *eventStream) Next(ctx context.Context) (transcript.Event, error) {
	select {
	case <-s.closed:
		return transcript.Event{}, ErrStreamClosed
	case ev := <-s.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.errc:
		return transcript.Event{}, fmt.Errorf("event feed: %w", err)
	case <-s.closed:
		return transcript.Event{}, ErrStreamClosed
	case <-ctx.Done():
		return transcript.Event{}, ctx.Err()
	}
}

// Close stops the subscription. Safe to call twice.
func (s *eventStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// translator maps server events to protocol events. Text parts are sent
// whole on every update, so increments are computed per part id.
type translator struct {
	sessionID    string
	text         map[string]string // part id -> text seen so far
	started      map[string]bool   // tool call ids with a start event
	finished     map[string]bool   // tool call ids with a completion event
	titles       map[string]string // last progress title per tool call
	userMessages map[string]bool
}

func newTranslator(sessionID string) *translator {
	return &translator{
		sessionID:    sessionID,
		text:         make(map[string]string),
		started:      make(map[string]bool),
		finished:     make(map[string]bool),
		titles:       make(map[string]string),
		userMessages: make(map[string]bool),
	}
}

func (t *translator) translate(eventType string, props gjson.Result) []transcript.Event {
	switch eventType {
	case "message.updated":
		info := props.Get("info")
		if info.Get("sessionID").String() == t.sessionID && info.Get("role").String() == "user" {
			t.userMessages[info.Get("id").String()] = true
		}
		return nil

	case string(opencode.EventListResponseTypeMessagePartUpdated):
		part := props.Get("part")
		if part.Get("sessionID").String() != t.sessionID || t.userMessages[part.Get("messageID").String()] {
			return nil
		}
		return t.part(part, props.Get("delta"))

	case string(opencode.EventListResponseTypeSessionIdle):
		if props.Get("sessionID").String() != t.sessionID {
			return nil
		}
		return []transcript.Event{transcript.Completion(nil)}

	case "session.error":
		if id := props.Get("sessionID").String(); id != "" && id != t.sessionID {
			return nil
		}
		reason := props.Get("error.data.message").String()
		if reason == "" {
			reason = props.Get("error.name").String()
		}
		if props.Get("error.name").String() == "MessageAbortedError" {
			return []transcript.Event{{Kind: transcript.EventAbort, Type: eventType, Reason: reason}}
		}
		return []transcript.Event{transcript.Failure(reason)}

	default:
		return nil
	}
}

func (t *translator) part(part, delta gjson.Result) []transcript.Event {
	id := part.Get("id").String()

	switch part.Get("type").String() {
	case partText:
		text := part.Get("text").String()
		prev := t.text[id]
		t.text[id] = text
		switch {
		case delta.Exists() && delta.String() != "":
			return []transcript.Event{transcript.Delta(delta.String())}
		case strings.HasPrefix(text, prev) && len(text) > len(prev):
			return []transcript.Event{transcript.Delta(text[len(prev):])}
		default:
			return nil
		}

	case partTool:
		callID := part.Get("callID").String()
		if callID == "" {
			callID = id
		}
		if t.finished[callID] {
			return nil
		}

		var out []transcript.Event
		state := part.Get("state")
		if !t.started[callID] {
			t.started[callID] = true
			var args *transcript.Arguments
			if in := state.Get("input"); in.Exists() && in.Type != gjson.Null {
				args = &transcript.Arguments{JSON: []byte(in.Raw)}
			}
			out = append(out, transcript.ToolStart(callID, part.Get("tool").String(), args))
		}

		switch state.Get("status").String() {
		case toolCompleted:
			t.finished[callID] = true
			out = append(out, transcript.ToolComplete(callID, state.Get("output").String()))
		case toolError:
			t.finished[callID] = true
			out = append(out, transcript.ToolComplete(callID, "[Error: "+state.Get("error").String()+"]"))
		case toolRunning:
			if title := state.Get("title").String(); title != "" && title != t.titles[callID] {
				t.titles[callID] = title
				out = append(out, transcript.Event{
					Kind:         transcript.EventToolProgress,
					Type:         "tool_progress",
					CallID:       callID,
					ProgressKind: transcript.ProgressLog,
					Log:          title,
				})
			}
		}
		return out

	case partReasoning:
		return nil

	default:
		return nil
	}
}
