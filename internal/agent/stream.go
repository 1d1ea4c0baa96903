// internal/agent/stream.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ineffable/internal/transcript"
)

// ErrStreamClosed is returned by Next after Close
var ErrStreamClosed = errors.New("event stream closed")

// stream reads protocol events from a WebSocket connection
type stream struct {
	conn   *websocket.Conn
	events chan transcript.Event
	errc   chan error
	closed chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func newStream(conn *websocket.Conn, log *slog.Logger) *stream {
	s := &stream{
		conn:   conn,
		events: make(chan transcript.Event, 64),
		errc:   make(chan error, 1),
		closed: make(chan struct{}),
		log:    log,
	}
	go s.readLoop()
	return s
}

// readLoop decodes text frames until the connection fails or closes
func (s *stream) readLoop() {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			select {
			case s.errc <- err:
			default:
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		ev := transcript.DecodeEvent(data)
		if ev.Kind == transcript.EventUnknown {
			s.log.Debug("ignoring event", "type", ev.Type)
			continue
		}

		select {
		case s.events <- ev:
		case <-s.closed:
			return
		}
	}
}

// Next returns the next recognized event. Events already received are
// delivered before a read error is reported.
func (s *stream) Next(ctx context.Context) (transcript.Event, error) {
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
		select {
		case ev := <-s.events:
			s.errc <- err
			return ev, nil
		default:
		}
		return transcript.Event{}, fmt.Errorf("read event: %w", err)
	case <-s.closed:
		return transcript.Event{}, ErrStreamClosed
	case <-ctx.Done():
		return transcript.Event{}, ctx.Err()
	}
}

// Close sends a close frame and shuts the connection. Safe to call twice.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
