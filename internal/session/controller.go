// internal/session/controller.go
// Package session owns the turn list of one chat session and drives the
// live event stream of the in-flight submission.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ineffable/internal/transcript"
)

var (
	ErrNoSession   = errors.New("no active session")
	ErrEmptyPrompt = errors.New("empty prompt")
	ErrLoading     = errors.New("session history still loading")
)

// Backend is the remote agent service a controller talks to
type Backend interface {
	// History returns the persisted records of a session, oldest first.
	History(ctx context.Context, sessionID string) ([]transcript.Record, error)
	// OpenStream opens the live event source for a session.
	OpenStream(ctx context.Context, sessionID string) (EventStream, error)
	// Submit starts a task; its events arrive on the open stream.
	Submit(ctx context.Context, sessionID, prompt string) error
	// Cancel stops the in-flight task server-side.
	Cancel(ctx context.Context, sessionID string) error
}

// EventStream is an open live event source. Close must be safe to call more
// than once.
type EventStream interface {
	Next(ctx context.Context) (transcript.Event, error)
	Close() error
}

// TitleScheduler receives a fire-and-forget title refresh request
type TitleScheduler interface {
	Schedule(sessionID string)
}

// Controller holds the turns of the active session. The turn slice is
// replaced, never modified in place, so a Snapshot stays valid while the
// controller moves on.
type Controller struct {
	backend       Backend
	titles        TitleScheduler
	cancelTimeout time.Duration
	log           *slog.Logger

	mu        sync.Mutex
	sessionID string
	gen       uint64
	loading   bool
	turns     []transcript.Turn
	sending   bool
	active    *run
	latest    *run
	onChange  func()

	cancels sync.WaitGroup
}

// Option configures a Controller
type Option func(*Controller)

// WithTitleScheduler sets where terminal events request a title refresh
func WithTitleScheduler(s TitleScheduler) Option {
	return func(c *Controller) { c.titles = s }
}

// WithCancelTimeout bounds the server-side cancel request
func WithCancelTimeout(d time.Duration) Option {
	return func(c *Controller) { c.cancelTimeout = d }
}

// WithLogger replaces the default logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func New(backend Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:       backend,
		cancelTimeout: 10 * time.Second,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "session")
	return c
}

// OnChange registers a callback run after every state change. It is called
// without the controller lock held.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// SessionID returns the active session, or "" when none is open
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Snapshot returns the current turns. Callers must not modify them.
func (c *Controller) Snapshot() []transcript.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns
}

// Sending reports whether a submission is streaming
func (c *Controller) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Done returns a channel closed when the latest submission's stream has
// shut down. Before any submission the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.latest.done
}

// Open switches to a session: the in-flight stream is cancelled, the turn
// list is discarded and rebuilt from the session's history. A failed fetch
// leaves the list empty and is logged, not returned.
func (c *Controller) Open(ctx context.Context, sessionID string) {
	c.mu.Lock()
	prev := c.detach()
	c.sessionID = sessionID
	c.gen++
	gen := c.gen
	c.loading = true
	c.turns = nil
	c.mu.Unlock()

	c.release(prev)
	c.notify()

	records, err := c.backend.History(ctx, sessionID)
	if err != nil {
		c.log.Warn("history fetch failed", "session", sessionID, "error", err)
	}
	turns := transcript.Reconcile(records)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.log.Debug("dropping history for replaced session", "session", sessionID)
		return
	}
	c.loading = false
	c.turns = turns
	c.mu.Unlock()
	c.notify()
}

// Loading reports whether the active session's history is being fetched
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Clear cancels any in-flight stream and forgets the active session
func (c *Controller) Clear() {
	c.mu.Lock()
	prev := c.detach()
	c.sessionID = ""
	c.gen++
	c.loading = false
	c.turns = nil
	c.mu.Unlock()

	c.release(prev)
	c.notify()
}

// Submit appends the user turn and an empty streaming assistant turn, then
// streams the response in the background. An earlier submission that is
// still streaming is cancelled first. Submitting before Open has loaded the
// history returns ErrLoading.
func (c *Controller) Submit(prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}

	c.mu.Lock()
	if c.sessionID == "" {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.loading {
		c.mu.Unlock()
		return ErrLoading
	}
	prev := c.detach()
	if prev != nil {
		c.interruptLast()
	}

	now := time.Now()
	turns := make([]transcript.Turn, len(c.turns), len(c.turns)+2)
	copy(turns, c.turns)
	c.turns = append(turns,
		transcript.Turn{
			ID:        uuid.NewString(),
			Role:      transcript.RoleUser,
			RawText:   prompt,
			Timestamp: now,
			Status:    transcript.StatusCompleted,
			Segments:  []transcript.Segment{transcript.TextSegment(prompt)},
		},
		transcript.Turn{
			ID:        uuid.NewString(),
			Role:      transcript.RoleAssistant,
			Timestamp: now,
			Status:    transcript.StatusStreaming,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		sessionID: c.sessionID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.active = r
	c.latest = r
	c.sending = true
	c.mu.Unlock()

	c.release(prev)
	c.notify()

	go c.drive(r, prompt)
	return nil
}

// Cancel stops the in-flight submission: the local stream is closed, the
// service is asked to stop the task and the streaming turn is marked with a
// single cancellation notice. Calling it with nothing in flight is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	r := c.detach()
	if r == nil {
		c.mu.Unlock()
		return
	}
	c.interruptLast()
	c.mu.Unlock()

	c.release(r)
	c.notify()
}

// drive runs one submission: open the stream, submit the prompt, then fold
// events into the last turn until a terminal event, an error, or a cancel.
func (c *Controller) drive(r *run, prompt string) {
	defer close(r.done)
	defer r.stop()

	stream, err := c.backend.OpenStream(r.ctx, r.sessionID)
	if err != nil {
		c.fail(r, fmt.Errorf("open stream: %w", err))
		return
	}
	if !r.attach(stream) {
		return
	}

	if err := c.backend.Submit(r.ctx, r.sessionID, prompt); err != nil {
		c.fail(r, fmt.Errorf("submit: %w", err))
		return
	}

	for {
		ev, err := stream.Next(r.ctx)
		if err != nil {
			c.fail(r, fmt.Errorf("stream: %w", err))
			return
		}
		if c.apply(r, ev) {
			return
		}
	}
}

// apply folds an event into the last turn if r is still the active run.
// It reports whether r is finished.
func (c *Controller) apply(r *run, ev transcript.Event) bool {
	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		c.log.Debug("dropping stale event", "session", r.sessionID, "type", ev.Type)
		return true
	}

	last := len(c.turns) - 1
	next := transcript.Apply(c.turns[last], ev)
	turns := make([]transcript.Turn, len(c.turns))
	copy(turns, c.turns)
	turns[last] = next
	c.turns = turns

	finished := next.Finished()
	if finished {
		c.active = nil
		c.sending = false
	}
	c.mu.Unlock()

	if finished && ev.Kind.Terminal() && c.titles != nil {
		c.titles.Schedule(r.sessionID)
	}
	c.notify()
	return finished
}

// fail reports a transport error inline unless the run was cancelled
func (c *Controller) fail(r *run, err error) {
	if r.ctx.Err() != nil {
		return
	}
	c.log.Warn("live stream failed", "session", r.sessionID, "error", err)
	c.apply(r, transcript.Failure(err.Error()))
}

// detach clears the active run and returns it. Caller holds c.mu.
func (c *Controller) detach() *run {
	r := c.active
	c.active = nil
	c.sending = false
	return r
}

// interruptLast marks a streaming last turn as cancelled. Caller holds c.mu.
func (c *Controller) interruptLast() {
	last := len(c.turns) - 1
	if last < 0 || c.turns[last].Finished() {
		return
	}
	turns := make([]transcript.Turn, len(c.turns))
	copy(turns, c.turns)
	turns[last] = transcript.Interrupt(turns[last], transcript.CancelNotice)
	c.turns = turns
}

// release stops a detached run and asks the service to stop its task. The
// remote request runs in the background; Wait blocks until it is done.
func (c *Controller) release(r *run) {
	if r == nil {
		return
	}
	r.stop()

	c.cancels.Add(1)
	go func() {
		defer c.cancels.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cancelTimeout)
		defer cancel()
		if err := c.backend.Cancel(ctx, r.sessionID); err != nil {
			c.log.Warn("remote cancel failed", "session", r.sessionID, "error", err)
		}
	}()
}

// Wait blocks until outstanding remote cancel requests have returned
func (c *Controller) Wait() {
	c.cancels.Wait()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// run is one submission's stream and its cancellation token
type run struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	stream  EventStream
	stopped bool
}

// attach records the opened stream, closing it at once if the run was
// already stopped.
func (r *run) attach(s EventStream) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		s.Close()
		return false
	}
	r.stream = s
	r.mu.Unlock()
	return true
}

// stop cancels the run's context and closes its stream once
func (r *run) stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	s := r.stream
	r.mu.Unlock()

	r.cancel()
	if s != nil {
		s.Close()
	}
}
