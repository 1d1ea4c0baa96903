// internal/title/refresher.go
// Delayed, fire-and-forget session title refresh.
// The service may name a session some time after a response completes, so
// the title is fetched again once the delay has passed.
package title

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultDelay is how long to wait after a completed turn
	DefaultDelay = 1500 * time.Millisecond

	// DefaultTimeout bounds a single title fetch
	DefaultTimeout = 5 * time.Second
)

// Fetcher looks up the current title of a session
type Fetcher interface {
	Title(ctx context.Context, sessionID string) (string, error)
}

// Refresher schedules title fetches and hands results to a callback
type Refresher struct {
	fetcher Fetcher
	delay   time.Duration
	timeout time.Duration
	log     *slog.Logger

	mu          sync.Mutex
	enabled     bool
	onTitle     func(sessionID, title string)
	timers      map[string]*time.Timer
	errorLogged bool // only warn on the first failed fetch
}

// New creates an enabled refresher
func New(fetcher Fetcher, delay time.Duration) *Refresher {
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Refresher{
		fetcher: fetcher,
		delay:   delay,
		timeout: DefaultTimeout,
		log:     slog.Default().With("component", "title"),
		enabled: true,
		timers:  make(map[string]*time.Timer),
	}
}

// SetEnabled enables or disables refreshes
func (r *Refresher) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
}

// OnTitle sets the callback receiving fetched titles
func (r *Refresher) OnTitle(fn func(sessionID, title string)) {
	r.mu.Lock()
	r.onTitle = fn
	r.mu.Unlock()
}

// Schedule fetches the session title after the delay. Scheduling the same
// session again before the fetch runs restarts its wait.
func (r *Refresher) Schedule(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled || r.fetcher == nil {
		return
	}

	if t, ok := r.timers[sessionID]; ok {
		t.Stop()
	}
	r.timers[sessionID] = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		delete(r.timers, sessionID)
		r.mu.Unlock()
		r.refresh(sessionID)
	})
}

// Stop cancels every scheduled fetch
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// refresh runs the fetch (on a timer goroutine)
func (r *Refresher) refresh(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	title, err := r.fetcher.Title(ctx, sessionID)
	if err != nil {
		r.mu.Lock()
		first := !r.errorLogged
		r.errorLogged = true
		r.mu.Unlock()
		if first {
			r.log.Warn("title refresh failed", "session", sessionID, "error", err)
		} else {
			r.log.Debug("title refresh failed", "session", sessionID, "error", err)
		}
		return
	}

	r.mu.Lock()
	fn := r.onTitle
	r.mu.Unlock()
	if fn != nil && title != "" {
		fn(sessionID, title)
	}
}
