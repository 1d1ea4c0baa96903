// internal/session/controller_test.go
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ineffable/internal/transcript"
)

// fakeStream delivers events pushed by the test
type fakeStream struct {
	events chan transcript.Event
	closed chan struct{}
	once   sync.Once
	closes int
	mu     sync.Mutex
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan transcript.Event, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Next(ctx context.Context) (transcript.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.closed:
		return transcript.Event{}, errors.New("stream closed")
	case <-ctx.Done():
		return transcript.Event{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeBackend hands out one stream per OpenStream call
type fakeBackend struct {
	mu         sync.Mutex
	history    map[string][]transcript.Record
	historyErr error
	gate       chan struct{}
	cancelGate chan struct{}
	streams    chan *fakeStream
	submitted  []string
	cancelled  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history: make(map[string][]transcript.Record),
		streams: make(chan *fakeStream, 4),
	}
}

func (b *fakeBackend) History(ctx context.Context, sessionID string) ([]transcript.Record, error) {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyErr != nil {
		return nil, b.historyErr
	}
	return b.history[sessionID], nil
}

func (b *fakeBackend) OpenStream(ctx context.Context, sessionID string) (EventStream, error) {
	s := newFakeStream()
	b.streams <- s
	return s, nil
}

func (b *fakeBackend) Submit(ctx context.Context, sessionID, prompt string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, sessionID+":"+prompt)
	return nil
}

func (b *fakeBackend) Cancel(ctx context.Context, sessionID string) error {
	if b.cancelGate != nil {
		<-b.cancelGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, sessionID)
	return nil
}

func (b *fakeBackend) cancelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cancelled)
}

func (b *fakeBackend) nextStream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-b.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for stream")
		return nil
	}
}

type fakeTitles struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeTitles) Schedule(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, sessionID)
}

func (f *fakeTitles) scheduled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func lastTurn(c *Controller) transcript.Turn {
	turns := c.Snapshot()
	return turns[len(turns)-1]
}

func TestOpenReconcilesHistory(t *testing.T) {
	b := newFakeBackend()
	b.history["s1"] = []transcript.Record{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	c := New(b)

	c.Open(context.Background(), "s1")

	turns := c.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if c.SessionID() != "s1" {
		t.Errorf("Expected session s1, got %s", c.SessionID())
	}
}

func TestOpenHistoryFailure(t *testing.T) {
	b := newFakeBackend()
	b.history["s1"] = []transcript.Record{{Role: "user", Content: "old"}}
	c := New(b)
	c.Open(context.Background(), "s1")

	b.historyErr = errors.New("connection refused")
	c.Open(context.Background(), "s2")

	if turns := c.Snapshot(); len(turns) != 0 {
		t.Errorf("Expected empty turn list, got %d turns", len(turns))
	}
	if c.SessionID() != "s2" {
		t.Errorf("Expected session s2, got %s", c.SessionID())
	}
}

func TestSubmitRequiresSession(t *testing.T) {
	c := New(newFakeBackend())
	if err := c.Submit("hello"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}

	c.Open(context.Background(), "s1")
	if err := c.Submit("   "); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("Expected ErrEmptyPrompt, got %v", err)
	}
}

func TestSubmitStreamsIntoLastTurn(t *testing.T) {
	b := newFakeBackend()
	titles := &fakeTitles{}
	c := New(b, WithTitleScheduler(titles))
	c.Open(context.Background(), "s1")

	changes := 0
	var mu sync.Mutex
	c.OnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	if err := c.Submit("list files"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !c.Sending() {
		t.Error("Expected sending after submit")
	}

	turns := c.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("Expected user and assistant turns, got %d", len(turns))
	}
	if turns[0].Role != transcript.RoleUser || turns[0].Text() != "list files" {
		t.Errorf("Unexpected user turn: %+v", turns[0])
	}
	if turns[1].Status != transcript.StatusStreaming {
		t.Errorf("Expected streaming assistant turn, got %s", turns[1].Status)
	}

	s := b.nextStream(t)
	s.events <- transcript.Delta("He")
	s.events <- transcript.ToolStart("1", "ls", nil)
	s.events <- transcript.ToolComplete("1", "a.go")
	s.events <- transcript.Delta("llo")
	s.events <- transcript.Completion(nil)

	<-c.Done()

	turn := lastTurn(c)
	if turn.Status != transcript.StatusCompleted {
		t.Errorf("Expected completed, got %s", turn.Status)
	}
	if turn.Text() != "Hello" || len(turn.Segments) != 3 {
		t.Errorf("Unexpected segments: %+v", turn.Segments)
	}
	if c.Sending() {
		t.Error("Expected sending cleared after completion")
	}
	if got := titles.scheduled(); len(got) != 1 || got[0] != "s1" {
		t.Errorf("Expected one title refresh for s1, got %v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if changes < 5 {
		t.Errorf("Expected change notifications per event, got %d", changes)
	}
}

func TestSnapshotIsStable(t *testing.T) {
	b := newFakeBackend()
	c := New(b)
	c.Open(context.Background(), "s1")
	c.Submit("go")

	s := b.nextStream(t)
	s.events <- transcript.Delta("a")
	waitFor(t, "first delta", func() bool { return lastTurn(c).Text() == "a" })

	before := c.Snapshot()
	s.events <- transcript.Delta("b")
	waitFor(t, "second delta", func() bool { return lastTurn(c).Text() == "ab" })

	if got := before[len(before)-1].Text(); got != "a" {
		t.Errorf("Expected earlier snapshot unchanged, got %q", got)
	}
}

func TestCancelMarksErrorOnce(t *testing.T) {
	b := newFakeBackend()
	c := New(b)
	c.Open(context.Background(), "s1")
	c.Submit("long job")

	s := b.nextStream(t)
	s.events <- transcript.Delta("working")
	waitFor(t, "delta", func() bool { return lastTurn(c).Text() == "working" })

	c.Cancel()
	c.Cancel()
	c.Wait()

	turn := lastTurn(c)
	if turn.Status != transcript.StatusError {
		t.Errorf("Expected error status, got %s", turn.Status)
	}
	if n := strings.Count(turn.Text(), transcript.CancelNotice); n != 1 {
		t.Errorf("Expected one cancel notice, got %d", n)
	}
	if c.Sending() {
		t.Error("Expected sending cleared")
	}
	if got := b.cancelCount(); got != 1 {
		t.Errorf("Expected one remote cancel, got %d", got)
	}

	select {
	case <-s.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected stream closed after cancel")
	}
}

func TestCancelWithoutRunIsNoop(t *testing.T) {
	b := newFakeBackend()
	c := New(b)
	c.Open(context.Background(), "s1")

	c.Cancel()
	c.Wait()

	if b.cancelCount() != 0 {
		t.Error("Expected no remote cancel with nothing in flight")
	}
}

func TestStaleStreamIsolation(t *testing.T) {
	b := newFakeBackend()
	b.history["s2"] = []transcript.Record{{Role: "user", Content: "other"}}
	c := New(b)
	c.Open(context.Background(), "s1")
	c.Submit("first")

	old := b.nextStream(t)
	old.events <- transcript.Delta("x")
	waitFor(t, "delta", func() bool { return lastTurn(c).Text() == "x" })

	c.Open(context.Background(), "s2")
	old.events <- transcript.Delta("late")
	old.events <- transcript.Completion(nil)

	turns := c.Snapshot()
	if len(turns) != 1 || turns[0].Text() != "other" {
		t.Fatalf("Expected only s2 history, got %+v", turns)
	}
	time.Sleep(20 * time.Millisecond)
	turns = c.Snapshot()
	if len(turns) != 1 || turns[0].Text() != "other" {
		t.Errorf("Expected stale events ignored, got %+v", turns)
	}
	if c.Sending() {
		t.Error("Expected no submission in flight after switch")
	}
}

func TestResubmitCancelsPrevious(t *testing.T) {
	b := newFakeBackend()
	c := New(b)
	c.Open(context.Background(), "s1")

	c.Submit("one")
	first := b.nextStream(t)
	c.Submit("two")
	second := b.nextStream(t)

	turns := c.Snapshot()
	if len(turns) != 4 {
		t.Fatalf("Expected 4 turns, got %d", len(turns))
	}
	if turns[1].Status != transcript.StatusError {
		t.Errorf("Expected first response interrupted, got %s", turns[1].Status)
	}

	first.events <- transcript.Delta("stale")
	second.events <- transcript.Delta("fresh")
	second.events <- transcript.Completion(nil)
	<-c.Done()

	turns = c.Snapshot()
	if turns[3].Text() != "fresh" {
		t.Errorf("Expected fresh text in last turn, got %q", turns[3].Text())
	}
	if strings.Contains(turns[1].Text(), "stale") {
		t.Error("Expected stale stream ignored")
	}
}

func TestStreamErrorRendersInline(t *testing.T) {
	b := newFakeBackend()
	c := New(b)
	c.Open(context.Background(), "s1")
	c.Submit("go")

	s := b.nextStream(t)
	s.Close()
	<-c.Done()

	turn := lastTurn(c)
	if turn.Status != transcript.StatusError {
		t.Errorf("Expected error status, got %s", turn.Status)
	}
	if !strings.Contains(turn.Text(), "[Error: stream: stream closed]") {
		t.Errorf("Expected inline error, got %q", turn.Text())
	}
}

func TestClear(t *testing.T) {
	b := newFakeBackend()
	b.history["s1"] = []transcript.Record{{Role: "user", Content: "x"}}
	c := New(b)
	c.Open(context.Background(), "s1")

	c.Clear()

	if c.SessionID() != "" || len(c.Snapshot()) != 0 {
		t.Error("Expected cleared controller")
	}
}

func TestSubmitWhileHistoryLoading(t *testing.T) {
	b := newFakeBackend()
	b.history["s1"] = []transcript.Record{
		{Role: "user", Content: "old"},
		{Role: "assistant", Content: "reply"},
	}
	b.gate = make(chan struct{})
	c := New(b)

	opened := make(chan struct{})
	go func() {
		c.Open(context.Background(), "s1")
		close(opened)
	}()
	waitFor(t, "loading", c.Loading)

	if err := c.Submit("new prompt"); !errors.Is(err, ErrLoading) {
		t.Fatalf("Expected ErrLoading, got %v", err)
	}

	close(b.gate)
	<-opened

	if c.Loading() {
		t.Error("Expected loading cleared once history landed")
	}
	if err := c.Submit("new prompt"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	s := b.nextStream(t)
	s.events <- transcript.Delta("ok")
	waitFor(t, "delta", func() bool { return lastTurn(c).Text() == "ok" })

	turns := c.Snapshot()
	if len(turns) != 4 {
		t.Fatalf("Expected history plus submitted turns, got %d", len(turns))
	}
	if turns[2].Text() != "new prompt" {
		t.Errorf("Expected submitted user turn, got %q", turns[2].Text())
	}
	if !c.Sending() {
		t.Error("Expected submission still in flight")
	}
}

func TestLoadingClearedOnHistoryFailure(t *testing.T) {
	b := newFakeBackend()
	b.historyErr = errors.New("connection refused")
	c := New(b)
	c.Open(context.Background(), "s1")

	if c.Loading() {
		t.Fatal("Expected loading cleared after failed fetch")
	}
	if err := c.Submit("hello"); err != nil {
		t.Errorf("Expected submit allowed, got %v", err)
	}
}

func TestCancelDoesNotWaitForRemote(t *testing.T) {
	b := newFakeBackend()
	b.cancelGate = make(chan struct{})
	c := New(b)
	c.Open(context.Background(), "s1")
	c.Submit("slow server")
	b.nextStream(t)

	returned := make(chan struct{})
	go func() {
		c.Cancel()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Expected Cancel to return while the remote cancel is pending")
	}
	if lastTurn(c).Status != transcript.StatusError {
		t.Error("Expected turn marked cancelled")
	}

	close(b.cancelGate)
	c.Wait()
	if got := b.cancelCount(); got != 1 {
		t.Errorf("Expected one remote cancel, got %d", got)
	}
}
