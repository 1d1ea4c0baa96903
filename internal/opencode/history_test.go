// internal/opencode/history_test.go
package opencode

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ineffable/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const historyFixture = `[
  {"info":{"id":"m1","role":"user","time":{"created":1700000000000}},
   "parts":[{"type":"text","text":"list the files"}]},
  {"info":{"id":"m2","role":"assistant","time":{"created":1700000001000}},
   "parts":[
     {"type":"step-start"},
     {"type":"text","text":"Looking."},
     {"type":"tool","tool":"bash","callID":"c1","state":{"status":"completed","input":{"command":"ls"},"output":"a.go"}},
     {"type":"tool","tool":"read","callID":"c2","state":{"status":"error","input":{"path":"b"},"error":"missing"}},
     {"type":"text","text":"Found a.go."}
   ]}
]`

func TestDecodeHistory(t *testing.T) {
	records := decodeHistory([]byte(historyFixture))

	expected := []struct {
		role    string
		content string
	}{
		{"user", "list the files"},
		{"assistant", `Looking.<tool_call>{"name":"bash","arguments":{"command":"ls"}}</tool_call>`},
		{"tool", "[bash]: a.go"},
		{"assistant", `<tool_call>{"name":"read","arguments":{"path":"b"}}</tool_call>`},
		{"tool", "[read]: [Error: missing]"},
		{"assistant", "Found a.go."},
	}
	if len(records) != len(expected) {
		t.Fatalf("Expected %d records, got %d: %+v", len(expected), len(records), records)
	}
	for i, want := range expected {
		if records[i].Role != want.role || records[i].Content != want.content {
			t.Errorf("Record %d: expected %s %q, got %s %q", i, want.role, want.content, records[i].Role, records[i].Content)
		}
	}
	if records[0].Timestamp == nil || *records[0].Timestamp != 1700000000000 {
		t.Errorf("Unexpected timestamp %v", records[0].Timestamp)
	}
}

func TestDecodedHistoryReconciles(t *testing.T) {
	turns := transcript.Reconcile(decodeHistory([]byte(historyFixture)))
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}

	segs := turns[1].Segments
	kinds := []transcript.SegmentKind{
		transcript.SegmentText,
		transcript.SegmentTool,
		transcript.SegmentTool,
		transcript.SegmentText,
	}
	if len(segs) != len(kinds) {
		t.Fatalf("Expected %d segments, got %d: %+v", len(kinds), len(segs), segs)
	}
	for i, k := range kinds {
		if segs[i].Kind != k {
			t.Errorf("Segment %d: expected %s, got %s", i, k, segs[i].Kind)
		}
	}
	if *segs[1].Tool.Output != "a.go" || *segs[2].Tool.Output != "[Error: missing]" {
		t.Errorf("Unexpected tool outputs: %+v %+v", segs[1].Tool, segs[2].Tool)
	}
}

func TestBackendHistoryAndTitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("directory"); got != "/work" {
			t.Errorf("expected directory /work, got %q", got)
		}
		switch r.URL.Path {
		case "/session/ses_1/message":
			w.Write([]byte(historyFixture))
		case "/session/ses_1":
			w.Write([]byte(`{"id":"ses_1","title":"File listing","time":{"created":1700000000000,"updated":1700000005000}}`))
		case "/session":
			w.Write([]byte(`[{"id":"ses_1","title":"File listing"},{"id":"ses_2","title":"Other"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	b := New(Config{BaseURL: server.URL, Directory: "/work", Timeout: time.Second})
	ctx := context.Background()

	records, err := b.History(ctx, "ses_1")
	if err != nil || len(records) != 6 {
		t.Fatalf("History: %d records, err %v", len(records), err)
	}

	title, err := b.Title(ctx, "ses_1")
	if err != nil || title != "File listing" {
		t.Errorf("Title: got %q, err %v", title, err)
	}

	sessions, err := b.ListSessions(ctx)
	if err != nil || len(sessions) != 2 {
		t.Errorf("ListSessions: got %d, err %v", len(sessions), err)
	}

	if _, err := b.History(ctx, "missing"); err == nil {
		t.Error("expected error for unknown session")
	}
}
