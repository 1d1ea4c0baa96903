// internal/render/render_test.go
package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"ineffable/internal/session"
	"ineffable/internal/store"
	"ineffable/internal/transcript"
)

func strPtr(s string) *string { return &s }
func numPtr(f float64) *float64 { return &f }

func TestTurnsPlain(t *testing.T) {
	turns := []transcript.Turn{
		{ID: "u1", Role: transcript.RoleUser, Segments: []transcript.Segment{transcript.TextSegment("list files")}},
		{
			ID:     "a1",
			Role:   transcript.RoleAssistant,
			Status: transcript.StatusStreaming,
			Segments: []transcript.Segment{
				transcript.TextSegment("Looking."),
				transcript.ToolSegment(transcript.ToolCall{
					ID:        "c1",
					Name:      "bash",
					Status:    transcript.ToolDone,
					Arguments: &transcript.Arguments{JSON: []byte(`{"command": "ls"}`)},
					Output:    strPtr("a.go\nb.go"),
				}),
			},
		},
	}

	out := Turns(turns, 80, false)

	for _, want := range []string{"You", "list files", "Assistant", "streaming", "Looking.", "bash", "done", `args: {"command": "ls"}`, "a.go", "b.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("Expected no escape sequences with color off")
	}
	if strings.Index(out, "Looking.") > strings.Index(out, "bash") {
		t.Error("Expected segments in order")
	}
}

func TestToolRunningWithProgress(t *testing.T) {
	r := New(60, false)
	out := r.Turn(transcript.Turn{
		Role:   transcript.RoleAssistant,
		Status: transcript.StatusStreaming,
		Segments: []transcript.Segment{transcript.ToolSegment(transcript.ToolCall{
			ID:       "c1",
			Name:     "fetch",
			Status:   transcript.ToolRunning,
			Logs:     []string{"l1", "l2", "l3", "l4", "l5", "l6", "l7"},
			Progress: numPtr(3),
			Total:    numPtr(10),
		})},
	})

	if !strings.Contains(out, "running") {
		t.Errorf("Expected running status:\n%s", out)
	}
	if !strings.Contains(out, "2 earlier log lines") || strings.Contains(out, "l2") || !strings.Contains(out, "l7") {
		t.Errorf("Expected only the last log lines:\n%s", out)
	}
	if !strings.Contains(out, "progress: 3/10 (30%)") {
		t.Errorf("Expected progress line:\n%s", out)
	}
}

func TestToolOutputTruncated(t *testing.T) {
	lines := make([]string, 12)
	for i := range lines {
		lines[i] = "line"
	}
	out := New(80, false).Turn(transcript.Turn{
		Role: transcript.RoleAssistant,
		Segments: []transcript.Segment{transcript.ToolSegment(transcript.ToolCall{
			Name:   "read",
			Output: strPtr(strings.Join(lines, "\n")),
		})},
	})
	if !strings.Contains(out, "4 more lines") {
		t.Errorf("Expected truncation notice:\n%s", out)
	}
}

func TestErrorHeader(t *testing.T) {
	out := New(80, false).Turn(transcript.Turn{
		Role:     transcript.RoleAssistant,
		Status:   transcript.StatusError,
		Segments: []transcript.Segment{transcript.TextSegment("partial\n\n[Cancelled]")},
	})
	if !strings.Contains(out, "error") || !strings.Contains(out, "[Cancelled]") {
		t.Errorf("Unexpected output:\n%s", out)
	}
}

func TestTruncateAndWrap(t *testing.T) {
	if got := Truncate("hello world", 20); got != "hello world" {
		t.Errorf("Expected unchanged, got %q", got)
	}
	if got := Truncate("hello world", 6); got != "hello…" {
		t.Errorf("Expected truncated, got %q", got)
	}

	lines := Wrap("abcdefghij", 4)
	if len(lines) != 3 || lines[0] != "abcd" || lines[2] != "ij" {
		t.Errorf("Unexpected wrap: %q", lines)
	}
}

func TestUseColor(t *testing.T) {
	var buf bytes.Buffer
	tests := []struct {
		mode    string
		want    bool
		wantErr bool
	}{
		{ColorAlways, true, false},
		{ColorNever, false, false},
		{ColorAuto, false, false},
		{"rainbow", false, true},
	}
	for _, tt := range tests {
		got, err := UseColor(tt.mode, &buf)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("UseColor(%q) = %v, %v", tt.mode, got, err)
		}
	}
}

func TestTerminalWidthFallback(t *testing.T) {
	t.Setenv("COLUMNS", "123")
	if got := TerminalWidth(&bytes.Buffer{}); got != 123 {
		t.Errorf("Expected 123, got %d", got)
	}
	t.Setenv("COLUMNS", "")
	if got := TerminalWidth(&bytes.Buffer{}); got != 80 {
		t.Errorf("Expected 80, got %d", got)
	}
}

func TestSessionsTable(t *testing.T) {
	var buf bytes.Buffer
	SessionsTable(&buf, []session.Info{
		{ID: "ses_1", Title: "Refactor\nplan", UpdatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)},
		{ID: "ses_2"},
	})
	out := buf.String()
	for _, want := range []string{"Session ID", "ses_1", "Refactor plan", "2026-03-01 09:30", "ses_2"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in table:\n%s", want, out)
		}
	}

	buf.Reset()
	SessionsTable(&buf, nil)
	if !strings.Contains(buf.String(), "(no sessions)") {
		t.Errorf("Expected empty marker:\n%s", buf.String())
	}
}

func TestServersTable(t *testing.T) {
	var buf bytes.Buffer
	ServersTable(&buf, []store.Server{
		{ID: "0a1b2c3d-0000", Name: "local", URL: "http://localhost:8080", Backend: store.BackendNative, IsDefault: true},
		{ID: "ffff-1111", Name: "oc", URL: "http://127.0.0.1:4096", Backend: store.BackendOpencode},
	})
	out := buf.String()
	for _, want := range []string{"local", "http://localhost:8080", "opencode", "0a1b2c3d", "*"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in table:\n%s", want, out)
		}
	}
	if strings.Contains(out, "0a1b2c3d-0000") {
		t.Error("Expected shortened id")
	}
}
