// internal/export/markdown_test.go
package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ineffable/internal/transcript"
)

func strPtr(s string) *string { return &s }

func sampleTurns() []transcript.Turn {
	return []transcript.Turn{
		{
			ID:        "u1",
			Role:      transcript.RoleUser,
			Timestamp: time.Date(2026, 2, 1, 14, 30, 0, 0, time.UTC),
			Segments:  []transcript.Segment{transcript.TextSegment("What's in this directory?")},
		},
		{
			ID:        "a1",
			Role:      transcript.RoleAssistant,
			Timestamp: time.Date(2026, 2, 1, 14, 30, 15, 0, time.UTC),
			Segments: []transcript.Segment{
				transcript.TextSegment("Let me check."),
				transcript.ToolSegment(transcript.ToolCall{
					ID:        "c1",
					Name:      "bash",
					Status:    transcript.ToolDone,
					Arguments: &transcript.Arguments{JSON: []byte(`{"command":"ls"}`)},
					Output:    strPtr("main.go\ngo.mod"),
				}),
				transcript.TextSegment("Two files."),
			},
		},
	}
}

func TestMarkdown(t *testing.T) {
	meta := Meta{
		ID:        "ses_123",
		Title:     "Directory listing",
		Server:    "http://localhost:8080",
		CreatedAt: time.Date(2026, 2, 1, 14, 30, 0, 0, time.UTC),
	}

	result := Markdown(meta, sampleTurns())

	checks := []string{
		"# Directory listing",
		"**Session ID:** `ses_123`",
		"**Server:** `http://localhost:8080`",
		"**Tool calls:** 1",
		"### [14:30:00] User",
		"### [14:30:15] Assistant",
		"> What's in this directory?",
		"**Tool:** `bash` (done)",
		"```json\n{\"command\":\"ls\"}\n```",
		"```\nmain.go\ngo.mod\n```",
		"> Two files.",
	}
	for _, want := range checks {
		if !strings.Contains(result, want) {
			t.Errorf("Expected %q in output:\n%s", want, result)
		}
	}

	if strings.Index(result, "Let me check.") > strings.Index(result, "**Tool:**") {
		t.Error("Expected text before tool call")
	}
}

func TestMarkdownWithCodeBlocks(t *testing.T) {
	turns := []transcript.Turn{{
		Role:     transcript.RoleAssistant,
		Segments: []transcript.Segment{transcript.TextSegment("Here:\n\n```go\ntype Cache struct{}\n```")},
	}}

	result := Markdown(Meta{ID: "x"}, turns)

	if strings.Contains(result, "> ```go") {
		t.Error("Code blocks should not be wrapped in blockquotes")
	}
	if !strings.Contains(result, "```go") {
		t.Error("Expected code block to be preserved")
	}
	if !strings.Contains(result, "# Untitled session") {
		t.Error("Expected placeholder title")
	}
}

func TestToolOutputWithFences(t *testing.T) {
	turns := []transcript.Turn{{
		Role: transcript.RoleAssistant,
		Segments: []transcript.Segment{transcript.ToolSegment(transcript.ToolCall{
			Name:   "read",
			Output: strPtr("```\ncode\n```"),
		})},
	}}

	result := Markdown(Meta{ID: "x"}, turns)
	if !strings.Contains(result, "````\n```\ncode\n```\n````") {
		t.Errorf("Expected longer fence around output:\n%s", result)
	}
}

func TestUnresolvedAndInterrupted(t *testing.T) {
	turns := []transcript.Turn{{
		Role:   transcript.RoleAssistant,
		Status: transcript.StatusError,
		Segments: []transcript.Segment{
			transcript.ToolSegment(transcript.ToolCall{Name: "fetch", Status: transcript.ToolRunning, Arguments: &transcript.Arguments{Raw: "not json"}}),
			transcript.TextSegment("[Cancelled]"),
		},
	}}

	result := Markdown(Meta{ID: "x"}, turns)
	for _, want := range []string{"### Assistant (interrupted)", "`fetch` (no result)", "```\nnot json\n```"} {
		if !strings.Contains(result, want) {
			t.Errorf("Expected %q in output:\n%s", want, result)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Simple Name", "simple-name"},
		{"Test/Session", "testsession"},
		{"Session #1!", "session-1"},
		{"   spaces   ", "spaces"},
		{"Multiple---Hyphens", "multiple-hyphens"},
		{"", "session"},
		{"This is a very long name that should be truncated to fifty characters maximum", "this-is-a-very-long-name-that-should-be-truncated-"},
	}

	for _, test := range tests {
		result := sanitizeFilename(test.input)
		if result != test.expected {
			t.Errorf("sanitizeFilename(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestWrite(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "exports")

	meta := Meta{
		ID:        "write123",
		Title:     "Write Test",
		CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}

	path, err := Write(meta, sampleTurns(), tmpDir)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	if filepath.Base(path) != "2026-02-01-write-test.md" {
		t.Errorf("Unexpected filename %q", filepath.Base(path))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if !strings.Contains(string(content), "# Write Test") {
		t.Error("Expected title in file content")
	}
}
