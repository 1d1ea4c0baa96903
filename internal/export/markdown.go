// internal/export/markdown.go
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ineffable/internal/transcript"
)

// Meta describes the session being exported
type Meta struct {
	ID        string
	Title     string
	Server    string
	CreatedAt time.Time
}

// Markdown generates a formatted markdown transcript of a session
func Markdown(meta Meta, turns []transcript.Turn) string {
	var sb strings.Builder

	title := meta.Title
	if title == "" {
		title = "Untitled session"
	}
	sb.WriteString("# ")
	sb.WriteString(title)
	sb.WriteString("\n\n")

	// Metadata section
	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("**Session ID:** `%s`\n\n", meta.ID))
	if !meta.CreatedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("**Created:** %s\n\n", meta.CreatedAt.Format("2006-01-02 15:04:05")))
	}
	if meta.Server != "" {
		sb.WriteString(fmt.Sprintf("**Server:** `%s`\n\n", meta.Server))
	}
	if n := countToolCalls(turns); n > 0 {
		sb.WriteString(fmt.Sprintf("**Tool calls:** %d\n\n", n))
	}
	sb.WriteString("---\n\n")

	sb.WriteString("## Transcript\n\n")

	for i, turn := range turns {
		sb.WriteString(turnHeader(turn))
		sb.WriteString("\n\n")

		for _, seg := range turn.Segments {
			switch seg.Kind {
			case transcript.SegmentText:
				writeText(&sb, seg.Content)
			case transcript.SegmentTool:
				if seg.Tool != nil {
					writeTool(&sb, *seg.Tool)
				}
			}
		}

		// Horizontal rule between turns (except after last)
		if i < len(turns)-1 {
			sb.WriteString("---\n\n")
		}
	}

	// Footer
	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from ineffable on %s*\n", time.Now().Format("2006-01-02 15:04:05")))

	return sb.String()
}

// Write exports a session to dir as YYYY-MM-DD-<title>.md
func Write(meta Meta, turns []transcript.Turn, dir string) (string, error) {
	created := meta.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	filename := fmt.Sprintf("%s-%s.md", created.Format("2006-01-02"), sanitizeFilename(meta.Title))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(Markdown(meta, turns)), 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

func turnHeader(turn transcript.Turn) string {
	label := formatRole(turn.Role)
	if turn.Status == transcript.StatusError {
		label += " (interrupted)"
	}
	if turn.Timestamp.IsZero() {
		return "### " + label
	}
	return fmt.Sprintf("### [%s] %s", turn.Timestamp.Format("15:04:05"), label)
}

func writeText(sb *strings.Builder, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	if containsCodeBlock(content) {
		// Content already has code blocks, render as-is
		sb.WriteString(content)
		sb.WriteString("\n")
	} else {
		for _, line := range strings.Split(content, "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
}

func writeTool(sb *strings.Builder, call transcript.ToolCall) {
	status := "done"
	if !call.Resolved() {
		status = "no result"
	}
	sb.WriteString(fmt.Sprintf("**Tool:** `%s` (%s)\n\n", call.Name, status))

	if args := call.Arguments.String(); args != "" {
		lang := ""
		if call.Arguments != nil && len(call.Arguments.JSON) > 0 {
			lang = "json"
		}
		writeFenced(sb, lang, args)
	}
	if len(call.Logs) > 0 {
		writeFenced(sb, "log", strings.Join(call.Logs, "\n"))
	}
	if call.Output != nil && *call.Output != "" {
		writeFenced(sb, "", *call.Output)
	}
}

// writeFenced picks a fence longer than any backtick run in content
func writeFenced(sb *strings.Builder, lang, content string) {
	fence := strings.Repeat("`", max(3, longestRun(content, '`')+1))
	sb.WriteString(fence)
	sb.WriteString(lang)
	sb.WriteString("\n")
	sb.WriteString(strings.TrimRight(content, "\n"))
	sb.WriteString("\n")
	sb.WriteString(fence)
	sb.WriteString("\n\n")
}

func longestRun(s string, c rune) int {
	best, cur := 0, 0
	for _, r := range s {
		if r == c {
			cur++
			best = max(best, cur)
		} else {
			cur = 0
		}
	}
	return best
}

func countToolCalls(turns []transcript.Turn) int {
	n := 0
	for _, t := range turns {
		n += len(t.ToolCalls())
	}
	return n
}

// formatRole returns a display name for a turn's author
func formatRole(role transcript.Role) string {
	switch role {
	case transcript.RoleUser:
		return "User"
	case transcript.RoleAssistant:
		return "Assistant"
	case transcript.RoleSystem:
		return "System"
	default:
		return string(role)
	}
}

// sanitizeFilename removes/replaces characters unsuitable for filenames
func sanitizeFilename(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")

	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '-' || r == '_':
			sb.WriteRune(r)
		}
	}

	result := sb.String()

	// Collapse multiple hyphens
	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	result = strings.Trim(result, "-")

	if result == "" {
		result = "session"
	}
	if len(result) > 50 {
		result = result[:50]
	}
	return result
}

// containsCodeBlock checks if content already has markdown code blocks
func containsCodeBlock(content string) bool {
	return strings.Contains(content, "```")
}
