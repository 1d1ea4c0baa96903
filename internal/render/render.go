// internal/render/render.go
// Package render draws transcript turns for a terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"

	"ineffable/internal/transcript"
)

const (
	maxOutputLines = 8
	maxLogLines    = 5
	minWidth       = 20
)

// Renderer draws turns at a fixed width. Not safe for concurrent use.
type Renderer struct {
	width    int
	color    bool
	styles   Styles
	markdown *glamour.TermRenderer
}

// New returns a renderer for the given width. With color on, text segments
// are rendered as markdown.
func New(width int, color bool) *Renderer {
	if width < minWidth {
		width = minWidth
	}
	r := &Renderer{width: width, color: color, styles: NewStyles(color)}
	if color {
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width-2),
		)
		if err == nil {
			r.markdown = md
		}
	}
	return r
}

func (r *Renderer) Width() int { return r.width }

// Turns renders a whole transcript
func Turns(turns []transcript.Turn, width int, color bool) string {
	return New(width, color).Turns(turns)
}

func (r *Renderer) Turns(turns []transcript.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		parts = append(parts, r.Turn(t))
	}
	return strings.Join(parts, "\n")
}

// Turn renders one turn: a header line followed by its segments in order
func (r *Renderer) Turn(t transcript.Turn) string {
	var sb strings.Builder
	sb.WriteString(r.header(t))
	sb.WriteString("\n")

	for _, seg := range t.Segments {
		switch seg.Kind {
		case transcript.SegmentText:
			if strings.TrimSpace(seg.Content) == "" {
				continue
			}
			sb.WriteString(r.text(seg.Content))
		case transcript.SegmentTool:
			if seg.Tool != nil {
				sb.WriteString(r.tool(*seg.Tool))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r *Renderer) header(t transcript.Turn) string {
	label := r.styles.RoleStyle(t.Role).Render(RoleLabel(t.Role))
	var meta []string
	if !t.Timestamp.IsZero() {
		meta = append(meta, t.Timestamp.Local().Format("15:04"))
	}
	switch t.Status {
	case transcript.StatusStreaming:
		meta = append(meta, "streaming")
	case transcript.StatusError:
		meta = append(meta, r.styles.Error.Render("error"))
	}
	if len(meta) == 0 {
		return label
	}
	return label + " " + r.styles.Dim.Render(strings.Join(meta, " · "))
}

func (r *Renderer) text(content string) string {
	if r.markdown != nil {
		if out, err := r.markdown.Render(content); err == nil {
			return strings.Trim(out, "\n")
		}
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	var out []string
	for _, line := range lines {
		out = append(out, Wrap(line, r.width)...)
	}
	return strings.Join(out, "\n")
}

func (r *Renderer) tool(call transcript.ToolCall) string {
	inner := r.width - 4
	box := r.styles.ToolBox
	status := r.styles.Running.Render("running")
	if call.Resolved() {
		box = r.styles.ToolBoxDone
		status = r.styles.Done.Render("done")
	}

	lines := []string{r.styles.ToolName.Render(call.Name) + " " + status}

	if args := oneLine(call.Arguments.String()); args != "" {
		lines = append(lines, r.styles.Dim.Render(Truncate("args: "+args, inner)))
	}

	logs := call.Logs
	if len(logs) > maxLogLines {
		lines = append(lines, r.styles.Dim.Render(fmt.Sprintf("… %d earlier log lines", len(logs)-maxLogLines)))
		logs = logs[len(logs)-maxLogLines:]
	}
	for _, l := range logs {
		lines = append(lines, Truncate(l, inner))
	}

	if p := progressLine(call); p != "" {
		lines = append(lines, p)
	}

	if call.Output != nil && *call.Output != "" {
		out := strings.Split(strings.TrimRight(*call.Output, "\n"), "\n")
		hidden := 0
		if len(out) > maxOutputLines {
			hidden = len(out) - maxOutputLines
			out = out[:maxOutputLines]
		}
		for _, l := range out {
			lines = append(lines, Truncate(l, inner))
		}
		if hidden > 0 {
			lines = append(lines, r.styles.Dim.Render(fmt.Sprintf("… %d more lines", hidden)))
		}
	}

	return box.Width(r.width - 2).Render(strings.Join(lines, "\n"))
}

func progressLine(call transcript.ToolCall) string {
	if call.Progress == nil {
		return ""
	}
	if call.Total != nil && *call.Total > 0 {
		pct := *call.Progress / *call.Total * 100
		return fmt.Sprintf("progress: %g/%g (%.0f%%)", *call.Progress, *call.Total, pct)
	}
	return fmt.Sprintf("progress: %g", *call.Progress)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate shortens s to at most width terminal cells
func Truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// Wrap breaks text into lines of at most width cells
func Wrap(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	text = strings.TrimRight(text, " ")
	if text == "" {
		return []string{""}
	}
	var out []string
	var current strings.Builder
	currentWidth := 0

	for _, r := range text {
		rw := runewidth.RuneWidth(r)
		if currentWidth+rw > width && current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
			currentWidth = 0
		}
		current.WriteRune(r)
		currentWidth += rw
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}
