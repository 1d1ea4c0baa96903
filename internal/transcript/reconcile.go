// internal/transcript/reconcile.go
package transcript

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Record is one persisted history entry as returned by the service
type Record struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Timestamp *float64 `json:"timestamp,omitempty"` // unix milliseconds
}

// recordKind is the normalized role of a persisted record
type recordKind int

const (
	kindAssistant recordKind = iota
	kindUser
	kindSystem
	kindTool
)

var toolRecordPattern = regexp.MustCompile(`(?s)^\[([^\]\n]+)\]: ?(.*)$`)

func kindOf(role string) recordKind {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user":
		return kindUser
	case "system":
		return kindSystem
	case "tool":
		return kindTool
	default:
		return kindAssistant
	}
}

// SplitToolRecord reads a tool record in the "[name]: output" form. Text
// without the prefix is all output, attributed to a generic tool.
func SplitToolRecord(content string) (name, output string) {
	if m := toolRecordPattern.FindStringSubmatch(content); m != nil {
		return m[1], m[2]
	}
	return defaultToolName, content
}

// Reconcile rebuilds display turns from a session's persisted records.
// Everything between two user or system records collapses into a single
// assistant turn whose segments keep the original order of text, calls and
// results.
func Reconcile(records []Record) []Turn {
	turns := make([]Turn, 0, len(records))

	for i := 0; i < len(records); i++ {
		rec := records[i]
		id := fmt.Sprintf("hist-%d", i)

		switch kindOf(rec.Role) {
		case kindUser, kindSystem:
			role := RoleUser
			if kindOf(rec.Role) == kindSystem {
				role = RoleSystem
			}
			turns = append(turns, Turn{
				ID:        id,
				Role:      role,
				RawText:   rec.Content,
				Timestamp: recordTime(rec),
				Status:    StatusCompleted,
				Segments:  []Segment{TextSegment(rec.Content)},
			})

		case kindTool:
			name, output := SplitToolRecord(rec.Content)
			turns = append(turns, Turn{
				ID:        id,
				Role:      RoleAssistant,
				RawText:   rec.Content,
				Timestamp: recordTime(rec),
				Status:    StatusCompleted,
				Segments: []Segment{ToolSegment(ToolCall{
					ID:     id + "-tool-0",
					Name:   name,
					Status: ToolDone,
					Output: &output,
				})},
			})

		default:
			turn := Turn{
				ID:        id,
				Role:      RoleAssistant,
				RawText:   rec.Content,
				Timestamp: recordTime(rec),
				Status:    StatusCompleted,
			}
			turn.appendParsed(rec.Content, false)

			for i+1 < len(records) {
				next := records[i+1]
				kind := kindOf(next.Role)
				if kind == kindUser || kind == kindSystem {
					break
				}
				i++

				if kind == kindTool {
					name, output := SplitToolRecord(next.Content)
					turn.attachResult(name, output)
					continue
				}

				turn.RawText += "\n\n" + next.Content
				turn.appendParsed(next.Content, true)
			}

			turns = append(turns, turn)
		}
	}

	return turns
}

// appendParsed adds the segments parsed from an assistant record, giving
// every tool call an id unique within the turn.
func (t *Turn) appendParsed(content string, skipEmpty bool) {
	for _, seg := range Parse(content) {
		if seg.Kind == SegmentText && skipEmpty && strings.TrimSpace(seg.Content) == "" {
			continue
		}
		if seg.Kind == SegmentTool {
			seg.Tool.ID = t.nextToolID()
		}
		t.Segments = append(t.Segments, seg)
	}
}

// attachResult resolves the latest unresolved call with the given name,
// falling back to the latest unresolved call of any name. A result with no
// open call still gets its own segment.
func (t *Turn) attachResult(name, output string) {
	fallback := -1
	for i := len(t.Segments) - 1; i >= 0; i-- {
		seg := t.Segments[i]
		if seg.Kind != SegmentTool || seg.Tool.Resolved() {
			continue
		}
		if seg.Tool.Name == name {
			t.Segments[i].Tool.Output = &output
			t.Segments[i].Tool.Status = ToolDone
			return
		}
		if fallback < 0 {
			fallback = i
		}
	}

	if fallback >= 0 {
		t.Segments[fallback].Tool.Output = &output
		t.Segments[fallback].Tool.Status = ToolDone
		return
	}

	t.Segments = append(t.Segments, ToolSegment(ToolCall{
		ID:     t.nextToolID(),
		Name:   name,
		Status: ToolDone,
		Output: &output,
	}))
}

func (t *Turn) nextToolID() string {
	return fmt.Sprintf("%s-tool-%d", t.ID, len(t.Segments))
}

func recordTime(rec Record) time.Time {
	if rec.Timestamp == nil {
		return time.Time{}
	}
	return time.UnixMilli(int64(*rec.Timestamp))
}
