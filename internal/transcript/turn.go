// internal/transcript/turn.go
// Package transcript turns persisted chat records and live protocol events
// into ordered display turns made of text and tool-call segments.
package transcript

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who authored a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle state of a turn. The zero value is a finalized
// historical turn and reads as completed.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ToolStatus is the lifecycle state of a tool call
type ToolStatus string

const (
	ToolRunning ToolStatus = "running"
	ToolDone    ToolStatus = "done"
)

// Arguments carries a tool call payload. JSON holds a structured payload;
// Raw holds one that could not be (or must not be) decoded.
type Arguments struct {
	JSON json.RawMessage `json:"json,omitempty"`
	Raw  string          `json:"raw,omitempty"`
}

// String returns the payload as text for display
func (a *Arguments) String() string {
	if a == nil {
		return ""
	}
	if len(a.JSON) > 0 {
		return string(a.JSON)
	}
	return a.Raw
}

// ToolCall is one invocation of an external capability
type ToolCall struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    ToolStatus `json:"status"`
	Arguments *Arguments `json:"arguments,omitempty"`
	Output    *string    `json:"output,omitempty"` // nil until resolved
	Logs      []string   `json:"logs,omitempty"`
	Progress  *float64   `json:"progress,omitempty"`
	Total     *float64   `json:"total,omitempty"`
}

// Resolved reports whether the call's output has arrived
func (c ToolCall) Resolved() bool {
	return c.Output != nil
}

// clone returns a copy that shares no mutable state with c
func (c ToolCall) clone() ToolCall {
	if c.Output != nil {
		out := *c.Output
		c.Output = &out
	}
	if c.Logs != nil {
		c.Logs = append([]string(nil), c.Logs...)
	}
	if c.Progress != nil {
		p := *c.Progress
		c.Progress = &p
	}
	if c.Total != nil {
		t := *c.Total
		c.Total = &t
	}
	return c
}

// SegmentKind discriminates Segment
type SegmentKind string

const (
	SegmentText SegmentKind = "text"
	SegmentTool SegmentKind = "tool"
)

// Segment is an ordered piece of a turn: narrative text or a tool call.
type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Content string      `json:"content,omitempty"`
	Tool    *ToolCall   `json:"tool,omitempty"`
}

// TextSegment builds a text segment
func TextSegment(content string) Segment {
	return Segment{Kind: SegmentText, Content: content}
}

// ToolSegment builds a tool segment holding its own copy of call
func ToolSegment(call ToolCall) Segment {
	c := call.clone()
	return Segment{Kind: SegmentTool, Tool: &c}
}

// Turn is one displayed conversational unit
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	RawText   string    `json:"raw_text"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status,omitempty"`
	Segments  []Segment `json:"segments"`

	// PendingToolCalls maps call id to a call whose result has not arrived.
	PendingToolCalls map[string]ToolCall `json:"-"`
}

// EffectiveStatus treats the zero status as completed
func (t Turn) EffectiveStatus() Status {
	if t.Status == "" {
		return StatusCompleted
	}
	return t.Status
}

// Finished reports whether the turn can no longer change
func (t Turn) Finished() bool {
	s := t.EffectiveStatus()
	return s == StatusCompleted || s == StatusError
}

// Text joins the content of all text segments
func (t Turn) Text() string {
	var sb strings.Builder
	for _, seg := range t.Segments {
		if seg.Kind == SegmentText {
			sb.WriteString(seg.Content)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool calls in display order
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, seg := range t.Segments {
		if seg.Kind == SegmentTool && seg.Tool != nil {
			calls = append(calls, *seg.Tool)
		}
	}
	return calls
}

// Clone returns a deep copy. Segments, tool calls and the pending map are
// never shared between the copy and the original.
func (t Turn) Clone() Turn {
	segs := make([]Segment, len(t.Segments))
	for i, seg := range t.Segments {
		if seg.Tool != nil {
			c := seg.Tool.clone()
			seg.Tool = &c
		}
		segs[i] = seg
	}
	t.Segments = segs

	if t.PendingToolCalls != nil {
		pending := make(map[string]ToolCall, len(t.PendingToolCalls))
		for id, call := range t.PendingToolCalls {
			pending[id] = call.clone()
		}
		t.PendingToolCalls = pending
	}
	return t
}
