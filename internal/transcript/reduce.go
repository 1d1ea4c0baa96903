// internal/transcript/reduce.go
package transcript

import (
	"fmt"
	"log/slog"
)

// CancelNotice is appended to a streaming turn stopped by the user
const CancelNotice = "[Cancelled]"

// Apply returns the turn that results from one live event. The input turn
// is never modified: the result is a deep copy, so a reader holding the old
// value never sees a partial update. Finished turns and unknown events come
// back unchanged.
func Apply(turn Turn, ev Event) Turn {
	if turn.Finished() {
		return turn
	}

	switch ev.Kind {
	case EventDelta:
		if ev.Text == "" {
			return turn
		}
		t := turn.Clone()
		t.RawText += ev.Text
		if n := len(t.Segments); n > 0 && t.Segments[n-1].Kind == SegmentText {
			t.Segments[n-1].Content += ev.Text
		} else {
			t.Segments = append(t.Segments, TextSegment(ev.Text))
		}
		return t

	case EventCompletion:
		t := turn.Clone()
		if ev.Final != nil {
			t.RawText = *ev.Final
		}
		t.Status = StatusCompleted
		return t

	case EventFailure:
		return Interrupt(turn, bracket("Error", ev.Reason))

	case EventAbort:
		return Interrupt(turn, bracket("Aborted", ev.Reason))

	case EventToolStart:
		t := turn.Clone()
		call := ToolCall{
			ID:        ev.CallID,
			Name:      ev.Name,
			Status:    ToolRunning,
			Arguments: ev.Arguments,
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("%s-tool-%d", t.ID, len(t.Segments))
		}
		if call.Name == "" {
			call.Name = defaultToolName
		}
		if t.PendingToolCalls == nil {
			t.PendingToolCalls = make(map[string]ToolCall)
		}
		// A reused id replaces the earlier pending entry.
		t.PendingToolCalls[call.ID] = call.clone()
		t.Segments = append(t.Segments, ToolSegment(call))
		return t

	case EventToolComplete:
		if _, ok := turn.PendingToolCalls[ev.CallID]; !ok {
			slog.Debug("tool completion without start", "component", "transcript", "call_id", ev.CallID)
			return turn
		}
		t := turn.Clone()
		i := t.openSegment(ev.CallID)
		delete(t.PendingToolCalls, ev.CallID)
		if i < 0 {
			return t
		}
		output := ev.Output
		call := t.Segments[i].Tool
		call.Output = &output
		call.Status = ToolDone
		return t

	case EventToolProgress:
		pending, ok := turn.PendingToolCalls[ev.CallID]
		if !ok {
			slog.Debug("tool progress without start", "component", "transcript", "call_id", ev.CallID)
			return turn
		}
		t := turn.Clone()
		i := t.openSegment(ev.CallID)
		if i < 0 {
			return t
		}
		call := t.Segments[i].Tool
		switch ev.ProgressKind {
		case ProgressUpdate:
			if ev.Progress != nil {
				p := *ev.Progress
				call.Progress = &p
			}
			if ev.Total != nil {
				n := *ev.Total
				call.Total = &n
			}
		default:
			call.Logs = append(call.Logs, ev.Log)
		}
		pending.Logs = call.Logs
		pending.Progress = call.Progress
		pending.Total = call.Total
		t.PendingToolCalls[ev.CallID] = pending.clone()
		return t

	case EventWarning:
		slog.Warn("agent warning", "component", "transcript", "turn", turn.ID, "message", ev.Text)
		return turn

	default:
		return turn
	}
}

// Interrupt marks a streaming turn as failed and appends a visible notice
// to its trailing text. A finished turn is returned unchanged, so repeated
// calls append the notice once.
func Interrupt(turn Turn, notice string) Turn {
	if turn.Finished() {
		return turn
	}
	t := turn.Clone()
	t.Status = StatusError

	n := len(t.Segments)
	if n > 0 && t.Segments[n-1].Kind == SegmentText {
		if t.Segments[n-1].Content != "" {
			notice = "\n\n" + notice
		}
		t.Segments[n-1].Content += notice
	} else {
		t.Segments = append(t.Segments, TextSegment(notice))
	}
	t.RawText += notice
	return t
}

// openSegment finds the most recent unresolved tool segment with the id
func (t *Turn) openSegment(callID string) int {
	for i := len(t.Segments) - 1; i >= 0; i-- {
		seg := t.Segments[i]
		if seg.Kind == SegmentTool && seg.Tool.ID == callID && !seg.Tool.Resolved() {
			return i
		}
	}
	return -1
}

func bracket(label, reason string) string {
	if reason == "" {
		return "[" + label + "]"
	}
	return fmt.Sprintf("[%s: %s]", label, reason)
}
