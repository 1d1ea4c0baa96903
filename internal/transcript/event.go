// internal/transcript/event.go
package transcript

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// EventKind is the normalized kind of a live protocol event
type EventKind string

const (
	EventDelta        EventKind = "delta"
	EventCompletion   EventKind = "completion"
	EventFailure      EventKind = "failure"
	EventAbort        EventKind = "abort"
	EventToolStart    EventKind = "tool_start"
	EventToolComplete EventKind = "tool_complete"
	EventToolProgress EventKind = "tool_progress"
	EventWarning      EventKind = "warning"
	EventUnknown      EventKind = "unknown"
)

// Terminal reports whether the event ends a turn
func (k EventKind) Terminal() bool {
	return k == EventCompletion || k == EventFailure || k == EventAbort
}

// ProgressKind selects what a tool progress event updates
type ProgressKind string

const (
	ProgressLog    ProgressKind = "log"
	ProgressUpdate ProgressKind = "progress"
)

// Event is one protocol event from the live stream
type Event struct {
	Kind EventKind
	Type string // discriminator as received on the wire

	Text   string  // delta increment or warning message
	Final  *string // authoritative final text on completion, when sent
	Reason string  // failure or abort reason

	CallID       string
	Name         string
	Arguments    *Arguments
	Output       string
	ProgressKind ProgressKind
	Log          string
	Progress     *float64
	Total        *float64

	Raw json.RawMessage
}

// Wire type aliases accepted for each event kind
var eventAliases = map[string]EventKind{
	"delta":              EventDelta,
	"text_delta":         EventDelta,
	"content_delta":      EventDelta,
	"message_delta":      EventDelta,
	"token":              EventDelta,
	"task_completed":     EventCompletion,
	"completed":          EventCompletion,
	"done":               EventCompletion,
	"message_complete":   EventCompletion,
	"task_failed":        EventFailure,
	"failed":             EventFailure,
	"error":              EventFailure,
	"task_aborted":       EventAbort,
	"aborted":            EventAbort,
	"cancelled":          EventAbort,
	"tool_start":         EventToolStart,
	"tool_complete":      EventToolComplete,
	"tool_call_progress": EventToolProgress,
	"tool_progress":      EventToolProgress,
	"warning":            EventWarning,
}

// DecodeEvent reads one JSON event. Fields may sit at the top level or
// under "data"/"payload". Malformed or unrecognized input decodes to
// EventUnknown rather than failing.
func DecodeEvent(data []byte) Event {
	ev := Event{Kind: EventUnknown, Raw: append(json.RawMessage(nil), data...)}
	if !gjson.ValidBytes(data) {
		return ev
	}

	root := gjson.ParseBytes(data)
	ev.Type = root.Get("type").String()
	kind, ok := eventAliases[strings.ToLower(ev.Type)]
	if !ok {
		return ev
	}
	ev.Kind = kind

	switch kind {
	case EventDelta:
		ev.Text = field(root, "delta", "content", "text").String()
	case EventCompletion:
		if r := field(root, "content", "text", "result"); r.Exists() && r.Type != gjson.Null {
			final := r.String()
			ev.Final = &final
		}
	case EventFailure, EventAbort:
		ev.Reason = field(root, "error.message", "error", "message", "reason").String()
	case EventToolStart:
		ev.CallID = callID(root)
		ev.Name = field(root, "name", "tool", "tool_name").String()
		ev.Arguments = decodeArguments(field(root, "arguments", "args", "input"))
	case EventToolComplete:
		ev.CallID = callID(root)
		ev.Name = field(root, "name", "tool", "tool_name").String()
		ev.Output = field(root, "output", "result", "content").String()
	case EventToolProgress:
		ev.CallID = callID(root)
		ev.Log = field(root, "log", "message", "line").String()
		ev.Progress = number(field(root, "progress"))
		ev.Total = number(field(root, "total"))
		ev.ProgressKind = ProgressKind(strings.ToLower(field(root, "kind", "progress_kind", "progressKind").String()))
		if ev.ProgressKind != ProgressLog && ev.ProgressKind != ProgressUpdate {
			if ev.Progress != nil || ev.Total != nil {
				ev.ProgressKind = ProgressUpdate
			} else {
				ev.ProgressKind = ProgressLog
			}
		}
	case EventWarning:
		ev.Text = field(root, "message", "warning", "text").String()
	}

	return ev
}

// field returns the first present key, looking at the top level first and
// then inside the common envelope objects.
func field(root gjson.Result, keys ...string) gjson.Result {
	for _, scope := range []gjson.Result{root, root.Get("data"), root.Get("payload")} {
		if !scope.Exists() {
			continue
		}
		for _, key := range keys {
			if r := scope.Get(key); r.Exists() {
				return r
			}
		}
	}
	return gjson.Result{}
}

func callID(root gjson.Result) string {
	return field(root, "call_id", "callId", "callID", "tool_call_id", "id").String()
}

func number(r gjson.Result) *float64 {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := r.Float()
	return &v
}

func decodeArguments(r gjson.Result) *Arguments {
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return nil
	case r.IsObject() || r.IsArray():
		return &Arguments{JSON: json.RawMessage(r.Raw)}
	case r.Type == gjson.String:
		s := r.String()
		trimmed := strings.TrimSpace(s)
		if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && gjson.Valid(trimmed) {
			return &Arguments{JSON: json.RawMessage(trimmed)}
		}
		return &Arguments{Raw: s}
	default:
		return &Arguments{JSON: json.RawMessage(r.Raw)}
	}
}

// Delta builds a text increment event
func Delta(text string) Event {
	return Event{Kind: EventDelta, Type: "delta", Text: text}
}

// Completion builds a completion event; final may be nil
func Completion(final *string) Event {
	return Event{Kind: EventCompletion, Type: "task_completed", Final: final}
}

// Failure builds a task failure event
func Failure(reason string) Event {
	return Event{Kind: EventFailure, Type: "task_failed", Reason: reason}
}

// ToolStart builds a tool start event
func ToolStart(callID, name string, args *Arguments) Event {
	return Event{Kind: EventToolStart, Type: "tool_start", CallID: callID, Name: name, Arguments: args}
}

// ToolComplete builds a tool completion event
func ToolComplete(callID, output string) Event {
	return Event{Kind: EventToolComplete, Type: "tool_complete", CallID: callID, Output: output}
}
