// internal/transcript/event_test.go
package transcript

import (
	"testing"
)

func TestDecodeEventKinds(t *testing.T) {
	tests := []struct {
		name string
		json string
		kind EventKind
	}{
		{"delta", `{"type":"delta","delta":"hi"}`, EventDelta},
		{"text delta", `{"type":"text_delta","text":"hi"}`, EventDelta},
		{"task completed", `{"type":"task_completed"}`, EventCompletion},
		{"done", `{"type":"DONE"}`, EventCompletion},
		{"task failed", `{"type":"task_failed","error":"boom"}`, EventFailure},
		{"task aborted", `{"type":"task_aborted"}`, EventAbort},
		{"tool start", `{"type":"tool_start","call_id":"1","name":"x"}`, EventToolStart},
		{"tool complete", `{"type":"tool_complete","call_id":"1","output":"ok"}`, EventToolComplete},
		{"tool progress", `{"type":"tool_call_progress","call_id":"1","log":"l"}`, EventToolProgress},
		{"warning", `{"type":"warning","message":"slow"}`, EventWarning},
		{"unknown", `{"type":"heartbeat"}`, EventUnknown},
		{"no type", `{"delta":"x"}`, EventUnknown},
		{"malformed", `{"type":`, EventUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := DecodeEvent([]byte(tt.json))
			if ev.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, ev.Kind)
			}
			if string(ev.Raw) != tt.json {
				t.Errorf("Expected raw payload kept, got %s", ev.Raw)
			}
		})
	}
}

func TestDecodeEventFields(t *testing.T) {
	ev := DecodeEvent([]byte(`{"type":"delta","data":{"content":"Hel"}}`))
	if ev.Text != "Hel" {
		t.Errorf("Expected text from envelope, got %q", ev.Text)
	}

	ev = DecodeEvent([]byte(`{"type":"task_completed","result":"final"}`))
	if ev.Final == nil || *ev.Final != "final" {
		t.Errorf("Expected final text, got %v", ev.Final)
	}
	ev = DecodeEvent([]byte(`{"type":"task_completed"}`))
	if ev.Final != nil {
		t.Errorf("Expected no final text, got %q", *ev.Final)
	}

	ev = DecodeEvent([]byte(`{"type":"task_failed","error":{"message":"rate limited"}}`))
	if ev.Reason != "rate limited" {
		t.Errorf("Expected nested error message, got %q", ev.Reason)
	}

	ev = DecodeEvent([]byte(`{"type":"tool_start","payload":{"callId":"c7","tool":"grep","args":{"q":"x"}}}`))
	if ev.CallID != "c7" || ev.Name != "grep" {
		t.Errorf("Unexpected tool start: %+v", ev)
	}
	if ev.Arguments == nil || ev.Arguments.String() != `{"q":"x"}` {
		t.Errorf("Expected JSON arguments, got %+v", ev.Arguments)
	}

	ev = DecodeEvent([]byte(`{"type":"tool_start","id":"c8","name":"sh","arguments":"ls -la"}`))
	if ev.Arguments == nil || ev.Arguments.Raw != "ls -la" {
		t.Errorf("Expected raw arguments, got %+v", ev.Arguments)
	}

	ev = DecodeEvent([]byte(`{"type":"tool_start","id":"c9","name":"sh","arguments":"{\"a\":1}"}`))
	if ev.Arguments == nil || string(ev.Arguments.JSON) != `{"a":1}` {
		t.Errorf("Expected encoded JSON arguments decoded, got %+v", ev.Arguments)
	}

	ev = DecodeEvent([]byte(`{"type":"tool_complete","tool_call_id":"c7","result":{"hits":2}}`))
	if ev.CallID != "c7" || ev.Output != `{"hits":2}` {
		t.Errorf("Unexpected tool complete: %+v", ev)
	}
}

func TestDecodeEventProgressKind(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected ProgressKind
	}{
		{"explicit log", `{"type":"tool_progress","call_id":"1","kind":"log","message":"m"}`, ProgressLog},
		{"explicit progress", `{"type":"tool_progress","call_id":"1","progress_kind":"progress","progress":1}`, ProgressUpdate},
		{"inferred progress", `{"type":"tool_progress","call_id":"1","progress":2,"total":4}`, ProgressUpdate},
		{"inferred log", `{"type":"tool_progress","call_id":"1","line":"x"}`, ProgressLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := DecodeEvent([]byte(tt.json))
			if ev.ProgressKind != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, ev.ProgressKind)
			}
		})
	}

	ev := DecodeEvent([]byte(`{"type":"tool_progress","call_id":"1","progress":2,"total":4}`))
	if ev.Progress == nil || *ev.Progress != 2 || ev.Total == nil || *ev.Total != 4 {
		t.Errorf("Unexpected numbers: %v/%v", ev.Progress, ev.Total)
	}
}

func TestEventKindTerminal(t *testing.T) {
	for _, k := range []EventKind{EventCompletion, EventFailure, EventAbort} {
		if !k.Terminal() {
			t.Errorf("Expected %s to be terminal", k)
		}
	}
	for _, k := range []EventKind{EventDelta, EventToolStart, EventWarning, EventUnknown} {
		if k.Terminal() {
			t.Errorf("Expected %s not to be terminal", k)
		}
	}
}
