// internal/opencode/history.go
package opencode

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"ineffable/internal/transcript"
)

// decodeHistory flattens the server's messages into persisted records. A
// tool part becomes call markup in the assistant text followed by a
// "[name]: output" tool record, the same shape the native service stores.
func decodeHistory(body []byte) []transcript.Record {
	var records []transcript.Record

	gjson.ParseBytes(body).ForEach(func(_, msg gjson.Result) bool {
		info := msg.Get("info")
		role := info.Get("role").String()
		var ts *float64
		if created := info.Get("time.created"); created.Exists() {
			v := created.Float()
			ts = &v
		}

		var text strings.Builder
		flush := func() {
			if strings.TrimSpace(text.String()) == "" {
				text.Reset()
				return
			}
			records = append(records, transcript.Record{Role: role, Content: text.String(), Timestamp: ts})
			text.Reset()
		}

		msg.Get("parts").ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case partText:
				if part.Get("synthetic").Bool() {
					return true
				}
				if text.Len() > 0 {
					text.WriteString("\n\n")
				}
				text.WriteString(part.Get("text").String())

			case partTool:
				if role == "user" {
					return true
				}
				name := part.Get("tool").String()
				text.WriteString(callMarkup(name, part.Get("state.input")))
				flush()

				state := part.Get("state")
				switch state.Get("status").String() {
				case toolCompleted:
					records = append(records, transcript.Record{
						Role:      "tool",
						Content:   "[" + name + "]: " + state.Get("output").String(),
						Timestamp: ts,
					})
				case toolError:
					records = append(records, transcript.Record{
						Role:      "tool",
						Content:   "[" + name + "]: [Error: " + state.Get("error").String() + "]",
						Timestamp: ts,
					})
				}
			}
			return true
		})
		flush()
		return true
	})

	return records
}

// callMarkup encodes a tool call the way assistant text embeds it
func callMarkup(name string, input gjson.Result) string {
	payload := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}{Name: name}
	if input.Exists() && input.Type != gjson.Null {
		payload.Arguments = json.RawMessage(input.Raw)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		payload.Arguments = nil
		b, _ = json.Marshal(payload)
	}
	return transcript.CallOpenTag + string(b) + transcript.CallCloseTag
}
