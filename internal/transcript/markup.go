// internal/transcript/markup.go
package transcript

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Call block delimiters in persisted assistant text. These and the tags in
// the patterns below are part of the stored history format and must match
// byte for byte.
const (
	CallOpenTag  = "<tool_call>"
	CallCloseTag = "</tool_call>"
)

const defaultToolName = "tool"

var (
	// Either a call block (group 1) or a result block (groups 2 and 3).
	// Both are non-greedy: the first close tag after an open tag ends it.
	markupPattern = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>|<tool_result\s+name="([^"]*)"\s*>(.*?)</tool_result>`)

	callBlockPattern = regexp.MustCompile(`(?s)<tool_call>.*?</tool_call>`)
	nameTagPattern   = regexp.MustCompile(`(?s)<name>(.*?)</name>`)
	argsTagPattern   = regexp.MustCompile(`(?s)<arguments>(.*?)</arguments>`)
	excessNewlines   = regexp.MustCompile(`\n{3,}`)
)

// Parse splits assistant text into text and tool segments. Calls found in
// the text are historical, so they are emitted as done; a result block
// resolves the oldest unresolved call with the same name, or becomes a
// standalone resolved tool segment when there is none. Text without any
// markup comes back as a single text segment equal to the input.
func Parse(text string) []Segment {
	matches := markupPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []Segment{TextSegment(text)}
	}

	segs := make([]Segment, 0, len(matches)*2+1)
	queued := make(map[string][]int) // tool name -> indices of unresolved calls, oldest first
	tools := 0
	last := 0

	for _, m := range matches {
		segs = appendText(segs, text[last:m[0]])
		last = m[1]

		if m[2] >= 0 {
			call := parseCallPayload(text[m[2]:m[3]])
			call.ID = fmt.Sprintf("call-%d", tools)
			call.Status = ToolDone
			tools++
			queued[call.Name] = append(queued[call.Name], len(segs))
			segs = append(segs, ToolSegment(call))
			continue
		}

		name := text[m[4]:m[5]]
		if name == "" {
			name = defaultToolName
		}
		output := strings.Trim(text[m[6]:m[7]], "\r\n")

		if q := queued[name]; len(q) > 0 {
			queued[name] = q[1:]
			segs[q[0]].Tool.Output = &output
			continue
		}

		segs = append(segs, ToolSegment(ToolCall{
			ID:     fmt.Sprintf("call-%d", tools),
			Name:   name,
			Status: ToolDone,
			Output: &output,
		}))
		tools++
	}

	return appendText(segs, text[last:])
}

// StripCallMarkup removes call blocks from text, including an unterminated
// trailing block left by a response that is still streaming, and collapses
// runs of three or more newlines to two.
func StripCallMarkup(text string) string {
	out := callBlockPattern.ReplaceAllString(text, "")
	if i := strings.Index(out, CallOpenTag); i >= 0 {
		out = out[:i]
	}
	return excessNewlines.ReplaceAllString(out, "\n\n")
}

// appendText adds a text segment unless the span is blank
func appendText(segs []Segment, span string) []Segment {
	if strings.TrimSpace(span) == "" {
		return segs
	}
	return append(segs, TextSegment(span))
}

// parseCallPayload reads the inside of a call block. A JSON object with
// name and arguments is decoded; a <name>/<arguments> pair keeps the
// arguments verbatim since their content is arbitrary.
func parseCallPayload(inner string) ToolCall {
	body := strings.TrimSpace(inner)

	if strings.HasPrefix(body, "{") {
		if !gjson.Valid(body) {
			return ToolCall{Name: defaultToolName}
		}
		root := gjson.Parse(body)
		call := ToolCall{Name: strings.TrimSpace(root.Get("name").String())}
		if call.Name == "" {
			call.Name = defaultToolName
		}
		if args := root.Get("arguments"); args.Exists() && args.Type != gjson.Null {
			call.Arguments = &Arguments{JSON: json.RawMessage(args.Raw)}
		}
		return call
	}

	if m := nameTagPattern.FindStringSubmatch(body); m != nil {
		call := ToolCall{Name: strings.TrimSpace(m[1])}
		if call.Name == "" {
			call.Name = defaultToolName
		}
		if a := argsTagPattern.FindStringSubmatch(body); a != nil {
			call.Arguments = &Arguments{Raw: a[1]}
		}
		return call
	}

	call := ToolCall{Name: defaultToolName}
	if body != "" {
		call.Arguments = &Arguments{Raw: body}
	}
	return call
}
