package parsers

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"

	"github.com/graphbot-platform/server/internal/agent/model"
)

var (
	nameFields = []string{"tool_name", "name", "tool"}
	argsFields = []string{"arguments", "args", "tool_input", "parameters"}

	actionToolRe = regexp.MustCompile(`(?i)["']action["']\s*:\s*["']tool["']`)
)

// matchWholeJSON accepts text that is, in its entirety, an envelope object or a list of them.
func matchWholeJSON(text string, _ []ToolSpec) []model.ToolCall {
	if text == "" || (text[0] != '{' && text[0] != '[') {
		return nil
	}
	return decodeEnvelopes(text)
}

// matchEmbeddedJSON finds envelope objects inside prose or code fences.
func matchEmbeddedJSON(text string, _ []ToolSpec) []model.ToolCall {
	if !actionToolRe.MatchString(text) {
		return nil
	}
	var calls []model.ToolCall
	for i := 0; i < len(text); {
		rel := strings.IndexByte(text[i:], '{')
		if rel < 0 {
			break
		}
		start := i + rel
		end := balancedEnd(text, start)
		if end < 0 {
			// truncated output: let the repairer close the object
			if actionToolRe.MatchString(text[start:]) {
				calls = append(calls, decodeEnvelopes(text[start:])...)
			}
			break
		}
		obj := text[start : end+1]
		if !actionToolRe.MatchString(obj) {
			i = end + 1
			continue
		}
		if got := decodeEnvelopes(obj); len(got) > 0 {
			calls = append(calls, got...)
			i = end + 1
			continue
		}
		// the envelope may be nested inside a wrapper object
		i = start + 1
	}
	return calls
}

// balancedEnd returns the index of the brace closing the one at start, or -1.
func balancedEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func decodeEnvelopes(raw string) []model.ToolCall {
	if !gjson.Valid(raw) {
		repaired, err := jsonrepair.JSONRepair(raw)
		if err != nil || !gjson.Valid(repaired) {
			return nil
		}
		raw = repaired
	}
	res := gjson.Parse(raw)
	items := []gjson.Result{res}
	if res.IsArray() {
		items = res.Array()
	}

	var calls []model.ToolCall
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		if call, ok := envelopeCall(item); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

func envelopeCall(item gjson.Result) (model.ToolCall, bool) {
	if !strings.EqualFold(strings.TrimSpace(item.Get("action").String()), "tool") {
		return model.ToolCall{}, false
	}
	name := ""
	for _, f := range nameFields {
		if v := item.Get(f); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			name = strings.TrimSpace(v.String())
			break
		}
	}
	if name == "" {
		return model.ToolCall{}, false
	}
	var args gjson.Result
	for _, f := range argsFields {
		if v := item.Get(f); v.Exists() && v.Type != gjson.Null {
			args = v
			break
		}
	}
	return model.ToolCall{
		ID:        item.Get("tool_call_id").String(),
		Name:      name,
		Arguments: decodeArguments(args),
	}, true
}

// decodeArguments accepts an object or a string holding an encoded object.
func decodeArguments(r gjson.Result) map[string]any {
	out := map[string]any{}
	if !r.Exists() {
		return out
	}
	raw := r.Raw
	if r.Type == gjson.String {
		raw = strings.TrimSpace(r.String())
		if !gjson.Valid(raw) {
			repaired, err := jsonrepair.JSONRepair(raw)
			if err != nil {
				return out
			}
			raw = repaired
		}
	}
	if !gjson.Parse(raw).IsObject() {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}
	}
	return out
}
