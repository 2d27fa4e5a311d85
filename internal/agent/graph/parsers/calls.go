package parsers

import (
	"regexp"
	"strings"

	"github.com/graphbot-platform/server/internal/agent/model"
)

const maxIndicatorLines = 8

var (
	callExprRe  = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_\-]*)\s*\(([^()]*)\)`)
	bareTupleRe = regexp.MustCompile(`(?:^|[^A-Za-z0-9_\-])\(([^()]*)\)`)
	argsLineRe  = regexp.MustCompile(`^\((.*)\)$`)
	indicatorRe = regexp.MustCompile(`^[-*]?\s*([A-Za-z_][A-Za-z0-9_]{0,63})\s*:\s*(.+?)$`)
)

// matchCallExpression recognizes `name(key='value', ...)` where name is an available tool.
func matchCallExpression(text string, tools []ToolSpec) []model.ToolCall {
	var calls []model.ToolCall
	for _, m := range callExprRe.FindAllStringSubmatch(text, -1) {
		spec, ok := findTool(tools, m[1])
		if !ok {
			continue
		}
		args, ok := parseKwargs(m[2])
		if !ok && strings.TrimSpace(m[2]) != "" {
			continue
		}
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, model.ToolCall{Name: spec.Name, Arguments: args})
	}
	return calls
}

// matchBareTuple recognizes `(key='value', ...)` with no function name and picks the
// tool whose parameters best explain the keys.
func (p *Parser) matchBareTuple(text string, tools []ToolSpec) []model.ToolCall {
	if len(tools) == 0 {
		return nil
	}
	var calls []model.ToolCall
	for _, m := range bareTupleRe.FindAllStringSubmatch(text, -1) {
		args, ok := parseKwargs(m[1])
		if !ok || len(args) == 0 {
			continue
		}
		spec, ok := p.pickTool(args, tools)
		if !ok {
			continue
		}
		calls = append(calls, model.ToolCall{Name: spec.Name, Arguments: args})
	}
	return calls
}

// pickTool scores each tool by parameter overlap, boosted when the keys look like a
// create/book call against a create-named tool or a listing call against a list-named tool.
func (p *Parser) pickTool(args map[string]any, tools []ToolSpec) (ToolSpec, bool) {
	h := p.heuristics
	createKeys, listKeys := 0, 0
	for k := range args {
		key := strings.ToLower(k)
		if containsWord(h.CreateParamHints, key) {
			createKeys++
		}
		if containsWord(h.ListParamHints, key) {
			listKeys++
		}
	}

	best, bestScore := -1, 0
	for i, t := range tools {
		score := 0
		for _, param := range t.Params {
			if _, ok := args[param]; ok {
				score += 10
			}
		}
		name := strings.ToLower(t.Name)
		nameCreate := containsAny(name, h.CreateToolHints)
		nameList := containsAny(name, h.ListToolHints)
		if createKeys > 0 && nameCreate {
			score += 5 * createKeys
		}
		if createKeys > 0 && nameList && !nameCreate {
			score -= 3
		}
		if listKeys > 0 && createKeys == 0 && nameList {
			score += 5 * listKeys
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		return tools[best], true
	}
	if len(tools) == 1 {
		return tools[0], true
	}
	return ToolSpec{}, false
}

// matchTwoLine recognizes a tool name alone on one line followed by `(args)` on the next.
func matchTwoLine(text string, tools []ToolSpec) []model.ToolCall {
	lines := nonEmptyLines(text)
	var calls []model.ToolCall
	for i := 0; i+1 < len(lines); i++ {
		spec, ok := findTool(tools, strings.Trim(lines[i], "`*_ \t"))
		if !ok {
			continue
		}
		m := argsLineRe.FindStringSubmatch(strings.Trim(lines[i+1], "` \t"))
		if m == nil {
			continue
		}
		args, ok := parseKwargs(m[1])
		if !ok && strings.TrimSpace(m[1]) != "" {
			continue
		}
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, model.ToolCall{Name: spec.Name, Arguments: args})
		i++
	}
	return calls
}

// matchIndicator recognizes `indicator: value` and `indicator_for_param: value` lines.
// The indicator must be an identifier naming a tool, either exactly or as the tail of a
// prefixed name (available_slots for get_available_slots). Lines for the same tool merge.
// Every line must be such an indicator line, and values ending like a sentence reject the
// whole text.
func matchIndicator(text string, tools []ToolSpec) []model.ToolCall {
	lines := nonEmptyLines(text)
	if len(tools) == 0 || len(lines) > maxIndicatorLines {
		return nil
	}

	var calls []model.ToolCall
	index := map[string]int{}
	for _, l := range lines {
		m := indicatorRe.FindStringSubmatch(l)
		if m == nil || endsSentence(m[2]) {
			return nil
		}
		key := strings.ToLower(m[1])
		spec, ok := indicatorTool(key, tools)
		param := ""
		if !ok {
			idx := strings.LastIndex(key, "_for_")
			if idx <= 0 {
				return nil
			}
			if spec, ok = indicatorTool(key[:idx], tools); !ok {
				return nil
			}
			param = key[idx+len("_for_"):]
		}
		if param == "" {
			param = defaultParam(spec)
		}
		value := parseValue(m[2])
		if pos, seen := index[spec.Name]; seen {
			calls[pos].Arguments[param] = value
			continue
		}
		index[spec.Name] = len(calls)
		calls = append(calls, model.ToolCall{Name: spec.Name, Arguments: map[string]any{param: value}})
	}
	return calls
}

func indicatorTool(indicator string, tools []ToolSpec) (ToolSpec, bool) {
	if indicator == "" {
		return ToolSpec{}, false
	}
	if spec, ok := findTool(tools, indicator); ok {
		return spec, true
	}
	if !strings.Contains(indicator, "_") {
		return ToolSpec{}, false
	}
	for _, t := range tools {
		if strings.HasSuffix(strings.ToLower(t.Name), "_"+indicator) {
			return t, true
		}
	}
	return ToolSpec{}, false
}

func endsSentence(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	switch v[len(v)-1] {
	case '.', '!', '?', ';':
		return true
	}
	return false
}

func defaultParam(t ToolSpec) string {
	if len(t.Params) > 0 {
		return t.Params[0]
	}
	return "query"
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

func containsWord(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
