package nodes

import (
	"context"
	"regexp"
	"strings"

	"github.com/graphbot-platform/server/internal/agent/graph/parsers"
	"github.com/graphbot-platform/server/internal/agent/graph/tools"
	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// RuleDatePattern extracts a date (YYYY-MM-DD or DD.MM.YYYY) from the user message.
const RuleDatePattern = "date_pattern"

// runTriggers invokes tools whose keywords appear in the user message, before the model runs.
func (e *Executor) runTriggers(ctx context.Context, state *model.ConversationState, set *tools.Set, userText string) {
	if userText == "" || len(e.node.ToolTriggers) == 0 {
		return
	}
	lower := strings.ToLower(userText)
	for _, trig := range e.node.ToolTriggers {
		if trig.ToolName == "" || !containsKeyword(lower, trig.Keywords) {
			continue
		}
		args := extractParams(userText, trig.ExtractParams)
		logx.Debug().
			Str("node_id", e.node.ID).
			Str("tool_name", trig.ToolName).
			Int("params", len(args)).
			Msg("Tool trigger matched")
		e.invoke(ctx, state, set, model.ToolCall{ID: newCallID(), Name: trig.ToolName, Arguments: args}, true)
	}
}

func containsKeyword(lowerText string, keywords []string) bool {
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(lowerText, k) {
			return true
		}
	}
	return false
}

// extractParams applies each rule to text. Rules are RuleDatePattern or a regular
// expression whose first group (or whole match) is the value.
func extractParams(text string, rules map[string]string) map[string]any {
	args := map[string]any{}
	for param, rule := range rules {
		if rule == RuleDatePattern {
			if d, ok := parsers.FindDate(text); ok {
				args[param] = d
			}
			continue
		}
		re, err := regexp.Compile(rule)
		if err != nil {
			logx.Warn().Err(err).Str("param", param).Msg("Invalid tool trigger pattern")
			continue
		}
		m := re.FindStringSubmatch(text)
		switch {
		case len(m) > 1:
			args[param] = strings.TrimSpace(m[1])
		case len(m) == 1:
			args[param] = strings.TrimSpace(m[0])
		}
	}
	return args
}
