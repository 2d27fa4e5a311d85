package graph

import (
	"fmt"
	"strings"

	"github.com/graphbot-platform/server/internal/agent/model"
)

// Lint reports problems that normalization tolerates but that usually indicate a
// misconfigured graph. It does not touch any store.
func Lint(cfg *model.BotGraphConfig) []string {
	if cfg == nil {
		return nil
	}
	known := make(map[string]bool, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		known[n.ID] = true
	}

	var problems []string
	for _, n := range cfg.Nodes {
		for i, t := range n.Transitions {
			switch {
			case t.TargetNodeID == "":
				problems = append(problems, fmt.Sprintf("node %q: transition #%d has no target", n.ID, i))
			case !known[t.TargetNodeID]:
				problems = append(problems, fmt.Sprintf("node %q: transition #%d targets unknown node %q", n.ID, i, t.TargetNodeID))
			}
			switch t.Condition.Type {
			case "", model.ConditionAlways, model.ConditionLLMRouting:
			case model.ConditionKeyword:
				if strings.TrimSpace(t.Condition.Value) == "" {
					problems = append(problems, fmt.Sprintf("node %q: keyword transition #%d has an empty value", n.ID, i))
				}
			default:
				problems = append(problems, fmt.Sprintf("node %q: transition #%d has unknown condition %q", n.ID, i, t.Condition.Type))
			}
		}
		for i, tr := range n.ToolTriggers {
			if tr.ToolName == "" || len(tr.Keywords) == 0 {
				problems = append(problems, fmt.Sprintf("node %q: tool trigger #%d needs a tool name and keywords", n.ID, i))
			}
		}
	}

	reached := map[string]bool{}
	queue := []string{cfg.EntryNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reached[id] || !known[id] {
			continue
		}
		reached[id] = true
		n, _ := cfg.Node(id)
		for _, t := range n.Transitions {
			queue = append(queue, t.TargetNodeID)
		}
	}
	for _, n := range cfg.Nodes {
		if !reached[n.ID] {
			problems = append(problems, fmt.Sprintf("node %q is unreachable from entry %q", n.ID, cfg.EntryNodeID))
		}
	}
	return problems
}
