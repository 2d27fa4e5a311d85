package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/graphbot-platform/server/internal/agent/model"
)

func TestLint(t *testing.T) {
	cfg := &model.BotGraphConfig{
		EntryNodeID: "a",
		Nodes: []model.GraphNode{
			{ID: "a", Transitions: []model.NodeTransition{
				{TargetNodeID: "b", Condition: model.TransitionCondition{Type: model.ConditionKeyword}},
				{TargetNodeID: "ghost", Condition: model.TransitionCondition{Type: "regex"}},
			}},
			{ID: "b", ToolTriggers: []model.ToolTrigger{{ToolName: "slots"}}},
			{ID: "island"},
		},
	}
	problems := Lint(cfg)
	assert.Len(t, problems, 5)
	assert.Contains(t, problems, `node "a": keyword transition #0 has an empty value`)
	assert.Contains(t, problems, `node "a": transition #1 targets unknown node "ghost"`)
	assert.Contains(t, problems, `node "island" is unreachable from entry "a"`)

	clean := &model.BotGraphConfig{EntryNodeID: "a", Nodes: []model.GraphNode{{ID: "a"}}}
	assert.Empty(t, Lint(clean))
}
