package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphbot-platform/server/internal/agent/model"
)

func nodeMap(nodes ...model.GraphNode) map[string]model.GraphNode {
	out := make(map[string]model.GraphNode, len(nodes))
	for _, n := range nodes {
		out[n.ID] = n
	}
	return out
}

func keyword(target, value string) model.NodeTransition {
	return model.NodeTransition{TargetNodeID: target, Condition: model.TransitionCondition{Type: model.ConditionKeyword, Value: value}}
}

func routing(target string) model.NodeTransition {
	return model.NodeTransition{TargetNodeID: target, Condition: model.TransitionCondition{Type: model.ConditionLLMRouting}}
}

func always(target string) model.NodeTransition {
	return model.NodeTransition{TargetNodeID: target, Condition: model.TransitionCondition{Type: model.ConditionAlways}}
}

func selectFor(t *testing.T, chat *ChatModel, node model.GraphNode, all map[string]model.GraphNode, state *model.ConversationState) string {
	t.Helper()
	next, err := NewSelector(chat, node, all, 25).Select(context.Background(), state)
	require.NoError(t, err)
	return next
}

func TestSelectorKeyword(t *testing.T) {
	a := model.GraphNode{ID: "A", Transitions: []model.NodeTransition{keyword("B", "Billing"), keyword("C", "refund")}}
	all := nodeMap(a, model.GraphNode{ID: "B"}, model.GraphNode{ID: "C"})

	assert.Equal(t, "B", selectFor(t, nil, a, all, startState("I have a BILLING question")))
	assert.Equal(t, "C", selectFor(t, nil, a, all, startState("need a refund")))
	assert.Equal(t, model.EndLabel, selectFor(t, nil, a, all, startState("hello")))
}

func TestSelectorKeywordChecksToolOriginAndAssistant(t *testing.T) {
	a := model.GraphNode{ID: "A", Transitions: []model.NodeTransition{keyword("B", "escalate")}}
	all := nodeMap(a, model.GraphNode{ID: "B"})

	state := &model.ConversationState{Messages: []*schema.Message{
		schema.UserMessage("my order is late"),
		model.ToolOriginMessage("x", "escalate"),
	}}
	assert.Equal(t, model.EndLabel, selectFor(t, nil, a, all, state), "tool-origin text is not a user message")

	state.Messages = append(state.Messages, assistant("I will escalate this."))
	assert.Equal(t, "B", selectFor(t, nil, a, all, state))
}

func TestSelectorFirstMatchWinsAndSkipsUnknownTargets(t *testing.T) {
	a := model.GraphNode{ID: "A", Transitions: []model.NodeTransition{
		always("ghost"),
		{TargetNodeID: "B", Condition: model.TransitionCondition{Type: "mystery"}},
		keyword("C", ""),
		{TargetNodeID: "D"},
		always("B"),
	}}
	all := nodeMap(a, model.GraphNode{ID: "B"}, model.GraphNode{ID: "C"}, model.GraphNode{ID: "D"})
	assert.Equal(t, "D", selectFor(t, nil, a, all, startState("x")), "empty condition type means always")
	assert.Equal(t, []string{"B", "C", "D"}, ValidTargets(a, all))
}

func TestSelectorNoTransitionsEnds(t *testing.T) {
	a := model.GraphNode{ID: "A"}
	assert.Equal(t, model.EndLabel, selectFor(t, nil, a, nodeMap(a), startState("anything")))
}

func TestSelectorLLMRouting(t *testing.T) {
	a := model.GraphNode{
		ID:            "router",
		RoutingPrompt: "Choose:\n{nodes}",
		Transitions:   []model.NodeTransition{always("billing"), routing("billing"), routing("general_help")},
	}
	all := nodeMap(a,
		model.GraphNode{ID: "billing", Name: "Billing", SystemPrompt: "Invoices"},
		model.GraphNode{ID: "general_help", Name: "General"},
	)

	m := &scriptedModel{replies: []*schema.Message{assistant("  Billing\n")}}
	chat := &ChatModel{Model: m, Name: "test"}
	assert.Equal(t, "billing", selectFor(t, chat, a, all, startState("my invoice")))
	require.Equal(t, 1, m.callCount())
	assert.Equal(t, "Choose:\n- id: billing | name: Billing | prompt: Invoices\n- id: general_help | name: General", m.calls[0][0].Content)
	assert.Equal(t, "my invoice", m.calls[0][1].Content)
}

func TestSelectorLLMRoutingFallbacks(t *testing.T) {
	a := model.GraphNode{ID: "r", Transitions: []model.NodeTransition{routing("sales"), routing("other"), routing("support")}}
	all := nodeMap(a, model.GraphNode{ID: "sales"}, model.GraphNode{ID: "other"}, model.GraphNode{ID: "support"})

	unmatched := &ChatModel{Model: &scriptedModel{replies: []*schema.Message{assistant("I think marketing")}}}
	assert.Equal(t, "other", selectFor(t, unmatched, a, all, startState("hi")))

	failing := &ChatModel{Model: &scriptedModel{errs: []error{errors.New("timeout")}}}
	assert.Equal(t, "sales", selectFor(t, failing, a, all, startState("hi")))

	b := model.GraphNode{ID: "r", Transitions: []model.NodeTransition{routing("sales"), routing("support")}}
	assert.Equal(t, "sales", selectFor(t, failing, b, all, startState("hi")))
}

func TestSelectorHopLimit(t *testing.T) {
	a := model.GraphNode{ID: "A", Transitions: []model.NodeTransition{always("A")}}
	state := startState("x")
	state.Hops = 3
	next, err := NewSelector(nil, a, nodeMap(a), 3).Select(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, model.EndLabel, next)
}
