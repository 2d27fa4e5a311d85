package nodes

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"

	"github.com/graphbot-platform/server/internal/agent/graph/prompts"
	"github.com/graphbot-platform/server/internal/agent/metrics"
	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// Selector picks the node that follows a given node.
type Selector struct {
	chat    *ChatModel
	node    model.GraphNode
	nodes   map[string]model.GraphNode
	maxHops int
}

// NewSelector builds the selector for node. nodes holds every node the graph knows;
// transitions to other ids are ignored.
func NewSelector(chat *ChatModel, node model.GraphNode, nodes map[string]model.GraphNode, maxHops int) *Selector {
	return &Selector{chat: chat, node: node, nodes: nodes, maxHops: maxHops}
}

// ValidTargets returns the distinct transition targets that resolve to known nodes, in order.
func ValidTargets(node model.GraphNode, nodes map[string]model.GraphNode) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range node.Transitions {
		if _, ok := nodes[t.TargetNodeID]; !ok || seen[t.TargetNodeID] {
			continue
		}
		seen[t.TargetNodeID] = true
		out = append(out, t.TargetNodeID)
	}
	return out
}

// Select returns the next node id, or model.EndLabel. It never fails.
func (s *Selector) Select(ctx context.Context, state *model.ConversationState) (string, error) {
	if s.maxHops > 0 && state.Hops >= s.maxHops {
		logx.Warn().Str("node_id", s.node.ID).Int("hops", state.Hops).Msg("Hop limit reached, ending graph")
		metrics.RoutingDecisions.WithLabelValues("hop_limit").Inc()
		return model.EndLabel, nil
	}

	var pool []string
	seen := map[string]bool{}
	for _, t := range s.node.Transitions {
		if conditionType(t.Condition) != model.ConditionLLMRouting {
			continue
		}
		if _, ok := s.nodes[t.TargetNodeID]; ok && !seen[t.TargetNodeID] {
			seen[t.TargetNodeID] = true
			pool = append(pool, t.TargetNodeID)
		}
	}
	if len(pool) > 0 {
		return s.route(ctx, state, pool), nil
	}

	lastUser := model.LastUserContent(state.Messages)
	lastAI := ""
	if m := model.LastAssistantMessage(state.Messages); m != nil {
		lastAI = m.Content
	}
	for _, t := range s.node.Transitions {
		if _, ok := s.nodes[t.TargetNodeID]; !ok {
			continue
		}
		if matches(t.Condition, lastUser, lastAI) {
			ct := string(conditionType(t.Condition))
			metrics.RoutingDecisions.WithLabelValues(ct).Inc()
			logx.Debug().
				Str("node_id", s.node.ID).
				Str("target", t.TargetNodeID).
				Str("condition", ct).
				Msg("Transition selected")
			return t.TargetNodeID, nil
		}
	}
	metrics.RoutingDecisions.WithLabelValues(model.EndLabel).Inc()
	return model.EndLabel, nil
}

func conditionType(c model.TransitionCondition) model.ConditionType {
	t := model.ConditionType(strings.ToLower(strings.TrimSpace(string(c.Type))))
	if t == "" {
		return model.ConditionAlways
	}
	return t
}

func matches(c model.TransitionCondition, lastUser, lastAI string) bool {
	switch conditionType(c) {
	case model.ConditionAlways:
		return true
	case model.ConditionKeyword:
		kw := strings.ToLower(strings.TrimSpace(c.Value))
		if kw == "" {
			return false
		}
		return strings.Contains(strings.ToLower(lastUser), kw) || strings.Contains(strings.ToLower(lastAI), kw)
	default:
		return false
	}
}

// route asks the model to pick one of pool. Unmatched output falls back to the first
// "general"/"other" candidate, else the first candidate; model failure picks the first candidate.
func (s *Selector) route(ctx context.Context, state *model.ConversationState, pool []string) string {
	candidates := make([]prompts.RoutingCandidate, 0, len(pool))
	for _, id := range pool {
		n := s.nodes[id]
		candidates = append(candidates, prompts.RoutingCandidate{ID: id, Name: n.Name, Prompt: n.SystemPrompt})
	}

	msgs, err := prompts.RenderRouting(ctx, s.node.RoutingPrompt, candidates, model.LastUserContent(state.Messages))
	if err != nil {
		logx.Warn().Err(err).Str("node_id", s.node.ID).Msg("Rendering routing prompt failed, using first candidate")
		metrics.RoutingDecisions.WithLabelValues("llm_fallback").Inc()
		return pool[0]
	}

	ctx = einocb.ReuseHandlers(ctx, &einocb.RunInfo{Name: s.chat.Name, Type: "Router", Component: components.ComponentOfChatModel})
	resp, err := s.chat.Model.Generate(ctx, msgs)
	if err != nil || resp == nil {
		metrics.ModelErrors.WithLabelValues("routing").Inc()
		logx.Warn().Err(err).Str("node_id", s.node.ID).Msg("Routing model failed, using first candidate")
		metrics.RoutingDecisions.WithLabelValues("llm_fallback").Inc()
		return pool[0]
	}

	if id, ok := matchCandidate(resp.Content, pool); ok {
		metrics.RoutingDecisions.WithLabelValues(string(model.ConditionLLMRouting)).Inc()
		logx.Debug().Str("node_id", s.node.ID).Str("target", id).Msg("LLM routing selected")
		return id
	}
	logx.Debug().Str("node_id", s.node.ID).Str("output", resp.Content).Msg("LLM routing output unmatched, using fallback")
	return s.fallback(pool)
}

func (s *Selector) fallback(pool []string) string {
	metrics.RoutingDecisions.WithLabelValues("llm_fallback").Inc()
	for _, id := range pool {
		l := strings.ToLower(id)
		if strings.Contains(l, "general") || strings.Contains(l, "other") {
			return id
		}
	}
	return pool[0]
}

// matchCandidate compares the trimmed model output with candidate ids, case-insensitively.
func matchCandidate(output string, pool []string) (string, bool) {
	out := strings.ToLower(strings.Trim(strings.TrimSpace(output), "`\"'.*"))
	for _, id := range pool {
		if strings.ToLower(id) == out {
			return id, true
		}
	}
	return "", false
}
