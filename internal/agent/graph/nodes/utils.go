package nodes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/graphbot-platform/server/internal/agent/metrics"
	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

const DefaultMaxToolIterations = 10

// normalizeMaxIterations returns a sane default when the provided value is invalid.
func normalizeMaxIterations(n int) int {
	if n <= 0 {
		return DefaultMaxToolIterations
	}
	return n
}

func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// nativeCalls converts provider tool calls. Some providers omit ids; missing ones are
// synthesized and written back so the tool results can reference them.
func nativeCalls(msg *schema.Message) []model.ToolCall {
	calls := make([]model.ToolCall, 0, len(msg.ToolCalls))
	for i := range msg.ToolCalls {
		tc := &msg.ToolCalls[i]
		if strings.TrimSpace(tc.ID) == "" {
			tc.ID = newCallID()
		}
		calls = append(calls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
			Native:    true,
		})
	}
	return calls
}

func decodeArguments(raw string) map[string]any {
	args := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return map[string]any{}
	}
	args = map[string]any{}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// recordUsage prices the response token usage and accumulates it into state.
func recordUsage(state *model.ConversationState, out *schema.Message, modelName, nodeID string) {
	if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	usage := out.ResponseMeta.Usage
	inC, outC, totalC := model.ComputeCost(usage, model.ResolvePricing(modelName))
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra[model.ExtraUsageCost] = map[string]any{
		"currency":          "USD",
		"model":             modelName,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"input_cost":        inC,
		"output_cost":       outC,
		"total_cost":        totalC,
	}
	logx.Debug().
		Str("node_id", nodeID).
		Str("model", modelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")

	state.TotalCostUSD += totalC
	out.Extra[model.ExtraUsageCostTotal] = state.TotalCostUSD
	if totalC > 0 {
		metrics.TokenCostUSD.WithLabelValues(modelName).Add(totalC)
	}
}

// toolResultMessage wraps a tool result for the next model turn.
func toolResultMessage(call model.ToolCall, result string) *schema.Message {
	if call.Native {
		return model.NativeToolResultMessage(call, result)
	}
	return model.ToolOriginMessage(call.Name, fmt.Sprintf("Tool '%s' replied:\n%s", call.Name, result))
}

func markExtra(msg *schema.Message, key string, value any) {
	if msg.Extra == nil {
		msg.Extra = map[string]any{}
	}
	msg.Extra[key] = value
}
