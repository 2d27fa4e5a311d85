package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Keys used in schema.Message.Extra.
const (
	ExtraFromTool        = "from_tool"
	ExtraToolName        = "tool_name"
	ExtraToolCallPayload = "tool_call_payload"
	ExtraNodeID          = "node_id"
	ExtraApology         = "apology"
	ExtraUsageCost       = "usage_cost"
	ExtraUsageCostTotal  = "usage_cost_total_usd"
)

// ToolOriginMessage wraps a tool result (or retrieval context) for models that only speak
// user/assistant turns. It is a user-role message flagged as tool-origin.
func ToolOriginMessage(toolName, content string) *schema.Message {
	msg := schema.UserMessage(content)
	msg.Extra = map[string]any{
		ExtraFromTool: true,
		ExtraToolName: toolName,
	}
	return msg
}

// NativeToolResultMessage answers a provider-native tool call.
func NativeToolResultMessage(call ToolCall, content string) *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Extra: map[string]any{
			ExtraFromTool: true,
			ExtraToolName: call.Name,
		},
	}
}

// IsToolOrigin reports whether m carries a tool result rather than a real user turn.
func IsToolOrigin(m *schema.Message) bool {
	if m == nil {
		return false
	}
	if m.Role == schema.Tool {
		return true
	}
	v, _ := m.Extra[ExtraFromTool].(bool)
	return v
}

// LastUserMessage returns the latest real user message, skipping tool-origin ones.
func LastUserMessage(msgs []*schema.Message) *schema.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil || m.Role != schema.User || IsToolOrigin(m) {
			continue
		}
		return m
	}
	return nil
}

// LastAssistantMessage returns the latest assistant message.
func LastAssistantMessage(msgs []*schema.Message) *schema.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if m := msgs[i]; m != nil && m.Role == schema.Assistant {
			return m
		}
	}
	return nil
}

// LastUserContent is LastUserMessage's trimmed content, or "".
func LastUserContent(msgs []*schema.Message) string {
	if m := LastUserMessage(msgs); m != nil {
		return strings.TrimSpace(m.Content)
	}
	return ""
}

// MessagesFromTurns converts persisted history plus the new message into the initial sequence.
// Turns with unknown roles are skipped.
func MessagesFromTurns(history []Turn, message string) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+1)
	for _, t := range history {
		switch strings.ToLower(t.Role) {
		case string(schema.User):
			msgs = append(msgs, schema.UserMessage(t.Content))
		case string(schema.Assistant):
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		}
	}
	return append(msgs, schema.UserMessage(message))
}
