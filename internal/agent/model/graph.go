package model

import (
	"encoding/json"

	"github.com/cloudwego/eino/schema"
)

// DefaultNodeID is the id of the single node synthesized for bots without a graph.
const DefaultNodeID = "default"

// EndLabel is the reserved routing label for the terminal state.
const EndLabel = "end"

type ConditionType string

const (
	ConditionAlways     ConditionType = "always"
	ConditionKeyword    ConditionType = "keyword"
	ConditionLLMRouting ConditionType = "llm_routing"
)

type TransitionCondition struct {
	Type  ConditionType `json:"type"`
	Value string        `json:"value,omitempty"`
}

type NodeTransition struct {
	TargetNodeID string              `json:"target_node_id"`
	Condition    TransitionCondition `json:"condition"`
}

// ToolTrigger invokes a tool directly when the user message contains one of Keywords.
// ExtractParams maps a parameter name to an extraction rule: "date_pattern" or a regular expression.
type ToolTrigger struct {
	ToolName      string            `json:"tool_name"`
	Keywords      []string          `json:"keywords"`
	ExtractParams map[string]string `json:"extract_params,omitempty"`
}

type GraphNode struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	SystemPrompt       string           `json:"system_prompt,omitempty"`
	RoutingPrompt      string           `json:"routing_prompt,omitempty"`
	UseRAG             bool             `json:"use_rag"`
	RAGSettings        map[string]any   `json:"rag_settings,omitempty"`
	AllowedDocumentIDs []int64          `json:"allowed_document_ids"`
	APIToolIDs         []int64          `json:"api_tool_ids"`
	ToolTriggers       []ToolTrigger    `json:"tool_triggers,omitempty"`
	Transitions        []NodeTransition `json:"transitions"`
}

// RetrievalTopK returns rag_settings.top_k when set to a positive number, otherwise def.
func (n *GraphNode) RetrievalTopK(def int) int {
	if n.RAGSettings == nil {
		return def
	}
	switch v := n.RAGSettings["top_k"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case json.Number:
		if i, err := v.Int64(); err == nil && i > 0 {
			return int(i)
		}
	}
	return def
}

type BotGraphConfig struct {
	EntryNodeID string      `json:"entry_node_id"`
	Nodes       []GraphNode `json:"nodes"`
}

// Node returns the node with the given id.
func (c *BotGraphConfig) Node(id string) (*GraphNode, bool) {
	for i := range c.Nodes {
		if c.Nodes[i].ID == id {
			return &c.Nodes[i], true
		}
	}
	return nil, false
}

// BotConfig is the read-only view of a bot supplied by the bot store.
type BotConfig struct {
	ID           int64           `json:"id"`
	WorkspaceID  int64           `json:"workspace_id"`
	Name         string          `json:"name"`
	SystemPrompt string          `json:"system_prompt"`
	Temperature  string          `json:"temperature"`
	MaxTokens    int             `json:"max_tokens"`
	Graph        json.RawMessage `json:"config"`
}

// ConversationState is the value threaded through graph nodes for one chat request.
// Node functions never mutate their input; they return a new state with appended messages.
type ConversationState struct {
	Messages        []*schema.Message
	LastNodeID      string
	Visited         []string
	Hops            int
	ToolInvocations []ToolInvocation
	TotalCostUSD    float64
}

// Clone returns a copy whose slices can be appended to without aliasing s.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return &ConversationState{}
	}
	out := *s
	out.Messages = append(make([]*schema.Message, 0, len(s.Messages)+4), s.Messages...)
	out.Visited = append([]string(nil), s.Visited...)
	out.ToolInvocations = append([]ToolInvocation(nil), s.ToolInvocations...)
	return &out
}

// QueryInput represents the input for processing user queries.
type QueryInput struct {
	BotID     int64  `json:"bot_id"`
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// ChatResult is the driver output: the reply plus routing and tool metadata for persistence.
type ChatResult struct {
	Reply           string           `json:"reply"`
	VisitedNodes    []string         `json:"visited_nodes"`
	LastNodeID      string           `json:"last_node_id"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
	TotalCostUSD    float64          `json:"total_cost_usd"`
	Fallback        bool             `json:"fallback"`
}
