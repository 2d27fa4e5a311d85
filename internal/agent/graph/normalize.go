package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/mitchellh/mapstructure"

	"github.com/graphbot-platform/server/internal/agent/model"
	errx "github.com/graphbot-platform/server/internal/core/error"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// Normalized is a graph config in canonical form plus what normalization discarded.
type Normalized struct {
	Config  *model.BotGraphConfig
	Dropped []string
	Legacy  bool
}

// Normalize turns a stored bot config (JSON bytes, string, map or typed value) into a
// canonical BotGraphConfig. Configs without both nodes and entry_node_id become a single
// "default" node built from the legacy flat fields and botPrompt. Unparsable nodes are
// dropped with a warning; zero remaining nodes or an unknown entry is a config error.
func Normalize(raw any, botPrompt string) (*Normalized, error) {
	m, err := toMap(raw)
	if err != nil {
		return nil, err
	}

	entry := stripQuotes(asString(m["entry_node_id"]))
	if isEmptyValue(m["nodes"]) && entry == "" {
		return &Normalized{Config: legacyConfig(m, botPrompt), Legacy: true}, nil
	}

	items, err := nodeItems(m["nodes"])
	if err != nil {
		return nil, err
	}

	out := &Normalized{Config: &model.BotGraphConfig{EntryNodeID: entry}}
	seen := map[string]bool{}
	for i, item := range items {
		node, err := decodeNode(item)
		if err != nil {
			out.drop(fmt.Sprintf("node #%d: %v", i, err))
			continue
		}
		switch {
		case node.ID == "":
			out.drop(fmt.Sprintf("node #%d: missing id", i))
			continue
		case strings.EqualFold(node.ID, model.EndLabel):
			out.drop(fmt.Sprintf("node #%d: id %q is reserved", i, node.ID))
			continue
		case seen[node.ID]:
			out.drop(fmt.Sprintf("node #%d: duplicate id %q", i, node.ID))
			continue
		}
		seen[node.ID] = true
		out.Config.Nodes = append(out.Config.Nodes, node)
	}

	if len(out.Config.Nodes) == 0 {
		return nil, errx.Config("graph has no valid nodes")
	}
	if !seen[entry] {
		return nil, errx.Config("entry node %q does not match any node", entry)
	}
	return out, nil
}

func (n *Normalized) drop(reason string) {
	n.Dropped = append(n.Dropped, reason)
	logx.Warn().Str("reason", reason).Msg("graph: dropping invalid node")
}

func toMap(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case json.RawMessage:
		return bytesToMap([]byte(v))
	case []byte:
		return bytesToMap(v)
	case string:
		return bytesToMap([]byte(v))
	case model.BotGraphConfig, *model.BotGraphConfig:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errx.Config("encode graph config: %v", err)
		}
		return bytesToMap(b)
	default:
		return nil, errx.Config("unsupported graph config type %T", raw)
	}
}

func bytesToMap(b []byte) (map[string]any, error) {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return map[string]any{}, nil
	}
	m := map[string]any{}
	if err := json.Unmarshal([]byte(s), &m); err == nil {
		return m, nil
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err == nil {
		m = map[string]any{}
		if err = json.Unmarshal([]byte(repaired), &m); err == nil {
			return m, nil
		}
	}
	return nil, errx.Config("graph config is not an object: %v", err)
}

// nodeItems accepts a list, a JSON-encoded list, or a legacy language-literal list
// (single quotes, True/False/None).
func nodeItems(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return x, nil
	case map[string]any:
		return []any{x}, nil
	case []map[string]any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		var items []any
		if err := json.Unmarshal([]byte(s), &items); err == nil {
			return items, nil
		}
		repaired, err := jsonrepair.JSONRepair(s)
		if err != nil {
			return nil, errx.Config("nodes is neither JSON nor a list literal: %v", err)
		}
		if err := json.Unmarshal([]byte(repaired), &items); err != nil {
			return nil, errx.Config("nodes must be a list: %v", err)
		}
		return items, nil
	default:
		return nil, errx.Config("nodes must be a list, got %T", v)
	}
}

func decodeNode(item any) (model.GraphNode, error) {
	var node model.GraphNode
	if s, ok := item.(string); ok {
		m, err := bytesToMap([]byte(s))
		if err != nil {
			return node, fmt.Errorf("not an object")
		}
		item = m
	}
	m, ok := item.(map[string]any)
	if !ok {
		return node, fmt.Errorf("not an object (%T)", item)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           &node,
	})
	if err != nil {
		return node, err
	}
	if err := dec.Decode(m); err != nil {
		return node, err
	}

	node.ID = stripQuotes(node.ID)
	for i := range node.Transitions {
		node.Transitions[i].TargetNodeID = stripQuotes(node.Transitions[i].TargetNodeID)
	}
	return node, nil
}

func legacyConfig(m map[string]any, botPrompt string) *model.BotGraphConfig {
	node := model.GraphNode{
		ID:           model.DefaultNodeID,
		Name:         "Default Node",
		SystemPrompt: botPrompt,
	}
	// best effort: malformed legacy fields leave the zero value
	_ = mapstructure.WeakDecode(map[string]any{
		"UseRAG":      m["use_rag"],
		"APIToolIDs":  m["api_tool_ids"],
		"RAGSettings": m["rag_settings"],
	}, &node)
	return &model.BotGraphConfig{EntryNodeID: model.DefaultNodeID, Nodes: []model.GraphNode{node}}
}

// stripQuotes removes whitespace and surrounding quotes left by double-encoded ids.
func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		if unq := ""; s[0] == '"' && json.Unmarshal([]byte(s), &unq) == nil {
			s = strings.TrimSpace(unq)
			continue
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(x)
		return s == "" || s == "[]" || s == "null"
	case []any:
		return len(x) == 0
	default:
		return false
	}
}
