package graph

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphbot-platform/server/internal/agent/model"
	errx "github.com/graphbot-platform/server/internal/core/error"
)

func TestNormalizeLegacyConfig(t *testing.T) {
	for name, raw := range map[string]any{
		"nil":        nil,
		"empty":      json.RawMessage(`{}`),
		"flat":       json.RawMessage(`{"use_rag": true, "api_tool_ids": [3, 4]}`),
		"empty list": `{"nodes": [], "use_rag": true, "api_tool_ids": [3, 4]}`,
	} {
		t.Run(name, func(t *testing.T) {
			out, err := Normalize(raw, "You are helpful.")
			require.NoError(t, err)
			assert.True(t, out.Legacy)
			assert.Equal(t, model.DefaultNodeID, out.Config.EntryNodeID)
			require.Len(t, out.Config.Nodes, 1)
			assert.Equal(t, "You are helpful.", out.Config.Nodes[0].SystemPrompt)
		})
	}

	out, err := Normalize(json.RawMessage(`{"use_rag": true, "api_tool_ids": [3, 4]}`), "")
	require.NoError(t, err)
	assert.True(t, out.Config.Nodes[0].UseRAG)
	assert.Equal(t, []int64{3, 4}, out.Config.Nodes[0].APIToolIDs)
}

func TestNormalizeNodeEncodings(t *testing.T) {
	cases := map[string]any{
		"list": map[string]any{
			"entry_node_id": "greet",
			"nodes": []any{
				map[string]any{"id": "greet", "name": "Greeting", "use_rag": true},
			},
		},
		"json string": json.RawMessage(`{"entry_node_id": "greet", "nodes": "[{\"id\": \"greet\", \"use_rag\": true}]"}`),
		"literal string": map[string]any{
			"entry_node_id": "greet",
			"nodes":         `[{'id': 'greet', 'name': 'Greeting', 'use_rag': True, 'transitions': []}]`,
		},
		"typed": &model.BotGraphConfig{
			EntryNodeID: "greet",
			Nodes:       []model.GraphNode{{ID: "greet", UseRAG: true}},
		},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := Normalize(raw, "")
			require.NoError(t, err)
			assert.False(t, out.Legacy)
			require.Len(t, out.Config.Nodes, 1)
			assert.Equal(t, "greet", out.Config.Nodes[0].ID)
			assert.True(t, out.Config.Nodes[0].UseRAG)
		})
	}
}

func TestNormalizeStripsQuotes(t *testing.T) {
	raw := json.RawMessage(`{
		"entry_node_id": "\"start\"",
		"nodes": [
			{"id": "start", "transitions": [{"target_node_id": "'next'", "condition": {"type": "always"}}]},
			{"id": "next"}
		]
	}`)
	out, err := Normalize(raw, "")
	require.NoError(t, err)
	assert.Equal(t, "start", out.Config.EntryNodeID)
	assert.Equal(t, "next", out.Config.Nodes[0].Transitions[0].TargetNodeID)
	assert.Equal(t, model.ConditionAlways, out.Config.Nodes[0].Transitions[0].Condition.Type)
}

func TestNormalizeDropsInvalidNodes(t *testing.T) {
	raw := json.RawMessage(`{
		"entry_node_id": "a",
		"nodes": [
			{"id": "a", "allowed_document_ids": ["5", 6]},
			{"name": "no id"},
			{"id": "a"},
			{"id": "end"},
			"not a node",
			42
		]
	}`)
	out, err := Normalize(raw, "")
	require.NoError(t, err)
	require.Len(t, out.Config.Nodes, 1)
	assert.Equal(t, []int64{5, 6}, out.Config.Nodes[0].AllowedDocumentIDs)
	assert.Len(t, out.Dropped, 5)
}

func TestNormalizeConfigErrors(t *testing.T) {
	cases := map[string]string{
		"no valid nodes": `{"entry_node_id": "a", "nodes": [{"name": "x"}]}`,
		"unknown entry":  `{"entry_node_id": "zzz", "nodes": [{"id": "a"}]}`,
		"missing entry":  `{"nodes": [{"id": "a"}]}`,
		"entry only":     `{"entry_node_id": "a"}`,
		"nodes scalar":   `{"entry_node_id": "a", "nodes": 12}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(json.RawMessage(raw), "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, errx.ErrConfig), err.Error())
		})
	}
}

func TestStripQuotes(t *testing.T) {
	assert.Equal(t, "a", stripQuotes(`"a"`))
	assert.Equal(t, "a", stripQuotes(`'a'`))
	assert.Equal(t, "a", stripQuotes(` "\"a\"" `))
	assert.Equal(t, "a'b", stripQuotes(`a'b`))
}
