package prompts

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphbot-platform/server/internal/agent/graph/parsers"
)

func TestComposeSystemPromptFallbacks(t *testing.T) {
	ctx := context.Background()

	got, err := ComposeSystemPrompt(ctx, "Node prompt", "Bot prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "Node prompt", got)

	got, err = ComposeSystemPrompt(ctx, "  ", "Bot prompt {with braces}", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bot prompt {with braces}", got)

	got, err = ComposeSystemPrompt(ctx, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSystemPrompt, got)
}

func TestComposeSystemPromptWithTools(t *testing.T) {
	got, err := ComposeSystemPrompt(context.Background(), "Be brief.", "", []parsers.ToolSpec{
		{Name: "search_documents", Description: "Search uploaded documents", Params: []string{"query"}},
		{Name: "weather", Description: "Current weather"},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "Be brief.\n\nTOOLS:")
	assert.Contains(t, got, `{"action": "tool", "tool_name": "<name>"`)
	assert.Contains(t, got, "- search_documents: Search uploaded documents (parameters: query)")
	assert.Contains(t, got, "- weather: Current weather\n")
	assert.Contains(t, got, "If no tool is required, respond in natural language with the final answer.")
}

func TestRenderRoutingPlaceholder(t *testing.T) {
	candidates := []RoutingCandidate{
		{ID: "billing", Name: "Billing", Prompt: "Handle invoices"},
		{ID: "general", Name: "General"},
	}
	msgs, err := RenderRouting(context.Background(), "Pick one of:\n{nodes}\nAnswer with the id.", candidates, "my invoice is wrong")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Pick one of:\n- id: billing | name: Billing | prompt: Handle invoices\n- id: general | name: General\nAnswer with the id.", msgs[0].Content)
	assert.Equal(t, "my invoice is wrong", msgs[1].Content)

	msgs, err = RenderRouting(context.Background(), "Route the user.", candidates, "hi")
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "Route the user.\n\nCandidate nodes:\n- id: billing")

	msgs, err = RenderRouting(context.Background(), "", candidates, "hi")
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "- id: general | name: General")
	assert.NotContains(t, msgs[0].Content, nodesPlaceholder)
}

func TestFormatCandidatesTruncatesByRune(t *testing.T) {
	prompt := strings.Repeat("ก", maxCandidatePrompt+10)
	line := FormatCandidates([]RoutingCandidate{{ID: "th", Prompt: prompt}})
	assert.True(t, utf8.ValidString(line))
	assert.Equal(t, "- id: th | prompt: "+strings.Repeat("ก", maxCandidatePrompt)+"...", line)

	short := FormatCandidates([]RoutingCandidate{{ID: "th", Prompt: "สวัสดี"}})
	assert.Equal(t, "- id: th | prompt: สวัสดี", short)
}

func TestRenderWrapUp(t *testing.T) {
	msg, err := RenderWrapUp(context.Background(), 10)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "maximum number of tool calls (10)")
}
