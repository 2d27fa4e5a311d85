package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const (
	nodesPlaceholder   = "{nodes}"
	maxCandidatePrompt = 300
)

//go:embed template/routing_prompt.txt
var defaultRoutingPrompt string

// RoutingCandidate is one target node offered to the routing model.
type RoutingCandidate struct {
	ID     string
	Name   string
	Prompt string
}

// FormatCandidates renders candidates one per line.
func FormatCandidates(candidates []RoutingCandidate) string {
	lines := make([]string, 0, len(candidates))
	for _, c := range candidates {
		line := "- id: " + c.ID
		if c.Name != "" {
			line += " | name: " + c.Name
		}
		if p := strings.Join(strings.Fields(c.Prompt), " "); p != "" {
			if r := []rune(p); len(r) > maxCandidatePrompt {
				p = string(r[:maxCandidatePrompt]) + "..."
			}
			line += " | prompt: " + p
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// RenderRouting builds the routing request: the instruction with {nodes} substituted (or
// the list appended when there is no placeholder) and the latest user message.
func RenderRouting(ctx context.Context, instruction string, candidates []RoutingCandidate, userMessage string) ([]*schema.Message, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = strings.TrimSpace(defaultRoutingPrompt)
	}
	list := FormatCandidates(candidates)
	var content string
	if strings.Contains(instruction, nodesPlaceholder) {
		content = strings.ReplaceAll(instruction, nodesPlaceholder, list)
	} else {
		content = instruction + "\n\nCandidate nodes:\n" + list + "\n\nRespond with only the id of the chosen node."
	}

	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("routing_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"routing_messages": []*schema.Message{
			schema.SystemMessage(content),
			schema.UserMessage(userMessage),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("routing prompt render: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("routing prompt render: empty result")
	}
	return msgs, nil
}
