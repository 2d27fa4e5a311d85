package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/graphbot-platform/server/internal/agent/graph/parsers"
)

// DefaultSystemPrompt is used when neither the node nor the bot defines one.
const DefaultSystemPrompt = "You are a helpful assistant."

//go:embed template/tool_instruction.txt
var toolInstructionTemplate string

//go:embed template/wrap_up.txt
var wrapUpTemplate string

var toolInstruction = template.Must(template.New("tools").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(toolInstructionTemplate))

// RenderToolInstruction lists the tools and the strict output format the model should use.
// It returns "" when there are no tools.
func RenderToolInstruction(tools []parsers.ToolSpec) (string, error) {
	if len(tools) == 0 {
		return "", nil
	}
	var sb strings.Builder
	if err := toolInstruction.Execute(&sb, map[string]any{"Tools": tools}); err != nil {
		return "", fmt.Errorf("tool instruction render: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// ComposeSystemPrompt renders the effective system instruction for a node through the
// eino prompt component so prompt callbacks fire: the node prompt (or the bot prompt as
// fallback) followed by the tool instruction block.
func ComposeSystemPrompt(ctx context.Context, nodePrompt, botPrompt string, tools []parsers.ToolSpec) (string, error) {
	base := strings.TrimSpace(nodePrompt)
	if base == "" {
		base = strings.TrimSpace(botPrompt)
	}
	if base == "" {
		base = DefaultSystemPrompt
	}
	instruction, err := RenderToolInstruction(tools)
	if err != nil {
		return base, err
	}
	content := base
	if instruction != "" {
		content = base + "\n\n" + instruction
	}

	// a placeholder keeps user-authored braces out of template parsing
	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(content)},
	})
	if err != nil {
		return content, fmt.Errorf("system prompt callbacks: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return content, fmt.Errorf("system prompt callbacks: empty result")
	}
	return msgs[0].Content, nil
}

// RenderWrapUp renders the notice sent on the last turn-loop iteration.
func RenderWrapUp(ctx context.Context, limit int) (*schema.Message, error) {
	tpl := prompt.FromMessages(schema.GoTemplate, schema.UserMessage(strings.TrimSpace(wrapUpTemplate)))
	msgs, err := tpl.Format(ctx, map[string]any{"Limit": limit})
	if err != nil {
		return nil, fmt.Errorf("wrap-up render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return nil, fmt.Errorf("wrap-up render: empty result")
	}
	return msgs[0], nil
}
