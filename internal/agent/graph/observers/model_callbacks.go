package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/graphbot-platform/server/pkg/logger"
)

const maxLoggedContent = 500

// newModelHandler builds a typed ModelCallbackHandler to log requests and replies around model calls.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			if input == nil {
				return ctx
			}
			ev := logx.Debug().
				Str("model", info.Name).
				Int("messages", len(input.Messages)).
				Int("tools", len(input.Tools))
			if um := lastUserContent(input.Messages); um != "" {
				ev = ev.Str("user", truncate(um))
			}
			ev.Msg("Model call started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			if output == nil || output.Message == nil {
				return ctx
			}
			ev := logx.Debug().
				Str("model", info.Name).
				Str("assistant", truncate(output.Message.Content)).
				Int("tool_calls", len(output.Message.ToolCalls))
			if u := output.TokenUsage; u != nil {
				ev = ev.Int("prompt_tokens", u.PromptTokens).Int("completion_tokens", u.CompletionTokens)
			}
			ev.Msg("Model call finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("model", info.Name).Msg("Model call failed")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return m.Content
		}
	}
	return ""
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxLoggedContent {
		return s
	}
	return string(r[:maxLoggedContent]) + "..."
}
