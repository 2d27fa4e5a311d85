package graph

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/graphbot-platform/server/internal/agent/graph/nodes"
	"github.com/graphbot-platform/server/internal/agent/graph/parsers"
	"github.com/graphbot-platform/server/internal/agent/metrics"
	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// Driver runs one chat turn of a bot: normalize, compile, walk, extract the reply.
type Driver struct {
	compiler *Compiler
	engine   model.EngineConfig
}

func NewDriver(deps *nodes.Deps) *Driver {
	return &Driver{compiler: NewCompiler(deps), engine: deps.Engine.Normalized()}
}

// Process answers message given the prior turns of the session. Configuration errors are
// returned; model and tool failures are already folded into the reply.
func (d *Driver) Process(ctx context.Context, message string, history []model.Turn, bot *model.BotConfig) (result *model.ChatResult, err error) {
	start := time.Now()
	defer func() {
		status := metrics.StatusOK
		switch {
		case err != nil:
			status = metrics.StatusError
		case result != nil && result.Fallback:
			status = metrics.StatusFallback
		}
		metrics.ChatRequests.WithLabelValues(status).Inc()
		metrics.ChatDuration.Observe(time.Since(start).Seconds())
	}()

	norm, err := Normalize(bot.Graph, bot.SystemPrompt)
	if err != nil {
		logx.Error().Err(err).Int64("bot_id", bot.ID).Msg("Invalid bot graph config")
		return nil, err
	}
	if norm.Legacy {
		logx.Debug().Int64("bot_id", bot.ID).Msg("Bot has no graph, using default node")
	}

	compiled, err := d.compiler.Compile(ctx, norm.Config, nodes.BotContext{
		BotID:        bot.ID,
		WorkspaceID:  bot.WorkspaceID,
		SystemPrompt: bot.SystemPrompt,
		Options:      nodes.SamplingOptions(bot.Temperature, bot.MaxTokens),
	})
	if err != nil {
		return nil, err
	}

	initial := &model.ConversationState{Messages: model.MessagesFromTurns(history, message)}
	final, err := compiled.Run(ctx, initial)
	if err != nil {
		logx.Error().Err(err).Int64("bot_id", bot.ID).Msg("Graph run failed")
		return nil, err
	}

	reply, ok := ExtractReply(final.Messages[len(initial.Messages):])
	if !ok {
		reply = d.engine.FallbackMessage
	}

	logx.Info().
		Int64("bot_id", bot.ID).
		Strs("visited", final.Visited).
		Int("tool_invocations", len(final.ToolInvocations)).
		Float64("cost_usd", final.TotalCostUSD).
		Bool("fallback", !ok).
		Msg("Chat turn completed")

	return &model.ChatResult{
		Reply:           reply,
		VisitedNodes:    final.Visited,
		LastNodeID:      final.LastNodeID,
		ToolInvocations: final.ToolInvocations,
		TotalCostUSD:    final.TotalCostUSD,
		Fallback:        !ok,
	}, nil
}

// ExtractReply returns the newest assistant message that is neither empty nor a tool call payload.
func ExtractReply(msgs []*schema.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil || m.Role != schema.Assistant {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" || len(m.ToolCalls) > 0 {
			continue
		}
		if payload, _ := m.Extra[model.ExtraToolCallPayload].(bool); payload {
			continue
		}
		if parsers.IsToolCallPayload(content) {
			continue
		}
		return m.Content, true
	}
	return "", false
}
