package nodes

import (
	"context"
	"fmt"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/graphbot-platform/server/internal/agent/graph/prompts"
	"github.com/graphbot-platform/server/internal/agent/graph/tools"
	"github.com/graphbot-platform/server/internal/agent/metrics"
	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// Executor runs the turn loop of one graph node.
type Executor struct {
	deps *Deps
	bot  BotContext
	node model.GraphNode
}

func NewExecutor(deps *Deps, bot BotContext, node model.GraphNode) *Executor {
	return &Executor{deps: deps, bot: bot, node: node}
}

// Run executes the node against in and returns the next state. in is not modified.
// Model and tool failures are folded into the returned messages; Run only fails on
// context cancellation.
func (e *Executor) Run(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state := in.Clone()
	state.Hops++
	state.LastNodeID = e.node.ID
	state.Visited = append(state.Visited, e.node.ID)
	metrics.NodeExecutions.Inc()

	set := e.deps.Tools.Build(ctx, &e.node, e.bot.WorkspaceID)

	system, err := prompts.ComposeSystemPrompt(ctx, e.node.SystemPrompt, e.bot.SystemPrompt, set.Specs())
	if err != nil {
		// the composed text is still returned on callback failures
		logx.Warn().Err(err).Str("node_id", e.node.ID).Msg("Rendering system prompt failed")
	}

	userText := model.LastUserContent(state.Messages)
	if e.node.UseRAG && set.Retriever() != nil && userText != "" {
		e.appendRetrievalContext(ctx, state, set.Retriever(), userText)
	}
	e.runTriggers(ctx, state, set, userText)

	chat, native := e.deps.Chat.withTools(set.Infos())
	maxIter := normalizeMaxIterations(e.deps.Engine.MaxToolIterations)

	iterations := 0
	for i := 1; i <= maxIter; i++ {
		iterations = i
		final := i == maxIter

		req := make([]*schema.Message, 0, len(state.Messages)+2)
		req = append(req, schema.SystemMessage(system))
		req = append(req, state.Messages...)
		if final && i > 1 && set.Len() > 0 {
			if wrapUp, err := prompts.RenderWrapUp(ctx, maxIter); err == nil {
				req = append(req, wrapUp)
			}
		}

		resp, err := e.generate(ctx, chat, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.ModelErrors.WithLabelValues("turn").Inc()
			logx.Error().Err(err).Str("node_id", e.node.ID).Int("iteration", i).Msg("Model invocation failed")
			state.Messages = append(state.Messages, e.apology())
			break
		}
		recordUsage(state, resp, e.deps.Chat.Name, e.node.ID)

		calls := e.toolCalls(resp, state.Messages, set)
		markExtra(resp, model.ExtraNodeID, e.node.ID)
		if len(calls) > 0 {
			markExtra(resp, model.ExtraToolCallPayload, true)
		}
		state.Messages = append(state.Messages, resp)

		if len(calls) == 0 {
			break
		}
		if final {
			logx.Warn().
				Str("node_id", e.node.ID).
				Int("max_iterations", maxIter).
				Int("pending_calls", len(calls)).
				Msg("Tool iteration limit reached, skipping remaining tool calls")
			break
		}
		for _, call := range calls {
			e.invoke(ctx, state, set, call, false)
		}
		logx.Debug().
			Str("node_id", e.node.ID).
			Int("iteration", i).
			Int("tool_count", len(calls)).
			Bool("native", native).
			Msg("Tool results appended, continuing turn loop")
	}
	metrics.TurnIterations.Observe(float64(iterations))

	return state, nil
}

// generate invokes the model with callbacks attached. Empty responses are errors.
func (e *Executor) generate(ctx context.Context, chat einomodel.BaseChatModel, msgs []*schema.Message) (*schema.Message, error) {
	ctx = einocb.ReuseHandlers(ctx, &einocb.RunInfo{
		Name:      e.deps.Chat.Name,
		Type:      "GraphNode",
		Component: components.ComponentOfChatModel,
	})
	manual := !components.IsCallbacksEnabled(chat)
	if manual {
		ctx = einocb.OnStart(ctx, &einomodel.CallbackInput{Messages: msgs})
	}

	resp, err := chat.Generate(ctx, msgs, e.bot.Options...)
	if err == nil && (resp == nil || (strings.TrimSpace(resp.Content) == "" && len(resp.ToolCalls) == 0)) {
		err = fmt.Errorf("empty model response")
	}
	if err != nil {
		if manual {
			einocb.OnError(ctx, err)
		}
		return nil, err
	}
	if manual {
		einocb.OnEnd(ctx, &einomodel.CallbackOutput{Message: resp})
	}
	return resp, nil
}

// toolCalls prefers native tool calls and falls back to parsing the text.
// Nodes without tools never parse.
func (e *Executor) toolCalls(resp *schema.Message, history []*schema.Message, set *tools.Set) []model.ToolCall {
	if len(resp.ToolCalls) > 0 {
		return nativeCalls(resp)
	}
	if set.Len() == 0 {
		return nil
	}
	calls, strategy := e.deps.Parser.ExtractWithStrategy(resp.Content, history, set.Specs())
	if len(calls) > 0 {
		metrics.ParserMatches.WithLabelValues(strategy).Inc()
		logx.Debug().
			Str("node_id", e.node.ID).
			Str("strategy", strategy).
			Int("tool_count", len(calls)).
			Msg("Parsed tool calls from text")
	}
	return calls
}

// invoke runs one call and appends its result; failures become the result text.
func (e *Executor) invoke(ctx context.Context, state *model.ConversationState, set *tools.Set, call model.ToolCall, trigger bool) {
	result, err := set.Invoke(ctx, call)
	failed := err != nil
	if failed {
		result = fmt.Sprintf("Error calling tool %s: %v", call.Name, err)
		logx.Warn().Err(err).Str("node_id", e.node.ID).Str("tool_name", call.Name).Msg("Tool call failed")
	}
	state.Messages = append(state.Messages, toolResultMessage(call, result))
	state.ToolInvocations = append(state.ToolInvocations, model.ToolInvocation{
		NodeID:    e.node.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Result:    result,
		Failed:    failed,
		Trigger:   trigger,
	})
}

func (e *Executor) appendRetrievalContext(ctx context.Context, state *model.ConversationState, r *tools.Retriever, query string) {
	chunks, err := r.Search(ctx, query)
	if err != nil {
		logx.Warn().Err(err).Str("node_id", e.node.ID).Msg("Retrieval context failed")
		return
	}
	if len(chunks) == 0 {
		return
	}
	state.Messages = append(state.Messages,
		model.ToolOriginMessage(tools.RetrievalToolName, tools.RAGContextPrefix+tools.FormatChunks(chunks)))
}

func (e *Executor) apology() *schema.Message {
	msg := schema.AssistantMessage(e.deps.Engine.Normalized().ApologyMessage, nil)
	markExtra(msg, model.ExtraApology, true)
	markExtra(msg, model.ExtraNodeID, e.node.ID)
	return msg
}
