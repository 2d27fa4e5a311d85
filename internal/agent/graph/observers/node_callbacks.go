package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"

	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

type startKey struct{ name string }

// newNodeHandler logs the lifecycle of graph node executors.
func newNodeHandler() einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, input einocb.CallbackInput) context.Context {
			ev := logx.Debug().Str("node_id", info.Name)
			if state, ok := input.(*model.ConversationState); ok && state != nil {
				ev = ev.Int("hops", state.Hops).Int("messages", len(state.Messages))
			}
			ev.Msg("Node started")
			return context.WithValue(ctx, startKey{info.Name}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, output einocb.CallbackOutput) context.Context {
			ev := logx.Debug().Str("node_id", info.Name)
			if started, ok := ctx.Value(startKey{info.Name}).(time.Time); ok {
				ev = ev.Dur("elapsed", time.Since(started))
			}
			if state, ok := output.(*model.ConversationState); ok && state != nil {
				ev = ev.Int("messages", len(state.Messages)).Int("tool_invocations", len(state.ToolInvocations))
			}
			ev.Msg("Node finished")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("node_id", info.Name).Msg("Node failed")
			return ctx
		}).
		Build()
}

// newGraphHandler logs whole graph runs.
func newGraphHandler() einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, output einocb.CallbackOutput) context.Context {
			if state, ok := output.(*model.ConversationState); ok && state != nil {
				logx.Debug().
					Str("graph", info.Name).
					Strs("visited", state.Visited).
					Float64("cost_usd", state.TotalCostUSD).
					Msg("Graph run finished")
			}
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("graph", info.Name).Msg("Graph run failed")
			return ctx
		}).
		Build()
}
