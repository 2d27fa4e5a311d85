package nodes

import (
	"context"
	"errors"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/graphbot-platform/server/internal/agent/graph/parsers"
	"github.com/graphbot-platform/server/internal/agent/graph/tools"
	"github.com/graphbot-platform/server/internal/agent/model"
)

// scriptedModel replays replies in order; the last reply repeats once the script runs out.
type scriptedModel struct {
	mu      sync.Mutex
	replies []*schema.Message
	errs    []error
	calls   [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.calls)
	m.calls = append(m.calls, append([]*schema.Message(nil), input...))
	if n < len(m.errs) && m.errs[n] != nil {
		return nil, m.errs[n]
	}
	if len(m.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	if n >= len(m.replies) {
		n = len(m.replies) - 1
	}
	out := *m.replies[n]
	return &out, nil
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// nativeModel supports structured tool calling.
type nativeModel struct {
	*scriptedModel
	bound []*schema.ToolInfo
}

func (m *nativeModel) WithTools(infos []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return &nativeModel{scriptedModel: m.scriptedModel, bound: infos}, nil
}

type fakeToolStore struct {
	tools []model.ApiToolConfig
}

func (f *fakeToolStore) GetAPITools(_ context.Context, _ int64, ids []int64) ([]model.ApiToolConfig, error) {
	var out []model.ApiToolConfig
	for _, id := range ids {
		for _, t := range f.tools {
			if t.ID == id {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

type fakeSearcher struct {
	chunks []model.DocumentChunk
}

func (f *fakeSearcher) SearchChunks(context.Context, int64, string, []int64, int) ([]model.DocumentChunk, error) {
	return f.chunks, nil
}

func assistant(content string) *schema.Message {
	return schema.AssistantMessage(content, nil)
}

func newDeps(m einomodel.BaseChatModel, store model.APIToolStore, searcher model.ChunkSearcher, engine model.EngineConfig) *Deps {
	return &Deps{
		Chat:   &ChatModel{Model: m, Name: "test-model", NativeTools: true},
		Tools:  tools.NewBuilder(store, searcher, engine, nil),
		Parser: parsers.New(parsers.DefaultHeuristics()),
		Engine: engine.Normalized(),
	}
}

func startState(text string) *model.ConversationState {
	return &model.ConversationState{Messages: []*schema.Message{schema.UserMessage(text)}}
}
