package graph

import (
	"context"
	"errors"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/graphbot-platform/server/internal/agent/graph/nodes"
	"github.com/graphbot-platform/server/internal/agent/graph/parsers"
	"github.com/graphbot-platform/server/internal/agent/graph/tools"
	"github.com/graphbot-platform/server/internal/agent/model"
	errx "github.com/graphbot-platform/server/internal/core/error"
)

// scriptedModel replays replies in order; the last reply repeats once the script runs out.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	calls   [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.calls)
	m.calls = append(m.calls, append([]*schema.Message(nil), input...))
	if len(m.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	if n >= len(m.replies) {
		n = len(m.replies) - 1
	}
	return schema.AssistantMessage(m.replies[n], nil), nil
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (m *scriptedModel) lastCall() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

func testDeps(m einomodel.BaseChatModel, engine model.EngineConfig) *nodes.Deps {
	engine = engine.Normalized()
	return &nodes.Deps{
		Chat:   &nodes.ChatModel{Model: m, Name: "test-model"},
		Tools:  tools.NewBuilder(nil, nil, engine, nil),
		Parser: parsers.New(parsers.DefaultHeuristics()),
		Engine: engine,
	}
}

type fakeBotStore struct {
	bots map[int64]*model.BotConfig
}

func (s *fakeBotStore) GetBot(_ context.Context, id int64) (*model.BotConfig, error) {
	bot, ok := s.bots[id]
	if !ok {
		return nil, errx.NotFound("bot", id)
	}
	return bot, nil
}

type memoryRepo struct {
	mu       sync.Mutex
	sessions map[string][]*schema.Message
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sessions: map[string][]*schema.Message{}}
}

func (r *memoryRepo) AddMessage(_ context.Context, sessionID string, message *schema.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = append(r.sessions[sessionID], message)
	return nil
}

func (r *memoryRepo) LoadHistory(_ context.Context, sessionID string) (*model.ConversationHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &model.ConversationHistory{SessionID: sessionID, Messages: append([]*schema.Message(nil), r.sessions[sessionID]...)}, nil
}

func (r *memoryRepo) ClearHistory(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

func (r *memoryRepo) GetMessageCount(_ context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[sessionID]), nil
}
