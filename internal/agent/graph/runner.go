package graph

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/graphbot-platform/server/internal/agent/graph/conversations"
	"github.com/graphbot-platform/server/internal/agent/graph/nodes"
	"github.com/graphbot-platform/server/internal/agent/graph/parsers"
	"github.com/graphbot-platform/server/internal/agent/graph/tools"
	"github.com/graphbot-platform/server/internal/agent/model"
	errx "github.com/graphbot-platform/server/internal/core/error"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// Runner executes chat turns for stored bots with the public QueryInput.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.ChatResult, error)
	// Reset drops the stored history of a session.
	Reset(ctx context.Context, sessionID string) error
}

// Config holds everything needed to compose the engine end-to-end.
// This is a convenience layer over Deps that also constructs the ChatModel and MessagesManager.
type Config struct {
	LLM              model.LLMConfig
	Engine           model.EngineConfig
	Parser           model.ParserConfig
	Conversation     model.ConversationConfig
	Bots             model.BotStore
	APITools         model.APIToolStore
	Chunks           model.ChunkSearcher
	ConversationRepo model.ConversationRepository
	HTTPClient       *http.Client
}

type graphRunner struct {
	bots     model.BotStore
	messages *conversations.MessagesManager
	driver   *Driver
}

// NewRunner wires a runner from already built collaborators.
func NewRunner(bots model.BotStore, messages *conversations.MessagesManager, driver *Driver) Runner {
	return &graphRunner{bots: bots, messages: messages, driver: driver}
}

func (r *graphRunner) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errx.New(fmt.Errorf("session id is empty"), 400, "session id is empty")
	}
	return r.messages.Clear(ctx, sessionID)
}

func (r *graphRunner) Invoke(ctx context.Context, in model.QueryInput) (*model.ChatResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, errx.New(fmt.Errorf("query is empty"), 400, "query is empty")
	}
	if in.SessionID == "" {
		return nil, errx.New(fmt.Errorf("session id is empty"), 400, "session id is empty")
	}

	bot, err := r.bots.GetBot(ctx, in.BotID)
	if err != nil {
		return nil, err
	}

	history, err := r.messages.History(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	res, err := r.driver.Process(ctx, query, history, bot)
	if err != nil {
		return nil, err
	}

	if err := r.messages.SaveExchange(ctx, in.SessionID, query, res); err != nil {
		// the reply is still delivered
		logx.Warn().Err(err).Str("session_id", in.SessionID).Msg("Failed to persist chat exchange")
	}
	return res, nil
}

// BuildDeps creates the process-wide collaborators shared by every graph.
func BuildDeps(ctx context.Context, cfg Config) (*nodes.Deps, error) {
	chat, err := nodes.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	engine := cfg.Engine.Normalized()
	return &nodes.Deps{
		Chat:   chat,
		Tools:  tools.NewBuilder(cfg.APITools, cfg.Chunks, engine, cfg.HTTPClient),
		Parser: parsers.New(parsers.HeuristicsFromConfig(cfg.Parser)),
		Engine: engine,
	}, nil
}

// BuildRunner composes the chat model, tool builder, parser and MessagesManager into a Runner.
func BuildRunner(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.ConversationRepo == nil {
		return nil, fmt.Errorf("conversation repo is nil")
	}
	if cfg.Bots == nil {
		return nil, fmt.Errorf("bot store is nil")
	}

	deps, err := BuildDeps(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mm := conversations.NewMessagesManager(cfg.ConversationRepo, cfg.Conversation)

	logx.Debug().Str("model", deps.Chat.Name).Msg("Chat runner built successfully")
	return NewRunner(cfg.Bots, mm, NewDriver(deps)), nil
}
