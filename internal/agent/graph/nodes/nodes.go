package nodes

import (
	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/graphbot-platform/server/internal/agent/graph/parsers"
	"github.com/graphbot-platform/server/internal/agent/graph/tools"
	"github.com/graphbot-platform/server/internal/agent/model"
)

// Deps are the process-wide collaborators shared by every node of every graph.
type Deps struct {
	Chat   *ChatModel
	Tools  *tools.Builder
	Parser *parsers.Parser
	Engine model.EngineConfig
}

// BotContext carries the bot-level settings of one request.
type BotContext struct {
	BotID        int64
	WorkspaceID  int64
	SystemPrompt string
	// Options are per-call model options derived from the bot's sampling settings.
	Options []einomodel.Option
}
