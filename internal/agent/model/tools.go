package model

import "context"

// ToolCall is a structured tool invocation request produced by the parser or by native tool calling.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	// Native is set when the call came from the provider's structured tool-call output.
	Native bool `json:"-"`
}

// ToolInvocation records one executed tool call.
type ToolInvocation struct {
	NodeID    string         `json:"node_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result"`
	Failed    bool           `json:"failed"`
	Trigger   bool           `json:"trigger,omitempty"`
}

// ApiToolConfig describes an external HTTP tool owned by a workspace.
type ApiToolConfig struct {
	ID          int64             `json:"id"`
	WorkspaceID int64             `json:"workspace_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Params      map[string]any    `json:"params"`
	BodySchema  map[string]any    `json:"body_schema"`
}

// DocumentChunk is one retrieval match.
type DocumentChunk struct {
	DocumentID int64   `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Distance   float64 `json:"distance"`
}

type BotStore interface {
	// GetBot returns the bot with its prompt, sampling settings and raw graph config.
	GetBot(ctx context.Context, botID int64) (*BotConfig, error)
}

type APIToolStore interface {
	// GetAPITools returns the workspace tools with the given ids, in the order of ids.
	GetAPITools(ctx context.Context, workspaceID int64, ids []int64) ([]ApiToolConfig, error)
}

type ChunkSearcher interface {
	// SearchChunks returns the top k chunks of the workspace closest to query.
	// A non-empty documentIDs restricts the search to those documents.
	SearchChunks(ctx context.Context, workspaceID int64, query string, documentIDs []int64, k int) ([]DocumentChunk, error)
}
