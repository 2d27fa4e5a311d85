package conversations

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// Extra keys stored on persisted assistant replies.
const (
	ExtraVisitedNodes    = "visited_nodes"
	ExtraLastNodeID      = "last_node_id"
	ExtraToolInvocations = "tool_invocations"
	ExtraCostUSD         = "cost_usd"
	ExtraFallback        = "fallback"
)

type MessagesManager struct {
	conversationRepo model.ConversationRepository
	maxTurns         int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		conversationRepo: conversationRepo,
		maxTurns:         config.MaxTurns,
	}
}

// History returns the most recent user/assistant turns of a session, oldest first.
func (cm *MessagesManager) History(ctx context.Context, sessionID string) ([]model.Turn, error) {
	history, err := cm.conversationRepo.LoadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns := history.Turns()
	out := make([]model.Turn, 0, len(turns))
	for _, t := range trimTail(turns, cm.maxTurns) {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// SaveExchange persists the user message and the reply with its routing metadata.
func (cm *MessagesManager) SaveExchange(ctx context.Context, sessionID, query string, result *model.ChatResult) error {
	if err := cm.conversationRepo.AddMessage(ctx, sessionID, schema.UserMessage(query)); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return cm.SaveResponse(ctx, sessionID, result)
}

func (cm *MessagesManager) SaveResponse(ctx context.Context, sessionID string, result *model.ChatResult) error {
	assistantMsg := schema.AssistantMessage(result.Reply, nil)
	assistantMsg.Extra = map[string]any{
		ExtraVisitedNodes: result.VisitedNodes,
		ExtraLastNodeID:   result.LastNodeID,
		ExtraCostUSD:      result.TotalCostUSD,
		ExtraFallback:     result.Fallback,
	}
	if len(result.ToolInvocations) > 0 {
		assistantMsg.Extra[ExtraToolInvocations] = result.ToolInvocations
	}
	if err := cm.conversationRepo.AddMessage(ctx, sessionID, assistantMsg); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("Failed to save reply")
		return err
	}
	return nil
}

// Clear drops the stored history of a session.
func (cm *MessagesManager) Clear(ctx context.Context, sessionID string) error {
	return cm.conversationRepo.ClearHistory(ctx, sessionID)
}

// ====================== Helper function ======================
func trimTail[T any](items []T, maxTurns int) []T {
	if maxTurns <= 0 || len(items) <= maxTurns {
		result := make([]T, len(items))
		copy(result, items)
		return result
	}
	source := items[len(items)-maxTurns:]
	result := make([]T, len(source))
	copy(result, source)
	return result
}
