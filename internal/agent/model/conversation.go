package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessage adds a message to the conversation history for the given session
	AddMessage(ctx context.Context, sessionID string, message *schema.Message) error

	// LoadHistory retrieves the conversation history for a session
	LoadHistory(ctx context.Context, sessionID string) (*ConversationHistory, error)

	// ClearHistory removes all conversation history for a session
	ClearHistory(ctx context.Context, sessionID string) error

	// GetMessageCount returns the number of messages in the session
	GetMessageCount(ctx context.Context, sessionID string) (int, error)
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	SessionID string
	Messages  []*schema.Message
}

// Turn is one persisted (role, content) pair of a chat session.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turns flattens the history into user/assistant turns.
func (h *ConversationHistory) Turns() []Turn {
	if h == nil {
		return nil
	}
	turns := make([]Turn, 0, len(h.Messages))
	for _, m := range h.Messages {
		if m == nil || IsToolOrigin(m) {
			continue
		}
		switch m.Role {
		case schema.User, schema.Assistant:
			turns = append(turns, Turn{Role: string(m.Role), Content: m.Content})
		}
	}
	return turns
}
