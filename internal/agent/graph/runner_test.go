package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphbot-platform/server/internal/agent/graph/conversations"
	"github.com/graphbot-platform/server/internal/agent/model"
	errx "github.com/graphbot-platform/server/internal/core/error"
)

func newTestRunner(m *scriptedModel, repo model.ConversationRepository) Runner {
	bots := &fakeBotStore{bots: map[int64]*model.BotConfig{
		7: {ID: 7, WorkspaceID: 3, SystemPrompt: "You are a shop assistant."},
	}}
	mm := conversations.NewMessagesManager(repo, model.ConversationConfig{MaxTurns: 10})
	return NewRunner(bots, mm, NewDriver(testDeps(m, model.EngineConfig{})))
}

func TestRunnerPersistsExchange(t *testing.T) {
	repo := newMemoryRepo()
	m := &scriptedModel{replies: []string{"We open at 9."}}
	r := newTestRunner(m, repo)

	res, err := r.Invoke(context.Background(), model.QueryInput{BotID: 7, SessionID: "s1", Query: " When do you open? "})
	require.NoError(t, err)
	assert.Equal(t, "We open at 9.", res.Reply)

	stored := repo.sessions["s1"]
	require.Len(t, stored, 2)
	assert.Equal(t, schema.User, stored[0].Role)
	assert.Equal(t, "When do you open?", stored[0].Content)
	assert.Equal(t, schema.Assistant, stored[1].Role)
	assert.Equal(t, []string{model.DefaultNodeID}, stored[1].Extra[conversations.ExtraVisitedNodes])
	assert.Equal(t, model.DefaultNodeID, stored[1].Extra[conversations.ExtraLastNodeID])
}

func TestRunnerFeedsHistoryBack(t *testing.T) {
	repo := newMemoryRepo()
	m := &scriptedModel{replies: []string{"first", "second"}}
	r := newTestRunner(m, repo)

	_, err := r.Invoke(context.Background(), model.QueryInput{BotID: 7, SessionID: "s1", Query: "one"})
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), model.QueryInput{BotID: 7, SessionID: "s1", Query: "two"})
	require.NoError(t, err)

	sent := m.lastCall()
	require.Len(t, sent, 4)
	assert.Equal(t, "one", sent[1].Content)
	assert.Equal(t, "first", sent[2].Content)
	assert.Equal(t, "two", sent[3].Content)
}

func TestRunnerValidatesInput(t *testing.T) {
	r := newTestRunner(&scriptedModel{replies: []string{"x"}}, newMemoryRepo())

	_, err := r.Invoke(context.Background(), model.QueryInput{BotID: 7, SessionID: "s1", Query: "  "})
	require.Error(t, err)
	assert.Equal(t, 400, errx.StatusOf(err))

	_, err = r.Invoke(context.Background(), model.QueryInput{BotID: 99, SessionID: "s1", Query: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrNotFound))
}

func TestRunnerResetClearsHistory(t *testing.T) {
	repo := newMemoryRepo()
	m := &scriptedModel{replies: []string{"first", "second"}}
	r := newTestRunner(m, repo)

	_, err := r.Invoke(context.Background(), model.QueryInput{BotID: 7, SessionID: "s1", Query: "one"})
	require.NoError(t, err)
	require.NoError(t, r.Reset(context.Background(), "s1"))

	n, err := repo.GetMessageCount(context.Background(), "s1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = r.Invoke(context.Background(), model.QueryInput{BotID: 7, SessionID: "s1", Query: "two"})
	require.NoError(t, err)
	assert.Len(t, m.lastCall(), 2)

	assert.Equal(t, 400, errx.StatusOf(r.Reset(context.Background(), "")))
}
