package nodes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphbot-platform/server/internal/agent/graph/prompts"
	"github.com/graphbot-platform/server/internal/agent/model"
)

func weatherServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"city":"`+r.URL.Query().Get("city")+`","temp":21}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecutorPlainAnswer(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{assistant("Hello there!")}}
	deps := newDeps(m, nil, nil, model.EngineConfig{})
	in := startState("hello")

	out, err := NewExecutor(deps, BotContext{SystemPrompt: "Bot prompt"}, model.GraphNode{ID: "default"}).Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, out.Messages, 2)
	assert.Equal(t, "Hello there!", out.Messages[1].Content)
	assert.Equal(t, "default", out.LastNodeID)
	assert.Equal(t, []string{"default"}, out.Visited)
	assert.Equal(t, 1, out.Hops)
	assert.Len(t, in.Messages, 1, "input state must not change")

	require.Equal(t, 1, m.callCount())
	assert.Equal(t, schema.System, m.calls[0][0].Role)
	assert.Equal(t, "Bot prompt", m.calls[0][0].Content)
}

func TestExecutorNodePromptOverridesBotPrompt(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{assistant("ok")}}
	deps := newDeps(m, nil, nil, model.EngineConfig{})

	_, err := NewExecutor(deps, BotContext{SystemPrompt: "Bot prompt"}, model.GraphNode{ID: "n", SystemPrompt: "Node prompt"}).
		Run(context.Background(), startState("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Node prompt", m.calls[0][0].Content)
}

func TestExecutorToolLoopWithTextProtocol(t *testing.T) {
	srv := weatherServer(t)
	store := &fakeToolStore{tools: []model.ApiToolConfig{
		{ID: 1, Name: "weather", Description: "Current weather", URL: srv.URL, Method: "GET", Params: map[string]any{"city": ""}},
	}}
	m := &scriptedModel{replies: []*schema.Message{
		assistant("```json\n{\"action\":\"tool\",\"tool_name\":\"weather\",\"arguments\":{\"city\":\"Paris\"}}\n```"),
		assistant("It is 21 degrees in Paris."),
	}}
	deps := newDeps(m, store, nil, model.EngineConfig{})
	node := model.GraphNode{ID: "w", SystemPrompt: "Weather bot", APIToolIDs: []int64{1}}

	out, err := NewExecutor(deps, BotContext{}, node).Run(context.Background(), startState("weather in Paris?"))
	require.NoError(t, err)

	require.Len(t, out.Messages, 4)
	payload := out.Messages[1]
	assert.Equal(t, true, payload.Extra[model.ExtraToolCallPayload])

	result := out.Messages[2]
	assert.True(t, model.IsToolOrigin(result))
	assert.Equal(t, schema.User, result.Role)
	assert.Equal(t, "Tool 'weather' replied:\n{\"city\":\"Paris\",\"temp\":21}", result.Content)

	assert.Equal(t, "It is 21 degrees in Paris.", out.Messages[3].Content)
	require.Len(t, out.ToolInvocations, 1)
	assert.False(t, out.ToolInvocations[0].Failed)

	require.Equal(t, 2, m.callCount())
	assert.Contains(t, m.calls[0][0].Content, "TOOLS:")
	assert.Contains(t, m.calls[0][0].Content, "- weather: Current weather")
	// the second turn sees the tool result last
	second := m.calls[1]
	assert.Equal(t, result.Content, second[len(second)-1].Content)
}

func TestExecutorToolErrorsBecomeResults(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	store := &fakeToolStore{tools: []model.ApiToolConfig{{ID: 1, Name: "down", URL: closed.URL}}}
	m := &scriptedModel{replies: []*schema.Message{
		assistant(`{"action":"tool","tool_name":"down","arguments":{}}`),
		assistant(`{"action":"tool","tool_name":"missing","arguments":{}}`),
		assistant("Sorry, the service is unavailable."),
	}}
	deps := newDeps(m, store, nil, model.EngineConfig{})

	out, err := NewExecutor(deps, BotContext{}, model.GraphNode{ID: "n", APIToolIDs: []int64{1}}).
		Run(context.Background(), startState("check"))
	require.NoError(t, err)

	require.Len(t, out.ToolInvocations, 2)
	assert.True(t, out.ToolInvocations[0].Failed)
	assert.True(t, strings.HasPrefix(out.ToolInvocations[0].Result, "Error calling tool down:"))
	assert.True(t, strings.HasPrefix(out.ToolInvocations[1].Result, "Error calling tool missing:"))
	assert.Equal(t, "Sorry, the service is unavailable.", out.Messages[len(out.Messages)-1].Content)
}

func TestExecutorModelFailureAppendsApology(t *testing.T) {
	for name, m := range map[string]*scriptedModel{
		"error": {errs: []error{errors.New("provider down")}},
		"empty": {replies: []*schema.Message{assistant("   ")}},
	} {
		t.Run(name, func(t *testing.T) {
			deps := newDeps(m, nil, nil, model.EngineConfig{ApologyMessage: "Sorry!"})
			out, err := NewExecutor(deps, BotContext{}, model.GraphNode{ID: "n"}).Run(context.Background(), startState("hi"))
			require.NoError(t, err)
			last := out.Messages[len(out.Messages)-1]
			assert.Equal(t, schema.Assistant, last.Role)
			assert.Equal(t, "Sorry!", last.Content)
			assert.Equal(t, true, last.Extra[model.ExtraApology])
		})
	}
}

func TestExecutorIterationCap(t *testing.T) {
	srv := weatherServer(t)
	store := &fakeToolStore{tools: []model.ApiToolConfig{{ID: 1, Name: "weather", URL: srv.URL}}}
	m := &scriptedModel{replies: []*schema.Message{
		assistant(`{"action":"tool","tool_name":"weather","arguments":{"city":"Rome"}}`),
	}}
	deps := newDeps(m, store, nil, model.EngineConfig{MaxToolIterations: 3})

	out, err := NewExecutor(deps, BotContext{}, model.GraphNode{ID: "n", APIToolIDs: []int64{1}}).
		Run(context.Background(), startState("loop"))
	require.NoError(t, err)

	assert.Equal(t, 3, m.callCount())
	assert.Len(t, out.ToolInvocations, 2, "tool calls of the final iteration are not executed")

	wrapUp, err := prompts.RenderWrapUp(context.Background(), 3)
	require.NoError(t, err)
	last := m.calls[2]
	assert.Equal(t, wrapUp.Content, last[len(last)-1].Content)
}

func TestExecutorRetrievalContext(t *testing.T) {
	searcher := &fakeSearcher{chunks: []model.DocumentChunk{{DocumentID: 4, Filename: "faq.md", ChunkIndex: 2, Content: "Refunds take 5 days."}}}
	m := &scriptedModel{replies: []*schema.Message{assistant("Refunds take 5 days.")}}
	deps := newDeps(m, nil, searcher, model.EngineConfig{})

	out, err := NewExecutor(deps, BotContext{}, model.GraphNode{ID: "faq", UseRAG: true}).
		Run(context.Background(), startState("how long do refunds take?"))
	require.NoError(t, err)

	require.Len(t, out.Messages, 3)
	ctxMsg := out.Messages[1]
	assert.True(t, model.IsToolOrigin(ctxMsg))
	assert.Equal(t, "RAG context:\nDocument: faq.md (chunk #2)\nContent: Refunds take 5 days.", ctxMsg.Content)

	first := m.calls[0]
	assert.Equal(t, ctxMsg.Content, first[len(first)-1].Content)
	assert.Contains(t, first[0].Content, "search_documents")
}

func TestExecutorNativeToolCalls(t *testing.T) {
	srv := weatherServer(t)
	store := &fakeToolStore{tools: []model.ApiToolConfig{{ID: 1, Name: "weather", URL: srv.URL, Params: map[string]any{"city": ""}}}}
	base := &scriptedModel{replies: []*schema.Message{
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{Function: schema.FunctionCall{Name: "weather", Arguments: `{"city":"Oslo"}`}}}},
		assistant("Oslo is at 21."),
	}}
	deps := newDeps(&nativeModel{scriptedModel: base}, store, nil, model.EngineConfig{})

	out, err := NewExecutor(deps, BotContext{}, model.GraphNode{ID: "n", APIToolIDs: []int64{1}}).
		Run(context.Background(), startState("weather in Oslo"))
	require.NoError(t, err)

	require.Len(t, out.Messages, 4)
	call := out.Messages[1]
	require.Len(t, call.ToolCalls, 1)
	assert.NotEmpty(t, call.ToolCalls[0].ID)

	result := out.Messages[2]
	assert.Equal(t, schema.Tool, result.Role)
	assert.Equal(t, call.ToolCalls[0].ID, result.ToolCallID)
	assert.Equal(t, `{"city":"Oslo","temp":21}`, result.Content)
	assert.Equal(t, "Oslo is at 21.", out.Messages[3].Content)
}

func TestExecutorToolTrigger(t *testing.T) {
	var gotDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDate = r.URL.Query().Get("date")
		_, _ = io.WriteString(w, "10:00, 11:00")
	}))
	defer srv.Close()

	store := &fakeToolStore{tools: []model.ApiToolConfig{{ID: 1, Name: "get_slots", URL: srv.URL}}}
	m := &scriptedModel{replies: []*schema.Message{assistant("Free slots are 10:00 and 11:00.")}}
	deps := newDeps(m, store, nil, model.EngineConfig{})
	node := model.GraphNode{
		ID:         "booking",
		APIToolIDs: []int64{1},
		ToolTriggers: []model.ToolTrigger{{
			ToolName:      "get_slots",
			Keywords:      []string{"Free Slots"},
			ExtractParams: map[string]string{"date": RuleDatePattern, "service": `service (\w+)`},
		}},
	}

	out, err := NewExecutor(deps, BotContext{}, node).Run(context.Background(), startState("free slots for service massage on 03.07.2024?"))
	require.NoError(t, err)

	assert.Equal(t, "2024-07-03", gotDate)
	require.Len(t, out.ToolInvocations, 1)
	assert.True(t, out.ToolInvocations[0].Trigger)
	assert.Equal(t, map[string]any{"date": "2024-07-03", "service": "massage"}, out.ToolInvocations[0].Arguments)
	assert.Equal(t, "Tool 'get_slots' replied:\n10:00, 11:00", out.Messages[1].Content)
	assert.Equal(t, 1, m.callCount())
}

func TestSamplingOptions(t *testing.T) {
	assert.Len(t, SamplingOptions("0.2", 512), 2)
	assert.Len(t, SamplingOptions("warm", 0), 0)
	assert.Len(t, SamplingOptions("", 100), 1)
}

func TestExecutorToolTimeoutBecomesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	store := &fakeToolStore{tools: []model.ApiToolConfig{{ID: 1, Name: "slow", URL: srv.URL}}}
	m := &scriptedModel{replies: []*schema.Message{
		assistant(`{"action":"tool","tool_name":"slow","arguments":{}}`),
		assistant("The service is slow right now."),
	}}
	deps := newDeps(m, store, nil, model.EngineConfig{ToolTimeout: 50 * time.Millisecond})

	start := time.Now()
	out, err := NewExecutor(deps, BotContext{}, model.GraphNode{ID: "n", APIToolIDs: []int64{1}}).
		Run(context.Background(), startState("check"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, out.ToolInvocations, 1)
	assert.True(t, out.ToolInvocations[0].Failed)
	assert.True(t, strings.HasPrefix(out.ToolInvocations[0].Result, "Error calling tool slow:"))
	assert.Equal(t, "The service is slow right now.", out.Messages[len(out.Messages)-1].Content)
}

func TestExecutorLabelledAnswerEndsToolLoop(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "10:00, 11:00")
	}))
	defer srv.Close()

	store := &fakeToolStore{tools: []model.ApiToolConfig{{ID: 1, Name: "get_available_slots", URL: srv.URL, Params: map[string]any{"date": ""}}}}
	m := &scriptedModel{replies: []*schema.Message{
		assistant(`{"action":"tool","tool_name":"get_available_slots","arguments":{"date":"2024-06-02"}}`),
		assistant("Available slots: 10:00 and 11:00."),
	}}
	deps := newDeps(m, store, nil, model.EngineConfig{})

	out, err := NewExecutor(deps, BotContext{}, model.GraphNode{ID: "n", APIToolIDs: []int64{1}}).
		Run(context.Background(), startState("slots on 02.06.2024?"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 2, m.callCount())
	require.Len(t, out.ToolInvocations, 1)
	last := out.Messages[len(out.Messages)-1]
	assert.Equal(t, "Available slots: 10:00 and 11:00.", last.Content)
	assert.Nil(t, last.Extra[model.ExtraToolCallPayload])
}
