package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/graphbot-platform/server/internal/agent/graph/parsers"
	"github.com/graphbot-platform/server/internal/agent/metrics"
	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// Builder resolves the tool set of a graph node. It is shared by all requests.
type Builder struct {
	apiTools model.APIToolStore
	searcher model.ChunkSearcher
	client   *http.Client
	topK     int
	timeout  time.Duration
}

func NewBuilder(apiTools model.APIToolStore, searcher model.ChunkSearcher, cfg model.EngineConfig, client *http.Client) *Builder {
	cfg = cfg.Normalized()
	if client == nil {
		client = &http.Client{Timeout: cfg.ToolTimeout}
	}
	return &Builder{
		apiTools: apiTools,
		searcher: searcher,
		client:   client,
		topK:     cfg.RetrievalTopK,
		timeout:  cfg.ToolTimeout,
	}
}

// Build returns the node's tools: the retrieval tool when use_rag is set, then one
// adapter per api_tool_ids entry. Store failures are logged and the affected tools skipped.
func (b *Builder) Build(ctx context.Context, node *model.GraphNode, workspaceID int64) *Set {
	set := NewSet(b.timeout)
	if node == nil {
		return set
	}

	if node.UseRAG {
		if b.searcher == nil {
			logx.Warn().Str("node_id", node.ID).Msg("tools: use_rag set but no document searcher configured")
		} else {
			set.retriever = NewRetriever(b.searcher, workspaceID, node.AllowedDocumentIDs, node.RetrievalTopK(b.topK))
			if err := set.Add(ctx, set.retriever.Tool(), "query"); err != nil {
				logx.Warn().Err(err).Str("node_id", node.ID).Msg("tools: retrieval tool skipped")
			}
		}
	}

	if len(node.APIToolIDs) == 0 {
		return set
	}
	if b.apiTools == nil {
		logx.Warn().Str("node_id", node.ID).Msg("tools: api tools configured but no tool store available")
		return set
	}
	configs, err := b.apiTools.GetAPITools(ctx, workspaceID, node.APIToolIDs)
	if err != nil {
		logx.Error().Err(err).Str("node_id", node.ID).Int64("workspace_id", workspaceID).Msg("tools: loading api tools failed")
		return set
	}
	if len(configs) < len(node.APIToolIDs) {
		logx.Warn().
			Str("node_id", node.ID).
			Int("requested", len(node.APIToolIDs)).
			Int("found", len(configs)).
			Msg("tools: some api tools were not found")
	}
	for _, cfg := range configs {
		ht := NewHTTPTool(cfg, b.client)
		if err := set.Add(ctx, ht, ht.ParamNames()...); err != nil {
			logx.Warn().Err(err).Int64("api_tool_id", cfg.ID).Msg("tools: api tool skipped")
		}
	}
	return set
}

// Set is the ordered tool set of one node execution.
type Set struct {
	tools     []tool.InvokableTool
	infos     []*schema.ToolInfo
	specs     []parsers.ToolSpec
	byName    map[string]int
	retriever *Retriever
	timeout   time.Duration
}

func NewSet(timeout time.Duration) *Set {
	return &Set{byName: map[string]int{}, timeout: timeout}
}

// Add registers t. Duplicate names keep the first tool.
func (s *Set) Add(ctx context.Context, t tool.InvokableTool, params ...string) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("tool info: %w", err)
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info: empty name")
	}
	if _, dup := s.byName[info.Name]; dup {
		return fmt.Errorf("duplicate tool name %q", info.Name)
	}
	s.byName[info.Name] = len(s.tools)
	s.tools = append(s.tools, t)
	s.infos = append(s.infos, info)
	s.specs = append(s.specs, parsers.ToolSpec{Name: info.Name, Description: info.Desc, Params: params})
	return nil
}

func (s *Set) Len() int { return len(s.tools) }

func (s *Set) Infos() []*schema.ToolInfo { return s.infos }

func (s *Set) Specs() []parsers.ToolSpec { return s.specs }

// Retriever is non-nil when the node uses retrieval.
func (s *Set) Retriever() *Retriever { return s.retriever }

func (s *Set) lookup(name string) (tool.InvokableTool, *schema.ToolInfo, bool) {
	if i, ok := s.byName[name]; ok {
		return s.tools[i], s.infos[i], true
	}
	for i, info := range s.infos {
		if strings.EqualFold(info.Name, strings.TrimSpace(name)) {
			return s.tools[i], info, true
		}
	}
	return nil, nil, false
}

// Invoke runs one tool call with the per-call timeout, emitting tool callbacks.
func (s *Set) Invoke(ctx context.Context, call model.ToolCall) (result string, err error) {
	t, info, ok := s.lookup(call.Name)
	if !ok {
		metrics.ToolCalls.WithLabelValues("unknown", metrics.StatusUnknown).Inc()
		return "", fmt.Errorf("tool %q is not available", call.Name)
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx = einocb.ReuseHandlers(ctx, &einocb.RunInfo{Name: info.Name, Type: "GraphTool", Component: components.ComponentOfTool})
	ctx = einocb.OnStart(ctx, &tool.CallbackInput{ArgumentsInJSON: string(raw)})

	start := time.Now()
	result, err = t.InvokableRun(ctx, string(raw))
	metrics.ToolLatency.WithLabelValues(info.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ToolCalls.WithLabelValues(info.Name, metrics.StatusError).Inc()
		einocb.OnError(ctx, err)
		return "", err
	}
	metrics.ToolCalls.WithLabelValues(info.Name, metrics.StatusOK).Inc()
	einocb.OnEnd(ctx, &tool.CallbackOutput{Response: result})
	return result, nil
}
