package parsers

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxCalls      = 16
	maxErrSnippet = 200
)

// Strategy names reported by ExtractWithStrategy.
const (
	StrategyJSON           = "json"
	StrategyEmbeddedJSON   = "embedded_json"
	StrategyCallExpression = "call_expression"
	StrategyBareTuple      = "bare_tuple"
	StrategyTwoLine        = "two_line"
	StrategyIndicator      = "indicator"
)

// ToolSpec is what the parser knows about an available tool.
type ToolSpec struct {
	Name        string
	Description string
	Params      []string
}

// Heuristics steer bare-tuple disambiguation between "create" style and "list" style tools.
type Heuristics struct {
	CreateToolHints  []string
	ListToolHints    []string
	CreateParamHints []string
	ListParamHints   []string
}

func DefaultHeuristics() Heuristics {
	return HeuristicsFromConfig(model.ParserConfig{
		CreateToolHints:  "book,create,add,reserve,make,schedule,register,order",
		ListToolHints:    "get,list,available,search,find,check,slots",
		CreateParamHints: "name,client_name,customer_name,phone,email,time,slot_id,service_id,comment",
		ListParamHints:   "date,day,from,to,query",
	})
}

func HeuristicsFromConfig(cfg model.ParserConfig) Heuristics {
	return Heuristics{
		CreateToolHints:  splitList(cfg.CreateToolHints),
		ListToolHints:    splitList(cfg.ListToolHints),
		CreateParamHints: splitList(cfg.CreateParamHints),
		ListParamHints:   splitList(cfg.ListParamHints),
	}
}

type matcher struct {
	name  string
	match func(text string, tools []ToolSpec) []model.ToolCall
}

// Parser turns raw model text into tool calls. Matchers run in order and the first
// one that yields calls wins. A Parser is safe for concurrent use.
type Parser struct {
	heuristics Heuristics
	matchers   []matcher
}

func New(h Heuristics) *Parser {
	p := &Parser{heuristics: h}
	p.matchers = []matcher{
		{StrategyJSON, matchWholeJSON},
		{StrategyEmbeddedJSON, matchEmbeddedJSON},
		{StrategyCallExpression, matchCallExpression},
		{StrategyBareTuple, p.matchBareTuple},
		{StrategyTwoLine, matchTwoLine},
		{StrategyIndicator, matchIndicator},
	}
	return p
}

// Extract returns the tool calls found in text, or nil. It never fails.
func (p *Parser) Extract(text string, history []*schema.Message, tools []ToolSpec) []model.ToolCall {
	calls, _ := p.ExtractWithStrategy(text, history, tools)
	return calls
}

// ExtractWithStrategy is Extract plus the name of the matcher that produced the calls.
func (p *Parser) ExtractWithStrategy(text string, history []*schema.Message, tools []ToolSpec) (calls []model.ToolCall, strategy string) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().
				Str("panic", fmt.Sprint(r)).
				Str("snippet", safeSnippet(text)).
				Msg("parsers: recovered from panic while extracting tool calls")
			calls, strategy = nil, ""
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxContentLen {
		return nil, ""
	}

	for _, m := range p.matchers {
		found := m.match(text, tools)
		if len(found) == 0 {
			continue
		}
		if len(found) > maxCalls {
			found = found[:maxCalls]
		}
		calls, strategy = found, m.name
		break
	}
	if len(calls) == 0 {
		return nil, ""
	}

	for i := range calls {
		if calls[i].Arguments == nil {
			calls[i].Arguments = map[string]any{}
		}
		if len(calls[i].Arguments) == 0 {
			backfillDate(&calls[i], history, tools)
		}
		if calls[i].ID == "" {
			calls[i].ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}
	}

	logx.Debug().
		Str("strategy", strategy).
		Int("calls", len(calls)).
		Msg("parsers: extracted tool calls")
	return calls, strategy
}

// IsToolCallPayload reports whether text is (or embeds) a JSON tool-call envelope.
func IsToolCallPayload(text string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxContentLen {
		return false
	}
	return len(matchWholeJSON(text, nil)) > 0 || len(matchEmbeddedJSON(text, nil)) > 0
}

func findTool(tools []ToolSpec, name string) (ToolSpec, bool) {
	name = strings.TrimSpace(name)
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	for _, t := range tools {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return ToolSpec{}, false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func safeSnippet(s string) string {
	if len(s) > maxErrSnippet {
		return s[:maxErrSnippet] + "..."
	}
	return s
}
