package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// ===================================
// External HTTP API Tool
// ===================================

const maxResponseBytes = 1 << 20

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]+`)

// HTTPTool calls a workspace-configured REST endpoint.
type HTTPTool struct {
	cfg    model.ApiToolConfig
	name   string
	client *http.Client
}

var _ tool.InvokableTool = (*HTTPTool)(nil)

func NewHTTPTool(cfg model.ApiToolConfig, client *http.Client) *HTTPTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTool{cfg: cfg, name: ToolName(cfg), client: client}
}

// ToolName returns a provider-safe function name for cfg.
func ToolName(cfg model.ApiToolConfig) string {
	name := strings.Trim(invalidNameChars.ReplaceAllString(strings.TrimSpace(cfg.Name), "_"), "_")
	if name == "" || !isLetterOrUnderscore(name[0]) {
		name = fmt.Sprintf("api_tool_%d", cfg.ID)
	}
	return name
}

func isLetterOrUnderscore(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (t *HTTPTool) Name() string { return t.name }

// ParamNames lists the argument names the tool accepts, sorted.
func (t *HTTPTool) ParamNames() []string {
	seen := map[string]struct{}{}
	for k := range t.cfg.Params {
		seen[k] = struct{}{}
	}
	for k := range t.cfg.BodySchema {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (t *HTTPTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{}
	for k, v := range t.cfg.Params {
		params[k] = &schema.ParameterInfo{Type: schema.String, Desc: fmt.Sprintf("Query parameter (default: %v)", v)}
	}
	for k, v := range t.cfg.BodySchema {
		params[k] = bodyParamInfo(v)
	}
	desc := strings.TrimSpace(t.cfg.Description)
	if desc == "" {
		desc = fmt.Sprintf("Calls %s %s", t.method(), t.cfg.URL)
	}
	info := &schema.ToolInfo{Name: t.name, Desc: desc}
	if len(params) > 0 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
	}
	return info, nil
}

// bodyParamInfo reads a body_schema entry. Maps with a "type" key are parameter
// definitions; anything else is a default value.
func bodyParamInfo(v any) *schema.ParameterInfo {
	def, ok := v.(map[string]any)
	if !ok {
		return &schema.ParameterInfo{Type: schema.String, Desc: fmt.Sprintf("Body field (default: %v)", v)}
	}
	typ, ok := def["type"].(string)
	if !ok {
		return &schema.ParameterInfo{Type: schema.Object, Desc: "Body field"}
	}
	info := &schema.ParameterInfo{Type: dataType(typ)}
	info.Desc, _ = def["description"].(string)
	info.Required, _ = def["required"].(bool)
	if info.Type == schema.Array {
		info.ElemInfo = &schema.ParameterInfo{Type: schema.String}
	}
	return info
}

func dataType(s string) schema.DataType {
	switch strings.ToLower(s) {
	case "integer", "int":
		return schema.Integer
	case "number", "float":
		return schema.Number
	case "boolean", "bool":
		return schema.Boolean
	case "array", "list":
		return schema.Array
	case "object", "dict":
		return schema.Object
	default:
		return schema.String
	}
}

func (t *HTTPTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args, err := decodeArgs(argumentsInJSON)
	if err != nil {
		return "", err
	}
	return t.Call(ctx, args)
}

func decodeArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, fmt.Errorf("invalid tool arguments: %w", err)
		}
		args = map[string]any{}
		if err := json.Unmarshal([]byte(repaired), &args); err != nil {
			return nil, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}
	return args, nil
}

func (t *HTTPTool) method() string {
	m := strings.ToUpper(strings.TrimSpace(t.cfg.Method))
	if m == "" {
		return http.MethodGet
	}
	return m
}

// Call performs the request. Non-2xx statuses and transport failures are errors.
func (t *HTTPTool) Call(ctx context.Context, args map[string]any) (string, error) {
	req, err := t.newRequest(ctx, args)
	if err != nil {
		return "", err
	}
	logx.Debug().
		Str("tool_name", t.name).
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Msg("tools: calling api")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	text := strings.TrimSpace(string(body))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("http error %d: %s", resp.StatusCode, text)
	}
	if text == "" {
		return fmt.Sprintf("Request completed with status %d.", resp.StatusCode), nil
	}
	var buf bytes.Buffer
	if json.Compact(&buf, body) == nil {
		return buf.String(), nil
	}
	return text, nil
}

func (t *HTTPTool) newRequest(ctx context.Context, args map[string]any) (*http.Request, error) {
	method := t.method()
	u, err := url.Parse(t.cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid tool url %q", t.cfg.URL)
	}

	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		q := u.Query()
		for k, v := range mergeArgs(t.cfg.Params, args) {
			q.Set(k, queryValue(v))
		}
		u.RawQuery = q.Encode()
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		payload, err := json.Marshal(mergeArgs(bodyDefaults(t.cfg.BodySchema), args))
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(payload)
	default:
		return nil, fmt.Errorf("unsupported http method %q", method)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// bodyDefaults keeps plain values and the "default" of parameter definitions.
func bodyDefaults(bodySchema map[string]any) map[string]any {
	out := make(map[string]any, len(bodySchema))
	for k, v := range bodySchema {
		def, ok := v.(map[string]any)
		if !ok {
			out[k] = v
			continue
		}
		if _, isDef := def["type"]; !isDef {
			out[k] = v
			continue
		}
		if d, ok := def["default"]; ok {
			out[k] = d
		}
	}
	return out
}

func mergeArgs(base, args map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(args))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range args {
		out[k] = v
	}
	return out
}

func queryValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case map[string]any, []any:
		b, _ := json.Marshal(x)
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}
