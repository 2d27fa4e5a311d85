package nodes

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// ChatModel is the process-wide model client shared by every graph run.
type ChatModel struct {
	Model       einomodel.BaseChatModel
	Name        string
	NativeTools bool
}

// NewChatModel creates the Gemini chat model from cfg.
func NewChatModel(ctx context.Context, cfg model.LLMConfig) (*ChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	gcfg := &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
	}
	if cfg.ThinkingBudget >= 0 {
		gcfg.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(cfg.ThinkingBudget),
		}
	}
	cm, err := gemini.NewChatModel(ctx, gcfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}

	return &ChatModel{Model: cm, Name: cfg.Model, NativeTools: cfg.NativeTools}, nil
}

// withTools returns a model bound to infos when native tool calling is enabled and supported.
// The shared model is never mutated.
func (c *ChatModel) withTools(infos []*schema.ToolInfo) (einomodel.BaseChatModel, bool) {
	if !c.NativeTools || len(infos) == 0 {
		return c.Model, false
	}
	tc, ok := c.Model.(einomodel.ToolCallingChatModel)
	if !ok {
		return c.Model, false
	}
	bound, err := tc.WithTools(infos)
	if err != nil {
		logx.Warn().Err(err).Msg("Failed to bind tools, falling back to text protocol")
		return c.Model, false
	}
	return bound, true
}

// SamplingOptions converts a bot's stored sampling settings into per-call model options.
// The temperature is stored as text; unparsable values are ignored.
func SamplingOptions(temperature string, maxTokens int) []einomodel.Option {
	var opts []einomodel.Option
	if t := strings.TrimSpace(temperature); t != "" {
		if v, err := strconv.ParseFloat(t, 32); err == nil && v >= 0 {
			opts = append(opts, einomodel.WithTemperature(float32(v)))
		} else {
			logx.Warn().Str("temperature", temperature).Msg("Ignoring invalid bot temperature")
		}
	}
	if maxTokens > 0 {
		opts = append(opts, einomodel.WithMaxTokens(maxTokens))
	}
	return opts
}
