package embedding

import (
	"context"
	"fmt"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"

	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// TaskRetrievalQuery marks vectors used to search stored document chunks.
const TaskRetrievalQuery = "RETRIEVAL_QUERY"

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder turns query text into vectors with the Gemini embedding API.
type Embedder struct {
	client     contentEmbedder
	model      string
	dimensions int32
}

var _ embedding.Embedder = (*Embedder)(nil)

// New creates the embedder from an existing genai client.
func New(client *genai.Client, cfg model.EmbeddingConfig) *Embedder {
	return newEmbedder(client.Models, cfg)
}

// NewFromLLMConfig creates a dedicated genai client for embeddings.
func NewFromLLMConfig(ctx context.Context, llm model.LLMConfig, cfg model.EmbeddingConfig) (*Embedder, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  llm.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if llm.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = llm.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini embedding client")
		return nil, fmt.Errorf("error creating Gemini embedding client: %w", err)
	}
	return New(client, cfg), nil
}

func newEmbedder(client contentEmbedder, cfg model.EmbeddingConfig) *Embedder {
	return &Embedder{client: client, model: cfg.Model, dimensions: cfg.Dimensions}
}

// EmbedStrings embeds each text as a retrieval query.
func (e *Embedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) (vectors [][]float64, err error) {
	options := embedding.GetCommonOptions(&embedding.Options{Model: &e.model}, opts...)
	modelName := e.model
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	ctx = einocb.ReuseHandlers(ctx, &einocb.RunInfo{
		Name:      modelName,
		Type:      "Gemini",
		Component: components.ComponentOfEmbedding,
	})
	ctx = einocb.OnStart(ctx, &embedding.CallbackInput{
		Texts:  texts,
		Config: &embedding.Config{Model: modelName},
	})
	defer func() {
		if err != nil {
			einocb.OnError(ctx, err)
			return
		}
		einocb.OnEnd(ctx, &embedding.CallbackOutput{
			Embeddings: vectors,
			Config:     &embedding.Config{Model: modelName},
		})
	}()

	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	cfg := &genai.EmbedContentConfig{TaskType: TaskRetrievalQuery}
	if e.dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(e.dimensions)
	}

	resp, err := e.client.EmbedContent(ctx, modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed content: expected %d embeddings", len(texts))
	}

	vectors = make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("embed content: empty embedding at %d", i)
		}
		v := make([]float64, len(emb.Values))
		for j, x := range emb.Values {
			v[j] = float64(x)
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (e *Embedder) GetType() string { return "Gemini" }

func (e *Embedder) IsCallbacksEnabled() bool { return true }
