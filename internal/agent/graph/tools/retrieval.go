package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/graphbot-platform/server/internal/agent/model"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// ===================================
// Document Retrieval Tool
// ===================================

const (
	RetrievalToolName = "search_documents"
	NoDocumentsFound  = "No relevant documents found."
	RAGContextPrefix  = "RAG context:\n"

	chunkSeparator = "\n\n---\n\n"
)

type RetrievalInput struct {
	Query string `json:"query"`
}

// Retriever searches a workspace's documents, optionally restricted to an allowlist.
type Retriever struct {
	searcher    model.ChunkSearcher
	workspaceID int64
	documentIDs []int64
	allowed     map[int64]struct{}
	topK        int
}

func NewRetriever(searcher model.ChunkSearcher, workspaceID int64, documentIDs []int64, topK int) *Retriever {
	if topK <= 0 {
		topK = 3
	}
	r := &Retriever{searcher: searcher, workspaceID: workspaceID, topK: topK}
	if len(documentIDs) > 0 {
		r.documentIDs = append([]int64(nil), documentIDs...)
		r.allowed = make(map[int64]struct{}, len(documentIDs))
		for _, id := range documentIDs {
			r.allowed[id] = struct{}{}
		}
	}
	return r
}

// Search returns at most topK chunks. With an allowlist, chunks from other documents are dropped.
func (r *Retriever) Search(ctx context.Context, query string) ([]model.DocumentChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	chunks, err := r.searcher.SearchChunks(ctx, r.workspaceID, query, r.documentIDs, r.topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	out := make([]model.DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		if r.allowed != nil {
			if _, ok := r.allowed[c.DocumentID]; !ok {
				continue
			}
		}
		out = append(out, c)
		if len(out) == r.topK {
			break
		}
	}
	logx.Debug().
		Int64("workspace_id", r.workspaceID).
		Int("chunks", len(out)).
		Int("allowlist", len(r.allowed)).
		Msg("tools: retrieval finished")
	return out, nil
}

// Context renders the retrieval result for query in the tool output format.
func (r *Retriever) Context(ctx context.Context, query string) (string, error) {
	chunks, err := r.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatChunks(chunks), nil
}

// FormatChunks renders chunks as "Document: <file> (chunk #<i>)" blocks.
func FormatChunks(chunks []model.DocumentChunk) string {
	if len(chunks) == 0 {
		return NoDocumentsFound
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, fmt.Sprintf("Document: %s (chunk #%d)\nContent: %s", c.Filename, c.ChunkIndex, c.Content))
	}
	return strings.Join(parts, chunkSeparator)
}

// Tool exposes the retriever to the model.
func (r *Retriever) Tool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: RetrievalToolName,
			Desc: "Search for information in uploaded documents. Use it when the answer may be in the knowledge base.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     schema.String,
					Desc:     "What to search for, in natural language.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *RetrievalInput) (string, error) {
			if strings.TrimSpace(in.Query) == "" {
				return "", fmt.Errorf("query is required")
			}
			return r.Context(ctx, in.Query)
		},
	)
}
