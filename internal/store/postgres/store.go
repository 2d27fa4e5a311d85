package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/graphbot-platform/server/internal/agent/model"
	errx "github.com/graphbot-platform/server/internal/core/error"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

// DB is the subset of pgxpool.Pool used by the store.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store reads bots, API tools and document chunks.
type Store struct {
	db       DB
	embedder embedding.Embedder
}

var (
	_ model.BotStore      = (*Store)(nil)
	_ model.APIToolStore  = (*Store)(nil)
	_ model.ChunkSearcher = (*Store)(nil)
)

// New creates the store. embedder may be nil when no bot uses retrieval.
func New(db DB, embedder embedding.Embedder) *Store {
	return &Store{db: db, embedder: embedder}
}

const getBotSQL = `
SELECT id, workspace_id, name, system_prompt, COALESCE(temperature, ''), COALESCE(max_tokens, 0), COALESCE(config, '{}'::jsonb)
FROM bots
WHERE id = $1`

func (s *Store) GetBot(ctx context.Context, botID int64) (*model.BotConfig, error) {
	var (
		bot model.BotConfig
		cfg []byte
	)
	err := s.db.QueryRow(ctx, getBotSQL, botID).Scan(
		&bot.ID, &bot.WorkspaceID, &bot.Name, &bot.SystemPrompt, &bot.Temperature, &bot.MaxTokens, &cfg,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errx.NotFound("bot", botID)
		}
		logx.Error().Err(err).Int64("bot_id", botID).Msg("failed to load bot")
		return nil, errx.WrapPostgres(err)
	}
	bot.Graph = json.RawMessage(cfg)
	return &bot, nil
}

const getAPIToolsSQL = `
SELECT id, workspace_id, name, COALESCE(description, ''), url, method, headers, params, body_schema
FROM api_tools
WHERE workspace_id = $1 AND id = ANY($2)
ORDER BY array_position($2, id)`

// GetAPITools returns the tools of ids that belong to the workspace, in the order of ids.
func (s *Store) GetAPITools(ctx context.Context, workspaceID int64, ids []int64) ([]model.ApiToolConfig, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, getAPIToolsSQL, workspaceID, ids)
	if err != nil {
		logx.Error().Err(err).Int64("workspace_id", workspaceID).Msg("failed to query api tools")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	var out []model.ApiToolConfig
	for rows.Next() {
		var (
			t                     model.ApiToolConfig
			headers, params, body []byte
		)
		if err := rows.Scan(&t.ID, &t.WorkspaceID, &t.Name, &t.Description, &t.URL, &t.Method, &headers, &params, &body); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		t.Headers = decodeHeaders(headers)
		t.Params = decodeObject(params)
		t.BodySchema = decodeObject(body)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return out, nil
}

const searchChunksSQL = `
SELECT dc.document_id, d.filename, dc.chunk_index, dce.content, dce.embedding <=> $2::vector AS distance
FROM document_chunk_embeddings dce
JOIN document_chunks dc ON dc.id = dce.chunk_id
JOIN documents d ON d.id = dc.document_id
WHERE dce.workspace_id = $1
  AND (cardinality($3::bigint[]) = 0 OR dc.document_id = ANY($3::bigint[]))
ORDER BY distance
LIMIT $4`

// SearchChunks embeds query and returns the k nearest chunks of the workspace by cosine distance.
func (s *Store) SearchChunks(ctx context.Context, workspaceID int64, query string, documentIDs []int64, k int) ([]model.DocumentChunk, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("document search is not configured")
	}
	if k <= 0 {
		return nil, nil
	}
	vectors, err := s.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embed query: empty vector")
	}
	if documentIDs == nil {
		documentIDs = []int64{}
	}

	rows, err := s.db.Query(ctx, searchChunksSQL, workspaceID, VectorLiteral(vectors[0]), documentIDs, k)
	if err != nil {
		logx.Error().Err(err).Int64("workspace_id", workspaceID).Msg("failed to search document chunks")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	var out []model.DocumentChunk
	for rows.Next() {
		var c model.DocumentChunk
		if err := rows.Scan(&c.DocumentID, &c.Filename, &c.ChunkIndex, &c.Content, &c.Distance); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return out, nil
}

const existingDocumentsSQL = `SELECT id FROM documents WHERE workspace_id = $1 AND id = ANY($2)`

// ExistingDocumentIDs returns the subset of ids that are documents of the workspace.
func (s *Store) ExistingDocumentIDs(ctx context.Context, workspaceID int64, ids []int64) (map[int64]bool, error) {
	found := map[int64]bool{}
	if len(ids) == 0 {
		return found, nil
	}
	rows, err := s.db.Query(ctx, existingDocumentsSQL, workspaceID, ids)
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		found[id] = true
	}
	return found, errx.WrapPostgres(rows.Err())
}

// VectorLiteral renders v in pgvector text form.
func VectorLiteral(v []float64) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(x, 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func decodeObject(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		logx.Warn().Err(err).Msg("ignoring malformed json column")
		return nil
	}
	return m
}

// decodeHeaders keeps string values and stringifies the rest.
func decodeHeaders(raw []byte) map[string]string {
	m := decodeObject(raw)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case string:
			out[k] = x
		case nil:
		default:
			out[k] = fmt.Sprint(x)
		}
	}
	return out
}
