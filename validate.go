package main

import (
	"context"
	"fmt"

	"github.com/graphbot-platform/server/internal/agent/graph/parsers"
	"github.com/graphbot-platform/server/internal/agent/graph/tools"
	"github.com/graphbot-platform/server/internal/agent/model"
	"github.com/graphbot-platform/server/internal/store/postgres"
)

func validationTools(engine model.EngineConfig) (*tools.Builder, *parsers.Parser) {
	return tools.NewBuilder(nil, nil, engine, nil), parsers.New(parsers.DefaultHeuristics())
}

// checkReferences reports api tool and document ids that do not exist in the bot's workspace.
func checkReferences(ctx context.Context, store *postgres.Store, workspaceID int64, cfg *model.BotGraphConfig) ([]string, error) {
	var problems []string
	for _, n := range cfg.Nodes {
		if len(n.APIToolIDs) > 0 {
			found, err := store.GetAPITools(ctx, workspaceID, n.APIToolIDs)
			if err != nil {
				return nil, err
			}
			have := make(map[int64]bool, len(found))
			for _, t := range found {
				have[t.ID] = true
			}
			for _, id := range n.APIToolIDs {
				if !have[id] {
					problems = append(problems, fmt.Sprintf("node %q: api tool %d not found in workspace %d", n.ID, id, workspaceID))
				}
			}
		}
		if len(n.AllowedDocumentIDs) > 0 {
			have, err := store.ExistingDocumentIDs(ctx, workspaceID, n.AllowedDocumentIDs)
			if err != nil {
				return nil, err
			}
			for _, id := range n.AllowedDocumentIDs {
				if !have[id] {
					problems = append(problems, fmt.Sprintf("node %q: document %d not found in workspace %d", n.ID, id, workspaceID))
				}
			}
		}
	}
	return problems, nil
}
