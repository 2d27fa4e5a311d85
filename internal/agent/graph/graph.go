package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/graphbot-platform/server/internal/agent/graph/nodes"
	"github.com/graphbot-platform/server/internal/agent/graph/observers"
	"github.com/graphbot-platform/server/internal/agent/model"
	errx "github.com/graphbot-platform/server/internal/core/error"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

const nodeKeyPrefix = "node:"

// NodeKey is the runtime key of a bot graph node.
func NodeKey(id string) string { return nodeKeyPrefix + id }

// Compiler turns a normalized bot graph into a runnable eino graph.
type Compiler struct {
	deps *nodes.Deps
}

func NewCompiler(deps *nodes.Deps) *Compiler {
	return &Compiler{deps: deps}
}

// Compiled is the runnable graph of one bot for one request.
type Compiled struct {
	Entry string
	// Nodes lists the ids registered with the runtime, entry first.
	Nodes    []string
	runnable compose.Runnable[*model.ConversationState, *model.ConversationState]
}

// Run walks the graph from the entry node until it reaches the terminal state.
func (c *Compiled) Run(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error) {
	out, err := c.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return nil, err
	}
	if out == nil {
		return in, nil
	}
	return out, nil
}

// graphBuilder handles the construction of one bot graph
type graphBuilder struct {
	deps  *nodes.Deps
	bot   nodes.BotContext
	cfg   *model.BotGraphConfig
	nodes map[string]model.GraphNode
	order []string
	graph *compose.Graph[*model.ConversationState, *model.ConversationState]
}

// Compile registers one executor per node reachable from the entry and wires each node
// either straight to END or through its transition selector.
func (c *Compiler) Compile(ctx context.Context, cfg *model.BotGraphConfig, bot nodes.BotContext) (*Compiled, error) {
	if cfg == nil || len(cfg.Nodes) == 0 {
		return nil, errx.Config("graph has no nodes")
	}
	if c.deps == nil || c.deps.Chat == nil || c.deps.Tools == nil || c.deps.Parser == nil {
		return nil, fmt.Errorf("graph dependencies are not properly initialized")
	}
	if _, ok := cfg.Node(cfg.EntryNodeID); !ok {
		return nil, errx.Config("entry node %q does not match any node", cfg.EntryNodeID)
	}

	b := &graphBuilder{
		deps:  c.deps,
		bot:   bot,
		cfg:   cfg,
		graph: compose.NewGraph[*model.ConversationState, *model.ConversationState](),
	}
	b.setup()

	if err := b.addNodes(); err != nil {
		return nil, err
	}
	if err := b.addEdges(); err != nil {
		return nil, err
	}
	if err := b.addBranches(); err != nil {
		return nil, err
	}

	runnable, err := b.compile(ctx)
	if err != nil {
		return nil, err
	}
	return &Compiled{Entry: cfg.EntryNodeID, Nodes: b.order, runnable: runnable}, nil
}

// setup collects the nodes reachable from the entry in breadth-first order.
func (b *graphBuilder) setup() {
	all := make(map[string]model.GraphNode, len(b.cfg.Nodes))
	for _, n := range b.cfg.Nodes {
		all[n.ID] = n
	}

	b.nodes = map[string]model.GraphNode{}
	queue := []string{b.cfg.EntryNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, done := b.nodes[id]; done {
			continue
		}
		b.nodes[id] = all[id]
		b.order = append(b.order, id)
		for _, target := range nodes.ValidTargets(all[id], all) {
			queue = append(queue, target)
		}
	}

	if skipped := len(all) - len(b.nodes); skipped > 0 {
		logx.Debug().Int64("bot_id", b.bot.BotID).Int("skipped", skipped).Msg("Ignoring nodes unreachable from entry")
	}
}

// addNodes adds one executor lambda per reachable node
func (b *graphBuilder) addNodes() error {
	for _, id := range b.order {
		exec := nodes.NewExecutor(b.deps, b.bot, b.nodes[id])
		if err := b.graph.AddLambdaNode(NodeKey(id),
			compose.InvokableLambda(exec.Run),
			compose.WithNodeName(id),
		); err != nil {
			logx.Error().Err(err).Str("node_id", id).Msg("Error adding graph node")
			return fmt.Errorf("error adding node %q: %w", id, err)
		}
	}
	return nil
}

// addEdges wires START to the entry node and terminal nodes to END
func (b *graphBuilder) addEdges() error {
	edges := [][2]string{{compose.START, NodeKey(b.cfg.EntryNodeID)}}
	for _, id := range b.order {
		if len(nodes.ValidTargets(b.nodes[id], b.nodes)) == 0 {
			edges = append(edges, [2]string{NodeKey(id), compose.END})
		}
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding graph edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches routes every node with valid targets through its transition selector
func (b *graphBuilder) addBranches() error {
	for _, id := range b.order {
		node := b.nodes[id]
		targets := nodes.ValidTargets(node, b.nodes)
		if len(targets) == 0 {
			continue
		}

		endNodes := map[string]bool{compose.END: true}
		for _, t := range targets {
			endNodes[NodeKey(t)] = true
		}

		selector := nodes.NewSelector(b.deps.Chat, node, b.nodes, b.deps.Engine.Normalized().MaxHops)
		branch := compose.NewGraphBranch(
			func(ctx context.Context, state *model.ConversationState) (string, error) {
				next, err := selector.Select(ctx, state)
				if err != nil {
					return "", err
				}
				if next == model.EndLabel || !endNodes[NodeKey(next)] {
					return compose.END, nil
				}
				return NodeKey(next), nil
			},
			endNodes,
		)
		if err := b.graph.AddBranch(NodeKey(id), branch); err != nil {
			logx.Error().Err(err).Str("node_id", id).Msg("Error adding transition branch")
			return fmt.Errorf("error adding transition branch for %q: %w", id, err)
		}
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *graphBuilder) compile(ctx context.Context) (compose.Runnable[*model.ConversationState, *model.ConversationState], error) {
	// Each hop is one node step plus its branch; the selector ends the walk at MaxHops.
	maxSteps := b.deps.Engine.Normalized().MaxHops*2 + 10

	runnable, err := b.graph.Compile(ctx,
		compose.WithMaxRunSteps(maxSteps),
		compose.WithGraphName(fmt.Sprintf("bot_%d", b.bot.BotID)),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Int64("bot_id", b.bot.BotID).Strs("nodes", b.order).Msg("Graph compiled successfully")
	return runnable, nil
}
