package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/graphbot-platform/server/internal/agent/embedding"
	"github.com/graphbot-platform/server/internal/agent/graph"
	"github.com/graphbot-platform/server/internal/agent/graph/nodes"
	"github.com/graphbot-platform/server/internal/agent/model"
	"github.com/graphbot-platform/server/internal/agent/repo"
	errx "github.com/graphbot-platform/server/internal/core/error"
	"github.com/graphbot-platform/server/internal/store/postgres"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "graphbot",
		Usage: "Graph-based conversation engine for configurable chat bots",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path of the .env file to load",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "chat",
				Usage: "Chat with a stored bot (one message, or interactive when --message is empty)",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "bot", Usage: "Bot id", Required: true},
					&cli.StringFlag{Name: "session", Usage: "Chat session id", Value: "cli"},
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Single message to send"},
					&cli.BoolFlag{Name: "reset", Usage: "Clear the session history first"},
					&cli.BoolFlag{Name: "json", Usage: "Print the full result as JSON"},
				},
				Action: chatCommand,
			},
			{
				Name:  "validate",
				Usage: "Normalize, lint and compile a bot graph from the database or a JSON file",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "bot", Usage: "Bot id to load from the database"},
					&cli.StringFlag{Name: "file", Usage: "Graph config JSON file"},
				},
				Action: validateCommand,
			},
			{
				Name:   "migrate",
				Usage:  "Create the bot, tool and document tables",
				Action: migrateCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logx.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func chatCommand(c *cli.Context) error {
	cfg, err := loadAppConfig(c.String("env-file"))
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	rdb, err := cfg.Redis.New()
	if err != nil {
		return fmt.Errorf("initialise redis client: %w", err)
	}
	defer rdb.Close()

	pool, err := cfg.Postgres.New(ctx)
	if err != nil {
		return fmt.Errorf("initialise postgres pool: %w", err)
	}
	defer pool.Close()

	embedder, err := embedding.NewFromLLMConfig(ctx, cfg.LLM, cfg.Embedding)
	if err != nil {
		return err
	}
	store := postgres.New(pool, embedder)

	ttl, err := cfg.SessionTTL()
	if err != nil {
		return err
	}
	conversations := repo.NewRedisConversationRepository(rdb, ttl, cfg.Conversation.MaxTurns*4)

	runner, err := graph.BuildRunner(ctx, graph.Config{
		LLM:              cfg.LLM,
		Engine:           cfg.Engine,
		Parser:           cfg.Parser,
		Conversation:     cfg.Conversation,
		Bots:             store,
		APITools:         store,
		Chunks:           store,
		ConversationRepo: conversations,
	})
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}

	session := c.String("session")
	if c.Bool("reset") {
		if err := runner.Reset(ctx, session); err != nil {
			return err
		}
	}

	send := func(text string) error {
		res, err := runner.Invoke(ctx, model.QueryInput{BotID: c.Int64("bot"), SessionID: session, Query: text})
		if err != nil {
			return err
		}
		if c.Bool("json") {
			b, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		fmt.Println(res.Reply)
		return nil
	}

	if msg := c.String("message"); msg != "" {
		return send(msg)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text != "" {
			if err := send(text); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				// configuration errors end the session; everything else is reported and the loop goes on
				if errors.Is(err, errx.ErrConfig) || errors.Is(err, errx.ErrNotFound) {
					return err
				}
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func validateCommand(c *cli.Context) error {
	var (
		raw       []byte
		botPrompt string
		workspace int64
		store     *postgres.Store
	)

	switch {
	case c.String("file") != "":
		initLogger(os.Getenv("ENVIRONMENT"), os.Getenv("LOG_LEVEL"))
		b, err := os.ReadFile(c.String("file"))
		if err != nil {
			return err
		}
		raw = b
	case c.Int64("bot") != 0:
		cfg, err := loadStoreConfig(c.String("env-file"))
		if err != nil {
			return err
		}
		pool, err := cfg.Postgres.New(c.Context)
		if err != nil {
			return fmt.Errorf("initialise postgres pool: %w", err)
		}
		defer pool.Close()
		store = postgres.New(pool, nil)
		bot, err := store.GetBot(c.Context, c.Int64("bot"))
		if err != nil {
			return err
		}
		raw, botPrompt, workspace = bot.Graph, bot.SystemPrompt, bot.WorkspaceID
	default:
		return cli.Exit("either --bot or --file is required", 2)
	}

	norm, err := graph.Normalize(raw, botPrompt)
	if err != nil {
		return err
	}
	problems := append([]string(nil), norm.Dropped...)
	problems = append(problems, graph.Lint(norm.Config)...)
	if store != nil {
		refs, err := checkReferences(c.Context, store, workspace, norm.Config)
		if err != nil {
			return err
		}
		problems = append(problems, refs...)
	}

	// compiling only wires the graph, the model is never called
	deps := &nodes.Deps{
		Chat:   &nodes.ChatModel{Name: "validate"},
		Engine: model.DefaultEngineConfig(),
	}
	deps.Tools, deps.Parser = validationTools(deps.Engine)
	compiled, err := graph.NewCompiler(deps).Compile(c.Context, norm.Config, nodes.BotContext{})
	if err != nil {
		return err
	}

	fmt.Printf("entry: %s\nnodes: %s\nlegacy: %t\n", compiled.Entry, strings.Join(compiled.Nodes, ", "), norm.Legacy)
	for _, p := range problems {
		fmt.Println("warning:", p)
	}
	if len(problems) > 0 {
		return cli.Exit(fmt.Sprintf("%d problem(s) found", len(problems)), 1)
	}
	fmt.Println("ok")
	return nil
}

func migrateCommand(c *cli.Context) error {
	cfg, err := loadStoreConfig(c.String("env-file"))
	if err != nil {
		return err
	}
	pool, err := cfg.Postgres.New(c.Context)
	if err != nil {
		return fmt.Errorf("initialise postgres pool: %w", err)
	}
	defer pool.Close()
	return migrate(c.Context, pool, int(cfg.Embedding.Dimensions))
}

func migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if err := postgres.Migrate(ctx, pool, dimensions); err != nil {
		return err
	}
	logx.Info().Msg("Database schema is up to date")
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logx.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.Error().Err(err).Msg("metrics server stopped")
	}
}
