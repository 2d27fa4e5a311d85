package main

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/graphbot-platform/server/internal/agent/model"
	"github.com/graphbot-platform/server/internal/core"
	logx "github.com/graphbot-platform/server/pkg/logger"
	pkgpostgres "github.com/graphbot-platform/server/pkg/postgres"
	pkgredis "github.com/graphbot-platform/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the engine,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	// Infrastructure
	Redis    pkgredis.Config
	Postgres pkgpostgres.Config

	LLM          model.LLMConfig
	Embedding    model.EmbeddingConfig
	Engine       model.EngineConfig
	Parser       model.ParserConfig
	Conversation model.ConversationConfig
}

// StoreConfig is the subset needed by commands that only touch Postgres.
type StoreConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	Postgres    pkgpostgres.Config
	Embedding   model.EmbeddingConfig
}

func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil {
		logx.Debug().Str("path", path).Msg("No .env file loaded")
	}
}

func initLogger(env, level string) {
	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(env), Level: level})
}

func loadAppConfig(envFile string) (*AppConfig, error) {
	loadDotEnv(envFile)
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	initLogger(cfg.Environment, cfg.LogLevel)
	return &cfg, nil
}

func loadStoreConfig(envFile string) (*StoreConfig, error) {
	loadDotEnv(envFile)
	var cfg StoreConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	initLogger(cfg.Environment, cfg.LogLevel)
	return &cfg, nil
}

// SessionTTL parses CONVERSATION_TTL; an empty value disables expiry.
func (c *AppConfig) SessionTTL() (time.Duration, error) {
	if c.Conversation.TTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(c.Conversation.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid CONVERSATION_TTL %q: %w", c.Conversation.TTL, err)
	}
	return ttl, nil
}
