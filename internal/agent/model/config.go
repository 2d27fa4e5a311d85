package model

import "time"

// ================ Config ================
type LLMConfig struct {
	APIKey      string  `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL     string  `envconfig:"GEMINI_BASE_URL"`
	Model       string  `envconfig:"LLM_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"LLM_MAX_TOKENS" default:"2048"`
	Temperature float32 `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	// ThinkingBudget caps reasoning tokens; negative keeps the provider default.
	ThinkingBudget int32 `envconfig:"LLM_THINKING_BUDGET" default:"-1"`
	// NativeTools binds node tools to models that support structured tool calling.
	NativeTools bool `envconfig:"LLM_NATIVE_TOOLS" default:"true"`
}

type EngineConfig struct {
	MaxToolIterations int           `envconfig:"ENGINE_MAX_TOOL_ITERATIONS" default:"10"`
	MaxHops           int           `envconfig:"ENGINE_MAX_HOPS" default:"25"`
	RetrievalTopK     int           `envconfig:"ENGINE_RETRIEVAL_TOP_K" default:"3"`
	ToolTimeout       time.Duration `envconfig:"ENGINE_TOOL_TIMEOUT" default:"10s"`
	ApologyMessage    string        `envconfig:"ENGINE_APOLOGY_MESSAGE" default:"Sorry, I could not generate a response right now. Please try again later."`
	FallbackMessage   string        `envconfig:"ENGINE_FALLBACK_MESSAGE" default:"I could not process your request. Please rephrase your question."`
}

// ParserConfig tunes the tool disambiguation heuristics of the response parser.
// Values are comma separated lists.
type ParserConfig struct {
	CreateToolHints  string `envconfig:"PARSER_CREATE_TOOL_HINTS" default:"book,create,add,reserve,make,schedule,register,order"`
	ListToolHints    string `envconfig:"PARSER_LIST_TOOL_HINTS" default:"get,list,available,search,find,check,slots"`
	CreateParamHints string `envconfig:"PARSER_CREATE_PARAM_HINTS" default:"name,client_name,customer_name,phone,email,time,slot_id,service_id,comment"`
	ListParamHints   string `envconfig:"PARSER_LIST_PARAM_HINTS" default:"date,day,from,to,query"`
}

type EmbeddingConfig struct {
	Model string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	// Dimensions must match the vector column of the chunk table; 0 keeps the model default.
	Dimensions int32 `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`
}

type ConversationConfig struct {
	TTL      string `envconfig:"CONVERSATION_TTL" default:"24h"`
	MaxTurns int    `envconfig:"CONVERSATION_MAX_TURNS" default:"40"`
}

// DefaultEngineConfig mirrors the envconfig defaults for callers that build the engine in code.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxToolIterations: 10,
		MaxHops:           25,
		RetrievalTopK:     3,
		ToolTimeout:       10 * time.Second,
		ApologyMessage:    "Sorry, I could not generate a response right now. Please try again later.",
		FallbackMessage:   "I could not process your request. Please rephrase your question.",
	}
}

// Normalized fills zero values with defaults.
func (c EngineConfig) Normalized() EngineConfig {
	def := DefaultEngineConfig()
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = def.MaxToolIterations
	}
	if c.MaxHops <= 0 {
		c.MaxHops = def.MaxHops
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = def.RetrievalTopK
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = def.ToolTimeout
	}
	if c.ApologyMessage == "" {
		c.ApologyMessage = def.ApologyMessage
	}
	if c.FallbackMessage == "" {
		c.FallbackMessage = def.FallbackMessage
	}
	return c
}
