// Package config loads typed configuration for agentd from the environment,
// following the fail-fast pattern: required values are validated once at
// startup rather than defaulted silently deep in the call stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AnthropicPromptCacheConfig controls Anthropic prompt-cache breakpoints.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic provider adapter.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	ExtraParams map[string]any
	PromptCache AnthropicPromptCacheConfig
}

// GoogleConfig configures the Gemini provider adapter.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

// OpenAIConfig configures the OpenAI-compatible provider adapter.
type OpenAIConfig struct {
	API         string // "completions" (default) or "responses"
	BaseURL     string
	APIKey      string
	Model       string
	ExtraParams map[string]any
	ExtraHeaders map[string]string
}

// LLMClientConfig is the default provider set used to build specialists and
// the orchestrator's own model when no per-specialist override is given.
type LLMClientConfig struct {
	Provider  string // "openai" | "anthropic" | "google"
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig
}

// SpecialistConfig describes one addressable specialist sub-agent (C8).
type SpecialistConfig struct {
	Name                       string
	Description                string
	System                     string
	Provider                   string
	API                        string
	BaseURL                    string
	APIKey                     string
	Model                      string
	ExtraParams                map[string]any
	ExtraHeaders               map[string]string
	AllowTools                 []string
	EnableTools                bool
	ReasoningEffort            string
	Paused                     bool
	SummaryContextWindowTokens int
}

// SpecialistRoute maps free-text heuristics to a specialist name for
// fallback routing when the orchestrator does not delegate explicitly.
type SpecialistRoute struct {
	Name     string
	Contains []string
	Regex    []string
}

// BackendConfig selects a persistence backend for one store (chat, strategy,
// execution). Backend is one of "memory", "postgres", "auto".
type BackendConfig struct {
	Backend string
	DSN     string
}

// DBConfig selects persistence backends for every store in the module.
type DBConfig struct {
	DefaultDSN string
	Chat       BackendConfig
	Strategy   BackendConfig
	Execution  BackendConfig
}

// ObsConfig configures the OpenTelemetry exporters.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Config is the fully resolved, typed configuration for the agentd process.
type Config struct {
	HTTPAddr string
	LogLevel string
	LogPath  string

	LLM         LLMClientConfig
	Specialists []SpecialistConfig
	Routes      []SpecialistRoute

	DB    DBConfig
	Obs   ObsConfig
	Redis RedisConfig
	Kafka KafkaConfig

	// Sync Service (C6) freshness windows, in seconds.
	SyncCooldownSec int
	SyncHardSec     int

	// Agent Loop (C7) bounds.
	MaxTurns      int
	ToolTimeoutSec int

	// Code Sandbox (C4) wall-clock budget.
	SandboxTimeoutSec int

	// Strategy Scheduler (C11) tuning.
	StrategyCycleTimeoutSec int
	SchedulerTickSec        int
	SchedulerWorkers        int
}

// RedisConfig configures the Sync Service's cross-process freshness cache.
type RedisConfig struct {
	URL string
}

// KafkaConfig configures the optional Event Bus mirror sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads configuration from the environment. It first loads a .env file
// from the working directory, if one exists, via godotenv.Overload, so values
// from that file override variables already set in the environment.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		HTTPAddr: getenv("HTTP_ADDR", ":32180"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		LogPath:  getenv("LOG_PATH", "finchd.log"),

		LLM: LLMClientConfig{
			Provider: getenv("LLM_PROVIDER", "anthropic"),
			OpenAI: OpenAIConfig{
				API:     getenv("OPENAI_API", "responses"),
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   getenv("OPENAI_MODEL", "gpt-4.1"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   getenv("ANTHROPIC_MODEL", "claude-3-7-sonnet-latest"),
				PromptCache: AnthropicPromptCacheConfig{
					Enabled:       getbool("ANTHROPIC_PROMPT_CACHE", true),
					CacheSystem:   true,
					CacheTools:    true,
					CacheMessages: false,
				},
			},
			Google: GoogleConfig{
				BaseURL: os.Getenv("GOOGLE_BASE_URL"),
				APIKey:  os.Getenv("GOOGLE_API_KEY"),
				Model:   getenv("GOOGLE_MODEL", "gemini-2.0-flash"),
				Timeout: getint("GOOGLE_TIMEOUT_SEC", 60),
			},
		},

		DB: DBConfig{
			DefaultDSN: os.Getenv("DATABASE_URL"),
			Chat:       BackendConfig{Backend: getenv("CHAT_STORE_BACKEND", "auto")},
			Strategy:   BackendConfig{Backend: getenv("STRATEGY_STORE_BACKEND", "auto")},
			Execution:  BackendConfig{Backend: getenv("EXECUTION_STORE_BACKEND", "auto")},
		},
		Obs: ObsConfig{
			OTLP:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:    getenv("OTEL_SERVICE_NAME", "finchcore-agentd"),
			ServiceVersion: getenv("OTEL_SERVICE_VERSION", "dev"),
			Environment:    getenv("OTEL_ENVIRONMENT", "development"),
		},
		Redis: RedisConfig{URL: os.Getenv("REDIS_URL")},
		Kafka: KafkaConfig{
			Brokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenv("KAFKA_EVENTS_TOPIC", "finchcore.events"),
		},

		SyncCooldownSec: getint("SYNC_COOLDOWN_SEC", 300),
		SyncHardSec:     getint("SYNC_HARD_SEC", 3600),

		MaxTurns:       getint("MAX_TURNS", 10),
		ToolTimeoutSec: getint("TOOL_TIMEOUT_SEC", 60),

		SandboxTimeoutSec: getint("SANDBOX_TIMEOUT_SEC", 5),

		StrategyCycleTimeoutSec: getint("STRATEGY_CYCLE_TIMEOUT_SEC", 30),
		SchedulerTickSec:        getint("SCHEDULER_TICK_SEC", 5),
		SchedulerWorkers:        getint("SCHEDULER_WORKERS", 8),
	}

	if cfg.LLM.Provider == "" {
		return Config{}, fmt.Errorf("config: LLM_PROVIDER must not be empty")
	}
	if cfg.SchedulerWorkers <= 0 {
		return Config{}, fmt.Errorf("config: SCHEDULER_WORKERS must be > 0")
	}

	if err := loadSpecialists(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getbool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
