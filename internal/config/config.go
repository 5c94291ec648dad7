// Package config loads the Settings snapshot a Tree is constructed with.
//
// Every Tree instance owns its own Settings value (see §9 "global mutable
// settings singleton" redesign note): Load() produces a process-wide
// default that is convenient for a CLI entrypoint, but nothing in the
// orchestration core consults a package-level global once a Tree exists.
package config

import "time"

// AnthropicConfig configures the Anthropic BaseLM/ComplexLM adapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIConfig configures the OpenAI BaseLM/ComplexLM adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GoogleConfig configures the Gemini BaseLM/ComplexLM adapter.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// StoreConfig configures the StoreClient pool (§4.A).
type StoreConfig struct {
	WCDURL        string
	WCDAPIKey     string
	ClientTimeout time.Duration
}

// RedisConfig configures the feedback few-shot cache (§4.I).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// KafkaConfig configures the training-data export sink (§4.I); empty
// Brokers disables publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ClickHouseConfig configures the Tracker's token/cost mirror (§4.H); empty
// DSN disables mirroring.
type ClickHouseConfig struct {
	DSN   string
	Table string
}

// Settings is the per-tree configuration snapshot described in spec.md §3
// ("settings — snapshot of model names/providers/keys/feature flags") and
// §6 (the recognised configuration table).
type Settings struct {
	BaseProvider    string // "anthropic" | "openai" | "google"
	BaseModel       string
	ComplexProvider string
	ComplexModel    string
	ModelAPIBase    string

	Store StoreConfig

	LoggingLevel string

	UseFeedback         bool
	BaseUseReasoning    bool
	ComplexUseReasoning bool

	TreeTimeout time.Duration

	RecursionLimit int

	// APIKeys collects every environment variable this process saw ending in
	// "_APIKEY" or "_API_KEY", keyed by the canonical prefix (e.g. "OPENAI",
	// "COHERE"), mirroring original_source/elysia/util/client.py's
	// api_key_map collection step but generalised instead of hardcoded to a
	// fixed provider list.
	APIKeys map[string]string

	Anthropic AnthropicConfig
	OpenAI    OpenAIConfig
	Google    GoogleConfig

	Obs        ObsConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	ClickHouse ClickHouseConfig
}

// ObsConfig configures the OpenTelemetry exporters InitOTel wires up.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// DefaultRecursionLimit matches spec.md §3's documented default.
const DefaultRecursionLimit = 5

// DefaultClientTimeout matches spec.md §4.A's documented default.
const DefaultClientTimeout = 3 * time.Minute

// DefaultFeedbackCacheTTL bounds how long a few-shot example set is cached
// in Redis before a repeat lookup re-queries the store (§4.I).
const DefaultFeedbackCacheTTL = 10 * time.Minute

// Default returns a Settings value with the spec's documented defaults and
// nothing else filled in. Callers normally prefer Load.
func Default() Settings {
	return Settings{
		RecursionLimit: DefaultRecursionLimit,
		Store: StoreConfig{
			ClientTimeout: DefaultClientTimeout,
		},
		Redis: RedisConfig{
			TTL: DefaultFeedbackCacheTTL,
		},
		APIKeys: map[string]string{},
	}
}
