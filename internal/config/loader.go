package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// apiKeySuffixes lists the env-var suffixes that mark a key as a
// third-party API credential worth surfacing in Settings.APIKeys, per
// spec.md §6 ("'apikey'-suffixed keys are collected into an API-key map").
var apiKeySuffixes = []string{"_APIKEY", "_API_KEY"}

// Load reads Settings from the process environment, optionally overlaid by
// a .env file in the working directory. Unknown environment variables are
// left alone (see §9's note on replacing silent kwargs-merging with structs
// that log unknown keys instead of dropping them) — Load never errors on
// variables it doesn't recognise; malformed recognised variables (e.g. a
// non-integer RECURSION_LIMIT) are reported in the returned warning slice
// instead, with the default value left in place.
func Load() (Settings, []string) {
	_ = godotenv.Load()

	cfg := Default()
	var warnings []string

	cfg.BaseModel = strings.TrimSpace(os.Getenv("BASE_MODEL"))
	cfg.BaseProvider = strings.TrimSpace(os.Getenv("BASE_PROVIDER"))
	cfg.ComplexModel = strings.TrimSpace(os.Getenv("COMPLEX_MODEL"))
	cfg.ComplexProvider = strings.TrimSpace(os.Getenv("COMPLEX_PROVIDER"))
	cfg.ModelAPIBase = strings.TrimSpace(os.Getenv("MODEL_API_BASE"))

	cfg.Store.WCDURL = strings.TrimSpace(os.Getenv("WCD_URL"))
	cfg.Store.WCDAPIKey = strings.TrimSpace(os.Getenv("WCD_API_KEY"))

	cfg.LoggingLevel = strings.TrimSpace(os.Getenv("LOGGING_LEVEL"))

	cfg.UseFeedback = boolEnv("USE_FEEDBACK", false)
	cfg.BaseUseReasoning = boolEnv("BASE_USE_REASONING", false)
	cfg.ComplexUseReasoning = boolEnv("COMPLEX_USE_REASONING", false)

	if v := strings.TrimSpace(os.Getenv("CLIENT_TIMEOUT")); v != "" {
		if mins, err := strconv.Atoi(v); err == nil {
			cfg.Store.ClientTimeout = time.Duration(mins) * time.Minute
		} else {
			warnings = append(warnings, "CLIENT_TIMEOUT is not an integer number of minutes: "+v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("TREE_TIMEOUT")); v != "" {
		if mins, err := strconv.Atoi(v); err == nil {
			cfg.TreeTimeout = time.Duration(mins) * time.Minute
		} else {
			warnings = append(warnings, "TREE_TIMEOUT is not an integer number of minutes: "+v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("RECURSION_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RecursionLimit = n
		} else {
			warnings = append(warnings, "RECURSION_LIMIT must be a positive integer: "+v)
		}
	}

	cfg.Anthropic = AnthropicConfig{
		APIKey:  strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		BaseURL: firstNonEmpty(cfg.ModelAPIBase, strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))),
		Model:   strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")),
	}
	cfg.OpenAI = OpenAIConfig{
		APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL: firstNonEmpty(cfg.ModelAPIBase, strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))),
		Model:   strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
	}
	cfg.Google = GoogleConfig{
		APIKey:  strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		BaseURL: firstNonEmpty(cfg.ModelAPIBase, strings.TrimSpace(os.Getenv("GOOGLE_BASE_URL"))),
		Model:   strings.TrimSpace(os.Getenv("GOOGLE_MODEL")),
	}

	cfg.Obs = ObsConfig{
		OTLP:           strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ServiceName:    firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "elysiatree"),
		ServiceVersion: strings.TrimSpace(os.Getenv("SERVICE_VERSION")),
		Environment:    firstNonEmpty(strings.TrimSpace(os.Getenv("DEPLOY_ENV")), "development"),
	}

	cfg.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.Redis.Password = strings.TrimSpace(os.Getenv("REDIS_PASSWORD"))
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		} else {
			warnings = append(warnings, "REDIS_DB must be an integer: "+v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("FEEDBACK_CACHE_TTL_SECONDS")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Redis.TTL = time.Duration(secs) * time.Second
		} else {
			warnings = append(warnings, "FEEDBACK_CACHE_TTL_SECONDS must be a positive integer: "+v)
		}
	}

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	cfg.Kafka.Topic = firstNonEmpty(strings.TrimSpace(os.Getenv("KAFKA_TRAINING_TOPIC")), "elysiatree.training")

	cfg.ClickHouse.DSN = strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN"))
	cfg.ClickHouse.Table = firstNonEmpty(strings.TrimSpace(os.Getenv("CLICKHOUSE_TABLE")), "tree_usage")

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" {
			continue
		}
		for _, suffix := range apiKeySuffixes {
			if strings.HasSuffix(strings.ToUpper(k), suffix) {
				prefix := k[:len(k)-len(suffix)]
				cfg.APIKeys[strings.ToUpper(prefix)] = v
				break
			}
		}
	}

	return cfg, warnings
}

func boolEnv(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
