// Package config loads runtime configuration from the environment, with an
// optional YAML overlay for deployments that prefer files over env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// ProviderConfig describes one LLM provider account.
type ProviderConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`
}

type LLMConfig struct {
	Preferred   string                    `yaml:"preferred"`
	CallTimeout time.Duration             `yaml:"call_timeout"`
	MaxRetries  int                       `yaml:"max_retries"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Temperature float64                   `yaml:"temperature"`
	MaxTokens   int                       `yaml:"max_tokens"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend   string        `yaml:"backend"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	RedisPass string        `yaml:"redis_password"`
}

type RateLimitConfig struct {
	Window          time.Duration `yaml:"window"`
	WarnThreshold   int           `yaml:"warn_threshold"`
	SwitchThreshold int           `yaml:"switch_threshold"`
	// ResetPolicy is "auto" or "sticky".
	ResetPolicy    string        `yaml:"reset_policy"`
	AutoResetAfter time.Duration `yaml:"auto_reset_after"`
}

type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinSimilarity float64 `yaml:"min_similarity"`
	ChunkSize     int     `yaml:"chunk_size"`
	ChunkOverlap  int     `yaml:"chunk_overlap"`
	HistoryTurns  int     `yaml:"history_turns"`
	SnapshotDir   string  `yaml:"snapshot_dir"`
}

type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Load builds the configuration from environment variables. When QAMIND_CONFIG
// names a YAML file, its values overlay the env-derived defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		LLM: LLMConfig{
			Preferred:   getEnv("LLM_PREFERRED_PROVIDER", ""),
			CallTimeout: getDurationEnv("LLM_CALL_TIMEOUT", 30*time.Second),
			MaxRetries:  getIntEnv("LLM_MAX_RETRIES", 3),
			Temperature: getFloatEnv("LLM_TEMPERATURE", 0.7),
			MaxTokens:   getIntEnv("LLM_MAX_TOKENS", 2048),
			Providers: map[string]ProviderConfig{
				"openai": {
					Enabled: getBoolEnv("OPENAI_ENABLED", true),
					APIKey:  getEnv("OPENAI_API_KEY", ""),
					BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1/chat/completions"),
					Models:  getEnvSlice("OPENAI_MODELS", []string{"gpt-4o", "gpt-4o-mini"}),
				},
				"anthropic": {
					Enabled: getBoolEnv("ANTHROPIC_ENABLED", true),
					APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
					BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1/messages"),
					Models:  getEnvSlice("ANTHROPIC_MODELS", []string{"claude-sonnet-4-20250514"}),
				},
				"deepseek": {
					Enabled: getBoolEnv("DEEPSEEK_ENABLED", false),
					APIKey:  getEnv("DEEPSEEK_API_KEY", ""),
					BaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1/chat/completions"),
					Models:  getEnvSlice("DEEPSEEK_MODELS", []string{"deepseek-chat"}),
				},
			},
		},
		Cache: CacheConfig{
			Backend:   getEnv("CACHE_BACKEND", "memory"),
			TTL:       getDurationEnv("CACHE_TTL", 5*time.Minute),
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getIntEnv("REDIS_DB", 0),
			RedisPass: getEnv("REDIS_PASSWORD", ""),
		},
		RateLimit: RateLimitConfig{
			Window:          getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			WarnThreshold:   getIntEnv("RATE_LIMIT_WARN_THRESHOLD", 50),
			SwitchThreshold: getIntEnv("RATE_LIMIT_SWITCH_THRESHOLD", 40),
			ResetPolicy:     getEnv("RATE_LIMIT_RESET_POLICY", "auto"),
			AutoResetAfter:  getDurationEnv("RATE_LIMIT_AUTO_RESET_AFTER", 5*time.Minute),
		},
		Retrieval: RetrievalConfig{
			TopK:          getIntEnv("RETRIEVAL_TOP_K", 5),
			MinSimilarity: getFloatEnv("RETRIEVAL_MIN_SIMILARITY", 0.4),
			ChunkSize:     getIntEnv("CHUNK_SIZE", 800),
			ChunkOverlap:  getIntEnv("CHUNK_OVERLAP", 100),
			HistoryTurns:  getIntEnv("HISTORY_TURNS", 6),
			SnapshotDir:   getEnv("SNAPSHOT_DIR", "data/snapshots"),
		},
		Embedding: EmbeddingConfig{
			BaseURL: getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("EMBEDDING_API_KEY", os.Getenv("OPENAI_API_KEY")),
			Model:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("METRICS_ENABLED", true),
			Addr:    getEnv("METRICS_ADDR", ":9091"),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	if path := os.Getenv("QAMIND_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid cache backend %q (want memory or redis)", c.Cache.Backend)
	}
	switch c.RateLimit.ResetPolicy {
	case "auto", "sticky":
	default:
		return fmt.Errorf("invalid rate limit reset policy %q (want auto or sticky)", c.RateLimit.ResetPolicy)
	}
	if c.RateLimit.SwitchThreshold > c.RateLimit.WarnThreshold {
		return fmt.Errorf("rate limit switch threshold %d exceeds warn threshold %d",
			c.RateLimit.SwitchThreshold, c.RateLimit.WarnThreshold)
	}
	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
	}
	return nil
}

// EnabledProviders returns the names of providers that are enabled and have a
// key configured, preferred provider first.
func (c *Config) EnabledProviders() []string {
	var names []string
	if p, ok := c.LLM.Providers[c.LLM.Preferred]; ok && p.Enabled && p.APIKey != "" {
		names = append(names, c.LLM.Preferred)
	}
	for name, p := range c.LLM.Providers {
		if name == c.LLM.Preferred {
			continue
		}
		if p.Enabled && p.APIKey != "" {
			names = append(names, name)
		}
	}
	return names
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
