package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// Server
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Environment string `json:"environment"`
	APIPrefix   string `json:"api_prefix"`
	LogLevel    string `json:"log_level"`

	// CORS
	CORSOrigins []string `json:"cors_origins"`

	// Auth
	APIKeyHeader string   `json:"api_key_header"`
	APIKeys      []string `json:"api_keys"`
	EnableAuth   bool     `json:"enable_auth"`

	// HTTP rate limiting (requests per minute per API key)
	RateLimitPerMinute int `json:"rate_limit_per_minute"`

	// AI / LLM
	AnthropicAPIKey  string `json:"anthropic_api_key"`
	AnthropicBaseURL string `json:"anthropic_base_url"` // override for Z.ai / custom proxy
	Model            string `json:"model"`
	AgentTimeout     int    `json:"agent_timeout"`
	SystemPrompt     string `json:"system_prompt"`

	// Agent loop guard rails
	Agent AgentConfig `json:"agent"`

	// Tool pipeline
	Pipeline PipelineConfig `json:"pipeline"`

	// Tool rate limit buckets, keyed by limit type
	RateLimits map[string]BucketConfig `json:"rate_limits"`

	// Storage
	PostgresDSN string `json:"postgres_dsn"`
	RedisURL    string `json:"redis_url"`

	// Solana
	SolanaRPCURL       string `json:"solana_rpc_url"`
	DexScreenerBaseURL string `json:"dexscreener_base_url"`

	// Security
	EnableDataMasking  bool     `json:"enable_data_masking"`
	EnablePIIDetection bool     `json:"enable_pii_detection"`
	SensitiveKeys      []string `json:"sensitive_keys"`
	PIIKeywords        []string `json:"pii_keywords"`
	EnableAuditLogging bool     `json:"enable_audit_logging"`

	// Observability
	EnableMetrics bool `json:"enable_metrics"`
}

// AgentConfig mirrors the loop guard rails as plain JSON.
type AgentConfig struct {
	MaxIterations       int     `json:"max_iterations"`
	MaxConcurrentTools  int     `json:"max_concurrent_tools"`
	LoopDetectionTurns  int     `json:"loop_detection_turns"`
	ContextBudgetTokens int     `json:"context_budget_tokens"`
	ContextHighWater    float64 `json:"context_high_water"`
	CompactKeepRecent   int     `json:"compact_keep_recent"`
	ModelRetries        int     `json:"model_retries"`
	ModelRetryDelayMs   int     `json:"model_retry_delay_ms"`
}

// PipelineConfig configures the tool interceptor chain.
type PipelineConfig struct {
	Logging        LoggingConfig   `json:"logging"`
	RateLimit      RateLimitConfig `json:"rate_limit"`
	Retry          RetryConfig     `json:"retry"`
	CircuitBreaker BreakerConfig   `json:"circuit_breaker"`
}

type LoggingConfig struct {
	IncludeArgs   bool     `json:"include_args"`
	IncludeResult bool     `json:"include_result"`
	Only          []string `json:"only,omitempty"`
	Exclude       []string `json:"exclude,omitempty"`
}

type RateLimitConfig struct {
	Enabled bool                     `json:"enabled"`
	Rules   map[string]RateLimitRule `json:"map,omitempty"`
}

type RateLimitRule struct {
	Type            string `json:"type"`
	IdentifierField string `json:"identifier_field,omitempty"`
}

type RetryConfig struct {
	Enabled     bool     `json:"enabled"`
	MaxRetries  int      `json:"max_retries"`
	BaseDelayMs int      `json:"base_delay_ms"`
	Only        []string `json:"only,omitempty"`
	Exclude     []string `json:"exclude,omitempty"`
}

type BreakerConfig struct {
	Enabled          bool  `json:"enabled"`
	FailureThreshold int   `json:"failure_threshold"`
	CooldownSeconds  int64 `json:"cooldown_seconds"`
}

// BucketConfig sizes one named token bucket.
type BucketConfig struct {
	Capacity     float64 `json:"capacity"`
	RefillPerSec float64 `json:"refill_per_sec"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Host:               DefaultHost,
		Port:               DefaultPort,
		Environment:        DefaultEnvironment,
		APIPrefix:          DefaultAPIPrefix,
		LogLevel:           DefaultLogLevel,
		CORSOrigins:        DefaultCORSOrigins,
		APIKeyHeader:       "X-API-Key",
		EnableAuth:         true,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		AgentTimeout:       DefaultAgentTimeout,
		SystemPrompt:       DefaultSystemPrompt,
		Agent: AgentConfig{
			MaxIterations:       DefaultMaxIterations,
			MaxConcurrentTools:  DefaultMaxConcurrentTools,
			LoopDetectionTurns:  DefaultLoopDetectionTurns,
			ContextBudgetTokens: DefaultContextBudgetTokens,
			ContextHighWater:    DefaultContextHighWater,
			CompactKeepRecent:   DefaultCompactKeepRecent,
			ModelRetries:        DefaultModelRetries,
			ModelRetryDelayMs:   DefaultModelRetryDelayMs,
		},
		Pipeline: PipelineConfig{
			Retry: RetryConfig{
				MaxRetries:  DefaultToolMaxRetries,
				BaseDelayMs: DefaultToolBaseDelayMs,
			},
			CircuitBreaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: DefaultBreakerThreshold,
				CooldownSeconds:  DefaultBreakerCooldownSeconds,
			},
		},
		SolanaRPCURL:       DefaultSolanaRPCURL,
		EnableDataMasking:  true,
		EnablePIIDetection: true,
		SensitiveKeys:      DefaultSensitiveKeys,
		PIIKeywords:        DefaultPIIKeywords,
		EnableAuditLogging: true,
		EnableMetrics:      true,
	}

	// Load from JSON config file if specified
	if path := getEnv("SOLAGENT_CONFIG", ""); path != "" {
		if err := loadJSON(path, cfg); err != nil {
			return nil, err
		}
	}

	// Environment overrides
	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadJSON(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := getEnv("SOLAGENT_HOST", ""); v != "" {
		cfg.Host = v
	}
	if v := getEnv("SOLAGENT_PORT", ""); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := getEnv("SOLAGENT_ENV", ""); v != "" {
		cfg.Environment = v
	}
	if v := getEnv("SOLAGENT_LOG_LEVEL", ""); v != "" {
		cfg.LogLevel = v
	}
	if v := getEnv("SOLAGENT_API_KEYS", ""); v != "" {
		cfg.APIKeys = strings.Split(v, ",")
	}
	if v := getEnv("ANTHROPIC_API_KEY", ""); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := getEnv("ANTHROPIC_BASE_URL", ""); v != "" {
		cfg.AnthropicBaseURL = v
	}
	if v := getEnv("SOLAGENT_MODEL", ""); v != "" {
		cfg.Model = v
	}
	if v := getEnv("DATABASE_URL", ""); v != "" {
		cfg.PostgresDSN = v
	}
	if v := getEnv("REDIS_URL", ""); v != "" {
		cfg.RedisURL = v
	}
	if v := getEnv("SOLANA_RPC_URL", ""); v != "" {
		cfg.SolanaRPCURL = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		if r, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = r
		}
	}
	if v := getEnv("ENABLE_AUTH", ""); v != "" {
		cfg.EnableAuth = v == "true" || v == "1"
	}
	if v := getEnv("SOLAGENT_MAX_ITERATIONS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := getEnv("SOLAGENT_AGENT_TIMEOUT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AgentTimeout = n
		}
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
