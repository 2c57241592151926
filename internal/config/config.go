// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	CORSOrigins    []string
	LogLevel       slog.Level
	GRPCHealthAddr string // empty = gRPC health server disabled

	Providers ProviderConfig
	Quota     QuotaConfig
	Redis     RedisConfig
	SSE       SSEConfig
	Throttle  ThrottleConfig
	Trip      TripConfig
}

// ProviderConfig holds LLM provider credentials.
type ProviderConfig struct {
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GeminiAPIKey     string
	OpenRouterAPIKey string
	OpenRouterURL    string
}

// QuotaConfig holds the daily session quotas.
type QuotaConfig struct {
	AgentDaily       int
	AgentGlobalDaily int
	DemoDaily        int
	Backend          string // "sqlite" or "redis"
}

// RedisConfig controls the optional Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SSEConfig controls server-sent event streaming.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	MaxRequestBodySize int64
}

// ThrottleConfig controls the per-IP burst throttle.
type ThrottleConfig struct {
	Requests int
	Window   time.Duration
}

// TripConfig controls the session orchestrator.
type TripConfig struct {
	DefaultModel    string
	MaxOutputTokens int
	RatingMaxTokens int
	PhaseTimeout    time.Duration // 0 = no timeout
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/tripsitter.db"),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"*"}),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		Providers: ProviderConfig{
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
			OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
			OpenRouterURL:    getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		},
		Quota: QuotaConfig{
			AgentDaily:       getEnvInt("AGENT_DAILY_QUOTA", 5),
			AgentGlobalDaily: getEnvInt("AGENT_GLOBAL_DAILY_QUOTA", 500),
			DemoDaily:        getEnvInt("DEMO_DAILY_QUOTA", 100),
			Backend:          strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "sqlite")),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 15*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		Throttle: ThrottleConfig{
			Requests: getEnvInt("THROTTLE_REQUESTS", 30),
			Window:   getEnvDuration("THROTTLE_WINDOW", time.Minute),
		},
		Trip: TripConfig{
			DefaultModel:    getEnv("DEFAULT_MODEL", "openai/gpt-4o-mini"),
			MaxOutputTokens: getEnvInt("MAX_OUTPUT_TOKENS", 600),
			RatingMaxTokens: getEnvInt("RATING_MAX_TOKENS", 200),
			PhaseTimeout:    getEnvDuration("PHASE_TIMEOUT", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Quota.AgentDaily <= 0 || c.Quota.AgentGlobalDaily <= 0 || c.Quota.DemoDaily <= 0 {
		return fmt.Errorf("daily quotas must be > 0")
	}
	switch c.Quota.Backend {
	case "sqlite":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be sqlite or redis, got %q", c.Quota.Backend)
	}
	if c.Trip.MaxOutputTokens <= 0 || c.Trip.RatingMaxTokens <= 0 {
		return fmt.Errorf("MAX_OUTPUT_TOKENS and RATING_MAX_TOKENS must be > 0")
	}
	if c.Trip.PhaseTimeout < 0 {
		return fmt.Errorf("PHASE_TIMEOUT cannot be negative")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.Throttle.Requests <= 0 || c.Throttle.Window <= 0 {
		return fmt.Errorf("THROTTLE_REQUESTS and THROTTLE_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
