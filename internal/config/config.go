// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/iceberg/internal/llm"
	"github.com/ashureev/iceberg/internal/sanitize"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	LogLevel        slog.Level
	HistoryLimit    int
	Providers       []llm.ProviderDescriptor
	Engine          EngineConfig
	Crisis          CrisisConfig
	RateLimit       RateLimitConfig
	Retention       RetentionConfig
	ConversationLog ConversationLogConfig
}

// EngineConfig tunes the dialogue engine.
type EngineConfig struct {
	Seed   uint64
	Picker string // "random" or "round-robin"
}

// CrisisConfig selects the crisis lexicon. An empty Addr uses the built-in lexicon only.
type CrisisConfig struct {
	Addr    string
	Timeout time.Duration
}

// RateLimitConfig caps reflect requests per user.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// RetentionConfig controls idle session cleanup.
type RetentionConfig struct {
	Schedule   string
	SessionTTL time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	providers, err := LoadProviders()
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}

	seed, err := strconv.ParseUint(getEnv("ENGINE_SEED", "1"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ENGINE_SEED: %w", err)
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/iceberg.db"),
		LogLevel:     parseLevel(getEnv("LOG_LEVEL", "info")),
		HistoryLimit: getEnvInt("HISTORY_LIMIT", 40),
		Providers:    providers,
		Engine: EngineConfig{
			Seed:   seed,
			Picker: strings.ToLower(strings.TrimSpace(getEnv("ENGINE_PICKER", sanitize.PickerRandom))),
		},
		Crisis: CrisisConfig{
			Addr:    getEnv("CRISIS_ADDR", ""),
			Timeout: getEnvDuration("CRISIS_TIMEOUT", 2*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Retention: RetentionConfig{
			Schedule:   getEnv("RETENTION_SCHEDULE", "@every 10m"),
			SessionTTL: getEnvDuration("SESSION_TTL", 24*time.Hour),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
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
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.Engine.Picker != sanitize.PickerRandom && c.Engine.Picker != sanitize.PickerRoundRobin {
		return fmt.Errorf("ENGINE_PICKER must be %q or %q", sanitize.PickerRandom, sanitize.PickerRoundRobin)
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Retention.Schedule == "" {
		return fmt.Errorf("RETENTION_SCHEDULE cannot be empty")
	}
	if c.Retention.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	for i, p := range c.Providers {
		if p.Name == "" || p.Kind == "" || p.Model == "" {
			return fmt.Errorf("provider %d: name, kind and model are required", i)
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
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
