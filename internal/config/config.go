// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultUpstreamBaseURL is the upstream analysis API prefix.
const DefaultUpstreamBaseURL = "https://www.omahaaigc.com/api"

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	CORSAllowedOrigins []string
	DBPath             string
	SessionTTL         time.Duration
	SweepSchedule      string // cron schedule for the idle session sweeper
	Upstream           UpstreamConfig
	Search             SearchConfig
	Poll               PollConfig
	Markdown           MarkdownConfig
	RateLimit          RateLimitConfig
	SSE                SSEConfig
	Timeout            TimeoutConfig
	Retry              RetryConfig
	ConversationLog    ConversationLogConfig
}

// UpstreamConfig points the proxy at the analysis service.
type UpstreamConfig struct {
	BaseURL         string
	Timeout         time.Duration
	UploadTimeout   time.Duration
	UploadMaxMemory int64
}

// SearchConfig tunes the stock search client.
type SearchConfig struct {
	Debounce time.Duration
	CacheTTL time.Duration
}

// PollConfig bounds the result poll loop.
type PollConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// MarkdownConfig controls rendering of AI replies.
type MarkdownConfig struct {
	Sanitize         bool
	CodeStyle        string
	TypingSimulation bool
}

// RateLimitConfig throttles message submission per chat session.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the session event stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
	ReplayBufferSize   int
}

// TimeoutConfig holds miscellaneous operation timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	StoreWrite  time.Duration
}

// RetryConfig holds database retry tuning.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	baseURL := getEnv("UPSTREAM_BASE_URL", getEnv("API_PREFIX", DefaultUpstreamBaseURL))

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		DBPath:             getEnv("DB_PATH", ":memory:"),
		SessionTTL:         getEnvDuration("SESSION_TTL", 60*time.Minute),
		SweepSchedule:      getEnv("SESSION_SWEEP_SCHEDULE", "@every 5m"),
		Upstream: UpstreamConfig{
			BaseURL:         strings.TrimRight(baseURL, "/"),
			Timeout:         getEnvDuration("UPSTREAM_TIMEOUT", 60*time.Second),
			UploadTimeout:   getEnvDuration("UPLOAD_TIMEOUT", 30*time.Second),
			UploadMaxMemory: int64(getEnvInt("UPLOAD_MAX_MEMORY", 32<<20)),
		},
		Search: SearchConfig{
			Debounce: getEnvDuration("SEARCH_DEBOUNCE", 300*time.Millisecond),
			CacheTTL: getEnvDuration("SEARCH_CACHE_TTL", 30*time.Second),
		},
		Poll: PollConfig{
			MaxAttempts:     getEnvInt("RESULT_POLL_MAX_ATTEMPTS", 10),
			InitialInterval: getEnvDuration("RESULT_POLL_INITIAL_INTERVAL", 500*time.Millisecond),
			MaxInterval:     getEnvDuration("RESULT_POLL_MAX_INTERVAL", 5*time.Second),
		},
		Markdown: MarkdownConfig{
			Sanitize:         getEnvBool("MARKDOWN_SANITIZE", true),
			CodeStyle:        getEnv("MARKDOWN_CODE_STYLE", "github"),
			TypingSimulation: getEnvBool("TYPING_SIMULATION", false),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
			ReplayBufferSize:   getEnvInt("SSE_REPLAY_BUFFER_SIZE", 100),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			StoreWrite:  getEnvDuration("STORE_WRITE_TIMEOUT", 5*time.Second),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("DATABASE_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("DATABASE_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
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
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL cannot be empty")
	}
	if c.Upstream.UploadTimeout <= 0 {
		return fmt.Errorf("UPLOAD_TIMEOUT must be > 0")
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("RESULT_POLL_MAX_ATTEMPTS must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.SweepSchedule == "" {
		return fmt.Errorf("SESSION_SWEEP_SCHEDULE cannot be empty")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
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

// getEnvDuration accepts Go duration strings ("300ms") or bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
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
	if len(out) == 0 {
		return fallback
	}
	return out
}
