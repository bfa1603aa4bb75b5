// Package config handles application configuration loading and validation
// from environment variables, providing a type-safe configuration structure.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all gateway configuration values loaded from environment variables.
// It is threaded explicitly through the components that need it; nothing reads
// the environment after startup.
type Config struct {
	// Server configuration
	ListenAddr     string        // Address to listen on (e.g., ":8080")
	RequestTimeout time.Duration // Timeout for upstream completion requests
	MaxBodyBytes   int64         // Hard cap on incoming request bodies in bytes

	// Environment
	APIEnv string // 'production', 'development', 'test'

	// Upstream completion API
	UpstreamBaseURL string // Base URL of the completion API
	UpstreamAPIKey  string // Operator credential for proxy-mode requests
	AppReferer      string // HTTP-Referer header sent upstream
	AppTitle        string // X-Title header sent upstream

	// Completion defaults and bounds
	DefaultModel       string  // Model used when the request omits one
	DefaultMaxTokens   int     // max_tokens applied when omitted
	DefaultTemperature float64 // temperature applied when omitted
	MaxPromptChars     int     // Aggregate prompt character budget
	SystemPrompt       string  // Operator-held system prompt, always position 0

	// Verification provider
	VerifySecretKey string // Provider secret used for proof verification
	VerifySiteKey   string // Provider site key rendered on the challenge pages
	VerifyURL       string // Provider siteverify endpoint

	// Session tokens
	TokenSigningSecret string        // HMAC secret for session token signatures
	TokenLifetime      time.Duration // Session token lifetime (7 days)

	// Origin gating
	AllowedOrigins      []string // Exact-match origin allow-list
	AllowedHostSuffixes []string // Host suffixes exposed via /api/config

	// Rate limiting
	DailyRateLimit     int           // Per-identity consume budget per UTC day
	MinRequestInterval time.Duration // Minimum spacing between requests, advisory
	BypassSubjects     []string      // Subjects forced into peek-only checks
	BlockedSubjects    []string      // Subjects denied outright by the verifier
	RateLimitBackend   string        // "database" or "redis"

	// Redis (rate limit and usage backends)
	RedisAddr string
	RedisDB   int

	// Event bus
	EventBusBufferSize int

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json or console
	LogFile   string // Path to log file (empty for stdout)
}

// New creates a new configuration with values from environment variables.
// It applies defaults where variables are unset and validates numeric
// settings. Secrets are not required here: routes that depend on a missing
// secret fail per-request with SERVER_MISCONFIGURED instead of preventing
// startup, so the public routes stay serviceable.
func New() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnvString("LISTEN_ADDR", ":8080"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		MaxBodyBytes:   getEnvInt64("MAX_BODY_BYTES", 48*1024),

		APIEnv: getEnvString("API_ENV", "development"),

		UpstreamBaseURL: getEnvString("UPSTREAM_BASE_URL", "https://openrouter.ai"),
		UpstreamAPIKey:  getEnvString("UPSTREAM_API_KEY", ""),
		AppReferer:      getEnvString("APP_HTTP_REFERER", ""),
		AppTitle:        getEnvString("APP_TITLE", "Enhance Prompt"),

		DefaultModel:       getEnvString("DEFAULT_MODEL", "google/gemini-2.0-flash-exp:free"),
		DefaultMaxTokens:   getEnvInt("DEFAULT_MAX_TOKENS", 500),
		DefaultTemperature: getEnvFloat64("DEFAULT_TEMPERATURE", 0.7),
		MaxPromptChars:     getEnvInt("MAX_PROMPT_CHARS", 4000),
		SystemPrompt:       getEnvString("SYSTEM_PROMPT", defaultSystemPrompt),

		VerifySecretKey: getEnvString("VERIFY_SECRET_KEY", ""),
		VerifySiteKey:   getEnvString("VERIFY_SITE_KEY", ""),
		VerifyURL:       getEnvString("VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),

		TokenSigningSecret: getEnvString("TOKEN_SIGNING_SECRET", ""),
		TokenLifetime:      getEnvDuration("TOKEN_LIFETIME", 7*24*time.Hour),

		AllowedOrigins:      getEnvStringSlice("ALLOWED_ORIGINS", nil),
		AllowedHostSuffixes: getEnvStringSlice("ALLOWED_HOST_SUFFIXES", nil),

		DailyRateLimit:     getEnvInt("RATE_LIMIT_PER_DAY", 100),
		MinRequestInterval: getEnvDuration("MIN_REQUEST_INTERVAL", 0),
		BypassSubjects:     getEnvStringSlice("RATE_LIMIT_BYPASS_SUBJECTS", nil),
		BlockedSubjects:    getEnvStringSlice("BLOCKED_SUBJECTS", nil),
		RateLimitBackend:   getEnvString("RATE_LIMIT_BACKEND", "database"),

		RedisAddr: getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		EventBusBufferSize: getEnvInt("EVENT_BUS_BUFFER_SIZE", 1000),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "json"),
		LogFile:   getEnvString("LOG_FILE", ""),
	}

	if cfg.DailyRateLimit <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_DAY must be positive, got %d", cfg.DailyRateLimit)
	}
	if cfg.MaxPromptChars <= 0 {
		return nil, fmt.Errorf("MAX_PROMPT_CHARS must be positive, got %d", cfg.MaxPromptChars)
	}
	if cfg.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", cfg.MaxBodyBytes)
	}
	switch cfg.RateLimitBackend {
	case "database", "redis":
	default:
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be 'database' or 'redis', got %q", cfg.RateLimitBackend)
	}

	return cfg, nil
}

// defaultSystemPrompt is used when SYSTEM_PROMPT is not configured. The real
// operator prompt is deployment-specific; this fallback keeps the injection
// invariant intact in development.
const defaultSystemPrompt = "You are a prompt-enhancement assistant. Rewrite the user's prompt to be clearer and more effective. Return only the rewritten prompt."

// IsBypassSubject reports whether the subject is on the peek-only bypass list.
func (c *Config) IsBypassSubject(subject string) bool {
	for _, s := range c.BypassSubjects {
		if s == subject {
			return true
		}
	}
	return false
}

// IsBlockedSubject reports whether the subject is on the denylist.
func (c *Config) IsBlockedSubject(subject string) bool {
	for _, s := range c.BlockedSubjects {
		if s == subject {
			return true
		}
	}
	return false
}

// getEnvString retrieves a string value from an environment variable,
// falling back to the provided default value if the variable is not set.
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as an integer.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.Atoi(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves a 64-bit integer value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvFloat64 retrieves a float value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed.
func getEnvFloat64(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration value from an environment variable,
// falling back to the provided default value if the variable is not set
// or cannot be parsed as a duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		parsedValue, err := time.ParseDuration(value)
		if err == nil {
			return parsedValue
		}
	}
	return defaultValue
}

// getEnvStringSlice retrieves a comma-separated string value from an
// environment variable and splits it into a slice, falling back to the
// provided default value if the variable is not set or is empty.
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
