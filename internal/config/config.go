// Package config provides configuration for the assistant gateway.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	WSPort   int // External WebSocket port
	HTTPPort int // Internal HTTP port for admin and analytics routes
	RPCPort  int // JSON-RPC push endpoint, 0 disables it

	DatabaseURL string

	// Generator settings
	LLMBaseURL    string
	LLMAPIKey     string
	LLMModel      string
	LLMTimeout    time.Duration
	AssistantMode string // MOCK or LIVE

	// Auth settings
	IdentityURL    string
	StaticTokens   string // tok:user:role,...
	AllowAnonymous bool
	AdminAPIKey    string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Rate limiting and caching
	RateLimit  int
	RateWindow time.Duration
	CacheTTL   time.Duration

	// Circuit breaker
	BreakerThreshold   int
	BreakerCooldown    time.Duration
	BreakerMaxCooldown time.Duration

	// Sessions
	SessionRetention time.Duration
	CleanupInterval  time.Duration

	// Context assembly
	KnowledgeTopK int
	HistoryTurns  int

	// Human support contacts added to hand-off replies
	SupportEmail string
	SupportPhone string
	SupportHours string

	NotifierAddr string

	// Logging
	LogLevel  string
	LogPretty bool
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment wins.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		WSPort:             getEnvInt("WS_PORT", 8090),
		HTTPPort:           getEnvInt("HTTP_PORT", 8091),
		RPCPort:            getEnvInt("RPC_PORT", 0),
		DatabaseURL:        getEnv("DATABASE_URL", "assistant.db"),
		LLMBaseURL:         getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:          getEnv("LLM_API_KEY", ""),
		LLMModel:           getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:         getEnvDuration("LLM_TIMEOUT_MS", 30*time.Second),
		AssistantMode:      strings.ToUpper(getEnv("ASSISTANT_MODE", "MOCK")),
		IdentityURL:        getEnv("IDENTITY_URL", ""),
		StaticTokens:       getEnv("STATIC_TOKENS", ""),
		AllowAnonymous:     getEnvBool("ALLOW_ANONYMOUS", true),
		AdminAPIKey:        getEnv("ADMIN_API_KEY", ""),
		PingInterval:       getEnvDuration("WS_PING_INTERVAL_MS", 30*time.Second),
		WriteTimeout:       getEnvDuration("WS_WRITE_TIMEOUT_MS", 10*time.Second),
		ReadTimeout:        getEnvDuration("WS_READ_TIMEOUT_MS", 60*time.Second),
		MaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		RateLimit:          getEnvInt("RATE_LIMIT", 10),
		RateWindow:         getEnvDuration("RATE_WINDOW_MS", 60*time.Second),
		CacheTTL:           getEnvDuration("CACHE_TTL_MS", time.Hour),
		BreakerThreshold:   getEnvInt("BREAKER_THRESHOLD", 3),
		BreakerCooldown:    getEnvDuration("BREAKER_COOLDOWN_MS", 30*time.Second),
		BreakerMaxCooldown: getEnvDuration("BREAKER_MAX_COOLDOWN_MS", 5*time.Minute),
		SessionRetention:   getEnvDuration("SESSION_RETENTION_MS", 24*time.Hour),
		CleanupInterval:    getEnvDuration("CLEANUP_INTERVAL_MS", 10*time.Minute),
		KnowledgeTopK:      getEnvInt("KNOWLEDGE_TOP_K", 3),
		HistoryTurns:       getEnvInt("HISTORY_TURNS", 10),
		SupportEmail:       getEnv("SUPPORT_EMAIL", "suporte@exemplo.com.br"),
		SupportPhone:       getEnv("SUPPORT_PHONE", "0800 000 0000"),
		SupportHours:       getEnv("SUPPORT_HOURS", "seg-sex 8h-18h"),
		NotifierAddr:       getEnv("NOTIFIER_ADDR", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          getEnvBool("LOG_PRETTY", false),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
