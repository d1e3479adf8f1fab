package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings for the service. Every tunable the
// handlers and services consume lives here so nothing reads the
// environment after startup.
type Config struct {
	HTTPPort    string
	DatabaseURL string
	LogLevel    string
	JWTSecret   string

	// Completion client settings. Temperature, TopP and MaxOutputTokens
	// are fixed per deployment, not per request.
	GeminiAPIKey      string
	ChatModel         string
	Temperature       float64
	TopP              float64
	MaxOutputTokens   int
	CompletionTimeout time.Duration

	// Quota ceilings by identity kind.
	AnonymousLimit     int
	AuthenticatedLimit int

	// Message read path.
	RecentMessageLimit int
	PollInterval       time.Duration
}

// Load reads configuration from the environment, with a .env file as an
// optional convenience for local development.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "chat4u.db"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		ChatModel:         getEnv("CHAT_MODEL", "gemini-1.5-flash-latest"),
		Temperature:       getEnvAsFloat("CHAT_TEMPERATURE", 0),
		TopP:              getEnvAsFloat("CHAT_TOP_P", 1),
		MaxOutputTokens:   getEnvAsInt("CHAT_MAX_OUTPUT_TOKENS", 300),
		CompletionTimeout: getEnvAsDuration("COMPLETION_TIMEOUT", 30*time.Second),

		AnonymousLimit:     getEnvAsInt("ANONYMOUS_PROMPT_LIMIT", 5),
		AuthenticatedLimit: getEnvAsInt("AUTHENTICATED_PROMPT_LIMIT", 10),

		RecentMessageLimit: getEnvAsInt("RECENT_MESSAGE_LIMIT", 100),
		PollInterval:       getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if cfg.AnonymousLimit <= 0 || cfg.AuthenticatedLimit <= 0 {
		return nil, fmt.Errorf("prompt limits must be positive (anonymous=%d authenticated=%d)",
			cfg.AnonymousLimit, cfg.AuthenticatedLimit)
	}

	return cfg, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
