package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full server configuration, read from the environment with a
// .env file loaded first when present.
type Config struct {
	ListenAddr     string
	ManagerAPIURL  string
	ManagerAPIKey  string
	ChatHistoryDir string
	IdentityDB     string

	ModelsTimeout     time.Duration
	CompletionTimeout time.Duration
	ModelCacheTTL     time.Duration

	// SubmitRate is per-user submissions per second; SubmitBurst the burst.
	SubmitRate  float64
	SubmitBurst int
}

func Load() Config {
	// Best effort; a missing .env just means plain env vars.
	_ = godotenv.Load()

	return Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8100"),
		ManagerAPIURL:     getEnv("MANAGER_API_URL", "http://localhost:8000"),
		ManagerAPIKey:     os.Getenv("MANAGER_API_KEY"),
		ChatHistoryDir:    getEnv("CHAT_HISTORY_DIR", "chat_history"),
		IdentityDB:        getEnv("IDENTITY_DB", "chatfront.db"),
		ModelsTimeout:     getDuration("MODELS_TIMEOUT", 5*time.Second),
		CompletionTimeout: getDuration("COMPLETION_TIMEOUT", 60*time.Second),
		ModelCacheTTL:     getDuration("MODEL_CACHE_TTL", 3*time.Second),
		SubmitRate:        getFloat("SUBMIT_RATE", 1),
		SubmitBurst:       getInt("SUBMIT_BURST", 3),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
