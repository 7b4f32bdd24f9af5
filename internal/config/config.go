package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"

	AnswerBackendHTTP   = "http"
	AnswerBackendGemini = "gemini"
)

type Config struct {
	HTTPPort  string
	LogLevel  string
	LogFormat string

	StoreDriver   string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	JWTSecret string
	TokenTTL  time.Duration

	AnswerBackend string
	AnswerAPIURL  string
	AnswerTimeout time.Duration
	GeminiAPIKey  string
	GeminiModel   string
	KnowledgeFile string

	GoogleClientID string
	StaticDir      string

	SessionIdleTTL   time.Duration
	AuthRateLimit    int
	MessageRateLimit int
}

// LoadConfig reads the environment (and an optional .env file) into a Config.
func LoadConfig() (*Config, error) {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		DatabaseURL:   getEnv("DATABASE_URL", "chatbot_uni.db"),
		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "chatbot_uni"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		TokenTTL:  getEnvAsDuration("TOKEN_TTL", 24*time.Hour),

		AnswerBackend: strings.ToLower(getEnv("ANSWER_BACKEND", AnswerBackendHTTP)),
		AnswerAPIURL:  strings.TrimRight(getEnv("ANSWER_API_URL", ""), "/"),
		AnswerTimeout: getEnvAsDuration("ANSWER_TIMEOUT", 30*time.Second),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),
		KnowledgeFile: getEnv("KNOWLEDGE_FILE", "data.md"),

		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		StaticDir:      getEnv("STATIC_DIR", ""),

		SessionIdleTTL:   getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
		AuthRateLimit:    getEnvAsInt("AUTH_RATE_LIMIT", 10),
		MessageRateLimit: getEnvAsInt("MESSAGE_RATE_LIMIT", 20),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	switch c.StoreDriver {
	case StoreSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the sqlite store")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.AnswerBackend {
	case AnswerBackendHTTP:
		if c.AnswerAPIURL == "" {
			return fmt.Errorf("ANSWER_API_URL environment variable is required")
		}
	case AnswerBackendGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	default:
		return fmt.Errorf("unknown ANSWER_BACKEND %q", c.AnswerBackend)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	return nil
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
