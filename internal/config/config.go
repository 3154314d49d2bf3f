package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey string
	DatabaseURL  string
	HTTPPort     string
	LogLevel     string

	// AuthJWTSecret is optional; when empty the assistant endpoint is open.
	AuthJWTSecret string

	// Google Custom Search credentials. When either is empty the web search
	// tool is not registered with the completion loop.
	SearchAPIKey   string
	SearchEngineCX string

	MaxToolRounds int

	ModerationTimeout time.Duration
	ExtractTimeout    time.Duration
	ClassifyTimeout   time.Duration
	RoundTimeout      time.Duration
	ToolTimeout       time.Duration
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:    getEnv("DATABASE_URL", "ingredient_index.db"),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		AuthJWTSecret:  getEnv("AUTH_JWT_SECRET", ""),
		SearchAPIKey:   getEnv("SEARCH_API_KEY", ""),
		SearchEngineCX: getEnv("SEARCH_ENGINE_CX", ""),

		MaxToolRounds: getEnvAsInt("MAX_TOOL_ROUNDS", 5),

		ModerationTimeout: getEnvAsDuration("MODERATION_TIMEOUT", 10*time.Second),
		ExtractTimeout:    getEnvAsDuration("EXTRACT_TIMEOUT", 60*time.Second),
		ClassifyTimeout:   getEnvAsDuration("CLASSIFY_TIMEOUT", 60*time.Second),
		RoundTimeout:      getEnvAsDuration("ROUND_TIMEOUT", 90*time.Second),
		ToolTimeout:       getEnvAsDuration("TOOL_TIMEOUT", 10*time.Second),
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is required")
	}
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
