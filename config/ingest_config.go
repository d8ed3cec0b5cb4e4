package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Public base URL webhooks are registered under
	BaseURL string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Encryption (vault key for provider tokens)
	EmailEncryptionKey string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GooglePubSubTopic  string
	// Full subscription path, projects/{p}/subscriptions/{s}
	GooglePubSubSubscription string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string
	MicrosoftAuthority    string
	MicrosoftClientState  string
	GraphBaseURL          string

	// Pipeline
	MaxRetries      int
	BacklogPoolSize int
	DefaultCategory string

	// Admin alerting
	AdminEmailList []string
	AlertFromEmail string
	AWSAccessKey   string
	AWSSecretKey   string
	AWSRegion      string

	// Worker
	WorkerID        string
	WorkerCount     int
	WorkerQueueSize int

	// Subscription sweeper
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "mailassist"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Encryption
		EmailEncryptionKey: getEnv("EMAIL_ENCRYPTION_KEY", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.0),

		// OAuth - Google
		GoogleClientID:           getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:       getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:        getEnv("GOOGLE_REDIRECT_URL", ""),
		GooglePubSubTopic:        getEnv("GOOGLE_PUBSUB_TOPIC", ""),
		GooglePubSubSubscription: getEnv("GOOGLE_PUBSUB_SUBSCRIPTION", ""),

		// OAuth - Microsoft
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftRedirectURL:  getEnv("MICROSOFT_REDIRECT_URL", ""),
		MicrosoftAuthority:    getEnv("MICROSOFT_AUTHORITY", "https://login.microsoftonline.com/common"),
		MicrosoftClientState:  getEnv("MICROSOFT_CLIENT_STATE", ""),
		GraphBaseURL:          getEnv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),

		// Pipeline
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		BacklogPoolSize: getEnvInt("BACKLOG_POOL_SIZE", 10),
		DefaultCategory: getEnv("DEFAULT_CATEGORY", "Others"),

		// Admin alerting
		AdminEmailList: getEnvSlice("ADMIN_EMAIL_LIST", nil),
		AlertFromEmail: getEnv("ALERT_FROM_EMAIL", ""),
		AWSAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount:     getEnvInt("WORKER_COUNT", 8),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		SweepInterval: time.Duration(getEnvInt("SWEEP_INTERVAL_SEC", 300)) * time.Second,
	}

	if cfg.EmailEncryptionKey == "" {
		return nil, fmt.Errorf("EMAIL_ENCRYPTION_KEY must be set")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
