package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Queue selection: "sqs", "rabbit" or "memory".
	QueueDriver        string
	ManagerQueueURL    string
	ClientQueueURL     string
	RabbitURL          string
	RabbitManagerQueue string
	RabbitClientQueue  string
	WorkerCount        int
	ReceiveWaitSeconds int
	ReceiveBatchSize   int
	QueueMaxAttempts   int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	OpenAIAPIKey      string
	OpenAIModel       string
	ExtractionTimeout time.Duration

	// Routing allow-lists. ManagerChatIDs is required for the manager lane;
	// an empty ClientChatIDs list means every non-manager chat is eligible.
	ManagerChatIDs []string
	ClientChatIDs  []string

	// Conversation limits.
	FieldRetryCeiling   int
	ConversationIdleTTL time.Duration
	HistoryLimit        int

	// Channel providers for outbound replies.
	TelegramBotToken string
	GreenAPIBaseURL  string
	GreenAPIInstance string
	GreenAPIToken    string

	BusinessName string

	// Origins allowed to call the read surface from a browser.
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		QueueDriver:        strings.ToLower(strings.TrimSpace(getEnv("QUEUE_DRIVER", "sqs"))),
		ManagerQueueURL:    getEnv("MANAGER_QUEUE_URL", ""),
		ClientQueueURL:     getEnv("CLIENT_QUEUE_URL", ""),
		RabbitURL:          getEnv("RABBIT_URL", ""),
		RabbitManagerQueue: getEnv("RABBIT_MANAGER_QUEUE", "orders.manager"),
		RabbitClientQueue:  getEnv("RABBIT_CLIENT_QUEUE", "orders.client"),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),
		ReceiveWaitSeconds: getEnvAsInt("RECEIVE_WAIT_SECONDS", 2),
		ReceiveBatchSize:   getEnvAsInt("RECEIVE_BATCH_SIZE", 5),
		QueueMaxAttempts:   getEnvAsInt("QUEUE_MAX_ATTEMPTS", 5),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", ""),
		ExtractionTimeout: getEnvAsDuration("EXTRACTION_TIMEOUT", 20*time.Second),

		ManagerChatIDs: getEnvAsList("MANAGER_CHAT_IDS"),
		ClientChatIDs:  getEnvAsList("CLIENT_CHAT_IDS"),

		FieldRetryCeiling:   getEnvAsInt("FIELD_RETRY_CEILING", 3),
		ConversationIdleTTL: getEnvAsDuration("CONVERSATION_IDLE_TIMEOUT", 24*time.Hour),
		HistoryLimit:        getEnvAsInt("CONVERSATION_HISTORY_LIMIT", 20),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		GreenAPIBaseURL:  getEnv("GREENAPI_BASE_URL", "https://api.green-api.com"),
		GreenAPIInstance: getEnv("GREENAPI_INSTANCE_ID", ""),
		GreenAPIToken:    getEnv("GREENAPI_API_TOKEN", ""),

		BusinessName: getEnv("BUSINESS_NAME", "Napoleon-Tseh"),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable, dropping empty entries.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
