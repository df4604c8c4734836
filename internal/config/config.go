package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DBDSN     string
	JWTSecret string
	// TrustClientSession keeps a client-supplied federated session when the
	// request also carries a valid token.
	TrustClientSession bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ChatContextWindowSize int

	// AI provider backends, bound to routing slots
	TechnicalBackend  string
	ConsultingBackend string
	OpenAIBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string
	AnthropicBaseURL  string
	AnthropicAPIKey   string
	AnthropicModel    string
	OllamaBaseURL     string
	OllamaModel       string
	MaxTokens         int
	Temperature       float64
	LLMTimeout        time.Duration

	// knowledge base embeddings
	EmbeddingProvider string
	EmbeddingModel    string
	EmbedTimeout      time.Duration

	// CiviCRM
	CRMBaseURL  string
	CRMAPIKey   string
	CRMSiteKey  string
	CRMTimeout  time.Duration
	IdentityTTL time.Duration

	PromptMaxChars int

	LogLevel string
	LogFile  string

	// rabbitMQ
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int
	WorkerMaxAttempts int
}

// Load reads the environment, after loading .env when one exists.
func Load() Config {
	_ = godotenv.Load()

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/mas_assistant?charset=utf8mb4&parseTime=true&loc=Local
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			"app", "apppass", "127.0.0.1", "3306", "mas_assistant",
		)
	}

	return Config{
		Port:               getEnv("PORT", "8080"),
		DBDSN:              dsn,
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret-change-me"),
		TrustClientSession: getEnvBool("TRUST_CLIENT_SESSION", false),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ChatContextWindowSize: getEnvInt("CHAT_CONTEXT_WINDOW_SIZE", 20),

		TechnicalBackend:  strings.ToLower(getEnv("TECHNICAL_BACKEND", "openai")),
		ConsultingBackend: strings.ToLower(getEnv("CONSULTING_BACKEND", "anthropic")),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o"),
		AnthropicBaseURL:  getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getEnv("OLLAMA_MODEL", "llama3:latest"),
		MaxTokens:         getEnvInt("MAX_TOKENS", 2000),
		Temperature:       getEnvFloat("TEMPERATURE", 0.7),
		LLMTimeout:        getEnvDuration("LLM_TIMEOUT", 60*time.Second),

		EmbeddingProvider: strings.ToLower(getEnv("EMBEDDING_PROVIDER", "openai")),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbedTimeout:      getEnvDuration("EMBED_TIMEOUT", 10*time.Second),

		CRMBaseURL:  os.Getenv("CIVICRM_URL"),
		CRMAPIKey:   os.Getenv("CIVICRM_API_KEY"),
		CRMSiteKey:  os.Getenv("CIVICRM_SITE_KEY"),
		CRMTimeout:  getEnvDuration("CRM_TIMEOUT", 8*time.Second),
		IdentityTTL: getEnvDuration("CRM_IDENTITY_TTL", time.Hour),

		PromptMaxChars: getEnvInt("PROMPT_MAX_CHARS", 24000),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       getEnv("RABBIT_QUEUE", "analytics_events"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerMaxAttempts: getEnvInt("WORKER_MAX_ATTEMPTS", 5),
	}
}

// CRMEnabled reports whether CiviCRM credentials are configured.
func (c Config) CRMEnabled() bool {
	return c.CRMBaseURL != "" && c.CRMAPIKey != "" && c.CRMSiteKey != ""
}

// Level parses LOG_LEVEL, defaulting to info.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return f
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return b
	}
	return def
}

// getEnvDuration accepts Go durations ("8s") or plain milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
