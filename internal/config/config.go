package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the call-copilot service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// STT provider configuration. "mock" runs a scripted transcriber for
	// local development without credentials.
	STTProvider      string `envconfig:"STT_PROVIDER" default:"deepgram"` // deepgram, mock
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// LLM provider for intent detection and disposition generation.
	// Selected once at startup; never branched per call.
	LLMProvider  string `envconfig:"LLM_PROVIDER" default:"gemini"` // gemini, openai
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// Case-management frontend API
	FrontendAPIURL string `envconfig:"FRONTEND_API_URL" default:"http://localhost:3000"`
	RequestTimeout int    `envconfig:"REQUEST_TIMEOUT" default:"10"` // seconds, outbound HTTP

	// Knowledge-base search
	KBMaxResults int `envconfig:"KB_MAX_RESULTS" default:"10"`

	// Default tenant when the carrier omits an account identifier
	DefaultTenant string `envconfig:"DEFAULT_TENANT" default:"default"`

	// Optional Kafka mirror of transcript events
	KafkaBrokers      []string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopicPartial string   `envconfig:"KAFKA_TOPIC_PARTIAL" default:"call.transcripts.partial"`
	KafkaTopicFinal   string   `envconfig:"KAFKA_TOPIC_FINAL" default:"call.transcripts.final"`

	// Resilience configuration
	CircuitBreakerFailureThreshold int `envconfig:"CIRCUIT_BREAKER_FAILURE_THRESHOLD" default:"5"`
	CircuitBreakerRecoveryTimeout  int `envconfig:"CIRCUIT_BREAKER_RECOVERY_TIMEOUT" default:"30"` // seconds
	RetryMaxRetries                int `envconfig:"RETRY_MAX_RETRIES" default:"3"`
	RetryInitialDelay              int `envconfig:"RETRY_INITIAL_DELAY" default:"1000"` // milliseconds
	RetryMaxDelay                  int `envconfig:"RETRY_MAX_DELAY" default:"60000"`    // milliseconds
	ReconnectMaxAttempts           int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff               int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds

	// Audio ingestion
	AudioQueueSize int `envconfig:"AUDIO_QUEUE_SIZE" default:"100"` // frames buffered per session

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks provider-specific required credentials. A failure here is
// process-fatal: the server must not accept connections with a provider it
// cannot authenticate against.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.STTProvider) {
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			errs = append(errs, "DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	case "mock":
		// No credentials needed.
	default:
		errs = append(errs, fmt.Sprintf("unsupported STT provider: %s", c.STTProvider))
	}

	switch strings.ToLower(c.LLMProvider) {
	case "gemini", "google":
		if c.GeminiAPIKey == "" {
			errs = append(errs, "GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, "OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported LLM provider: %s", c.LLMProvider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// KafkaEnabled reports whether transcript events should be mirrored to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaBrokers[0] != ""
}
