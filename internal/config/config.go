package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"recipebox"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"recipebox"`

	RedisURL string `envconfig:"REDIS_URL" default:"redis://redis:6379/0"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Inference
	InferenceProvider   string `envconfig:"INFERENCE_PROVIDER" default:"openai"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel         string `envconfig:"OPENAI_MODEL" default:"gpt-5-nano"`
	OpenAIWebhookSecret string `envconfig:"OPENAI_WEBHOOK_SECRET"`
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`
	GeminiModel         string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	// Resolution
	MaxRetryCount       int           `envconfig:"MAX_RETRY_COUNT" default:"2"`
	CorrelationTTL      time.Duration `envconfig:"CORRELATION_TTL" default:"24h"`
	RecipeTTL           time.Duration `envconfig:"RECIPE_TTL" default:"72h"`
	DispatchMaxAttempts uint16        `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"5"`
	DispatchConcurrency int           `envconfig:"DISPATCH_CONCURRENCY" default:"8"`

	// Notifications
	PushGatewayURL     string `envconfig:"PUSH_GATEWAY_URL" default:"http://push-gateway:8090"`
	PushGatewayAPIKey  string `envconfig:"PUSH_GATEWAY_API_KEY"`
	ReadyTitle         string `envconfig:"NOTIFICATION_READY_TITLE" default:"Recipe ready"`
	ReadyBody          string `envconfig:"NOTIFICATION_READY_BODY" default:"Your recipe has been processed."`
	FailedTitle        string `envconfig:"NOTIFICATION_FAILED_TITLE" default:"Recipe processing failed"`
	FailedBody         string `envconfig:"NOTIFICATION_FAILED_BODY" default:"We could not process your recipe, please try again."`
	OperatorChannel    string `envconfig:"OPERATOR_CHANNEL"`

	// Quota
	QuotaPerMinute int `envconfig:"QUOTA_PER_MINUTE" default:"30"`
	QuotaBurst     int `envconfig:"QUOTA_BURST" default:"10"`

	// Server
	ServerPort    int           `envconfig:"SERVER_PORT" default:"8081"`
	LogFormat     string        `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	PruneInterval time.Duration `envconfig:"PRUNE_INTERVAL" default:"15m"`
	MigrationPath string        `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may already be set in the shell, a missing .env is fine
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.InferenceProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
		}
		if c.OpenAIWebhookSecret == "" {
			return fmt.Errorf("%w: OPENAI_WEBHOOK_SECRET", ErrMissingRequired)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: INFERENCE_PROVIDER=%q", ErrInvalidValue, c.InferenceProvider)
	}

	if c.MaxRetryCount < 0 {
		return fmt.Errorf("%w: MAX_RETRY_COUNT must not be negative", ErrInvalidValue)
	}
	if c.DispatchMaxAttempts == 0 {
		return fmt.Errorf("%w: DISPATCH_MAX_ATTEMPTS must be positive", ErrInvalidValue)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
