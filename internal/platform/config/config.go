package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rotisserie/eris"
)

// Config holds runtime configuration values for the Legjenda server.
type Config struct {
	DBDriver      string        `envconfig:"DB_DRIVER" default:"sqlite"`
	DBPath        string        `envconfig:"DB_PATH" default:"./data/legjenda.db"`
	DBDSN         string        `envconfig:"DB_DSN"`
	ServerPort    int           `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFile       string        `envconfig:"LOG_FILE"`
	SentryDSN     string        `envconfig:"SENTRY_DSN"`
	Environment   string        `envconfig:"ENV" default:"development"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`

	JWTSecret            string        `envconfig:"JWT_SECRET"`
	SessionTTL           time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SessionPurgeSchedule string        `envconfig:"SESSION_PURGE_SCHEDULE" default:"@hourly"`
	AdminEmails          []string      `envconfig:"ADMIN_EMAILS"`

	KickboxAPIKey  string `envconfig:"KICKBOX_API_KEY"`
	KickboxBaseURL string `envconfig:"KICKBOX_BASE_URL" default:"https://api.kickbox.com"`

	S3Endpoint      string `envconfig:"S3_ENDPOINT"`
	S3Region        string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket        string `envconfig:"S3_BUCKET"`
	S3AccessKey     string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey     string `envconfig:"S3_SECRET_KEY"`
	S3PublicBaseURL string `envconfig:"S3_PUBLIC_BASE_URL"`

	LLMEndpoint string `envconfig:"LLM_ENDPOINT"`
	LLMAPIKey   string `envconfig:"LLM_API_KEY"`
	LLMModel    string `envconfig:"LLM_MODEL" default:"openai/gpt-4o-mini"`

	RateLimit RateLimitSettings `ignored:"true"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
}

// RateLimitSettings configures the per-client HTTP rate limiter.
type RateLimitSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type rateLimitEnv struct {
	RequestsPerSecond float64       `envconfig:"RATE_LIMIT_RPS" default:"5"`
	Burst             int           `envconfig:"RATE_LIMIT_BURST" default:"20"`
	ClientTTL         time.Duration `envconfig:"RATE_LIMIT_TTL" default:"10m"`
}

// StorageEnabled reports whether enough settings are present to talk to a bucket.
func (c *Config) StorageEnabled() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// Load reads configuration values from environment variables, applying defaults where necessary.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, eris.Wrap(err, "processing environment")
	}

	var limits rateLimitEnv
	if err := envconfig.Process("", &limits); err != nil {
		return nil, eris.Wrap(err, "processing rate limit environment")
	}
	cfg.RateLimit = RateLimitSettings(limits)

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch cfg.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return nil, eris.New("DB_DSN is required when DB_DRIVER is postgres")
		}
	default:
		return nil, eris.Errorf("invalid DB_DRIVER value: %s", cfg.DBDriver)
	}

	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, eris.Errorf("invalid SERVER_PORT value: %d", cfg.ServerPort)
	}

	if cfg.RateLimit.Burst <= 0 || cfg.RateLimit.RequestsPerSecond <= 0 || cfg.RateLimit.ClientTTL <= 0 {
		return nil, eris.New("rate limit settings must be greater than zero")
	}

	cfg.AdminEmails = normaliseList(cfg.AdminEmails, true)
	cfg.CORSOrigins = normaliseList(cfg.CORSOrigins, false)

	return &cfg, nil
}

func normaliseList(values []string, lower bool) []string {
	if len(values) == 0 {
		return nil
	}

	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if lower {
			trimmed = strings.ToLower(trimmed)
		}
		out = append(out, trimmed)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}
