package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Mail delivery modes.
const (
	MailModeLog   = "log"
	MailModeQueue = "queue"
)

// Config holds runtime configuration for the services.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	GRPCAddr          string        `envconfig:"GRPC_ADDR" default:":9090"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AllowedOrigins    []string      `envconfig:"APP_ALLOWED_ORIGINS" default:"*"`
	Version           string        `envconfig:"APP_VERSION" default:"dev"`
	Commit            string        `envconfig:"APP_COMMIT" default:"unknown"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	TokenSecret       string        `envconfig:"AUTH_TOKEN_SECRET" required:"true"`
	Issuer            string        `envconfig:"AUTH_ISSUER" default:"gatekeep"`
	AccessTTL         time.Duration `envconfig:"AUTH_ACCESS_TTL" default:"1h"`
	RefreshTTL        time.Duration `envconfig:"AUTH_REFRESH_TTL" default:"336h"`
	OTPTTL            time.Duration `envconfig:"AUTH_OTP_TTL" default:"30m"`
	OTPDigits         int           `envconfig:"AUTH_OTP_DIGITS" default:"6"`
	DefaultRole       string        `envconfig:"AUTH_DEFAULT_ROLE" default:"user"`
	RolePrecedence    []string      `envconfig:"AUTH_ROLE_PRECEDENCE" default:"admin,developer,moderator,user"`
	RequireActive     bool          `envconfig:"AUTH_REQUIRE_ACTIVE_LOGIN" default:"false"`
	PasswordAlgorithm string        `envconfig:"AUTH_PASSWORD_ALGORITHM" default:"bcrypt"`
	BcryptCost        int           `envconfig:"AUTH_BCRYPT_COST" default:"0"`

	OTPRateLimit  int           `envconfig:"OTP_RATE_LIMIT" default:"5"`
	OTPRateWindow time.Duration `envconfig:"OTP_RATE_WINDOW" default:"15m"`

	HTTPRateLimitRPS   float64 `envconfig:"HTTP_RATE_LIMIT_RPS" default:"20"`
	HTTPRateLimitBurst int     `envconfig:"HTTP_RATE_LIMIT_BURST" default:"40"`
	MaxBodyBytes       int64   `envconfig:"HTTP_MAX_BODY_BYTES" default:"1048576"`

	MailMode string `envconfig:"MAIL_MODE" default:"log"`
	SMTPHost string `envconfig:"SMTP_HOST"`
	SMTPPort int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPFrom string `envconfig:"SMTP_FROM" default:"no-reply@gatekeep.local"`

	AdminEmail    string `envconfig:"ADMIN_EMAIL"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TokenSecret) == "" {
		return errors.New("token secret must be provided")
	}
	switch c.MailMode {
	case MailModeLog:
	case MailModeQueue:
		if c.RedisAddr == "" {
			return errors.New("MAIL_MODE=queue requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown MAIL_MODE %q", c.MailMode)
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	if c.OTPRateLimit < 0 || c.HTTPRateLimitBurst < 0 {
		return errors.New("rate limits must not be negative")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// WorkerConfig holds the settings of the mail worker.
type WorkerConfig struct {
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr   string `envconfig:"REDIS_ADDR" required:"true"`
	Concurrency int    `envconfig:"WORKER_CONCURRENCY" default:"5"`

	SMTPHost string `envconfig:"SMTP_HOST"`
	SMTPPort int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPFrom string `envconfig:"SMTP_FROM" default:"no-reply@gatekeep.local"`
}

// LoadWorker reads the worker configuration from environment variables.
func LoadWorker() (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, errors.New("REDIS_ADDR must be provided")
	}
	if cfg.Concurrency <= 0 {
		return nil, errors.New("WORKER_CONCURRENCY must be positive")
	}
	return &cfg, nil
}
