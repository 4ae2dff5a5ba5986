package config

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	envelopeKeySize   = 32
	minSigningKeySize = 32

	FanoutLocal = "local"
	FanoutRedis = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"PayGate"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"json"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AutoMigrate    bool          `env:"AUTO_MIGRATE" envDefault:"true"`

	IdempotencyEnabled bool          `env:"IDEMPOTENCY_ENABLED" envDefault:"true"`
	IdempotencyTTL     time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	MetricsEnabled     bool          `env:"METRICS_ENABLED" envDefault:"true"`
	RealtimeFanout     string        `env:"REALTIME_FANOUT" envDefault:"local"`
	RateLimitPerMinute int           `env:"PAYMENT_RATE_LIMIT_PER_MINUTE" envDefault:"30"`

	EnvelopeKey         string        `env:"ENVELOPE_KEY"`
	SigningKey          string        `env:"SIGNING_KEY"`
	JWTSecret           string        `env:"JWT_SECRET"`
	JWTIssuer           string        `env:"JWT_ISSUER"`
	RealtimeTokenSecret string        `env:"REALTIME_TOKEN_SECRET"`
	RealtimeTokenTTL    time.Duration `env:"REALTIME_TOKEN_TTL" envDefault:"5m"`

	Currency        string        `env:"CURRENCY" envDefault:"USD"`
	DefaultProvider string        `env:"DEFAULT_PROVIDER" envDefault:"card"`
	LockTTL         time.Duration `env:"LOCK_TTL" envDefault:"5m"`
	PendingTTL      time.Duration `env:"PENDING_TTL" envDefault:"24h"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`
	ProviderRetries int           `env:"PROVIDER_RETRIES" envDefault:"3"`

	Card        CardConfig        `envPrefix:"CARD_"`
	MobileMoney MobileMoneyConfig `envPrefix:"MOMO_"`
	Sandbox     SandboxConfig     `envPrefix:"SANDBOX_"`

	// Ephemeral lists secrets generated at startup because they were absent
	// in a development environment.
	Ephemeral []string
}

// CardConfig configures the hosted-checkout card processor.
type CardConfig struct {
	Enabled       bool   `env:"PROVIDER_ENABLED"`
	BaseURL       string `env:"BASE_URL"`
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	SuccessURL    string `env:"SUCCESS_URL"`
	CancelURL     string `env:"CANCEL_URL"`
}

// MobileMoneyConfig configures the mobile-money collection rail.
type MobileMoneyConfig struct {
	Enabled       bool   `env:"PROVIDER_ENABLED"`
	BaseURL       string `env:"BASE_URL"`
	APIKey        string `env:"API_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

// SandboxConfig configures the in-process provider used for local testing.
type SandboxConfig struct {
	Enabled       bool   `env:"PROVIDER_ENABLED"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	AutoApprove   bool   `env:"AUTO_APPROVE"`
}

// Load reads configuration values from the environment (and an optional .env
// file) and validates them against the deployment posture.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.RealtimeFanout = strings.ToLower(cfg.RealtimeFanout)

	if err := cfg.fillSecrets(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs with the relaxed local posture.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// EnvelopeKeyBytes returns the decoded envelope encryption key.
func (c Config) EnvelopeKeyBytes() []byte { return DecodeSecret(c.EnvelopeKey) }

// SigningKeyBytes returns the decoded integrity signing key.
func (c Config) SigningKeyBytes() []byte { return DecodeSecret(c.SigningKey) }

func (c *Config) fillSecrets() error {
	secrets := []struct {
		name  string
		value *string
	}{
		{"ENVELOPE_KEY", &c.EnvelopeKey},
		{"SIGNING_KEY", &c.SigningKey},
		{"JWT_SECRET", &c.JWTSecret},
		{"REALTIME_TOKEN_SECRET", &c.RealtimeTokenSecret},
	}

	var missing []string
	for _, s := range secrets {
		if *s.value != "" {
			continue
		}
		if !c.IsDevelopment() {
			missing = append(missing, s.name)
			continue
		}
		generated, err := randomHex(envelopeKeySize)
		if err != nil {
			return fmt.Errorf("generate %s: %w", s.name, err)
		}
		*s.value = generated
		c.Ephemeral = append(c.Ephemeral, s.name)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s must be set when APP_ENV=%s", strings.Join(missing, ", "), c.AppEnv)
	}
	return nil
}

func (c Config) validate() error {
	var errs []error

	if !c.IsDevelopment() {
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv))
		}
		if c.RedisURL == "" {
			errs = append(errs, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv))
		}
		if c.Sandbox.Enabled {
			errs = append(errs, fmt.Errorf("SANDBOX_PROVIDER_ENABLED is not allowed when APP_ENV=%s", c.AppEnv))
		}
	}

	envKey := c.EnvelopeKeyBytes()
	if len(envKey) != envelopeKeySize {
		errs = append(errs, fmt.Errorf("ENVELOPE_KEY must decode to %d bytes, got %d", envelopeKeySize, len(envKey)))
	}
	signKey := c.SigningKeyBytes()
	if len(signKey) < minSigningKeySize {
		errs = append(errs, fmt.Errorf("SIGNING_KEY must decode to at least %d bytes", minSigningKeySize))
	}
	if bytes.Equal(envKey, signKey) {
		errs = append(errs, errors.New("ENVELOPE_KEY and SIGNING_KEY must differ"))
	}

	switch c.RealtimeFanout {
	case FanoutLocal:
	case FanoutRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REALTIME_FANOUT=redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("REALTIME_FANOUT must be %q or %q", FanoutLocal, FanoutRedis))
	}

	if !c.Card.Enabled && !c.MobileMoney.Enabled && !c.Sandbox.Enabled {
		errs = append(errs, errors.New("at least one payment provider must be enabled"))
	}
	if c.Card.Enabled {
		if c.Card.BaseURL == "" || c.Card.SecretKey == "" || c.Card.WebhookSecret == "" {
			errs = append(errs, errors.New("CARD_PROVIDER_ENABLED requires CARD_BASE_URL, CARD_SECRET_KEY and CARD_WEBHOOK_SECRET"))
		}
	}
	if c.MobileMoney.Enabled {
		if c.MobileMoney.BaseURL == "" || c.MobileMoney.APIKey == "" || c.MobileMoney.WebhookSecret == "" {
			errs = append(errs, errors.New("MOMO_PROVIDER_ENABLED requires MOMO_BASE_URL, MOMO_API_KEY and MOMO_WEBHOOK_SECRET"))
		}
	}
	if c.Sandbox.Enabled && c.Sandbox.WebhookSecret == "" {
		errs = append(errs, errors.New("SANDBOX_PROVIDER_ENABLED requires SANDBOX_WEBHOOK_SECRET"))
	}
	if !c.providerEnabled(c.DefaultProvider) {
		errs = append(errs, fmt.Errorf("DEFAULT_PROVIDER %q is not enabled", c.DefaultProvider))
	}

	if c.LockTTL <= 0 || c.PendingTTL <= 0 || c.SweepInterval <= 0 {
		errs = append(errs, errors.New("LOCK_TTL, PENDING_TTL and SWEEP_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

func (c Config) providerEnabled(name string) bool {
	switch name {
	case "card":
		return c.Card.Enabled
	case "momo":
		return c.MobileMoney.Enabled
	case "sandbox":
		return c.Sandbox.Enabled
	default:
		return false
	}
}

// DecodeSecret accepts hex, standard base64 or raw URL base64 encodings and
// falls back to the literal bytes.
func DecodeSecret(s string) []byte {
	if s == "" {
		return nil
	}
	if b, err := hex.DecodeString(s); err == nil {
		return b
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b
	}
	return []byte(s)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
