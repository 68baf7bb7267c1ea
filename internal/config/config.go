package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Idempotency modes.
const (
	IdempotencyModeClaim         = "claim"
	IdempotencyModeCheckThenSave = "check-then-save"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `envconfig:"APP_NAME" default:"CardLedger"`
	AppEnv         string        `envconfig:"APP_ENV" default:"development"`
	Port           string        `envconfig:"PORT" default:"8080"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseURL    string        `envconfig:"DATABASE_URL" required:"true"`
	RedisURL       string        `envconfig:"REDIS_URL" required:"true"`
	ShutdownPeriod time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	MigrateOnStart bool          `envconfig:"MIGRATE_ON_START" default:"true"`

	Idempotency IdempotencyConfig `envconfig:"IDEMPOTENCY"`
	JWT         JWTConfig         `envconfig:"JWT"`
	FX          FXConfig          `envconfig:"FX"`

	MaxCardsPerUser   int   `envconfig:"MAX_CARDS_PER_USER" default:"3"`
	MaxInitialBalance int64 `envconfig:"MAX_INITIAL_BALANCE" default:"10000"`

	TokenRateLimitPerMinute int  `envconfig:"TOKEN_RATE_LIMIT_PER_MINUTE" default:"5"`
	EnableTestTokens        bool `envconfig:"ENABLE_TEST_TOKENS" default:"false"`
}

type IdempotencyConfig struct {
	TTL           time.Duration `envconfig:"TTL" default:"24h"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"15m"`
	Mode          string        `envconfig:"MODE" default:"claim"`
}

type JWTConfig struct {
	Secret string        `envconfig:"SECRET" required:"true"`
	TTL    time.Duration `envconfig:"TTL" default:"24h"`
}

// FXConfig points at the central bank rate feed.
type FXConfig struct {
	BaseURL     string        `envconfig:"BASE_URL" default:"https://cbu.uz/ru/arkhiv-kursov-valyut/json"`
	TTL         time.Duration `envconfig:"TTL" default:"1h"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Default().Debug("no .env file loaded", "error", err)
	}
	return FromEnv()
}

// FromEnv populates a Config from the process environment only.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	switch cfg.Idempotency.Mode {
	case IdempotencyModeClaim, IdempotencyModeCheckThenSave:
	default:
		return Config{}, fmt.Errorf("invalid IDEMPOTENCY_MODE %q", cfg.Idempotency.Mode)
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}
	if cfg.Idempotency.TTL <= 0 {
		return Config{}, fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	if cfg.FX.TTL <= 0 {
		return Config{}, fmt.Errorf("FX_TTL must be positive")
	}
	if cfg.MaxCardsPerUser <= 0 {
		return Config{}, fmt.Errorf("MAX_CARDS_PER_USER must be positive")
	}
	if cfg.MaxInitialBalance <= 0 {
		return Config{}, fmt.Errorf("MAX_INITIAL_BALANCE must be positive")
	}
	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsProduction reports whether the service runs with production defaults.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}
