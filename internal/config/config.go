package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	Store       string   `mapstructure:"STORE"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	RedisPool   int      `mapstructure:"REDIS_POOL_SIZE"`
	JWTKey      string   `mapstructure:"JWT_SIGNING_KEY"`
	AuthIssuer  string   `mapstructure:"AUTH_ISSUER"`
	AuthAud     string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	VisitNumberTZ    string        `mapstructure:"VISIT_NUMBER_TIMEZONE"`
	VisitNumberWidth int           `mapstructure:"VISIT_NUMBER_WIDTH"`
	ToggleMaxRetries int           `mapstructure:"TOGGLE_MAX_RETRIES"`
	NotifyQueueSize  int           `mapstructure:"NOTIFY_QUEUE_SIZE"`
	NotifyWorkers    int           `mapstructure:"NOTIFY_WORKERS"`
	MigrationsDir    string        `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "REDIS_POOL_SIZE", "JWT_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "REQUEST_TIMEOUT", "VISIT_NUMBER_TIMEZONE", "VISIT_NUMBER_WIDTH",
	"TOGGLE_MAX_RETRIES", "NOTIFY_QUEUE_SIZE", "NOTIFY_WORKERS", "MIGRATIONS_DIR",
}

// Load reads the environment and an optional .env file. It does not
// validate; call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("VISIT_NUMBER_TIMEZONE", "UTC")
	v.SetDefault("VISIT_NUMBER_WIDTH", 4)
	v.SetDefault("TOGGLE_MAX_RETRIES", 5)
	v.SetDefault("NOTIFY_QUEUE_SIZE", 1024)
	v.SetDefault("NOTIFY_WORKERS", 4)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves VISIT_NUMBER_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	if c.VisitNumberTZ == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.VisitNumberTZ)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
		}
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE=%s is not allowed in production", StoreMemory)
		}
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	if !c.IsDev() && c.JWTKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required outside development (ENV=%q)", c.Env)
	}
	if c.JWTKey != "" && len(c.JWTKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes, got %d", len(c.JWTKey))
	}

	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid pool bounds DB_MIN_CONNS=%d DB_MAX_CONNS=%d", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("VISIT_NUMBER_TIMEZONE: %w", err)
	}
	if c.VisitNumberWidth < 1 || c.VisitNumberWidth > 9 {
		return fmt.Errorf("VISIT_NUMBER_WIDTH must be between 1 and 9, got %d", c.VisitNumberWidth)
	}
	if c.ToggleMaxRetries < 1 {
		return fmt.Errorf("TOGGLE_MAX_RETRIES must be positive, got %d", c.ToggleMaxRetries)
	}
	if c.NotifyQueueSize < 1 || c.NotifyWorkers < 1 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE and NOTIFY_WORKERS must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	return nil
}
