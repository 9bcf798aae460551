package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT" validate:"required,numeric"`
	Env         string   `mapstructure:"ENV" validate:"oneof=development test production"`
	LogLevel    string   `mapstructure:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	DatabaseURL string   `mapstructure:"DATABASE_URL" validate:"required"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS" validate:"gte=1"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS" validate:"gte=0,ltefield=DBMaxConns"`
	DBSchema    string   `mapstructure:"DB_SCHEMA"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	DedupFuzzyThreshold      float64       `mapstructure:"DEDUP_FUZZY_THRESHOLD" validate:"gt=0,lte=1"`
	DedupBirthDateWindowDays int           `mapstructure:"DEDUP_BIRTHDATE_WINDOW_DAYS" validate:"gte=0"`
	DedupCacheTTL            time.Duration `mapstructure:"DEDUP_CACHE_TTL" validate:"gt=0"`
	MergeStepTimeout         time.Duration `mapstructure:"MERGE_STEP_TIMEOUT"`
}

var schemaName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUTH_ISSUER", "records")
	v.SetDefault("DEDUP_FUZZY_THRESHOLD", 0.8)
	v.SetDefault("DEDUP_BIRTHDATE_WINDOW_DAYS", 30)
	v.SetDefault("DEDUP_CACHE_TTL", "5m")
	v.SetDefault("MERGE_STEP_TIMEOUT", "10s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
		"REDIS_URL", "CORS_ORIGINS", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
		"DEDUP_FUZZY_THRESHOLD", "DEDUP_BIRTHDATE_WINDOW_DAYS", "DEDUP_CACHE_TTL", "MERGE_STEP_TIMEOUT",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// Warnings lists settings that are valid but unsafe outside a workstation.
func (c *Config) Warnings() []string {
	var out []string
	if c.IsDev() && c.AuthSigningKey == "" {
		out = append(out, "AUTH_SIGNING_KEY is unset: every API request runs as an admin dev user")
	}
	if c.RedisURL == "" {
		out = append(out, "REDIS_URL is unset: detection reports are cached per process")
	}
	for _, o := range c.CORSOrigins {
		if o == "*" && c.IsProduction() {
			out = append(out, "CORS_ORIGINS allows any origin in production")
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key of at least 32 bytes is required so JWT authentication is
// enforced.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !schemaName.MatchString(c.DBSchema) {
		return fmt.Errorf("DB_SCHEMA %q is not a valid schema name", c.DBSchema)
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.MergeStepTimeout < 0 {
		return fmt.Errorf("MERGE_STEP_TIMEOUT must not be negative")
	}
	return nil
}
