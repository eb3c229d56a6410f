// Package config loads service settings from .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT" validate:"required,numeric"`
	Env         string `mapstructure:"ENV" validate:"oneof=development test production"`
	LogLevel    string `mapstructure:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"omitempty,url"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS" validate:"gte=1"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS" validate:"gte=0,ltefield=DBMaxConns"`
	RedisURL    string `mapstructure:"REDIS_URL" validate:"omitempty,url"`

	CacheTTL time.Duration `mapstructure:"CACHE_TTL" validate:"gte=0"`

	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY" validate:"required_with=MinioEndpoint"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY" validate:"required_with=MinioEndpoint"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET" validate:"required_with=MinioEndpoint"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	CORSOrigins    string  `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS" validate:"gt=0"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST" validate:"gte=1"`
	BodyLimit      string  `mapstructure:"BODY_LIMIT" validate:"required"`

	BatchWorkers   int  `mapstructure:"BATCH_WORKERS" validate:"gte=1,lte=64"`
	StrictQuantity bool `mapstructure:"STRICT_QUANTITY"`
}

// MinSigningKeyLen is the shortest HS256 key accepted outside development.
const MinSigningKeyLen = 32

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "CACHE_TTL",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"BATCH_WORKERS", "STRICT_QUANTITY",
}

// Load reads .env when present, overlays the environment and validates the
// result.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("MINIO_BUCKET", "cda-documents")
	v.SetDefault("AUTH_ISSUER", "cda-insight")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "25M")
	v.SetDefault("BATCH_WORKERS", 4)
	v.SetDefault("STRICT_QUANTITY", false)

	// Unmarshal only sees env vars that are bound
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Env = strings.ToLower(cfg.Env)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate runs the struct rules plus the cross-field ones the tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %s", formatValidationErrors(verrs))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if !c.IsDev() {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%s", c.Env)
		}
		if len(c.AuthSigningKey) < MinSigningKeyLen {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes", MinSigningKeyLen)
		}
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required in production")
	}
	return nil
}

// fieldKeys maps struct field names back to their env keys for messages.
var fieldKeys = map[string]string{
	"Port": "PORT", "Env": "ENV", "LogLevel": "LOG_LEVEL",
	"DatabaseURL": "DATABASE_URL", "DBMaxConns": "DB_MAX_CONNS", "DBMinConns": "DB_MIN_CONNS",
	"RedisURL": "REDIS_URL", "CacheTTL": "CACHE_TTL",
	"MinioAccessKey": "MINIO_ACCESS_KEY", "MinioSecretKey": "MINIO_SECRET_KEY", "MinioBucket": "MINIO_BUCKET",
	"RateLimitRPS": "RATE_LIMIT_RPS", "RateLimitBurst": "RATE_LIMIT_BURST", "BodyLimit": "BODY_LIMIT",
	"BatchWorkers": "BATCH_WORKERS",
}

func formatValidationErrors(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key, ok := fieldKeys[fe.Field()]
		if !ok {
			key = fe.Field()
		}
		msg := key + " fails " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, ", ")
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DevAuth reports whether requests bypass token checks. That only happens in
// development without a signing key.
func (c *Config) DevAuth() bool {
	return c.IsDev() && c.AuthSigningKey == ""
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) DatabaseEnabled() bool { return c.DatabaseURL != "" }
func (c *Config) CacheEnabled() bool    { return c.RedisURL != "" }
func (c *Config) MinioEnabled() bool    { return c.MinioEndpoint != "" }
