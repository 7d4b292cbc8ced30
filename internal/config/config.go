package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	// AI consultant collaborator. When the base URL is empty the server falls
	// back to the built-in rule-based consultant.
	AIConsultantURL     string `mapstructure:"AI_CONSULTANT_URL"`
	AIConsultantTimeout int    `mapstructure:"AI_CONSULTANT_TIMEOUT_SECONDS"`

	// Blob storage backend: "memory" or "s3".
	BlobBackend  string `mapstructure:"BLOB_BACKEND"`
	BlobS3Bucket string `mapstructure:"BLOB_S3_BUCKET"`
	BlobS3Region string `mapstructure:"BLOB_S3_REGION"`
	BlobBaseURL  string `mapstructure:"BLOB_BASE_URL"`

	// Care-workflow knobs.
	AppointmentMinutes int `mapstructure:"APPOINTMENT_MINUTES"`
	FollowUpDays       int `mapstructure:"FOLLOWUP_DAYS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AI_CONSULTANT_TIMEOUT_SECONDS", 20)
	v.SetDefault("BLOB_BACKEND", "memory")
	v.SetDefault("BLOB_BASE_URL", "http://localhost:8000/api/v1/files")
	v.SetDefault("APPOINTMENT_MINUTES", 30)
	v.SetDefault("FOLLOWUP_DAYS", 7)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AI_CONSULTANT_URL")
	v.BindEnv("AI_CONSULTANT_TIMEOUT_SECONDS")
	v.BindEnv("BLOB_BACKEND")
	v.BindEnv("BLOB_S3_BUCKET")
	v.BindEnv("BLOB_S3_REGION")
	v.BindEnv("BLOB_BASE_URL")
	v.BindEnv("APPOINTMENT_MINUTES")
	v.BindEnv("FOLLOWUP_DAYS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

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
	if cfg.BlobBackend != "memory" && cfg.BlobBackend != "s3" {
		return nil, fmt.Errorf("BLOB_BACKEND must be \"memory\" or \"s3\", got %q", cfg.BlobBackend)
	}
	if cfg.BlobBackend == "s3" && cfg.BlobS3Bucket == "" {
		return nil, fmt.Errorf("BLOB_S3_BUCKET is required when BLOB_BACKEND=s3")
	}
	if cfg.AppointmentMinutes <= 0 {
		return nil, fmt.Errorf("APPOINTMENT_MINUTES must be positive")
	}
	if cfg.FollowUpDays <= 0 {
		return nil, fmt.Errorf("FOLLOWUP_DAYS must be positive")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
