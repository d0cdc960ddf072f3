package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                    string   `mapstructure:"PORT"`
	Env                     string   `mapstructure:"ENV"`
	DatabaseURL             string   `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32    `mapstructure:"DB_MIN_CONNS"`
	UploadDir               string   `mapstructure:"UPLOAD_DIR"`
	MaxUploadBytes          int64    `mapstructure:"MAX_UPLOAD_BYTES"`
	ExtractorMode           string   `mapstructure:"EXTRACTOR_MODE"`
	ExtractorCommand        string   `mapstructure:"EXTRACTOR_COMMAND"`
	ExtractorTimeoutSeconds int      `mapstructure:"EXTRACTOR_TIMEOUT_SECONDS"`
	CORSOrigins             []string `mapstructure:"CORS_ORIGINS"`
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
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("MAX_UPLOAD_BYTES", 100*1024*1024)
	v.SetDefault("EXTRACTOR_MODE", "command")
	v.SetDefault("EXTRACTOR_TIMEOUT_SECONDS", 30)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("UPLOAD_DIR")
	v.BindEnv("MAX_UPLOAD_BYTES")
	v.BindEnv("EXTRACTOR_MODE")
	v.BindEnv("EXTRACTOR_COMMAND")
	v.BindEnv("EXTRACTOR_TIMEOUT_SECONDS")
	v.BindEnv("CORS_ORIGINS")

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

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration describes a runnable deployment.
// The extractor mode must be "command" or "builtin"; command mode additionally
// requires EXTRACTOR_COMMAND to point at the external tool.
func (c *Config) Validate() error {
	switch c.ExtractorMode {
	case "command":
		if c.ExtractorCommand == "" {
			return fmt.Errorf("EXTRACTOR_COMMAND is required when EXTRACTOR_MODE is \"command\"")
		}
	case "builtin":
	default:
		return fmt.Errorf("EXTRACTOR_MODE must be \"command\" or \"builtin\", got %q", c.ExtractorMode)
	}

	if c.ExtractorTimeoutSeconds <= 0 {
		return fmt.Errorf("EXTRACTOR_TIMEOUT_SECONDS must be positive, got %d", c.ExtractorTimeoutSeconds)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	return nil
}
