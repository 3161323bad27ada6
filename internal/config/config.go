package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"CP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"CP_DB_MAX_CONNS" default:"8"`

	ExtractorEndpoint string        `envconfig:"CP_EXTRACTOR_ENDPOINT" default:"http://127.0.0.1:8844/v1"`
	ExtractorModel    string        `envconfig:"CP_EXTRACTOR_MODEL" default:"qwen/qwen2.5-14b-instruct"`
	ExtractorTimeout  time.Duration `envconfig:"CP_EXTRACTOR_TIMEOUT" default:"120s"`

	FetchTimeout   time.Duration `envconfig:"CP_FETCH_TIMEOUT" default:"12s"`
	FetchUserAgent string        `envconfig:"CP_FETCH_USER_AGENT" default:""`

	TBAGraceDays int    `envconfig:"CP_TBA_GRACE_DAYS" default:"3"`
	SweepCron    string `envconfig:"CP_SWEEP_CRON" default:"30 4 * * *"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("CP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("CP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("CP_DB_MIN_CONNS (%d) cannot exceed CP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.ExtractorEndpoint) == "" {
		return fmt.Errorf("CP_EXTRACTOR_ENDPOINT is required")
	}
	if c.ExtractorTimeout <= 0 {
		return fmt.Errorf("CP_EXTRACTOR_TIMEOUT must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("CP_FETCH_TIMEOUT must be positive")
	}
	if c.TBAGraceDays < 0 {
		return fmt.Errorf("CP_TBA_GRACE_DAYS must be >= 0")
	}
	if strings.TrimSpace(c.SweepCron) == "" {
		return fmt.Errorf("CP_SWEEP_CRON is required")
	}
	return nil
}
