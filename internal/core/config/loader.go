package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/squai/internal/core/domain"
	"github.com/vietddude/squai/internal/infra/requester"
	"github.com/vietddude/squai/internal/infra/storage/memory"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *AppConfig {
	var cfg AppConfig
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8501
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Minute
	}

	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://localhost:8000"
	}
	if cfg.Backend.Retry.Timeout == 0 {
		cfg.Backend.Retry.Timeout = requester.DefaultTimeout
	}
	if cfg.Backend.Retry.WaitInterval == 0 {
		cfg.Backend.Retry.WaitInterval = requester.DefaultWaitInterval
	}

	cfg.Query = cfg.Query.Merge(domain.StandardDefaults())

	if cfg.History.MaxEntries <= 0 {
		cfg.History.MaxEntries = memory.DefaultMaxEntries
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (cfg *AppConfig) validate() error {
	if cfg.Backend.Retry.Timeout < 0 || cfg.Backend.Retry.WaitInterval < 0 {
		return fmt.Errorf("backend retry durations must be positive")
	}

	probe := cfg.Query.NewQuery("probe")
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("query defaults: %w", err)
	}
	return nil
}
