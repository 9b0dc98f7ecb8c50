package config

import (
	"github.com/vietddude/squai/internal/core/domain"
	"github.com/vietddude/squai/internal/infra/backend"
	redisclient "github.com/vietddude/squai/internal/infra/redis"
	"github.com/vietddude/squai/internal/infra/storage/postgres"
	"github.com/vietddude/squai/internal/server"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   server.Config      `yaml:"server"`
	Backend  backend.Config     `yaml:"backend"`
	Query    domain.Defaults    `yaml:"query"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
	History  HistoryConfig      `yaml:"history"`
}

// HistoryConfig bounds the in-memory history used when no database is set.
type HistoryConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
