// Package config defines concord's configuration and its load order.
package config

import (
	"time"

	"github.com/randalmurphal/concord/internal/errors"
)

// ConcordDir is the project-local configuration directory.
const ConcordDir = ".concord"

// ConfigFileName is the config file name inside ConcordDir.
const ConfigFileName = "config.yaml"

// Config is the complete concord configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Source    SourceConfig    `yaml:"source"`
	Kanban    KanbanConfig    `yaml:"kanban"`
	Memory    MemoryConfig    `yaml:"memory"`
	Beads     BeadsConfig     `yaml:"beads"`
	Sync      SyncConfig      `yaml:"sync"`
	Provision ProvisionConfig `yaml:"provision"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// Path is the SQLite file path.
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// SourceConfig holds upstream tracker credentials.
type SourceConfig struct {
	BaseURL  string `yaml:"base_url"`
	Email    string `yaml:"email"`
	APIToken string `yaml:"api_token"`
}

// KanbanConfig holds kanban tool credentials.
type KanbanConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"api_token"`
}

// MemoryConfig holds memory/document store credentials.
type MemoryConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"api_token"`
}

// BeadsConfig locates the local beads workspace.
type BeadsConfig struct {
	// Binary is the bd executable; defaults to looking it up on PATH.
	Binary  string `yaml:"binary"`
	WorkDir string `yaml:"work_dir"`
}

// SyncConfig tunes the reconciliation scheduler.
type SyncConfig struct {
	// CacheWindow is how long a checked project stays fresh.
	CacheWindow time.Duration `yaml:"cache_window"`
	// FileIgnores are extra glob patterns excluded from file mirroring.
	FileIgnores []string `yaml:"file_ignores"`
}

// ProvisionConfig tunes the batch provisioning orchestrator.
type ProvisionConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	ItemTimeout    time.Duration `yaml:"item_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   ConcordDir + "/concord.db",
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Beads: BeadsConfig{
			Binary: "bd",
		},
		Sync: SyncConfig{
			CacheWindow: 5 * time.Minute,
		},
		Provision: ProvisionConfig{
			MaxConcurrency: 4,
			ItemTimeout:    2 * time.Minute,
		},
	}
}

// Validate checks the configuration for values that cannot work. Credentials
// are not validated here: each adapter reports its own missing settings when
// it is actually used, so a kanban-less setup never has to configure kanban.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.ErrConfigMissing("database.path")
		}
	case "postgres":
		if c.Database.Postgres.Database == "" {
			return errors.ErrConfigMissing("database.postgres.database")
		}
	default:
		return errors.ErrConfigInvalid("database.driver",
			"must be \"sqlite\" or \"postgres\", got "+c.Database.Driver)
	}

	if c.Sync.CacheWindow < 0 {
		return errors.ErrConfigInvalid("sync.cache_window", "must not be negative")
	}
	if c.Provision.MaxConcurrency < 0 {
		return errors.ErrConfigInvalid("provision.max_concurrency", "must not be negative")
	}
	return nil
}
