package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration. Load order (later sources override earlier):
//  1. Built-in defaults
//  2. System config (/etc/concord/config.yaml) - optional
//  3. User config (~/.concord/config.yaml) - optional
//  4. Project config (.concord/config.yaml) - optional unless explicit
//  5. Environment variables (CONCORD_*)
//
// An explicit path skips the search and is required to exist.
func Load(explicitPath string) (*Config, error) {
	cfg := Default()

	if explicitPath != "" {
		if err := mergeFromFile(cfg, explicitPath); err != nil {
			return nil, err
		}
		ApplyEnvVars(cfg)
		return cfg, cfg.Validate()
	}

	systemPath := "/etc/concord/config.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		if err := mergeFromFile(cfg, systemPath); err != nil {
			slog.Warn("failed to load system config", "path", systemPath, "error", err)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ConcordDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(cfg, userPath); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	projectPath := filepath.Join(ConcordDir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		// Project config errors are fatal
		if err := mergeFromFile(cfg, projectPath); err != nil {
			return nil, err
		}
	}

	ApplyEnvVars(cfg)
	return cfg, cfg.Validate()
}

// mergeFromFile merges configuration from a file into cfg. Only keys present
// in the file override; absent keys keep their current value.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	// Parse into a map first so presence can be distinguished from a
	// zero value.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	mergeConfig(cfg, &fileCfg, raw)
	return nil
}

func mergeConfig(cfg, fileCfg *Config, raw map[string]any) {
	if rawDB, ok := raw["database"].(map[string]any); ok {
		mergeDatabase(cfg, fileCfg, rawDB)
	}
	if rawSource, ok := raw["source"].(map[string]any); ok {
		if _, ok := rawSource["base_url"]; ok {
			cfg.Source.BaseURL = fileCfg.Source.BaseURL
		}
		if _, ok := rawSource["email"]; ok {
			cfg.Source.Email = fileCfg.Source.Email
		}
		if _, ok := rawSource["api_token"]; ok {
			cfg.Source.APIToken = fileCfg.Source.APIToken
		}
	}
	if rawKanban, ok := raw["kanban"].(map[string]any); ok {
		if _, ok := rawKanban["base_url"]; ok {
			cfg.Kanban.BaseURL = fileCfg.Kanban.BaseURL
		}
		if _, ok := rawKanban["api_token"]; ok {
			cfg.Kanban.APIToken = fileCfg.Kanban.APIToken
		}
	}
	if rawMemory, ok := raw["memory"].(map[string]any); ok {
		if _, ok := rawMemory["base_url"]; ok {
			cfg.Memory.BaseURL = fileCfg.Memory.BaseURL
		}
		if _, ok := rawMemory["api_token"]; ok {
			cfg.Memory.APIToken = fileCfg.Memory.APIToken
		}
	}
	if rawBeads, ok := raw["beads"].(map[string]any); ok {
		if _, ok := rawBeads["binary"]; ok {
			cfg.Beads.Binary = fileCfg.Beads.Binary
		}
		if _, ok := rawBeads["work_dir"]; ok {
			cfg.Beads.WorkDir = fileCfg.Beads.WorkDir
		}
	}
	if rawSync, ok := raw["sync"].(map[string]any); ok {
		if _, ok := rawSync["cache_window"]; ok {
			cfg.Sync.CacheWindow = fileCfg.Sync.CacheWindow
		}
		if _, ok := rawSync["file_ignores"]; ok {
			cfg.Sync.FileIgnores = fileCfg.Sync.FileIgnores
		}
	}
	if rawProv, ok := raw["provision"].(map[string]any); ok {
		if _, ok := rawProv["max_concurrency"]; ok {
			cfg.Provision.MaxConcurrency = fileCfg.Provision.MaxConcurrency
		}
		if _, ok := rawProv["item_timeout"]; ok {
			cfg.Provision.ItemTimeout = fileCfg.Provision.ItemTimeout
		}
	}
}

func mergeDatabase(cfg, fileCfg *Config, raw map[string]any) {
	if _, ok := raw["driver"]; ok {
		cfg.Database.Driver = fileCfg.Database.Driver
	}
	if _, ok := raw["path"]; ok {
		cfg.Database.Path = fileCfg.Database.Path
	}
	if rawPG, ok := raw["postgres"].(map[string]any); ok {
		if _, ok := rawPG["host"]; ok {
			cfg.Database.Postgres.Host = fileCfg.Database.Postgres.Host
		}
		if _, ok := rawPG["port"]; ok {
			cfg.Database.Postgres.Port = fileCfg.Database.Postgres.Port
		}
		if _, ok := rawPG["user"]; ok {
			cfg.Database.Postgres.User = fileCfg.Database.Postgres.User
		}
		if _, ok := rawPG["password"]; ok {
			cfg.Database.Postgres.Password = fileCfg.Database.Postgres.Password
		}
		if _, ok := rawPG["database"]; ok {
			cfg.Database.Postgres.Database = fileCfg.Database.Postgres.Database
		}
		if _, ok := rawPG["ssl_mode"]; ok {
			cfg.Database.Postgres.SSLMode = fileCfg.Database.Postgres.SSLMode
		}
	}
}

// PostgresDSN builds the pgx connection string from the postgres settings.
func (c *Config) PostgresDSN() string {
	pg := c.Database.Postgres
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Password, pg.Database, pg.SSLMode)
}

// parseDuration is ApplyEnvVars' duration parser, split out for tests.
func parseDuration(s string) (time.Duration, bool) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}
