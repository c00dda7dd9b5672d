package config

import (
	"os"
	"strconv"
)

// EnvVarMapping defines the mapping between environment variables and config
// paths. Environment variables override every file source.
var EnvVarMapping = map[string]string{
	"CONCORD_DB_DRIVER":         "database.driver",
	"CONCORD_DB_PATH":           "database.path",
	"CONCORD_DB_HOST":           "database.postgres.host",
	"CONCORD_DB_PORT":           "database.postgres.port",
	"CONCORD_DB_USER":           "database.postgres.user",
	"CONCORD_DB_PASSWORD":       "database.postgres.password",
	"CONCORD_DB_NAME":           "database.postgres.database",
	"CONCORD_DB_SSL_MODE":       "database.postgres.ssl_mode",
	"CONCORD_SOURCE_URL":        "source.base_url",
	"CONCORD_SOURCE_EMAIL":      "source.email",
	"CONCORD_SOURCE_TOKEN":      "source.api_token",
	"CONCORD_KANBAN_URL":        "kanban.base_url",
	"CONCORD_KANBAN_TOKEN":      "kanban.api_token",
	"CONCORD_MEMORY_URL":        "memory.base_url",
	"CONCORD_MEMORY_TOKEN":      "memory.api_token",
	"CONCORD_BEADS_BINARY":      "beads.binary",
	"CONCORD_BEADS_DIR":         "beads.work_dir",
	"CONCORD_CACHE_WINDOW":      "sync.cache_window",
	"CONCORD_PROVISION_WORKERS": "provision.max_concurrency",
	"CONCORD_PROVISION_TIMEOUT": "provision.item_timeout",
}

// ApplyEnvVars applies environment variable overrides to cfg. Returns the
// list of paths that were overridden.
func ApplyEnvVars(cfg *Config) []string {
	var overridden []string
	for envVar, configPath := range EnvVarMapping {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		if applyEnvVar(cfg, configPath, value) {
			overridden = append(overridden, configPath)
		}
	}
	return overridden
}

// applyEnvVar applies a single environment variable to the config.
// Returns true if the value was applied.
func applyEnvVar(cfg *Config, path, value string) bool {
	switch path {
	case "database.driver":
		cfg.Database.Driver = value
	case "database.path":
		cfg.Database.Path = value
	case "database.postgres.host":
		cfg.Database.Postgres.Host = value
	case "database.postgres.port":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Database.Postgres.Port = v
		}
	case "database.postgres.user":
		cfg.Database.Postgres.User = value
	case "database.postgres.password":
		cfg.Database.Postgres.Password = value
	case "database.postgres.database":
		cfg.Database.Postgres.Database = value
	case "database.postgres.ssl_mode":
		cfg.Database.Postgres.SSLMode = value
	case "source.base_url":
		cfg.Source.BaseURL = value
	case "source.email":
		cfg.Source.Email = value
	case "source.api_token":
		cfg.Source.APIToken = value
	case "kanban.base_url":
		cfg.Kanban.BaseURL = value
	case "kanban.api_token":
		cfg.Kanban.APIToken = value
	case "memory.base_url":
		cfg.Memory.BaseURL = value
	case "memory.api_token":
		cfg.Memory.APIToken = value
	case "beads.binary":
		cfg.Beads.Binary = value
	case "beads.work_dir":
		cfg.Beads.WorkDir = value
	case "sync.cache_window":
		if d, ok := parseDuration(value); ok {
			cfg.Sync.CacheWindow = d
		}
	case "provision.max_concurrency":
		if v, err := strconv.Atoi(value); err == nil {
			cfg.Provision.MaxConcurrency = v
		}
	case "provision.item_timeout":
		if d, ok := parseDuration(value); ok {
			cfg.Provision.ItemTimeout = d
		}
	default:
		return false
	}
	return true
}
