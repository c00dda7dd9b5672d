package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/concord/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Sync.CacheWindow != 5*time.Minute {
		t.Errorf("cache window = %v", cfg.Sync.CacheWindow)
	}
	if cfg.Provision.MaxConcurrency != 4 {
		t.Errorf("max concurrency = %d", cfg.Provision.MaxConcurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  driver: sqlite
  path: /var/lib/concord/state.db
source:
  base_url: https://acme.atlassian.net
  email: bot@acme.example
  api_token: tok-123
sync:
  cache_window: 10m
  file_ignores:
    - "**/*.log"
provision:
  max_concurrency: 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path != "/var/lib/concord/state.db" {
		t.Errorf("path = %q", cfg.Database.Path)
	}
	if cfg.Source.BaseURL != "https://acme.atlassian.net" || cfg.Source.APIToken != "tok-123" {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Sync.CacheWindow != 10*time.Minute {
		t.Errorf("cache window = %v", cfg.Sync.CacheWindow)
	}
	if len(cfg.Sync.FileIgnores) != 1 || cfg.Sync.FileIgnores[0] != "**/*.log" {
		t.Errorf("file ignores = %v", cfg.Sync.FileIgnores)
	}
	if cfg.Provision.MaxConcurrency != 8 {
		t.Errorf("max concurrency = %d", cfg.Provision.MaxConcurrency)
	}
	// Unset keys keep their defaults.
	if cfg.Provision.ItemTimeout != 2*time.Minute {
		t.Errorf("item timeout = %v, want default", cfg.Provision.ItemTimeout)
	}
	if cfg.Beads.Binary != "bd" {
		t.Errorf("beads binary = %q, want default", cfg.Beads.Binary)
	}
}

func TestLoadMergeKeepsUnsetValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	// Only the kanban token is set; everything else must stay default.
	if err := os.WriteFile(path, []byte("kanban:\n  api_token: kb-tok\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Kanban.APIToken != "kb-tok" {
		t.Errorf("kanban token = %q", cfg.Kanban.APIToken)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path == "" {
		t.Errorf("database = %+v, defaults lost", cfg.Database)
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("explicit config path must exist")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnvVars(t *testing.T) {
	t.Setenv("CONCORD_DB_DRIVER", "postgres")
	t.Setenv("CONCORD_DB_NAME", "concord")
	t.Setenv("CONCORD_DB_PORT", "5433")
	t.Setenv("CONCORD_SOURCE_TOKEN", "env-tok")
	t.Setenv("CONCORD_CACHE_WINDOW", "30s")
	t.Setenv("CONCORD_PROVISION_WORKERS", "2")

	cfg := Default()
	overridden := ApplyEnvVars(cfg)

	if len(overridden) != 6 {
		t.Errorf("overridden = %v", overridden)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.Postgres.Database != "concord" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Database.Postgres.Port != 5433 {
		t.Errorf("port = %d", cfg.Database.Postgres.Port)
	}
	if cfg.Source.APIToken != "env-tok" {
		t.Errorf("source token = %q", cfg.Source.APIToken)
	}
	if cfg.Sync.CacheWindow != 30*time.Second {
		t.Errorf("cache window = %v", cfg.Sync.CacheWindow)
	}
	if cfg.Provision.MaxConcurrency != 2 {
		t.Errorf("max concurrency = %d", cfg.Provision.MaxConcurrency)
	}
}

func TestApplyEnvVarsBadValuesIgnored(t *testing.T) {
	t.Setenv("CONCORD_DB_PORT", "not-a-port")
	t.Setenv("CONCORD_CACHE_WINDOW", "eventually")

	cfg := Default()
	ApplyEnvVars(cfg)

	if cfg.Database.Postgres.Port != 5432 {
		t.Errorf("port = %d, want default kept", cfg.Database.Postgres.Port)
	}
	if cfg.Sync.CacheWindow != 5*time.Minute {
		t.Errorf("cache window = %v, want default kept", cfg.Sync.CacheWindow)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantCode errors.Code
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, errors.CodeConfigInvalid},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, errors.CodeConfigMissing},
		{"postgres without database", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.Postgres.Database = ""
		}, errors.CodeConfigMissing},
		{"negative cache window", func(c *Config) { c.Sync.CacheWindow = -time.Second }, errors.CodeConfigInvalid},
		{"negative concurrency", func(c *Config) { c.Provision.MaxConcurrency = -1 }, errors.CodeConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			ce := errors.AsConcordError(err)
			if ce == nil || ce.Code != tt.wantCode {
				t.Errorf("err = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := Default()
	cfg.Database.Postgres.User = "concord"
	cfg.Database.Postgres.Password = "secret"
	cfg.Database.Postgres.Database = "concord"

	want := "host=localhost port=5432 user=concord password=secret dbname=concord sslmode=disable"
	if got := cfg.PostgresDSN(); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}
