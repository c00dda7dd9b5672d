// Package cli implements the concord command-line interface.
// This file contains shared helper functions used across multiple commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/randalmurphal/concord/internal/beads"
	"github.com/randalmurphal/concord/internal/config"
	"github.com/randalmurphal/concord/internal/db"
	"github.com/randalmurphal/concord/internal/db/driver"
	"github.com/randalmurphal/concord/internal/engine"
	"github.com/randalmurphal/concord/internal/files"
	"github.com/randalmurphal/concord/internal/kanban"
	"github.com/randalmurphal/concord/internal/memory"
	"github.com/randalmurphal/concord/internal/source"
)

// newLogger builds the slog logger for a command. Terminals get the text
// handler; pipes and --json get JSON so log lines stay machine-readable.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonOut || !isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// loadConfig loads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// openStore opens the state store per the database config.
func openStore(cfg *config.Config) (*db.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		store, err := db.OpenStoreWithDialect(cfg.PostgresDSN(), driver.DialectPostgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		store, err := db.OpenStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return store, nil
	}
}

// newMemoryClient builds the memory store client, or nil when unconfigured.
func newMemoryClient(cfg *config.Config, logger *slog.Logger) (*memory.Client, error) {
	if cfg.Memory.BaseURL == "" {
		return nil, nil
	}
	return memory.NewClient(memory.Config{
		BaseURL:  cfg.Memory.BaseURL,
		APIToken: cfg.Memory.APIToken,
	}, logger)
}

// buildEngine assembles the reconciliation engine from the configured
// collaborators and returns the source client alongside so callers can
// probe auth before starting a pass. The source tracker is required;
// kanban, beads, and the memory store are optional and skipped when
// unconfigured.
func buildEngine(cfg *config.Config, store *db.Store, logger *slog.Logger) (*engine.Engine, *source.Client, error) {
	src, err := source.NewClient(source.Config{
		BaseURL:  cfg.Source.BaseURL,
		Email:    cfg.Source.Email,
		APIToken: cfg.Source.APIToken,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := engine.Options{
		Source:      src,
		Projects:    src,
		Logger:      logger,
		CacheWindow: cfg.Sync.CacheWindow,
	}

	if cfg.Kanban.BaseURL != "" {
		kb, err := kanban.NewClient(kanban.Config{
			BaseURL:  cfg.Kanban.BaseURL,
			APIToken: cfg.Kanban.APIToken,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		opts.Kanban = kb
		opts.Boards = kb
	}

	if cfg.Beads.WorkDir != "" {
		runner := &beads.ExecRunner{Binary: cfg.Beads.Binary}
		if runner.Binary == "" {
			runner.Binary = "bd"
		}
		opts.Beads = beads.NewClientWithRunner(cfg.Beads.WorkDir, runner)
	}

	mem, err := newMemoryClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if mem != nil {
		opts.Files = files.NewTracker(store, mem, logger, cfg.Sync.FileIgnores)
	}

	return engine.New(store, opts), src, nil
}

// formatRelativeTime renders a timestamp as a short age for tables.
func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
