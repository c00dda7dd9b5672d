// Package migrate imports a legacy flat-file state snapshot into the store.
// The snapshot is the JSON file earlier releases kept on disk instead of a
// database: a global lastSync timestamp plus per-project activity counts and
// check timestamps. Import runs exactly once: it refuses a non-empty store,
// and on success renames the snapshot so it cannot be applied again.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/concord/internal/db"
	"github.com/randalmurphal/concord/internal/errors"
)

// BackupSuffix is appended to the snapshot file after a successful import.
const BackupSuffix = ".bak"

// Migrator imports a flat-file snapshot into an empty store.
type Migrator struct {
	store  *db.Store
	logger *slog.Logger
}

// New creates a migrator.
func New(store *db.Store, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{store: store, logger: logger}
}

// Result summarizes one import.
type Result struct {
	Projects   int
	BackupPath string
}

// ImportSnapshot reads the snapshot at path and writes its projects into the
// store. The store must be empty; a store that already holds data is a sign
// the import already ran (or the operator pointed at the wrong store), and
// merging two histories silently would corrupt both. On success the snapshot
// is renamed with BackupSuffix.
func (m *Migrator) ImportSnapshot(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.ErrSnapshotInvalid(path, "not valid JSON")
	}

	doc := gjson.ParseBytes(data)
	activity := doc.Get("projectActivity")
	timestamps := doc.Get("projectTimestamps")
	if !activity.Exists() && !timestamps.Exists() {
		return nil, errors.ErrSnapshotInvalid(path, "missing projectActivity and projectTimestamps sections")
	}

	empty, err := m.store.IsEmpty()
	if err != nil {
		return nil, err
	}
	if !empty {
		return nil, errors.ErrStoreNotEmpty()
	}

	projects, err := collectProjects(path, doc)
	if err != nil {
		return nil, err
	}

	// One transaction for the whole import: a failure partway through
	// leaves the store empty, so a rerun starts clean.
	err = m.store.RunInTx(ctx, func(tx *db.TxOps) error {
		for _, p := range projects {
			if err := importProject(tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	backup := path + BackupSuffix
	if err := os.Rename(path, backup); err != nil {
		return nil, fmt.Errorf("rename snapshot to backup: %w", err)
	}

	m.logger.Info("snapshot imported",
		"snapshot", path,
		"projects", len(projects),
		"backup", backup)
	return &Result{Projects: len(projects), BackupPath: backup}, nil
}

// snapshotProject is one project reconstructed from the snapshot sections.
type snapshotProject struct {
	identifier  string
	issueCount  int
	lastChecked *time.Time
	lastSync    *time.Time
}

// collectProjects merges the snapshot sections into one record per project.
// The union of keys across sections is imported: a project present only in
// projectTimestamps still existed.
func collectProjects(path string, doc gjson.Result) ([]snapshotProject, error) {
	byID := make(map[string]*snapshotProject)
	order := []string{}
	get := func(id string) *snapshotProject {
		if p, ok := byID[id]; ok {
			return p
		}
		p := &snapshotProject{identifier: id}
		byID[id] = p
		order = append(order, id)
		return p
	}

	var badKey string
	doc.Get("projectActivity").ForEach(func(key, value gjson.Result) bool {
		if key.String() == "" {
			badKey = "projectActivity"
			return false
		}
		get(key.String()).issueCount = int(value.Int())
		return true
	})
	if badKey == "" {
		doc.Get("projectTimestamps").ForEach(func(key, value gjson.Result) bool {
			if key.String() == "" {
				badKey = "projectTimestamps"
				return false
			}
			p := get(key.String())
			if ts, err := time.Parse(time.RFC3339, value.String()); err == nil {
				p.lastChecked = &ts
			}
			return true
		})
	}
	if badKey != "" {
		return nil, errors.ErrSnapshotInvalid(path, fmt.Sprintf("empty project key in %s", badKey))
	}

	// lastSync in the flat file was a single global timestamp. Every
	// imported project inherits it; the first real pass refreshes them
	// individually.
	var lastSync *time.Time
	if v := doc.Get("lastSync"); v.Exists() && v.String() != "" {
		ts, err := time.Parse(time.RFC3339, v.String())
		if err != nil {
			return nil, errors.ErrSnapshotInvalid(path, fmt.Sprintf("lastSync %q is not RFC3339", v.String()))
		}
		lastSync = &ts
	}

	out := make([]snapshotProject, 0, len(order))
	for _, id := range order {
		p := byID[id]
		p.lastSync = lastSync
		out = append(out, *p)
	}
	return out, nil
}

// importProject inserts one project row directly: the store was verified
// empty, and the activity writer stamps "now", which would defeat the point
// of carrying the snapshot's own timestamps over.
func importProject(tx *db.TxOps, p snapshotProject) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var lastChecked, lastSync any
	if p.lastChecked != nil {
		lastChecked = p.lastChecked.UTC().Format(time.RFC3339)
	}
	if p.lastSync != nil {
		lastSync = p.lastSync.UTC().Format(time.RFC3339)
	}
	_, err := tx.Exec(`
		INSERT INTO projects (identifier, issue_count, last_checked_at, last_sync_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.identifier, p.issueCount, lastChecked, lastSync, now, now)
	if err != nil {
		return fmt.Errorf("import project %s: %w", p.identifier, err)
	}
	return nil
}
