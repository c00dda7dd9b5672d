// Package files mirrors a project's local files into the external memory
// store and keeps the tracking rows in the sync state store consistent with
// what is actually on disk and what was actually uploaded.
package files

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/randalmurphal/concord/internal/db"
	"github.com/randalmurphal/concord/internal/hash"
)

// Remote is the upload surface of the memory store consumed by the tracker.
type Remote interface {
	UploadFile(ctx context.Context, folderID, name string, content []byte) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// DefaultIgnores are glob patterns skipped during scans. Callers can extend
// the list through config.
var DefaultIgnores = []string{
	".git/**",
	"node_modules/**",
	"**/*.tmp",
	".DS_Store",
}

// Tracker mirrors project files.
type Tracker struct {
	store   *db.Store
	remote  Remote
	logger  *slog.Logger
	ignores []string
}

// NewTracker creates a file tracker. Extra ignore patterns are added on top
// of DefaultIgnores.
func NewTracker(store *db.Store, remote Remote, logger *slog.Logger, extraIgnores []string) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	ignores := make([]string, 0, len(DefaultIgnores)+len(extraIgnores))
	ignores = append(ignores, DefaultIgnores...)
	ignores = append(ignores, extraIgnores...)
	return &Tracker{store: store, remote: remote, logger: logger, ignores: ignores}
}

// Result summarizes one mirroring pass.
type Result struct {
	Uploaded int
	Replaced int
	Skipped  int
	Removed  int
	Warnings int
}

// SyncProjectFiles scans rootDir and reconciles the remote folder with it.
// Unreadable files are warned about and skipped, never fatal; remote delete
// failures during orphan removal are also warnings, but the local tracking
// row is removed regardless so the next pass re-converges.
func (t *Tracker) SyncProjectFiles(ctx context.Context, projectIdentifier, folderID, rootDir string) (*Result, error) {
	res := &Result{}

	paths, err := t.scan(rootDir, res)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", rootDir, err)
	}

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := t.syncOne(ctx, projectIdentifier, folderID, rootDir, rel, res); err != nil {
			return res, err
		}
	}

	if err := t.removeOrphans(ctx, projectIdentifier, paths, res); err != nil {
		return res, err
	}
	return res, nil
}

// scan walks rootDir and returns the relative paths of all files that are
// not ignored. Directories that cannot be read are skipped with a warning.
func (t *Tracker) scan(rootDir string, res *Result) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			t.logger.Warn("skipping unreadable path", "path", path, "error", err)
			res.Warnings++
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if t.ignored(rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (t *Tracker) ignored(rel string) bool {
	for _, pattern := range t.ignores {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// syncOne uploads a single file when it is new or changed. A changed file is
// deleted remotely first so the replacement gets a fresh external ID rather
// than appending a duplicate.
func (t *Tracker) syncOne(ctx context.Context, projectIdentifier, folderID, rootDir, rel string, res *Result) error {
	content, err := os.ReadFile(filepath.Join(rootDir, filepath.FromSlash(rel)))
	if err != nil {
		t.logger.Warn("skipping unreadable file", "path", rel, "error", err)
		res.Warnings++
		return nil
	}
	digest := hash.ComputeFileHash(content)

	existing, err := t.store.GetProjectFile(projectIdentifier, rel)
	if err != nil {
		return err
	}

	if existing != nil && existing.ContentHash == digest {
		res.Skipped++
		return nil
	}

	if existing != nil && existing.ExternalFileID != "" {
		if err := t.remote.DeleteFile(ctx, existing.ExternalFileID); err != nil {
			t.logger.Warn("delete of outdated remote file failed",
				"path", rel,
				"external_id", existing.ExternalFileID,
				"error", err)
			res.Warnings++
		}
	}

	externalID, err := t.remote.UploadFile(ctx, folderID, rel, content)
	if err != nil {
		return fmt.Errorf("upload %s: %w", rel, err)
	}

	if err := t.store.UpsertProjectFile(&db.ProjectFile{
		ProjectIdentifier: projectIdentifier,
		RelativePath:      rel,
		ContentHash:       digest,
		ExternalFileID:    externalID,
		FileSize:          int64(len(content)),
	}); err != nil {
		return err
	}

	if existing != nil {
		res.Replaced++
	} else {
		res.Uploaded++
	}
	return nil
}

// removeOrphans drops tracking rows for files no longer on disk. The remote
// copy is deleted best-effort; the local row goes away either way.
func (t *Tracker) removeOrphans(ctx context.Context, projectIdentifier string, currentPaths []string, res *Result) error {
	orphans, err := t.store.GetOrphanedFiles(projectIdentifier, currentPaths)
	if err != nil {
		return err
	}

	for _, o := range orphans {
		if o.ExternalFileID != "" {
			if err := t.remote.DeleteFile(ctx, o.ExternalFileID); err != nil {
				t.logger.Warn("remote delete of orphaned file failed",
					"path", o.RelativePath,
					"external_id", o.ExternalFileID,
					"error", err)
				res.Warnings++
			}
		}
		if err := t.store.DeleteProjectFile(projectIdentifier, o.RelativePath); err != nil {
			return err
		}
		res.Removed++
	}
	return nil
}
