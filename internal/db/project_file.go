package db

import (
	"database/sql"
	"fmt"
	"time"
)

// ProjectFile tracks one local file mirrored into the external memory store.
type ProjectFile struct {
	ProjectIdentifier string
	RelativePath      string
	ContentHash       string
	ExternalFileID    string
	FileSize          int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UpsertProjectFile records (or refreshes) a mirrored file.
func (s *Store) UpsertProjectFile(f *ProjectFile) error {
	if f == nil || f.ProjectIdentifier == "" || f.RelativePath == "" {
		return fmt.Errorf("upsert project file: project identifier and relative path are required")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.Exec(`
		INSERT INTO project_files (project_identifier, relative_path, content_hash, external_file_id, file_size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_identifier, relative_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			external_file_id = excluded.external_file_id,
			file_size = excluded.file_size,
			updated_at = excluded.updated_at
	`, f.ProjectIdentifier, f.RelativePath, f.ContentHash, nullIfEmpty(f.ExternalFileID), f.FileSize, now, now)
	if err != nil {
		return fmt.Errorf("upsert project file %s/%s: %w", f.ProjectIdentifier, f.RelativePath, err)
	}
	return nil
}

const projectFileColumns = `project_identifier, relative_path, content_hash,
	external_file_id, file_size, created_at, updated_at`

// GetProjectFile retrieves one tracked file. Returns (nil, nil) when the
// file is not tracked.
func (s *Store) GetProjectFile(projectIdentifier, relativePath string) (*ProjectFile, error) {
	row := s.QueryRow(`
		SELECT `+projectFileColumns+` FROM project_files
		WHERE project_identifier = ? AND relative_path = ?
	`, projectIdentifier, relativePath)
	f, err := scanProjectFile(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if s.Closed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("get project file %s/%s: %w", projectIdentifier, relativePath, err)
	}
	return f, nil
}

// GetProjectFiles returns every tracked file for a project.
func (s *Store) GetProjectFiles(projectIdentifier string) ([]*ProjectFile, error) {
	rows, err := s.Query(`
		SELECT `+projectFileColumns+` FROM project_files
		WHERE project_identifier = ? ORDER BY relative_path
	`, projectIdentifier)
	if err != nil {
		return nil, fmt.Errorf("query project files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*ProjectFile
	for rows.Next() {
		f, err := scanProjectFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project files: %w", err)
	}
	return files, nil
}

// GetOrphanedFiles returns every tracked file whose path is absent from
// currentPaths. currentPaths must be the true current file set: an empty
// list orphans everything that is tracked.
func (s *Store) GetOrphanedFiles(projectIdentifier string, currentPaths []string) ([]*ProjectFile, error) {
	tracked, err := s.GetProjectFiles(projectIdentifier)
	if err != nil {
		return nil, err
	}

	current := make(map[string]bool, len(currentPaths))
	for _, p := range currentPaths {
		current[p] = true
	}

	var orphaned []*ProjectFile
	for _, f := range tracked {
		if !current[f.RelativePath] {
			orphaned = append(orphaned, f)
		}
	}
	return orphaned, nil
}

// DeleteProjectFile removes the tracking row for one file. Deleting an
// untracked file is a no-op.
func (s *Store) DeleteProjectFile(projectIdentifier, relativePath string) error {
	_, err := s.Exec(`
		DELETE FROM project_files WHERE project_identifier = ? AND relative_path = ?
	`, projectIdentifier, relativePath)
	if err != nil {
		return fmt.Errorf("delete project file %s/%s: %w", projectIdentifier, relativePath, err)
	}
	return nil
}

func scanProjectFile(row scanner) (*ProjectFile, error) {
	var f ProjectFile
	var externalID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&f.ProjectIdentifier, &f.RelativePath, &f.ContentHash,
		&externalID, &f.FileSize, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	f.ExternalFileID = externalID.String
	if ts := parseTime(createdAt); ts != nil {
		f.CreatedAt = *ts
	}
	if ts := parseTime(updatedAt); ts != nil {
		f.UpdatedAt = *ts
	}
	return &f, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
